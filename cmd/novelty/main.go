// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the novelty CLI.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citation-novelty/internal/secrets"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ and .env at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the novelty CLI.
var rootCmd = &cobra.Command{
	Use:   "novelty",
	Short: "Score how novel a paper is relative to the works it cites",
	Long: `novelty embeds a paper and its references with a scientific-text encoder and
reports how far the paper sits from the centroid of what it cites.

Metadata comes from OpenAlex. Titles, abstracts, reference lists and
embeddings are cached in a SQLite file so repeated runs are cheap.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		logger, err := newLogger(level)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		s, err := secrets.LoadAll(".secrets/", ".env")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			slog.Debug("loaded secrets", slog.Any("keys", keys))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./novelty.yaml or ~/.config/novelty/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("cache", "", "SQLite cache file (overrides cache.path)")
	_ = viper.BindPFlag("cache.path", rootCmd.PersistentFlags().Lookup("cache"))
}

func initConfig() {
	// Defaults go in first so environment variables resolve for every key.
	viper.SetConfigType("yaml")
	if data, err := yaml.Marshal(types.DefaultConfig()); err == nil {
		_ = viper.ReadConfig(bytes.NewReader(data))
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("novelty")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "novelty"))
		}
	}

	viper.SetEnvPrefix("NOVELTY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration: defaults, config file, environment,
// flags, then secrets for values still unset.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing configuration: %w", err)
	}
	cfg.OpenAlex.APIKey = secretDefault(secrets.OpenAlexAPIKey, cfg.OpenAlex.APIKey)
	cfg.OpenAlex.Email = secretDefault(secrets.OpenAlexEmail, cfg.OpenAlex.Email)
	return cfg, nil
}

// secretDefault returns the secret value for key if it exists, or fallback otherwise.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return loadedSecrets[key]
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(h), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
