// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/citation-novelty/internal/evaluate"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval ID",
	Short: "Score a single paper",
	Long: `Eval fetches the paper's metadata and references from OpenAlex, embeds
them, and prints the dissimilarity scores. The ID may be a bare work id
(W123456789) or the full https://openalex.org/ URL.

A paper that cannot be scored is reported with score -1 and a status.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	evalCmd.Flags().String("title", "", "use this title instead of the fetched one")
	evalCmd.Flags().String("abstract", "", "use this abstract instead of the fetched one")
	evalCmd.Flags().String("format", "json", "output format: json or yaml")
	evalCmd.Flags().Bool("online", false, "do not persist the cache")
	evalCmd.Flags().Bool("quiet", false, "suppress progress messages")

	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if online, _ := cmd.Flags().GetBool("online"); online {
		cfg.Evaluator.Online = true
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unknown --format %q (want json or yaml)", format)
	}

	var opts []evaluate.Option
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		opts = append(opts, evaluate.WithProgress(func(stage evaluate.Stage, msg string) {
			fmt.Fprintf(os.Stderr, "[%s] %s\n", stage, msg)
		}))
	}

	a, err := newApp(cmd.Context(), cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.eval.EvalPaper(cmd.Context(), args[0], flagValue(cmd, "title"), flagValue(cmd, "abstract"))
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), res, format)
}

// flagValue returns the flag's value, or nil when the flag was not given.
func flagValue(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func writeResult(w io.Writer, res types.Result, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(res)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
