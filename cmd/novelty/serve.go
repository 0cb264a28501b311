// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/citation-novelty/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve interactive evaluations over HTTP",
	Long: `Serve starts an HTTP server with POST /api/eval and GET /healthz.

The server runs in online mode: the cache is loaded but never saved. Each
session may start one evaluation per cooldown window.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Duration("cooldown", 0, "minimum time between evaluations per session (overrides server.cooldown)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Evaluator.Online = true
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("cooldown") {
		cfg.Server.Cooldown, _ = cmd.Flags().GetDuration("cooldown")
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return server.New(a.eval, cfg.Server).ListenAndServe(cmd.Context())
}
