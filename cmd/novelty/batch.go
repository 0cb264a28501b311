// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/citation-novelty/internal/batch"
)

var batchCmd = &cobra.Command{
	Use:   "batch [FILE]",
	Short: "Score every paper in a CSV file",
	Long: `Batch reads a CSV of papers, scores each row, and writes a CSV of results.

Progress is checkpointed to a YAML file every --every rows together with the
cache, so an interrupted run picks up where it stopped. Rows whose project id
is already in the checkpoint are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBatch,
}

func init() {
	def := batch.DefaultColumns()
	batchCmd.Flags().String("checkpoint", "data/challenge_scores.yaml", "checkpoint file")
	batchCmd.Flags().String("output", "data/challenge_scores_final.csv", "final results CSV")
	batchCmd.Flags().Int("every", batch.DefaultCheckpointEvery, "rows between checkpoints")
	batchCmd.Flags().String("id-column", def.ID, "column holding the OpenAlex id")
	batchCmd.Flags().String("project-column", def.ProjectID, "column holding the project id")
	batchCmd.Flags().String("title-column", def.Title, "column holding the title")
	batchCmd.Flags().String("abstract-column", def.Abstract, "column holding the abstract")

	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	filename := "data/challenge_data.csv"
	if len(args) == 1 {
		filename = args[0]
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The checkpoint drives persistence, so the cache is always saved.
	cfg.Evaluator.Online = false

	var bc batch.Config
	bc.CheckpointPath, _ = cmd.Flags().GetString("checkpoint")
	bc.OutputPath, _ = cmd.Flags().GetString("output")
	bc.CheckpointEvery, _ = cmd.Flags().GetInt("every")
	bc.Columns.ID, _ = cmd.Flags().GetString("id-column")
	bc.Columns.ProjectID, _ = cmd.Flags().GetString("project-column")
	bc.Columns.Title, _ = cmd.Flags().GetString("title-column")
	bc.Columns.Abstract, _ = cmd.Flags().GetString("abstract-column")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	rows, err := batch.ReadRows(f, bc.Columns)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}
	slog.Info("read input file", slog.String("path", filename), slog.Int("rows", len(rows)))

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := batch.NewRunner(a.eval, a.store, bc, batch.WithOutput(cmd.OutOrStdout()))
	cp, err := runner.Run(cmd.Context(), rows)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range cp.Results {
		if !res.OK() {
			failed++
		}
	}
	fmt.Fprintf(os.Stderr, "Scored %d papers (%d not scorable), results in %s\n", len(cp.Results), failed, bc.OutputPath)
	return nil
}
