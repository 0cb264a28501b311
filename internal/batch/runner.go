// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch scores every paper of a CSV file, checkpointing progress so an
// interrupted run resumes where it stopped.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

// DefaultCheckpointEvery is how many rows are scored between checkpoints.
const DefaultCheckpointEvery = 10

// Evaluator scores one paper. *evaluate.Evaluator implements it.
type Evaluator interface {
	EvalPaper(ctx context.Context, id string, title, abstract *string) (types.Result, error)
}

// Saver persists the evaluator caches. *cache.Store implements it.
type Saver interface {
	Save(ctx context.Context) error
}

// Config controls a batch run.
type Config struct {
	Columns         Columns
	CheckpointPath  string
	OutputPath      string
	CheckpointEvery int
}

// Runner scores rows and keeps the checkpoint current.
type Runner struct {
	eval   Evaluator
	cache  Saver
	cfg    Config
	out    io.Writer
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithOutput sets where per-row lines are printed.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) {
		r.out = w
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a Runner. cache may be nil when the caches are not
// persisted.
func NewRunner(eval Evaluator, cache Saver, cfg Config, opts ...Option) *Runner {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	r := &Runner{
		eval:   eval,
		cache:  cache,
		cfg:    cfg,
		out:    io.Discard,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run scores every row whose project id is not already in the checkpoint.
// The checkpoint and caches are saved every CheckpointEvery scored rows, on
// return, and before an error is reported. When OutputPath is set the final
// CSV is written after all rows are scored.
func (r *Runner) Run(ctx context.Context, rows []Row) (*Checkpoint, error) {
	cp, err := LoadCheckpoint(r.cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if n := len(cp.Results); n > 0 {
		r.logger.Info("resuming from checkpoint", slog.String("path", r.cfg.CheckpointPath), slog.Int("results", n))
	}

	scored := 0
	for _, row := range rows {
		if _, done := cp.Results[row.ProjectID]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			return cp, r.checkpointOnError(cp, err)
		}

		r.logger.Debug("evaluating row", slog.Int("row", row.Index), slog.String("id", row.ID))
		res, err := r.eval.EvalPaper(ctx, row.ID, row.Title, row.Abstract)
		if err != nil {
			return cp, r.checkpointOnError(cp, fmt.Errorf("row %d (%s): %w", row.Index, row.ID, err))
		}
		cp.Results[row.ProjectID] = res
		fmt.Fprintf(r.out, "Row %d - OpenAlex ID: %s - %s\n", row.Index, row.ID, summary(res))

		scored++
		if scored%r.cfg.CheckpointEvery == 0 {
			if err := r.checkpoint(ctx, cp); err != nil {
				return cp, err
			}
			r.logger.Info("saved intermediate results", slog.Int("scored", scored), slog.Int("total", len(cp.Results)))
		}
	}

	if err := r.checkpoint(ctx, cp); err != nil {
		return cp, err
	}
	if r.cfg.OutputPath != "" {
		if err := r.writeOutput(rows, cp); err != nil {
			return cp, err
		}
	}
	return cp, nil
}

func (r *Runner) checkpoint(ctx context.Context, cp *Checkpoint) error {
	if r.cache != nil {
		if err := r.cache.Save(ctx); err != nil {
			return fmt.Errorf("saving cache: %w", err)
		}
	}
	if r.cfg.CheckpointPath == "" {
		return nil
	}
	return cp.Save(r.cfg.CheckpointPath)
}

// checkpointOnError keeps whatever was scored before cause, then returns cause.
func (r *Runner) checkpointOnError(cp *Checkpoint, cause error) error {
	if err := r.checkpoint(context.Background(), cp); err != nil {
		r.logger.Error("checkpoint after failure", slog.Any("error", err))
	}
	return cause
}

func (r *Runner) writeOutput(rows []Row, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(r.cfg.OutputPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(r.cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", r.cfg.OutputPath, err)
	}
	if err := WriteResults(f, rows, cp.Results); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", r.cfg.OutputPath, err)
	}
	r.logger.Info("wrote results", slog.String("path", r.cfg.OutputPath), slog.Int("results", len(cp.Results)))
	return f.Close()
}

func summary(res types.Result) string {
	if !res.OK() {
		return "Status: " + res.Status
	}
	return fmt.Sprintf("paper_ref=%.4f ref_ref=%.4f ref_spread=%.4f combined=%.4f n_related=%d titles_only=%v",
		*res.PaperRef, *res.RefRef, *res.RefSpread, *res.Combined, res.NRelated, res.TitlesOnly)
}
