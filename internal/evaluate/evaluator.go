// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evaluate scores how novel a paper is relative to the works it cites.
//
// An evaluation runs four stages in order: fetch the paper's metadata, fetch
// its references, embed both, and score. Each stage reads and fills the five
// caches so later evaluations avoid repeated network and model work. A stage
// that cannot continue returns a *Failure, which ends the evaluation with a
// sentinel result; anything else returned as an error is a hard failure of
// the call.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdiddy/citation-novelty/internal/cache"
	"github.com/pdiddy/citation-novelty/internal/embedding"
	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/internal/score"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// DefaultMinAbstracts is the number of reference abstracts needed to score
// with abstracts rather than titles.
const DefaultMinAbstracts = 5

// Stage names the pipeline step reported through progress messages.
type Stage string

const (
	StageMetadata   Stage = "fetching-metadata"
	StageReferences Stage = "fetching-references"
	StageEmbedding  Stage = "embedding"
	StageScoring    Stage = "scoring"
	StageDone       Stage = "done"
)

// MetadataSource looks up work metadata. *openalex.Client implements it.
type MetadataSource interface {
	FetchWork(ctx context.Context, id string, fields ...openalex.Field) (*openalex.Work, error)
	FetchWorks(ctx context.Context, ids []string) ([]openalex.Work, error)
	CanBatch() bool
	BatchSize() int
}

// Embedder turns pairs into vectors. *embedding.Engine implements it.
type Embedder interface {
	Embed(ctx context.Context, pairs []embedding.Pair, titlesOnly bool, progress embedding.ProgressFunc) ([][]float32, error)
}

// ProgressFunc receives human-readable progress for the running evaluation.
type ProgressFunc func(stage Stage, message string)

// Evaluator orchestrates metadata fetch, embedding and scoring.
type Evaluator struct {
	meta         MetadataSource
	embedder     Embedder
	cache        *cache.Store
	online       bool
	minAbstracts int
	logger       *slog.Logger
	progress     ProgressFunc
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithOnline keeps the caches in memory: EvalPaper never saves them.
func WithOnline(online bool) Option {
	return func(e *Evaluator) {
		e.online = online
	}
}

// WithMinAbstracts sets how many reference abstracts abstract mode requires.
func WithMinAbstracts(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.minAbstracts = n
		}
	}
}

// WithLogger sets the evaluator logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = l
	}
}

// WithProgress sets a callback for stage and progress messages.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Evaluator) {
		e.progress = fn
	}
}

// New creates an Evaluator. The store is shared by every call; callers that
// evaluate concurrently must serialize EvalPaper themselves.
func New(meta MetadataSource, embedder Embedder, store *cache.Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		meta:         meta,
		embedder:     embedder,
		cache:        store,
		minAbstracts: DefaultMinAbstracts,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stage is one pipeline step. It mutates the paper or returns an error.
type stage struct {
	name Stage
	run  func(context.Context, *Paper) error
}

// EvalPaper evaluates the work id. title and abstract, when non-nil, are used
// instead of cached or fetched values.
//
// A paper that cannot be scored is not an error: the result carries the
// sentinel score and a status explaining why. Errors are returned for
// cancellation, malformed batched responses, and, in offline mode, a failure
// to persist the caches after a successful evaluation.
func (e *Evaluator) EvalPaper(ctx context.Context, id string, title, abstract *string) (types.Result, error) {
	p := NewPaper(id, title, abstract)

	stages := []stage{
		{StageMetadata, e.fetchPaperData},
		{StageReferences, e.fetchRefData},
		{StageEmbedding, e.calculateEmbeddings},
	}
	for _, s := range stages {
		e.report(s.name, string(s.name))
		if err := s.run(ctx, p); err != nil {
			var f *Failure
			if errors.As(err, &f) {
				p.Status = f.Reason
				e.report(s.name, f.Reason)
				e.logger.Info("paper not scorable",
					slog.String("id", p.ID), slog.String("stage", string(s.name)), slog.String("status", f.Reason))
				return failedResult(p), nil
			}
			return failedResult(p), fmt.Errorf("%s %s: %w", s.name, p.ID, err)
		}
		e.logger.Debug("stage complete", slog.String("id", p.ID), slog.String("stage", string(s.name)),
			slog.Int("references", len(p.References)), slog.Int("ref_data", len(p.RefData)),
			slog.Bool("titles_only", p.titlesOnly))
	}

	e.report(StageScoring, string(StageScoring))
	res, err := e.score(p)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) {
			p.Status = f.Reason
			return failedResult(p), nil
		}
		return failedResult(p), err
	}

	if !e.online {
		if err := e.cache.Save(ctx); err != nil {
			return res, fmt.Errorf("saving cache: %w", err)
		}
	}
	e.report(StageDone, p.Status)
	return res, nil
}

func (e *Evaluator) score(p *Paper) (types.Result, error) {
	scores, err := score.New(p.Embedding, p.RefEmbeddings).All()
	if err != nil {
		e.logger.Error("scoring failed", slog.String("id", p.ID), slog.Any("error", err))
		return types.Result{}, fail(StatusEmbeddingFailed)
	}

	r := p.result()
	r.PaperRef = &scores.PaperRef
	r.RefRef = &scores.RefRef
	r.RefSpread = &scores.RefSpread
	r.Combined = &scores.Combined
	r.NRelated = len(p.RefEmbeddings)
	return r, nil
}

func (e *Evaluator) report(s Stage, msg string) {
	if e.progress != nil {
		e.progress(s, msg)
	}
}
