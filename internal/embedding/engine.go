// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embedding turns (title, abstract) pairs into fixed-dimension vectors.
//
// The Engine owns a single Model, which stands for one compute device: calls
// to Embed are serialized and each batch runs synchronously. Vectors are the
// raw model representation; normalization happens at scoring time.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

// DefaultBatchSize is the number of texts sent to the model per call.
const DefaultBatchSize = 8

// DefaultSeparator joins title and abstract, matching BERT-family tokenizers.
const DefaultSeparator = "[SEP]"

// ErrMissingAbstract is returned when abstracts are requested but a pair has none.
var ErrMissingAbstract = errors.New("abstract missing for pair in title+abstract mode")

// Model computes one vector per input text, in input order.
type Model interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// Pair is a work's title with its abstract, which may be absent.
type Pair struct {
	Title    string
	Abstract *string
}

// Progress reports how many items of the current Embed call are done.
type Progress struct {
	Done    int
	Total   int
	Message string
}

// ProgressFunc receives one Progress per completed batch.
type ProgressFunc func(Progress)

// Engine batches texts through a Model.
type Engine struct {
	mu        sync.Mutex
	model     Model
	batchSize int
	separator string
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the number of texts per model call.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithSeparator sets the string placed between title and abstract.
func WithSeparator(sep string) Option {
	return func(e *Engine) {
		if sep != "" {
			e.separator = sep
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine wraps model in an Engine.
func NewEngine(model Model, opts ...Option) *Engine {
	e := &Engine{
		model:     model,
		batchSize: DefaultBatchSize,
		separator: DefaultSeparator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromConfig builds the configured model backend and wraps it.
func NewEngineFromConfig(cfg types.EmbeddingConfig, logger *slog.Logger) (*Engine, error) {
	model, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	return NewEngine(model,
		WithBatchSize(cfg.BatchSize),
		WithSeparator(cfg.Separator),
		WithLogger(logger),
	), nil
}

// NewModel constructs the model backend selected by cfg.Backend.
func NewModel(cfg types.EmbeddingConfig) (Model, error) {
	switch cfg.Backend {
	case types.BackendONNX, "":
		return NewONNXModel(cfg)
	case types.BackendRemote:
		return NewRemoteModel(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// Close releases the underlying model.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.Close()
}

// Embed returns one row per pair, in input order. In titles-only mode each
// text is the title; otherwise it is title, separator, abstract, and every
// pair must carry an abstract. progress, if non-nil, is called after each
// batch. Empty input yields a zero-row matrix without progress calls.
func (e *Engine) Embed(ctx context.Context, pairs []Pair, titlesOnly bool, progress ProgressFunc) ([][]float32, error) {
	texts, err := e.texts(pairs, titlesOnly)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if titlesOnly {
		e.logger.Debug("embedding titles only", slog.Int("items", len(texts)))
	}

	rows := make([][]float32, 0, len(texts))
	dim := -1
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(texts))

		out, err := e.model.EncodeBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding items %d-%d: %w", start, end-1, err)
		}
		if len(out) != end-start {
			return nil, fmt.Errorf("model returned %d vectors for %d texts", len(out), end-start)
		}
		for _, v := range out {
			if dim < 0 {
				dim = len(v)
			}
			if len(v) != dim || dim == 0 {
				return nil, fmt.Errorf("inconsistent embedding dimension: got %d, want %d", len(v), dim)
			}
			rows = append(rows, v)
		}

		if progress != nil {
			progress(Progress{
				Done:    end,
				Total:   len(texts),
				Message: fmt.Sprintf("Embeddings calculated for %d/%d items...", end, len(texts)),
			})
		}
	}
	return rows, nil
}

func (e *Engine) texts(pairs []Pair, titlesOnly bool) ([]string, error) {
	texts := make([]string, len(pairs))
	for i, p := range pairs {
		if titlesOnly {
			texts[i] = cleanText(p.Title)
			continue
		}
		if p.Abstract == nil {
			return nil, fmt.Errorf("pair %d: %w", i, ErrMissingAbstract)
		}
		texts[i] = cleanText(p.Title) + e.separator + cleanText(*p.Abstract)
	}
	return texts, nil
}

// cleanText applies NFC normalization and collapses runs of whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
