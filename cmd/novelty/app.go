// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pdiddy/citation-novelty/internal/cache"
	"github.com/pdiddy/citation-novelty/internal/embedding"
	"github.com/pdiddy/citation-novelty/internal/evaluate"
	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// app holds the components shared by the eval, batch and serve commands.
type app struct {
	cfg    types.Config
	store  *cache.Store
	engine *embedding.Engine
	eval   *evaluate.Evaluator
}

// newApp loads the caches, starts the embedding model and builds the
// evaluator. Callers must Close the app.
func newApp(ctx context.Context, cfg types.Config, opts ...evaluate.Option) (*app, error) {
	logger := slog.Default()

	var store *cache.Store
	if cfg.Cache.Path == "" {
		store = cache.NewMemory()
	} else {
		var err error
		if store, err = cache.Open(ctx, cfg.Cache.Path, logger); err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
	}

	engine, err := embedding.NewEngineFromConfig(cfg.Embedding, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("starting embedding engine: %w", err)
	}

	client := openalex.NewClient(cfg.OpenAlex, openalex.WithLogger(logger))
	if !client.CanBatch() {
		logger.Info("no OpenAlex API key configured, references are fetched one at a time")
	}

	opts = append([]evaluate.Option{
		evaluate.WithOnline(cfg.Evaluator.Online),
		evaluate.WithMinAbstracts(cfg.Evaluator.MinAbstracts),
		evaluate.WithLogger(logger),
	}, opts...)

	return &app{
		cfg:    cfg,
		store:  store,
		engine: engine,
		eval:   evaluate.New(client, engine, store, opts...),
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.engine.Close(), a.store.Close())
}
