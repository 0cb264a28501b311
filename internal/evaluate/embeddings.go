// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evaluate

import (
	"context"
	"log/slog"

	"github.com/pdiddy/citation-novelty/internal/embedding"
)

// calculateEmbeddings loads the paper and reference embeddings from the cache
// or computes and caches them. Both are keyed by the paper id.
func (e *Evaluator) calculateEmbeddings(ctx context.Context, p *Paper) error {
	progress := func(pr embedding.Progress) {
		e.report(StageEmbedding, pr.Message)
	}

	if v, ok := e.cache.PaperEmbedding(p.ID); ok {
		p.Embedding = v
	} else {
		pairs := []embedding.Pair{{Title: *p.Title, Abstract: p.Abstract}}
		rows, err := e.embedder.Embed(ctx, pairs, p.titlesOnly, nil)
		if err != nil || len(rows) != 1 {
			return e.embeddingFailed(ctx, p, err)
		}
		p.Embedding = rows[0]
		e.cache.PutPaperEmbedding(p.ID, p.Embedding)
	}

	if m, ok := e.cache.ReferenceEmbeddings(p.ID); ok {
		p.RefEmbeddings = m
	} else {
		rows, err := e.embedder.Embed(ctx, p.RefData, p.titlesOnly, progress)
		if err != nil || len(rows) != len(p.RefData) {
			return e.embeddingFailed(ctx, p, err)
		}
		p.RefEmbeddings = rows
		e.cache.PutReferenceEmbeddings(p.ID, rows)
	}

	if len(p.RefEmbeddings) == 0 {
		return e.embeddingFailed(ctx, p, nil)
	}
	return nil
}

// embeddingFailed turns a model error into the terminal status. Cancellation
// stays a hard error.
func (e *Evaluator) embeddingFailed(ctx context.Context, p *Paper, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.logger.Error("embedding calculation failed", slog.String("id", p.ID), slog.Any("error", err))
	return fail(StatusEmbeddingFailed)
}
