// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evaluate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdiddy/citation-novelty/internal/embedding"
	"github.com/pdiddy/citation-novelty/internal/openalex"
)

// fetchRefData resolves the title and abstract of every reference, then
// decides between abstract mode and titles-only mode.
func (e *Evaluator) fetchRefData(ctx context.Context, p *Paper) error {
	var err error
	if e.meta.CanBatch() {
		err = e.fetchRefDataBatched(ctx, p)
	} else {
		err = e.fetchRefDataSingly(ctx, p)
	}
	if err != nil {
		return err
	}
	return e.chooseMode(p)
}

// cachedRef returns the reference pair when the cache already holds
// everything this paper needs. Titles-only papers do not need abstracts.
func (e *Evaluator) cachedRef(id string, titlesOnly bool) (title string, haveTitle bool, abstract *string, haveAbstract bool) {
	title, haveTitle = e.cache.Title(id)
	if titlesOnly {
		return title, haveTitle, nil, true
	}
	abstract, haveAbstract = e.cache.Abstract(id)
	return title, haveTitle, abstract, haveAbstract
}

func (e *Evaluator) fetchRefDataSingly(ctx context.Context, p *Paper) error {
	total := len(p.References)
	p.RefData = make([]embedding.Pair, 0, total)

	for i, ref := range p.References {
		id := openalex.NormalizeID(ref)
		title, haveTitle, abstract, haveAbstract := e.cachedRef(id, p.titlesOnly)

		if !haveTitle || !haveAbstract {
			var fields []openalex.Field
			if !haveTitle {
				fields = append(fields, openalex.FieldTitle)
			}
			if !haveAbstract {
				fields = append(fields, openalex.FieldAbstract)
			}
			w, err := e.meta.FetchWork(ctx, id, fields...)
			if err != nil {
				return fmt.Errorf("reference %s: %w", id, err)
			}
			if w == nil {
				e.logger.Warn("reference not found", slog.String("paper", p.ID), slog.String("reference", id))
				e.report(StageReferences, fmt.Sprintf("%d/%d references fetched", i+1, total))
				continue
			}
			if !haveAbstract {
				abstract = w.Abstract
				e.cache.PutAbstract(id, w.Abstract)
			}
			if !haveTitle && w.Title != nil {
				title, haveTitle = *w.Title, true
				e.cache.PutTitle(id, title)
			}
		}

		if haveTitle {
			p.RefData = append(p.RefData, embedding.Pair{Title: title, Abstract: abstract})
		} else {
			e.logger.Warn("reference has no title", slog.String("paper", p.ID), slog.String("reference", id))
		}
		e.report(StageReferences, fmt.Sprintf("%d/%d references fetched", i+1, total))
	}
	return nil
}

// fetchRefDataBatched groups uncached references into filter queries of at
// most BatchSize works. Reference order is preserved in RefData.
func (e *Evaluator) fetchRefDataBatched(ctx context.Context, p *Paper) error {
	resolved := make(map[string]embedding.Pair, len(p.References))
	var pending []string
	queued := make(map[string]bool)

	for _, ref := range p.References {
		id := openalex.NormalizeID(ref)
		title, haveTitle, abstract, haveAbstract := e.cachedRef(id, p.titlesOnly)
		if haveTitle && haveAbstract {
			resolved[id] = embedding.Pair{Title: title, Abstract: abstract}
			continue
		}
		if !queued[id] {
			queued[id] = true
			pending = append(pending, id)
		}
	}

	size := e.meta.BatchSize()
	if size <= 0 {
		size = openalex.MaxBatch
	}
	for start := 0; start < len(pending); start += size {
		end := min(start+size, len(pending))
		works, err := e.meta.FetchWorks(ctx, pending[start:end])
		if err != nil {
			return fmt.Errorf("batched fetch of reference data: %w", err)
		}
		for _, w := range works {
			e.cache.PutAbstract(w.ID, w.Abstract)
			if w.Title == nil {
				e.logger.Warn("reference has no title", slog.String("paper", p.ID), slog.String("reference", w.ID))
				continue
			}
			e.cache.PutTitle(w.ID, *w.Title)
			pair := embedding.Pair{Title: *w.Title, Abstract: w.Abstract}
			if p.titlesOnly {
				pair.Abstract = nil
			}
			resolved[w.ID] = pair
		}
		e.report(StageReferences, fmt.Sprintf("%d/%d references fetched", end, len(pending)))
	}

	p.RefData = make([]embedding.Pair, 0, len(p.References))
	for _, ref := range p.References {
		id := openalex.NormalizeID(ref)
		if pair, ok := resolved[id]; ok {
			p.RefData = append(p.RefData, pair)
		} else if queued[id] {
			e.logger.Warn("reference not found", slog.String("paper", p.ID), slog.String("reference", id))
		}
	}
	return nil
}

// chooseMode applies the abstract threshold. With fewer than minAbstracts
// reference abstracts the paper falls back to titles only; otherwise
// references lacking an abstract are dropped.
func (e *Evaluator) chooseMode(p *Paper) error {
	if !p.titlesOnly {
		n := 0
		for _, pair := range p.RefData {
			if pair.Abstract != nil {
				n++
			}
		}
		if n < e.minAbstracts {
			e.logger.Warn("too few reference abstracts, using titles only",
				slog.String("id", p.ID), slog.Int("abstracts", n), slog.Int("required", e.minAbstracts))
			p.useTitlesOnly()
		} else {
			kept := p.RefData[:0]
			for _, pair := range p.RefData {
				if pair.Abstract != nil {
					kept = append(kept, pair)
				}
			}
			p.RefData = kept
		}
	}

	if len(p.RefData) == 0 {
		return fail(StatusNoValidReferences)
	}
	return nil
}
