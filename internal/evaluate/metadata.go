// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evaluate

import (
	"context"
	"log/slog"

	"github.com/pdiddy/citation-novelty/internal/openalex"
)

// fetchPaperData fills the paper's title, abstract and reference list from
// the caller, the cache, or one OpenAlex request for whatever is still
// missing. A missing abstract switches the paper to titles-only mode.
func (e *Evaluator) fetchPaperData(ctx context.Context, p *Paper) error {
	var fields []openalex.Field

	if p.Title == nil {
		if t, ok := e.cache.Title(p.ID); ok {
			p.Title = &t
		} else {
			fields = append(fields, openalex.FieldTitle)
		}
	}

	needAbstract := false
	if p.Abstract == nil {
		if a, ok := e.cache.Abstract(p.ID); ok {
			p.Abstract = a
		} else {
			needAbstract = true
			fields = append(fields, openalex.FieldAbstract)
		}
	}

	needRefs := false
	if refs, ok := e.cache.References(p.ID); ok {
		p.References = refs
	} else {
		needRefs = true
		fields = append(fields, openalex.FieldReferences)
	}

	if len(fields) > 0 {
		w, err := e.meta.FetchWork(ctx, p.ID, fields...)
		if err != nil {
			return err
		}
		if w == nil {
			return fail(StatusFetchFailed)
		}
		if p.Title == nil && w.Title != nil {
			p.Title = w.Title
			e.cache.PutTitle(p.ID, *w.Title)
		}
		if needAbstract {
			p.Abstract = w.Abstract
			e.cache.PutAbstract(p.ID, w.Abstract)
		}
		if needRefs {
			p.References = w.ReferencedWorks
			if p.References == nil {
				p.References = []string{}
			}
			e.cache.PutReferences(p.ID, p.References)
		}
	}

	if len(p.References) == 0 {
		return fail(StatusNoReferences)
	}
	if p.Title == nil {
		return fail(StatusTitleNotFound)
	}
	if p.Abstract == nil {
		e.logger.Warn("abstract not found, using titles only", slog.String("id", p.ID))
		p.useTitlesOnly()
	}
	return nil
}
