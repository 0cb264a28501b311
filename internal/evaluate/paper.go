// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evaluate

import (
	"github.com/pdiddy/citation-novelty/internal/embedding"
	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// Terminal status strings reported for papers that cannot be scored.
const (
	StatusFetchFailed       = "Error during fetching data for given ID"
	StatusNoReferences      = "No references found"
	StatusTitleNotFound     = "Title not found"
	StatusNoValidReferences = "No valid references found"
	StatusEmbeddingFailed   = "Error during embedding calculation"
)

// Failure is a terminal, user-visible reason a paper cannot be scored. Stages
// return it as an error; the pipeline stops and reports Reason as the status.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string { return f.Reason }

func fail(reason string) error { return &Failure{Reason: reason} }

// Paper is the evolving state of one evaluation. It is owned by a single
// EvalPaper call.
type Paper struct {
	// ID is the normalized work identifier.
	ID string

	Title    *string
	Abstract *string

	// References are the referenced-work ids as returned by OpenAlex.
	References []string

	// RefData holds the usable (title, abstract) pairs of the references.
	RefData []embedding.Pair

	Embedding     []float32
	RefEmbeddings [][]float32

	Status string

	titlesOnly bool
}

// NewPaper starts an evaluation record. title and abstract, when given,
// take precedence over cached or fetched values.
func NewPaper(id string, title, abstract *string) *Paper {
	return &Paper{
		ID:       openalex.NormalizeID(id),
		Title:    title,
		Abstract: abstract,
		Status:   types.StatusOK,
	}
}

// TitlesOnly reports whether the paper is scored from titles alone.
func (p *Paper) TitlesOnly() bool {
	return p.titlesOnly
}

// useTitlesOnly switches the paper to titles-only mode and drops every
// reference abstract. There is no way back.
func (p *Paper) useTitlesOnly() {
	p.titlesOnly = true
	for i := range p.RefData {
		p.RefData[i].Abstract = nil
	}
}

// result converts the paper into the reported record.
func (p *Paper) result() types.Result {
	return types.Result{
		ID:         p.ID,
		TitlesOnly: p.titlesOnly,
		Status:     p.Status,
	}
}

func failedResult(p *Paper) types.Result {
	r := p.result()
	s := types.FailedScore
	r.Score = &s
	return r
}
