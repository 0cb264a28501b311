// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// StatusOK marks a paper that has not failed any stage.
const StatusOK = "OK"

// FailedScore is the sentinel score reported when a paper cannot be scored.
const FailedScore = -1.0

// Result is the outcome of a single paper evaluation.
//
// On success the four dissimilarity fields and NRelated are set and Score is nil.
// On failure the dissimilarity fields are nil, Score holds FailedScore and
// Status carries the human-readable reason.
type Result struct {
	// ID is the normalized identifier of the evaluated paper.
	ID string `json:"id" yaml:"id"`

	// PaperRef is 1 - cos(paper, centroid of references).
	PaperRef *float64 `json:"paper_ref,omitempty" yaml:"paper_ref,omitempty"`

	// RefRef is 1 - mean cos(reference, centroid).
	RefRef *float64 `json:"ref_ref,omitempty" yaml:"ref_ref,omitempty"`

	// RefSpread is the standard deviation of per-reference dissimilarity to the centroid.
	RefSpread *float64 `json:"ref_spread,omitempty" yaml:"ref_spread,omitempty"`

	// Combined is 1 - mean cos(unit reference, unit paper).
	Combined *float64 `json:"combined,omitempty" yaml:"combined,omitempty"`

	// Score is set only on failure.
	Score *float64 `json:"score,omitempty" yaml:"score,omitempty"`

	// NRelated is the number of references that contributed an embedding.
	NRelated int `json:"n_related,omitempty" yaml:"n_related,omitempty"`

	TitlesOnly bool   `json:"titles_only" yaml:"titles_only"`
	Status     string `json:"status" yaml:"status"`
}

// OK reports whether the evaluation produced scores.
func (r Result) OK() bool {
	return r.Status == StatusOK && r.PaperRef != nil
}
