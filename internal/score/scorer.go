// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score computes dissimilarity metrics between a paper embedding and
// the embeddings of the works it cites.
//
// All metrics are built on dissimilarity = 1 - cosine similarity, which lies
// in [0, 2]. Arithmetic is done in float64.
package score

import (
	"errors"
	"math"
)

// eps bounds the norm product from below, as torch.cosine_similarity does.
const eps = 1e-8

// ErrNoReferences is returned by metrics that need at least one reference row.
var ErrNoReferences = errors.New("no reference embeddings")

// ErrNoPaper is returned by PaperRef when the paper embedding is missing.
var ErrNoPaper = errors.New("no paper embedding")

// Scores holds every metric for one paper.
type Scores struct {
	PaperRef  float64
	RefRef    float64
	RefSpread float64
	Combined  float64
}

// Scorer evaluates one paper. The reference centroid is computed on first use
// and reused by every metric of the same Scorer.
type Scorer struct {
	paper    []float32
	refs     [][]float32
	centroid []float64
}

// New returns a Scorer for paper (which may be nil) and its reference rows.
func New(paper []float32, refs [][]float32) *Scorer {
	return &Scorer{paper: paper, refs: refs}
}

// Centroid returns the mean of the reference rows.
func (s *Scorer) Centroid() ([]float64, error) {
	if len(s.refs) == 0 {
		return nil, ErrNoReferences
	}
	if s.centroid == nil {
		dim := len(s.refs[0])
		c := make([]float64, dim)
		for _, row := range s.refs {
			for j := 0; j < dim && j < len(row); j++ {
				c[j] += float64(row[j])
			}
		}
		n := float64(len(s.refs))
		for j := range c {
			c[j] /= n
		}
		s.centroid = c
	}
	return s.centroid, nil
}

// PaperRef is the dissimilarity between the paper and the reference centroid.
func (s *Scorer) PaperRef() (float64, error) {
	if s.paper == nil {
		return 0, ErrNoPaper
	}
	c, err := s.Centroid()
	if err != nil {
		return 0, err
	}
	return 1 - cosine(toFloat64(s.paper), c), nil
}

// RefRef is one minus the mean similarity of each reference to the centroid.
func (s *Scorer) RefRef() (float64, error) {
	sims, err := s.refSimilarities()
	if err != nil {
		return 0, err
	}
	return 1 - mean(sims), nil
}

// RefSpread is the sample standard deviation of per-reference dissimilarity
// to the centroid. A single reference has no spread and yields 0.
func (s *Scorer) RefSpread() (float64, error) {
	sims, err := s.refSimilarities()
	if err != nil {
		return 0, err
	}
	dists := make([]float64, len(sims))
	for i, v := range sims {
		dists[i] = 1 - v
	}
	return stddev(dists), nil
}

// Combined is Combined(paper, refs) using this Scorer's centroid when the
// paper embedding is absent.
func (s *Scorer) Combined() float64 {
	if len(s.refs) == 0 {
		return 0
	}
	target := toFloat64(s.paper)
	if s.paper == nil {
		target, _ = s.Centroid()
	}
	return combined(target, s.refs)
}

// All computes every metric. The paper embedding and at least one reference
// row are required.
func (s *Scorer) All() (Scores, error) {
	var out Scores
	var err error
	if out.PaperRef, err = s.PaperRef(); err != nil {
		return Scores{}, err
	}
	if out.RefRef, err = s.RefRef(); err != nil {
		return Scores{}, err
	}
	if out.RefSpread, err = s.RefSpread(); err != nil {
		return Scores{}, err
	}
	out.Combined = s.Combined()
	return out, nil
}

// Combined normalizes paper and every reference row to unit length and
// returns one minus the mean cosine similarity of the references to the
// paper. With a nil paper the references are compared to their own centroid.
// Zero reference rows yield exactly 0.
func Combined(paper []float32, refs [][]float32) float64 {
	return New(paper, refs).Combined()
}

func combined(target []float64, refs [][]float32) float64 {
	sum := 0.0
	for _, row := range refs {
		sum += cosine(toFloat64(row), target)
	}
	return 1 - sum/float64(len(refs))
}

func (s *Scorer) refSimilarities() ([]float64, error) {
	c, err := s.Centroid()
	if err != nil {
		return nil, err
	}
	sims := make([]float64, len(s.refs))
	for i, row := range s.refs {
		sims[i] = cosine(toFloat64(row), c)
	}
	return sims, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := 0; i < len(a) && i < len(b); i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	return dot / math.Max(math.Sqrt(na)*math.Sqrt(nb), eps)
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func toFloat64(v []float32) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
