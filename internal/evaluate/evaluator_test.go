// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evaluate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-novelty/internal/cache"
	"github.com/pdiddy/citation-novelty/internal/embedding"
	"github.com/pdiddy/citation-novelty/internal/httputil"
	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

func strPtr(s string) *string { return &s }

// fakeSource serves works from memory and counts requests.
type fakeSource struct {
	mu         sync.Mutex
	works      map[string]openalex.Work
	batch      int
	single     int
	batched    int
	batchSizes []int
	batchErr   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{works: make(map[string]openalex.Work)}
}

func (f *fakeSource) add(id string, title, abstract *string, refs ...string) {
	f.works[id] = openalex.Work{ID: id, Title: title, Abstract: abstract, ReferencedWorks: refs}
}

func (f *fakeSource) FetchWork(_ context.Context, id string, _ ...openalex.Field) (*openalex.Work, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single++
	w, ok := f.works[openalex.NormalizeID(id)]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *fakeSource) FetchWorks(_ context.Context, ids []string) ([]openalex.Work, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batched++
	f.batchSizes = append(f.batchSizes, len(ids))
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var out []openalex.Work
	for _, id := range ids {
		if w, ok := f.works[id]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeSource) CanBatch() bool { return f.batch > 0 }
func (f *fakeSource) BatchSize() int { return f.batch }

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.single + f.batched
}

// hashModel maps each text to a deterministic positive vector and records
// every text it encodes.
type hashModel struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (m *hashModel) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, s := range texts {
		m.texts = append(m.texts, s)
		h := fnv.New64a()
		h.Write([]byte(s))
		sum := h.Sum64()
		v := make([]float32, 4)
		for j := range v {
			v[j] = float32((sum>>(8*j))&0xff)/255 + 0.01
		}
		out[i] = v
	}
	return out, nil
}

func (m *hashModel) Close() error { return nil }

func (m *hashModel) encoded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// addRefs registers n references R1..Rn, the first withAbstract of which
// have abstracts, and returns their ids.
func addRefs(src *fakeSource, n, withAbstract int) []string {
	ids := make([]string, n)
	for i := range ids {
		id := fmt.Sprintf("R%d", i+1)
		var abs *string
		if i < withAbstract {
			abs = strPtr("Abstract of " + id)
		}
		src.add(id, strPtr("Title of "+id), abs)
		ids[i] = openalex.IDPrefix + id
	}
	return ids
}

type harness struct {
	src   *fakeSource
	model *hashModel
	store *cache.Store
	eval  *Evaluator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{src: newFakeSource(), model: &hashModel{}, store: cache.NewMemory()}
	engine := embedding.NewEngine(h.model)
	h.eval = New(h.src, engine, h.store, opts...)
	return h
}

func TestEvalPaperSuccess(t *testing.T) {
	h := newHarness(t)
	refs := addRefs(h.src, 6, 6)
	h.src.add("W1", strPtr("Paper"), strPtr("Paper abstract"), refs...)

	res, err := h.eval.EvalPaper(context.Background(), "https://openalex.org/W1", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "W1", res.ID)
	assert.Equal(t, types.StatusOK, res.Status)
	assert.True(t, res.OK())
	assert.False(t, res.TitlesOnly)
	assert.Equal(t, 6, res.NRelated)
	assert.Nil(t, res.Score)
	for _, v := range []*float64{res.PaperRef, res.RefRef, res.Combined} {
		require.NotNil(t, v)
		assert.GreaterOrEqual(t, *v, 0.0)
		assert.LessOrEqual(t, *v, 2.0)
	}
	require.NotNil(t, res.RefSpread)
	assert.GreaterOrEqual(t, *res.RefSpread, 0.0)

	texts := h.model.encoded()
	require.Len(t, texts, 7)
	assert.Equal(t, "Paper[SEP]Paper abstract", texts[0])
	assert.Equal(t, "Title of R1[SEP]Abstract of R1", texts[1])
	assert.Equal(t, "Title of R6[SEP]Abstract of R6", texts[6])
}

func TestAbstractThreshold(t *testing.T) {
	tests := []struct {
		name         string
		withAbstract int
		wantTitles   bool
		wantRelated  int
	}{
		{"four abstracts falls back to titles", 4, true, 6},
		{"five abstracts keeps abstract mode", 5, false, 5},
		{"no abstracts", 0, true, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			refs := addRefs(h.src, 6, tt.withAbstract)
			h.src.add("W1", strPtr("Paper"), strPtr("Paper abstract"), refs...)

			res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, types.StatusOK, res.Status)
			assert.Equal(t, tt.wantTitles, res.TitlesOnly)
			assert.Equal(t, tt.wantRelated, res.NRelated)

			for _, text := range h.model.encoded() {
				assert.Equal(t, !tt.wantTitles, strings.Contains(text, "[SEP]"), text)
			}
		})
	}
}

func TestPaperWithoutAbstractUsesTitles(t *testing.T) {
	h := newHarness(t)
	refs := addRefs(h.src, 6, 6)
	h.src.add("W1", strPtr("Paper"), nil, refs...)

	res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.True(t, res.TitlesOnly)
	assert.Equal(t, 6, res.NRelated)
	assert.Equal(t, "Paper", h.model.encoded()[0])
}

func TestTerminalStatuses(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(src *fakeSource)
		status string
	}{
		{
			name:   "unknown work",
			setup:  func(*fakeSource) {},
			status: StatusFetchFailed,
		},
		{
			name:   "no references",
			setup:  func(src *fakeSource) { src.add("W1", strPtr("Paper"), strPtr("abs")) },
			status: StatusNoReferences,
		},
		{
			name:   "no references wins over missing title",
			setup:  func(src *fakeSource) { src.add("W1", nil, nil) },
			status: StatusNoReferences,
		},
		{
			name: "title not found",
			setup: func(src *fakeSource) {
				src.add("W1", nil, strPtr("abs"), addRefs(src, 2, 2)...)
			},
			status: StatusTitleNotFound,
		},
		{
			name: "no reference resolvable",
			setup: func(src *fakeSource) {
				src.add("R1", nil, strPtr("abs"))
				src.add("W1", strPtr("Paper"), strPtr("abs"), "https://openalex.org/R1", "https://openalex.org/R404")
			},
			status: StatusNoValidReferences,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h.src)

			res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.False(t, res.OK())
			require.NotNil(t, res.Score)
			assert.Equal(t, types.FailedScore, *res.Score)
			assert.Zero(t, res.NRelated)
			assert.Nil(t, res.PaperRef)
			assert.Empty(t, h.model.encoded())
		})
	}
}

func TestEmbeddingFailure(t *testing.T) {
	h := newHarness(t)
	h.model.err = errors.New("out of memory")
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), addRefs(h.src, 6, 6)...)

	res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusEmbeddingFailed, res.Status)
	assert.Equal(t, types.FailedScore, *res.Score)
}

func TestReferencesWithoutTitleSkipped(t *testing.T) {
	h := newHarness(t)
	refs := addRefs(h.src, 6, 6)
	h.src.add("R7", nil, strPtr("orphan abstract"))
	refs = append(refs, "https://openalex.org/R7", "https://openalex.org/R404")
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), refs...)

	res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, res.NRelated)

	abs, ok := h.store.Abstract("R7")
	require.True(t, ok, "abstract learned for an untitled reference is still cached")
	assert.Equal(t, "orphan abstract", *abs)
	_, ok = h.store.Title("R404")
	assert.False(t, ok)
}

func TestEvalPaperIsIdempotent(t *testing.T) {
	h := newHarness(t)
	refs := addRefs(h.src, 12, 3)
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), refs...)

	first, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	calls, encoded := h.src.calls(), len(h.model.encoded())
	assert.Equal(t, 13, calls)
	assert.Equal(t, 13, encoded)

	assert.Equal(t, 13, h.store.Len(cache.Titles))
	assert.Equal(t, 13, h.store.Len(cache.Abstracts))
	assert.Equal(t, 1, h.store.Len(cache.References))
	assert.Equal(t, 1, h.store.Len(cache.PaperEmbeddings))
	assert.Equal(t, 1, h.store.Len(cache.ReferenceEmbeddings))

	second, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, h.src.calls(), "warm cache makes no metadata requests")
	assert.Len(t, h.model.encoded(), encoded, "warm cache runs no model")
	assert.Equal(t, first, second)
}

func TestCallerSuppliedMetadata(t *testing.T) {
	h := newHarness(t)
	h.src.add("W1", strPtr("Fetched title"), strPtr("Fetched abstract"), addRefs(h.src, 5, 5)...)

	res, err := h.eval.EvalPaper(context.Background(), "W1", strPtr("Given title"), strPtr("Given abstract"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "Given title[SEP]Given abstract", h.model.encoded()[0])

	_, ok := h.store.Title("W1")
	assert.False(t, ok, "caller input is not cached")
}

func TestBatchedReferenceFetch(t *testing.T) {
	h := newHarness(t)
	h.src.batch = 5
	refs := addRefs(h.src, 12, 12)
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), refs...)

	// One reference is already cached and must not be requested again.
	h.store.PutTitle("R3", "Title of R3")
	h.store.PutAbstract("R3", strPtr("Abstract of R3"))

	res, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, res.NRelated)
	assert.Equal(t, 1, h.src.single, "only the paper itself is fetched singly")
	assert.Equal(t, []int{5, 5, 1}, h.src.batchSizes)

	texts := h.model.encoded()
	require.Len(t, texts, 13)
	for i := 1; i <= 12; i++ {
		assert.Equal(t, fmt.Sprintf("Title of R%d[SEP]Abstract of R%d", i, i), texts[i], "reference order preserved")
	}
}

func TestBatchedFetchErrorIsHard(t *testing.T) {
	h := newHarness(t)
	h.src.batch = 10
	h.src.batchErr = errors.New("batched fetch of 6 works returned no results")
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), addRefs(h.src, 6, 6)...)

	_, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batched fetch of reference data")
}

func TestProgressMessages(t *testing.T) {
	var mu sync.Mutex
	var got []string
	h := newHarness(t, WithProgress(func(s Stage, msg string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(s)+": "+msg)
	}))
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), addRefs(h.src, 9, 9)...)

	_, err := h.eval.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)

	assert.Contains(t, got, "fetching-metadata: fetching-metadata")
	assert.Contains(t, got, "fetching-references: 9/9 references fetched")
	assert.Contains(t, got, "embedding: Embeddings calculated for 8/9 items...")
	assert.Contains(t, got, "embedding: Embeddings calculated for 9/9 items...")
	assert.Equal(t, "done: OK", got[len(got)-1])
}

func TestCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.src.add("W1", strPtr("Paper"), strPtr("abs"), addRefs(h.src, 6, 6)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.eval.EvalPaper(ctx, "W1", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOfflineSavesCache(t *testing.T) {
	for _, online := range []bool{false, true} {
		t.Run(fmt.Sprintf("online=%v", online), func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "novelty.db")
			store, err := cache.Open(ctx, path, nil)
			require.NoError(t, err)
			defer store.Close()

			src := newFakeSource()
			src.add("W1", strPtr("Paper"), strPtr("abs"), addRefs(src, 5, 5)...)
			ev := New(src, embedding.NewEngine(&hashModel{}), store, WithOnline(online))

			_, err = ev.EvalPaper(ctx, "W1", nil, nil)
			require.NoError(t, err)

			reloaded, err := cache.Open(ctx, path, nil)
			require.NoError(t, err)
			defer reloaded.Close()
			if online {
				assert.Zero(t, reloaded.Len(cache.PaperEmbeddings))
			} else {
				assert.Equal(t, 1, reloaded.Len(cache.PaperEmbeddings))
				assert.Equal(t, 6, reloaded.Len(cache.Titles))
			}
		})
	}
}

// TestAgainstOpenAlexServer drives the pipeline through the real client.
func TestAgainstOpenAlexServer(t *testing.T) {
	inverted := func(words ...string) map[string][]int {
		idx := make(map[string][]int)
		for i, w := range words {
			idx[w] = append(idx[w], i)
		}
		return idx
	}
	works := map[string]map[string]any{
		"W1": {
			"id":                      "https://openalex.org/W1",
			"title":                   "Novel things",
			"abstract_inverted_index": inverted("we", "study", "things"),
			"referenced_works":        []string{"https://openalex.org/R1", "https://openalex.org/R2"},
		},
		"R1": {"id": "https://openalex.org/R1", "title": "Old things", "abstract_inverted_index": nil},
		"R2": {"id": "https://openalex.org/R2", "title": "Older things", "abstract_inverted_index": inverted("ancient")},
	}

	var requests sync.Map
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/works/")
		n, _ := requests.LoadOrStore(id, new(int))
		*n.(*int)++
		assert.Equal(t, "me@example.org", r.URL.Query().Get("mailto"))
		work, ok := works[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		assert.NoError(t, json.NewEncoder(w).Encode(work))
	}))
	defer ts.Close()

	policy := httputil.DefaultPolicy()
	policy.Multiplier = time.Microsecond
	policy.MaxDelay = 10 * time.Microsecond
	client := openalex.NewClient(types.OpenAlexConfig{
		BaseURL:   ts.URL + "/works",
		Email:     "me@example.org",
		RateLimit: 1000,
	}, openalex.WithHTTPClient(ts.Client()), openalex.WithRetryPolicy(policy))

	model := &hashModel{}
	ev := New(client, embedding.NewEngine(model), cache.NewMemory())

	res, err := ev.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.True(t, res.TitlesOnly, "one reference abstract is below the threshold")
	assert.Equal(t, 2, res.NRelated)
	assert.Equal(t, []string{"Novel things", "Old things", "Older things"}, model.encoded())

	_, err = ev.EvalPaper(context.Background(), "W1", nil, nil)
	require.NoError(t, err)
	for _, id := range []string{"W1", "R1", "R2"} {
		n, ok := requests.Load(id)
		require.True(t, ok, id)
		assert.Equal(t, 1, *n.(*int), id)
	}
}
