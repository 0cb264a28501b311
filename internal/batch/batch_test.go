// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

const input = `OpenAlexID (as URL),PaperProjectID,Title,Abstract
https://openalex.org/W1,p1,First paper,"An abstract, with a comma"
https://openalex.org/W2,p2,,
W3,p3,Third,
`

type fakeEvaluator struct {
	calls  []string
	failOn string
}

func (f *fakeEvaluator) EvalPaper(_ context.Context, id string, _, _ *string) (types.Result, error) {
	f.calls = append(f.calls, id)
	if id == f.failOn {
		return types.Result{}, errors.New("cache save failed")
	}
	if id == "W2" {
		s := types.FailedScore
		return types.Result{ID: id, Score: &s, Status: "No references found"}, nil
	}
	v := 0.5
	return types.Result{ID: id, PaperRef: &v, RefRef: &v, RefSpread: &v, Combined: &v, NRelated: 6, Status: types.StatusOK}, nil
}

type countingSaver struct{ saves int }

func (c *countingSaver) Save(context.Context) error {
	c.saves++
	return nil
}

func TestReadRows(t *testing.T) {
	rows, err := ReadRows(strings.NewReader(input), DefaultColumns())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "W1", rows[0].ID)
	assert.Equal(t, "p1", rows[0].ProjectID)
	require.NotNil(t, rows[0].Abstract)
	assert.Equal(t, "An abstract, with a comma", *rows[0].Abstract)

	assert.Nil(t, rows[1].Title, "empty cells are absent")
	assert.Nil(t, rows[1].Abstract)

	assert.Equal(t, "W3", rows[2].ID)
	assert.Equal(t, 2, rows[2].Index)
}

func TestReadRowsErrors(t *testing.T) {
	_, err := ReadRows(strings.NewReader("Title,Abstract\nx,y\n"), DefaultColumns())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAlexID (as URL)")

	rows, err := ReadRows(strings.NewReader(""), DefaultColumns())
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Optional columns may be missing entirely.
	rows, err = ReadRows(strings.NewReader("OpenAlexID (as URL),PaperProjectID\nW9,\n"), DefaultColumns())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0", rows[0].ProjectID)
	assert.Nil(t, rows[0].Title)
}

func TestRunCheckpointsAndWritesOutput(t *testing.T) {
	dir := t.TempDir()
	rows, err := ReadRows(strings.NewReader(input), DefaultColumns())
	require.NoError(t, err)

	ev := &fakeEvaluator{}
	saver := &countingSaver{}
	var out bytes.Buffer
	r := NewRunner(ev, saver, Config{
		CheckpointPath:  filepath.Join(dir, "checkpoint.yaml"),
		OutputPath:      filepath.Join(dir, "out", "scores.csv"),
		CheckpointEvery: 2,
	}, WithOutput(&out))

	cp, err := r.Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Len(t, cp.Results, 3)
	assert.Equal(t, []string{"W1", "W2", "W3"}, ev.calls)
	assert.Equal(t, 2, saver.saves, "one periodic checkpoint plus the final one")
	assert.Contains(t, out.String(), "Row 1 - OpenAlex ID: W2 - Status: No references found")

	f, err := os.Open(filepath.Join(dir, "out", "scores.csv"))
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "PaperProjectID", recs[0][0])
	assert.Equal(t, []string{"p2", "W2", "No references found", "false", "0", "", "", "", "", "-1"}, recs[2])
	assert.Equal(t, "0.5", recs[1][5])
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.yaml")
	rows, err := ReadRows(strings.NewReader(input), DefaultColumns())
	require.NoError(t, err)

	first := &fakeEvaluator{failOn: "W3"}
	_, err = NewRunner(first, nil, Config{CheckpointPath: path}).Run(context.Background(), rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2 (W3)")

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Len(t, cp.Results, 2, "results before the failure are kept")
	assert.Equal(t, "No references found", cp.Results["p2"].Status)
	require.NotNil(t, cp.Results["p1"].PaperRef)
	assert.Equal(t, 0.5, *cp.Results["p1"].PaperRef)

	second := &fakeEvaluator{}
	cp, err = NewRunner(second, nil, Config{CheckpointPath: path}).Run(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"W3"}, second.calls, "scored rows are skipped")
	assert.Len(t, cp.Results, 3)
}

func TestRunCancelled(t *testing.T) {
	rows, err := ReadRows(strings.NewReader(input), DefaultColumns())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := &fakeEvaluator{}
	_, err = NewRunner(ev, nil, Config{}).Run(ctx, rows)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ev.calls)
}

func TestLoadCheckpointErrors(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cp.Results)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("results: [unclosed"), 0o644))
	_, err = LoadCheckpoint(bad)
	assert.Error(t, err)
}
