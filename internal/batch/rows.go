// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pdiddy/citation-novelty/internal/openalex"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// Columns names the input CSV headers.
type Columns struct {
	ID        string `yaml:"id" json:"id"`
	ProjectID string `yaml:"project_id" json:"project_id"`
	Title     string `yaml:"title" json:"title"`
	Abstract  string `yaml:"abstract" json:"abstract"`
}

// DefaultColumns returns the headers of the challenge data export.
func DefaultColumns() Columns {
	return Columns{
		ID:        "OpenAlexID (as URL)",
		ProjectID: "PaperProjectID",
		Title:     "Title",
		Abstract:  "Abstract",
	}
}

// Row is one paper to evaluate.
type Row struct {
	Index     int
	ProjectID string
	ID        string
	Title     *string
	Abstract  *string
}

// ReadRows parses the input CSV. The id and project id columns are required;
// title and abstract are optional, and empty cells are treated as absent.
func ReadRows(r io.Reader, cols Columns) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idCol, ok := pos[cols.ID]
	if !ok {
		return nil, fmt.Errorf("missing column %q", cols.ID)
	}
	pidCol, ok := pos[cols.ProjectID]
	if !ok {
		return nil, fmt.Errorf("missing column %q", cols.ProjectID)
	}
	titleCol, hasTitle := pos[cols.Title]
	absCol, hasAbs := pos[cols.Abstract]

	var rows []Row
	for index := 0; ; index++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", index, err)
		}
		row := Row{
			Index:     index,
			ID:        openalex.NormalizeID(strings.TrimSpace(cell(rec, idCol))),
			ProjectID: strings.TrimSpace(cell(rec, pidCol)),
		}
		if row.ProjectID == "" {
			row.ProjectID = strconv.Itoa(index)
		}
		if hasTitle {
			row.Title = optional(cell(rec, titleCol))
		}
		if hasAbs {
			row.Abstract = optional(cell(rec, absCol))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteResults writes one CSV line per row that has a result, in input order.
func WriteResults(w io.Writer, rows []Row, results map[string]types.Result) error {
	cw := csv.NewWriter(w)
	header := []string{"PaperProjectID", "OpenAlexID", "status", "titles_only", "n_related",
		"paper_ref", "ref_ref", "ref_spread", "combined", "score"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		res, ok := results[row.ProjectID]
		if !ok {
			continue
		}
		rec := []string{
			row.ProjectID,
			res.ID,
			res.Status,
			strconv.FormatBool(res.TitlesOnly),
			strconv.Itoa(res.NRelated),
			float(res.PaperRef),
			float(res.RefRef),
			float(res.RefSpread),
			float(res.Combined),
			float(res.Score),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func float(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
