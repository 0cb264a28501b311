// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package openalex fetches work metadata (title, abstract, referenced works)
// from the OpenAlex API.
//
// Lookups that cannot be answered, because the work does not exist or the
// request kept failing after retries, resolve to a nil Work rather than an
// error. Errors are reserved for cancellation and responses that cannot be
// decoded.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/pdiddy/citation-novelty/internal/httputil"
	"github.com/pdiddy/citation-novelty/pkg/types"
)

// Field names a selectable work attribute.
type Field string

const (
	FieldID         Field = "id"
	FieldTitle      Field = "title"
	FieldAbstract   Field = "abstract_inverted_index"
	FieldReferences Field = "referenced_works"
)

// MaxBatch is the largest number of works requested through one filter query.
const MaxBatch = 10

// Work is the subset of an OpenAlex work record the evaluator consumes.
// Nil pointers mean the field was absent or not selected.
type Work struct {
	ID              string
	Title           *string
	Abstract        *string
	ReferencedWorks []string
}

// Client is a rate-limited, retrying OpenAlex works client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     httputil.Policy
	logger     *slog.Logger
	cfg        types.OpenAlexConfig
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRetryPolicy replaces the retry policy derived from configuration.
func WithRetryPolicy(p httputil.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates an OpenAlex client. Unset configuration fields fall back
// to types.DefaultConfig.
func NewClient(cfg types.OpenAlexConfig, opts ...ClientOption) *Client {
	def := types.DefaultConfig().OpenAlex
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatch {
		cfg.BatchSize = MaxBatch
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:     slog.Default(),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.MaxAttempts == 0 {
		c.policy = httputil.NewPolicy(cfg.Retry, c.logger)
	}
	return c
}

// CanBatch reports whether an API key is configured, which enables FetchWorks.
func (c *Client) CanBatch() bool {
	return c.cfg.APIKey != ""
}

// BatchSize returns the number of works requested per FetchWorks call.
func (c *Client) BatchSize() int {
	return c.cfg.BatchSize
}

// FetchWork requests the selected fields of a single work. It returns a nil
// Work when the work does not exist or the request could not be completed.
func (c *Client) FetchWork(ctx context.Context, id string, fields ...Field) (*Work, error) {
	id = NormalizeID(id)
	params := url.Values{}
	if len(fields) > 0 {
		params.Set("select", joinFields(fields))
	}

	var rec workRecord
	found, err := c.get(ctx, c.cfg.BaseURL+"/"+url.PathEscape(id), params, &rec)
	if err != nil || !found {
		return nil, err
	}

	w := rec.toWork()
	if w.ID == "" {
		w.ID = id
	}
	return &w, nil
}

// FetchWorks requests id, title and abstract for up to BatchSize works with a
// single filter query. Works unknown to OpenAlex are simply missing from the
// result. Unlike FetchWork, an unanswerable batch is an error: the caller
// cannot tell which works were lost.
func (c *Client) FetchWorks(ctx context.Context, ids []string) ([]Work, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > c.cfg.BatchSize {
		return nil, fmt.Errorf("batch of %d works exceeds limit %d", len(ids), c.cfg.BatchSize)
	}

	params := url.Values{
		"filter":   {"openalex:" + strings.Join(NormalizeIDs(ids), "|")},
		"select":   {joinFields([]Field{FieldID, FieldTitle, FieldAbstract})},
		"per_page": {strconv.Itoa(len(ids))},
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}

	var resp worksResponse
	found, err := c.get(ctx, c.cfg.BaseURL, params, &resp)
	if err != nil {
		return nil, err
	}
	if !found || resp.Results == nil {
		return nil, fmt.Errorf("batched fetch of %d works returned no results", len(ids))
	}

	works := make([]Work, 0, len(resp.Results))
	for _, rec := range resp.Results {
		works = append(works, rec.toWork())
	}
	return works, nil
}

// get performs a rate-limited, retried GET and decodes a 200 body into out.
// found is false for 404s and for failures that persisted through retries.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) (found bool, err error) {
	if c.cfg.Email != "" {
		params.Set("mailto", c.cfg.Email)
	}
	reqURL := endpoint
	if enc := params.Encode(); enc != "" {
		reqURL += "?" + enc
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("creating OpenAlex request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, c.policy)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Warn("OpenAlex request failed", slog.String("path", req.URL.Path), slog.Any("error", err))
		return false, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Warn("data not found", slog.String("path", req.URL.Path))
		return false, nil
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("OpenAlex request failed",
			slog.String("path", req.URL.Path), slog.Int("status", resp.StatusCode))
		return false, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("parsing OpenAlex response: %w", err)
	}
	return true, nil
}

func joinFields(fields []Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

// OpenAlex API JSON structures.
type worksResponse struct {
	Meta    worksMeta    `json:"meta"`
	Results []workRecord `json:"results"`
}

type worksMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type workRecord struct {
	ID                    string           `json:"id"`
	Title                 *string          `json:"title"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	ReferencedWorks       []string         `json:"referenced_works"`
}

func (r workRecord) toWork() Work {
	w := Work{
		ID:              NormalizeID(r.ID),
		Abstract:        ReconstructAbstract(r.AbstractInvertedIndex),
		ReferencedWorks: r.ReferencedWorks,
	}
	if r.Title != nil && strings.TrimSpace(*r.Title) != "" {
		title := *r.Title
		w.Title = &title
	}
	return w
}
