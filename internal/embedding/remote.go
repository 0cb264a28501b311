// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/citation-novelty/pkg/types"
)

// apiPathEmbed is the batch embedding endpoint of an Ollama-compatible server.
const apiPathEmbed = "/api/embed"

// RemoteModel delegates encoding to an embedding server. Pooling is decided by
// the server; serve an encoder that returns the [CLS] state to match ONNXModel.
type RemoteModel struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewRemoteModel creates a client for the server at cfg.RemoteURL.
func NewRemoteModel(cfg types.EmbeddingConfig) (*RemoteModel, error) {
	if cfg.RemoteURL == "" || cfg.RemoteModel == "" {
		return nil, errors.New("remote backend requires remote_url and remote_model")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = types.DefaultConfig().Embedding.Timeout
	}
	return &RemoteModel{
		baseURL: strings.TrimSuffix(cfg.RemoteURL, "/"),
		model:   cfg.RemoteModel,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Close is a no-op; the server owns the model.
func (m *RemoteModel) Close() error { return nil }

// EncodeBatch posts all texts in one request.
func (m *RemoteModel) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(remoteEmbedRequest{Model: m.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+apiPathEmbed, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d texts", len(result.Embeddings), len(texts))
	}
	return result.Embeddings, nil
}

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}
