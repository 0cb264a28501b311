// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "citation-novelty/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig controls the backoff applied to transient HTTP failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first (default 5).
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// Multiplier scales the exponential backoff window (default 1s).
	Multiplier time.Duration `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`

	// MaxDelay caps a single backoff wait (default 10s).
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// OpenAlexConfig holds settings for the bibliographic metadata source.
type OpenAlexConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// BaseURL is the works endpoint (default "https://api.openalex.org/works").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Email is sent as the mailto parameter for polite pool access.
	Email string `json:"email,omitempty" yaml:"email,omitempty" mapstructure:"email"`

	// APIKey enables the batched reference fetch (elevated rate limit).
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// RateLimit is the maximum number of requests per second (default 10).
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// BatchSize is the number of works per filter query (default and maximum 10).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	Retry RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// EmbeddingBackend identifies the model runtime behind the embedding engine.
type EmbeddingBackend string

const (
	BackendONNX   EmbeddingBackend = "onnx"
	BackendRemote EmbeddingBackend = "remote"
)

// EmbeddingConfig holds settings for the embedding engine and its model.
type EmbeddingConfig struct {
	// Backend selects the model runtime: onnx or remote.
	Backend EmbeddingBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// BatchSize is the number of texts per model call (default 8).
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Separator joins title and abstract (default "[SEP]").
	Separator string `json:"separator" yaml:"separator" mapstructure:"separator"`

	// ModelPath is the ONNX export of the encoder.
	ModelPath string `json:"model_path" yaml:"model_path" mapstructure:"model_path"`

	// TokenizerPath is the HuggingFace tokenizer.json matching the model.
	TokenizerPath string `json:"tokenizer_path" yaml:"tokenizer_path" mapstructure:"tokenizer_path"`

	// ORTLibrary is the path of the onnxruntime shared library.
	ORTLibrary string `json:"ort_library" yaml:"ort_library" mapstructure:"ort_library"`

	// MaxSeqLen truncates tokenized input (default 512).
	MaxSeqLen int `json:"max_seq_len" yaml:"max_seq_len" mapstructure:"max_seq_len"`

	// HiddenSize is the width of the final hidden layer (default 768).
	HiddenSize int `json:"hidden_size" yaml:"hidden_size" mapstructure:"hidden_size"`

	// RemoteURL is the base URL of an embedding server for the remote backend.
	RemoteURL string `json:"remote_url,omitempty" yaml:"remote_url,omitempty" mapstructure:"remote_url"`

	// RemoteModel is the model name requested from the embedding server.
	RemoteModel string `json:"remote_model,omitempty" yaml:"remote_model,omitempty" mapstructure:"remote_model"`

	// Timeout bounds a single remote embedding request.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig holds settings for the persistent memoization layer.
type CacheConfig struct {
	// Path is the SQLite file backing the five caches. Empty keeps them in memory.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// EvaluatorConfig holds settings for the evaluation pipeline.
type EvaluatorConfig struct {
	// Online keeps caches in memory only; offline runs persist after each success.
	Online bool `json:"online" yaml:"online" mapstructure:"online"`

	// MinAbstracts is the number of reference abstracts required to score
	// with abstracts (default 5).
	MinAbstracts int `json:"min_abstracts" yaml:"min_abstracts" mapstructure:"min_abstracts"`
}

// ServerConfig holds settings for the interactive HTTP front door.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Cooldown is the minimum interval between evaluations per session (default 30s).
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown" mapstructure:"cooldown"`
}

// Config groups all component configurations.
type Config struct {
	OpenAlex  OpenAlexConfig  `json:"openalex" yaml:"openalex" mapstructure:"openalex"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Cache     CacheConfig     `json:"cache" yaml:"cache" mapstructure:"cache"`
	Evaluator EvaluatorConfig `json:"evaluator" yaml:"evaluator" mapstructure:"evaluator"`
	Server    ServerConfig    `json:"server" yaml:"server" mapstructure:"server"`
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		OpenAlex: OpenAlexConfig{
			HTTPConfig: HTTPConfig{
				Timeout:   10 * time.Second,
				UserAgent: "citation-novelty/0.1",
			},
			BaseURL:   "https://api.openalex.org/works",
			RateLimit: 10,
			BatchSize: 10,
			Retry: RetryConfig{
				MaxAttempts: 5,
				Multiplier:  time.Second,
				MaxDelay:    10 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			Backend:    BackendONNX,
			BatchSize:  8,
			Separator:  "[SEP]",
			MaxSeqLen:  512,
			HiddenSize: 768,
			Timeout:    60 * time.Second,
		},
		Cache: CacheConfig{
			Path: "cache/novelty.db",
		},
		Evaluator: EvaluatorConfig{
			MinAbstracts: 5,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			Cooldown: 30 * time.Second,
		},
	}
}
