// Package embedding provides a transport-agnostic embedding client that
// converts text to float32 vectors via any OpenAI-compatible embedding server.
//
// The authority index and the statute ingester depend only on the Embedder
// interface, so the concrete backend (local ONNX, vLLM, OpenAI) is a
// deployment decision. Transient backend failures are reported as
// ErrUnavailable; callers own the retry policy.
//
// Usage:
//
//	emb := embedding.New(embedding.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "text-embedding-ada-002",
//	})
//	vec, err := emb.Embed(ctx, "security deposit forfeiture")
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnavailable indicates the embedding backend failed transiently.
// Callers retry with bounded backoff; the error is never swallowed.
var ErrUnavailable = errors.New("embedding: capability unavailable")

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension (768, 1536, etc).
	// Returns 0 if not yet detected (first call not made).
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server.
	// If empty, a deterministic hash embedder is returned (tests, offline dev).
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on first call.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. If Endpoint is empty, returns a
// deterministic hash embedder of the configured dimension.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 768
		}
		return &hashEmbedder{dim: dim, model: cfg.Model}
	}
	return newOpenAIClient(cfg)
}
