// Package completion provides a transport-agnostic text-completion client
// for any OpenAI-compatible chat server.
//
// The analysis stages and the query engine depend only on the Completer
// interface. Completions are treated as non-deterministic; transient backend
// failures are reported as ErrUnavailable and retried by the caller with
// bounded backoff. Every call carries a bounded timeout.
package completion

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrUnavailable indicates the completion backend failed transiently.
var ErrUnavailable = errors.New("completion: capability unavailable")

// Request is one completion call.
type Request struct {
	// System sets the assistant's role (optional).
	System string

	// Prompt is the user instruction.
	Prompt string

	// Grounding passages are appended to the prompt as the only source
	// material the model may draw on.
	Grounding []string

	// MaxTokens caps the response length. 0 uses the server default.
	MaxTokens int
}

// Completer produces text from a prompt plus grounding context.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Model returns the model name.
	Model() string
}

// Config configures the completion client.
type Config struct {
	// Endpoint is the base URL of the chat server. If empty, an echo
	// completer is returned (tests, offline dev).
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Timeout per request. Default: 60s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Temperature for sampling. The review pipeline uses 0.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates a Completer from config. If Endpoint is empty, returns an
// echo completer that reflects the prompt and grounding back.
func New(cfg Config) Completer {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &echoCompleter{model: cfg.Model}
	}
	return newOpenAIClient(cfg)
}

// echoCompleter reflects its input. Useful for wiring tests and offline runs
// where the shape of the pipeline matters more than the prose.
type echoCompleter struct {
	model string
}

func (e *echoCompleter) Complete(_ context.Context, req Request) (string, error) {
	var b strings.Builder
	b.WriteString(req.Prompt)
	for _, g := range req.Grounding {
		b.WriteString("\n")
		b.WriteString(g)
	}
	return b.String(), nil
}

func (e *echoCompleter) Model() string { return e.model }
