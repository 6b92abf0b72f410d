package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// openaiClient implements Completer using the OpenAI /v1/chat/completions
// format. This covers vLLM, Ollama, and OpenAI itself.
type openaiClient struct {
	endpoint string
	cfg      Config
	client   *http.Client
}

func newOpenAIClient(cfg Config) *openaiClient {
	return &openaiClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}

	content := req.Prompt
	if len(req.Grounding) > 0 {
		var b strings.Builder
		b.WriteString(content)
		b.WriteString("\n\nSource material (use only this):\n")
		for i, g := range req.Grounding {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, g)
		}
		content = b.String()
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: content})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: HTTP POST %s: %v", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: HTTP %d from %s: %s", ErrUnavailable, resp.StatusCode, url, string(respBody))
		}
		return "", fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from %s", url)
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (c *openaiClient) Model() string { return c.cfg.Model }
