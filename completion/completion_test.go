package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEchoCompleter(t *testing.T) {
	c := New(Config{})
	out, err := c.Complete(context.Background(), Request{
		Prompt:    "summarize this",
		Grounding: []string{"passage one"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "summarize this") || !strings.Contains(out, "passage one") {
		t.Errorf("echo output missing inputs: %q", out)
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "  the answer  "}}},
		})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "test-model", Timeout: time.Second})
	out, err := c.Complete(context.Background(), Request{
		System:    "you are a lawyer",
		Prompt:    "evaluate",
		Grounding: []string{"cited text"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "the answer" {
		t.Errorf("got %q, want trimmed answer", out)
	}
	if gotReq.Model != "test-model" {
		t.Errorf("model: got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages: %+v", gotReq.Messages)
	}
	if !strings.Contains(gotReq.Messages[1].Content, "cited text") {
		t.Error("grounding not appended to user message")
	}
}

func TestOpenAIClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestOpenAIClient_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Timeout: time.Second})
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil || errors.Is(err, ErrUnavailable) {
		t.Errorf("4xx should not map to ErrUnavailable: %v", err)
	}
}
