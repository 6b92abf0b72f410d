package kit

import (
	"context"
	"testing"
)

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := WithSessionID(context.Background(), "ses_abc")
	if got := GetSessionID(ctx); got != "ses_abc" {
		t.Errorf("session id: got %q, want %q", got, "ses_abc")
	}
}

func TestGetSessionID_Missing(t *testing.T) {
	if got := GetSessionID(context.Background()); got != "" {
		t.Errorf("missing session id: got %q, want empty", got)
	}
}

func TestTransportDefault(t *testing.T) {
	if got := GetTransport(context.Background()); got != "http" {
		t.Errorf("default transport: got %q, want %q", got, "http")
	}
	ctx := WithTransport(context.Background(), "mcp")
	if got := GetTransport(ctx); got != "mcp" {
		t.Errorf("transport: got %q, want %q", got, "mcp")
	}
}

func TestReviewerRoundTrip(t *testing.T) {
	ctx := WithReviewer(context.Background(), "avocat1")
	if got := GetReviewer(ctx); got != "avocat1" {
		t.Errorf("reviewer: got %q, want %q", got, "avocat1")
	}
}
