package kit

import "context"

type contextKey string

const (
	SessionIDKey contextKey = "kit_session_id"
	RequestIDKey contextKey = "kit_request_id"
	TransportKey contextKey = "kit_transport" // "http", "mcp"
	ReviewerKey  contextKey = "kit_reviewer"
)

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithReviewer(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, ReviewerKey, handle)
}
func GetReviewer(ctx context.Context) string {
	v, _ := ctx.Value(ReviewerKey).(string)
	return v
}
