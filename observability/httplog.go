package observability

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clauseguard/clauseguard/idgen"
	"github.com/clauseguard/clauseguard/kit"
)

// HTTPLogger is chi middleware recording each request in http_request_logs.
// Insert failures are logged, never surfaced to the request.
func HTTPLogger(db *sql.DB) func(http.Handler) http.Handler {
	newID := idgen.Prefixed("hrl_", idgen.Default)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			sessionID := kit.GetSessionID(r.Context())
			_, err := db.ExecContext(r.Context(), `
				INSERT INTO http_request_logs (log_id, method, path, status_code, duration_ms, session_id, remote_addr, created_at)
				VALUES (?,?,?,?,?,?,?,?)`,
				newID(), r.Method, r.URL.Path, ww.Status(),
				time.Since(start).Milliseconds(), sessionID, r.RemoteAddr, time.Now().Unix())
			if err != nil {
				slog.Warn("http request log failed", "path", r.URL.Path, "error", err)
			}
		})
	}
}
