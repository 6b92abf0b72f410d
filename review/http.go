package review

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/decision"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/kit"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/segment"
	"github.com/clauseguard/clauseguard/shield"
)

// maxRequestBody caps uploaded contract text. Rental contracts are a few
// pages; anything near this size is not a contract.
const maxRequestBody = 1 << 20

// OpenRequest is the body for POST /sessions.
type OpenRequest struct {
	Text string `json:"text"`
}

// OpenResponse returns the new session and its segmentation.
type OpenResponse struct {
	SessionID string           `json:"session_id"`
	Clauses   []segment.Clause `json:"clauses"`
}

// DecideRequest is the body for POST /sessions/{id}/decisions.
type DecideRequest struct {
	ClauseID   int    `json:"clause_id"`
	Status     string `json:"status"`
	ChosenText string `json:"chosen_text,omitempty"`
}

// AskRequest is the body for POST /sessions/{id}/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// Router builds the HTTP surface. obsDB may be nil to skip request logging.
func (s *Service) Router(obsDB *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders)
	r.Use(shield.MaxJSONBody(maxRequestBody))
	r.Use(shield.NewRateLimiter(shield.DefaultLimits()).Middleware)
	if obsDB != nil {
		r.Use(observability.HTTPLogger(obsDB))
	}

	r.Post("/sessions", s.handleOpen)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Use(s.sessionCtx)
		r.Delete("/", s.handleClose)
		r.Get("/clauses", s.handleClauses)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/analyses", s.handleAnalyses)
		r.Post("/decisions", s.handleDecide)
		r.Get("/decisions", s.handleDecisions)
		r.Post("/regenerate", s.handleRegenerate)
		r.Get("/reports/lawyer", s.handleLawyerReport)
		r.Get("/reports/client", s.handleClientReport)
		r.Post("/ask", s.handleAsk)
	})
	return r
}

// sessionCtx resolves the session once and stores its ID in the context.
func (s *Service) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		if _, err := s.Get(sessionID); err != nil {
			writeError(w, err)
			return
		}
		ctx := kit.WithSessionID(r.Context(), sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) session(r *http.Request) (*Session, error) {
	return s.Get(kit.GetSessionID(r.Context()))
}

func (s *Service) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := s.Open(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, OpenResponse{SessionID: sess.ID(), Clauses: sess.Clauses()})
}

func (s *Service) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.Close(r.Context(), kit.GetSessionID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClauses(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Clauses())
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	results, err := sess.Analyze(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Service) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	analyses, err := sess.Analyses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (s *Service) handleDecide(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := sess.Decide(r.Context(), req.ClauseID, decision.Status(req.Status), req.ChosenText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleDecisions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := sess.Decisions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Service) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rc, err := sess.Regenerate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clauses": rc.Clauses,
		"text":    rc.Render(),
	})
}

func (s *Service) handleLawyerReport(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, true)
}

func (s *Service) handleClientReport(w http.ResponseWriter, r *http.Request) {
	s.handleReport(w, r, false)
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request, lawyer bool) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lrep, crep, err := sess.Reports(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rep := crep
	if lawyer {
		rep = lrep
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":   rep,
		"rendered": rep.Render(),
	})
}

func (s *Service) handleAsk(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		http.Error(w, "question required", http.StatusBadRequest)
		return
	}
	a, err := sess.Ask(r.Context(), req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, decision.ErrUnknownClause):
		status = http.StatusNotFound
	case errors.Is(err, segment.ErrNoClauses), errors.Is(err, decision.ErrInvalidDecision):
		status = http.StatusBadRequest
	case errors.Is(err, decision.ErrAnalysisFailed), errors.Is(err, ErrNotAnalyzed):
		status = http.StatusConflict
	case errors.Is(err, completion.ErrUnavailable), errors.Is(err, embedding.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
