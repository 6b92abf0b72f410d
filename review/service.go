// Package review wires the clause pipeline into a session service: open a
// contract, analyze its clauses against the authority index, record
// reviewer decisions, regenerate the document, render reports, and answer
// follow-up questions. Each session gets its own shard database; the
// authority index is shared.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/clauseguard/clauseguard/authindex"
	"github.com/clauseguard/clauseguard/completion"
	"github.com/clauseguard/clauseguard/embedding"
	"github.com/clauseguard/clauseguard/idgen"
	"github.com/clauseguard/clauseguard/observability"
	"github.com/clauseguard/clauseguard/segment"
)

// TextExtractor converts an uploaded document into plain contract text.
// The service ships no implementation; deployments plug in their own.
type TextExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}

// Service owns the shared stores and the live sessions.
type Service struct {
	cfg       *Config
	logger    *slog.Logger
	authority *authindex.Store
	emb       embedding.Embedder
	comp      completion.Completer
	events    *observability.EventLogger
	newID     idgen.Generator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option overrides a service collaborator.
type Option func(*Service)

// WithEmbedder replaces the config-built embedder.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(s *Service) { s.emb = emb }
}

// WithCompleter replaces the config-built completer.
func WithCompleter(comp completion.Completer) Option {
	return func(s *Service) { s.comp = comp }
}

// NewService opens the authority index and prepares the capability clients.
func NewService(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("review: config: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		emb:      embedding.New(cfg.Embedding),
		comp:     completion.New(cfg.Completion),
		newID:    idgen.Prefixed("ses_", idgen.Default),
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(s)
	}

	authority, err := authindex.New(authindex.Config{
		DBPath: cfg.AuthorityDB,
		Logger: logger.With("component", "authindex"),
	}, s.emb)
	if err != nil {
		return nil, fmt.Errorf("review: open authority index: %w", err)
	}
	s.authority = authority
	return s, nil
}

// SetEventLogger attaches the observability event logger. nil disables
// event recording.
func (s *Service) SetEventLogger(l *observability.EventLogger) { s.events = l }

// Authority exposes the shared index for the ingestion CLI and tests.
func (s *Service) Authority() *authindex.Store { return s.authority }

// Open segments the contract and creates a session with its own shard
// database. Whitespace-only input fails with segment.ErrNoClauses.
func (s *Service) Open(ctx context.Context, contractText string) (*Session, error) {
	clauses, err := segment.Split(contractText)
	if err != nil {
		return nil, err
	}

	sessionID := s.newID()
	shardPath := filepath.Join(s.cfg.DataDir, sessionID+".db")
	sess, err := s.openSession(sessionID, shardPath, contractText, clauses)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.logEvent(ctx, observability.Event{
		Type:      observability.EventSessionOpened,
		SessionID: sessionID,
		Details:   fmt.Sprintf(`{"clauses":%d}`, len(clauses)),
		Success:   true,
	})
	s.logger.Info("session opened", "session_id", sessionID, "clauses", len(clauses))
	return sess, nil
}

// Get returns a live session.
func (s *Service) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// Close drops the session's ephemeral rows and releases its shard database.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	err := sess.close(ctx)
	s.logEvent(ctx, observability.Event{
		Type:      observability.EventSessionClosed,
		SessionID: sessionID,
		Success:   err == nil,
	})
	return err
}

// Shutdown closes every live session and the shared stores.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = map[string]*Session{}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.close(ctx); err != nil {
			s.logger.Warn("session close failed", "session_id", sess.ID(), "error", err)
		}
	}
	return s.authority.Close()
}

func (s *Service) logEvent(ctx context.Context, e observability.Event) {
	if s.events != nil {
		s.events.Log(ctx, e)
	}
}
