// Package service is the scene service: the single entry point through
// which the protocol layer reads and mutates scene documents.
//
// Every mutation of a document runs under a per-document FIFO lock, so
// mutations of one document are applied and persisted strictly in arrival
// order while different documents proceed independently. Reads skip the
// lock and see the latest persisted state. A mutation either persists
// completely or fails before anything is written.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/duhman/excalidraw-mcp/internal/config"
	"github.com/duhman/excalidraw-mcp/internal/history"
	"github.com/duhman/excalidraw-mcp/internal/keylock"
	"github.com/duhman/excalidraw-mcp/internal/logging"
	"github.com/duhman/excalidraw-mcp/internal/patch"
	"github.com/duhman/excalidraw-mcp/internal/render"
	"github.com/duhman/excalidraw-mcp/internal/scene"
	"github.com/duhman/excalidraw-mcp/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Journal records persisted revisions. *history.Journal implements it.
type Journal interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
	List(ctx context.Context, documentID string, limit int) ([]history.Entry, error)
}

// Service orchestrates the store, patch engine, quality pass, journal and
// renderer.
type Service struct {
	store      store.Store
	engine     *patch.Engine
	renderer   render.Renderer
	journal    Journal
	logger     *zap.Logger
	maxPayload int64
	newDocID   func() string

	locks keylock.Locker

	sessMu   sync.RWMutex
	sessions map[string]string
}

// Option configures a Service.
type Option func(*Service)

// WithRenderer sets the image renderer. Without one, image export fails
// with scene.ErrDegradedMode.
func WithRenderer(r render.Renderer) Option {
	return func(s *Service) { s.renderer = r }
}

// WithJournal sets the revision journal. Without one, History fails with
// scene.ErrDegradedMode and mutations are not journaled.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithEngine replaces the patch engine.
func WithEngine(e *patch.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithMaxPayloadBytes bounds attachment and import payloads.
func WithMaxPayloadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPayload = n
		}
	}
}

// WithDocumentIDGenerator sets the generator for documents created without
// an explicit id.
func WithDocumentIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newDocID = fn
		}
	}
}

// New creates a Service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		engine:     patch.NewEngine(),
		logger:     zap.NewNop(),
		maxPayload: config.DefaultMaxPayloadBytes,
		newDocID:   uuid.NewString,
		sessions:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// bindSession makes id the active document of session. Empty sessions are
// ignored.
func (s *Service) bindSession(session, id string) {
	if session == "" {
		return
	}
	s.sessMu.Lock()
	s.sessions[session] = id
	s.sessMu.Unlock()
}

// ActiveScene returns the document bound to session.
func (s *Service) ActiveScene(session string) (string, bool) {
	s.sessMu.RLock()
	defer s.sessMu.RUnlock()
	id, ok := s.sessions[session]
	return id, ok
}

// CloseScene clears the binding of session and reports whether one existed.
func (s *Service) CloseScene(session string) bool {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	_, ok := s.sessions[session]
	delete(s.sessions, session)
	return ok
}

// ResetSessions clears every session binding.
func (s *Service) ResetSessions() {
	s.sessMu.Lock()
	s.sessions = make(map[string]string)
	s.sessMu.Unlock()
}

// resolve returns the explicit id, or the active document of session.
func (s *Service) resolve(session, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		active, ok := s.ActiveScene(session)
		if !ok {
			return "", fmt.Errorf("%w: no document id given and no active scene for this session", scene.ErrInvalidInput)
		}
		id = active
	}
	if err := store.ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ─── Mutation pipeline ───────────────────────────────────────────────────────

// mutation computes the next state of a loaded document. Returning
// persist=false skips the save.
type mutation func(doc scene.Document) (res patch.Result, persist bool, err error)

// mutate runs fn under the document lock: load, compute, stamp, save,
// journal. The lock is released whether fn succeeds or fails.
func (s *Service) mutate(ctx context.Context, id, operation string, fn mutation) (patch.Result, error) {
	release := s.locks.Lock(id)
	defer release()

	doc, err := s.store.Load(ctx, id)
	if err != nil {
		return patch.Result{}, err
	}
	res, persist, err := fn(doc)
	if err != nil {
		return patch.Result{}, err
	}
	if !persist {
		return res, nil
	}

	if err := s.persist(ctx, &res.Document, doc.Metadata.UpdatedAt); err != nil {
		return patch.Result{}, err
	}
	s.record(ctx, res, operation)
	return res, nil
}

// persist stamps UpdatedAt, never moving it backwards, and saves.
func (s *Service) persist(ctx context.Context, doc *scene.Document, previous time.Time) error {
	now := timeNow().UTC()
	if now.Before(previous) {
		now = previous
	}
	if now.Before(doc.Metadata.CreatedAt) {
		now = doc.Metadata.CreatedAt
	}
	doc.Metadata.UpdatedAt = now
	return s.store.Save(ctx, *doc)
}

// record appends a journal entry. Journal failures are logged, never
// surfaced: the document is already persisted.
func (s *Service) record(ctx context.Context, res patch.Result, operation string) {
	meta := res.Document.Metadata
	s.logger.Debug("scene mutated",
		zap.String("id", meta.ID),
		zap.String("operation", operation),
		zap.Strings("changed", res.ChangedIDs),
		zap.Int("fixes", res.FixesApplied),
		zap.String("revision", meta.RevisionHash),
	)
	if s.journal == nil {
		return
	}
	_, err := s.journal.Record(ctx, history.Entry{
		DocumentID:   meta.ID,
		RevisionHash: meta.RevisionHash,
		Operation:    operation,
		ChangedIDs:   res.ChangedIDs,
		ElementCount: meta.ElementCount,
		CreatedAt:    meta.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("history journal write failed", zap.String("id", meta.ID), zap.Error(err))
	}
}

// applyOps is the common mutation body: run the engine and persist.
func (s *Service) applyOps(ops ...patch.Operation) mutation {
	return func(doc scene.Document) (patch.Result, bool, error) {
		res, err := s.engine.Apply(doc, ops)
		if err != nil {
			return patch.Result{}, false, err
		}
		return res, true, nil
	}
}

func (s *Service) checkPayload(n int, what string) error {
	if int64(n) > s.maxPayload {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", scene.ErrInvalidInput, what, n, s.maxPayload)
	}
	return nil
}

// passThrough reports whether a renderer error surfaces unchanged instead
// of as degraded mode.
func passThrough(err error) bool {
	return errors.Is(err, scene.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
