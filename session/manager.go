package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	wizard "github.com/goliatone/go-wizard"
	"github.com/goliatone/go-wizard/store"
)

const (
	ErrCodeSessionNotFound = "WIZARD_SESSION_NOT_FOUND"
	ErrCodeUnknownType     = "WIZARD_UNKNOWN_TYPE"
)

var (
	ErrSessionNotFound = apperrors.New("wizard session not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeSessionNotFound)
	ErrUnknownType = apperrors.New("unknown wizard type", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownType)
)

// RegistryFactory resolves the step registry for a wizard type. Returned
// registries are frozen by the wizard and may be shared across sessions.
type RegistryFactory func(wizardType string) (*wizard.Registry, error)

// StaticRegistries serves a fixed set of registries keyed by wizard type.
func StaticRegistries(registries map[string]*wizard.Registry) RegistryFactory {
	return func(wizardType string) (*wizard.Registry, error) {
		reg, ok := registries[wizardType]
		if !ok || reg == nil {
			err := ErrUnknownType.Clone()
			err.Message = fmt.Sprintf("unknown wizard type %q", wizardType)
			return nil, err
		}
		return reg, nil
	}
}

// Manager owns live wizard sessions and mirrors each one into a store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store          store.Store
	registries     RegistryFactory
	logger         wizard.Logger
	wizardOpts     []wizard.Option
	persistTimeout time.Duration
	now            func() time.Time
}

// NewManager builds a manager. A nil store falls back to an in-memory store.
func NewManager(st store.Store, registries RegistryFactory, opts ...Option) (*Manager, error) {
	if registries == nil {
		return nil, fmt.Errorf("session manager requires a registry factory")
	}
	if st == nil {
		st = store.NewInMemoryStore()
	}
	m := &Manager{
		sessions:       make(map[string]*Session),
		store:          st,
		registries:     registries,
		logger:         wizard.NewFmtLogger(nil),
		persistTimeout: 5 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Start creates a new session for wizardType and persists its initial snapshot.
func (m *Manager) Start(ctx context.Context, wizardType string) (*Session, error) {
	wizardType = strings.TrimSpace(wizardType)
	reg, err := m.registries(wizardType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	w, err := wizard.New(reg, m.optionsFor(id)...)
	if err != nil {
		return nil, err
	}

	s := m.newSession(id, wizardType, w, 0)
	if err := s.save(ctx); err != nil {
		return nil, fmt.Errorf("persist new session %s: %w", id, err)
	}
	m.track(s)
	m.logFor(id).Info("session started type=%s", wizardType)
	return s, nil
}

// Resume returns a live session or restores it from the store.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if s, ok := m.Get(sessionID); ok {
		return s, nil
	}

	rec, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec == nil {
		notFound := ErrSessionNotFound.Clone()
		notFound.Message = fmt.Sprintf("wizard session %q not found", sessionID)
		notFound.Metadata = map[string]any{"session_id": sessionID}
		return nil, notFound
	}

	reg, err := m.registries(rec.WizardType)
	if err != nil {
		return nil, err
	}
	w, err := wizard.Restore(reg, rec.Snapshot, m.optionsFor(sessionID)...)
	if err != nil {
		return nil, err
	}

	s := m.newSession(sessionID, rec.WizardType, w, rec.Version)

	m.mu.Lock()
	if existing, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		s.detach()
		return existing, nil
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.logFor(sessionID).Info("session resumed type=%s version=%d", rec.WizardType, rec.Version)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[strings.TrimSpace(sessionID)]
	return s, ok
}

// Active lists live session ids in lexical order.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close detaches a session and deletes its stored record.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if s := m.untrack(sessionID); s != nil {
		s.detach()
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	m.logFor(sessionID).Debug("session closed")
	return nil
}

// Sweep closes every stored session not updated within idle. It returns the
// ids it closed.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) ([]string, error) {
	if idle <= 0 {
		return nil, fmt.Errorf("sweep requires a positive idle duration")
	}
	ids, err := m.store.ListIdle(ctx, m.now().Add(-idle))
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	closed := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		if err := m.Close(ctx, id); err != nil {
			return closed, err
		}
		closed = append(closed, id)
	}
	if len(closed) > 0 {
		m.logger.Info("swept %d idle wizard sessions", len(closed))
	}
	return closed, nil
}

func (m *Manager) optionsFor(id string) []wizard.Option {
	opts := make([]wizard.Option, 0, len(m.wizardOpts)+3)
	opts = append(opts, wizard.WithLogger(m.logger), wizard.WithClock(m.now))
	opts = append(opts, m.wizardOpts...)
	return append(opts, wizard.WithID(id))
}

func (m *Manager) track(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
}

func (m *Manager) untrack(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	delete(m.sessions, id)
	return s
}

func (m *Manager) logFor(sessionID string) wizard.Logger {
	if fl, ok := m.logger.(wizard.FieldsLogger); ok {
		return fl.WithFields(map[string]any{"session_id": sessionID})
	}
	return m.logger
}
