package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	wizard "github.com/goliatone/go-wizard"
	"github.com/goliatone/go-wizard/store"
)

// Session binds a wizard to its stored record.
type Session struct {
	id         string
	wizardType string
	wizard     *wizard.Wizard
	manager    *Manager
	sub        wizard.Subscription

	mu       sync.Mutex
	version  int
	lastErr  error
	detached bool
}

func (m *Manager) newSession(id, wizardType string, w *wizard.Wizard, version int) *Session {
	s := &Session{
		id:         id,
		wizardType: wizardType,
		wizard:     w,
		manager:    m,
		version:    version,
	}
	s.sub = w.OnStateChange(s.onChange)
	return s
}

// ID is the session id, shared with the wizard instance id.
func (s *Session) ID() string { return s.id }

func (s *Session) Type() string { return s.wizardType }

func (s *Session) Wizard() *wizard.Wizard { return s.wizard }

// Version is the stored record version last written by this session.
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Err reports the most recent persistence failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) onChange(change wizard.StateChange) {
	log := s.manager.logFor(s.id)
	ctx, cancel := context.WithTimeout(context.Background(), s.manager.persistTimeout)
	defer cancel()

	if change.Status == wizard.StatusSubmitted {
		if err := s.manager.Close(ctx, s.id); err != nil {
			s.setErr(err)
			log.Error("remove submitted session failed: %v", err)
		}
		return
	}
	if err := s.save(ctx); err != nil {
		log.Error("persist session failed op=%s: %v", change.Op, err)
	}
}

// save writes the wizard's latest snapshot. Listener deliveries can race, so
// the change payload itself is not persisted.
func (s *Session) save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return nil
	}
	rec := &store.Record{
		SessionID:  s.id,
		WizardType: s.wizardType,
		Snapshot:   s.wizard.Snapshot(),
		UpdatedAt:  s.manager.now(),
	}
	version, err := s.manager.store.SaveIfVersion(ctx, rec, s.version)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			err = fmt.Errorf("session %s modified by another writer: %w", s.id, err)
		}
		s.lastErr = err
		return err
	}
	s.version = version
	s.lastErr = nil
	return nil
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Session) detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}
