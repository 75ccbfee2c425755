package session

import (
	"time"

	wizard "github.com/goliatone/go-wizard"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger handed to the manager and every wizard it creates.
func WithLogger(logger wizard.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithWizardOptions appends options applied to every wizard. The session id
// always wins over a WithID passed here.
func WithWizardOptions(opts ...wizard.Option) Option {
	return func(m *Manager) {
		m.wizardOpts = append(m.wizardOpts, opts...)
	}
}

// WithPersistTimeout bounds each store write triggered by a state change.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

// WithClock overrides the time source for record timestamps and idle sweeps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
