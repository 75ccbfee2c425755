package wizard

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option customizes a Wizard.
type Option func(*Wizard)

// WithID sets the wizard instance id. A uuid is generated when unset.
func WithID(id string) Option {
	return func(w *Wizard) {
		if id = strings.TrimSpace(id); id != "" {
			w.id = id
		}
	}
}

// WithLogger sets the wizard logger.
func WithLogger(logger Logger) Option {
	return func(w *Wizard) {
		w.logger = normalizeLogger(logger)
	}
}

// WithTracer sets the tracer used for submission spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(w *Wizard) {
		if tracer != nil {
			w.tracer = tracer
		}
	}
}

// WithSubmitTimeout bounds each external submit call. Zero disables the bound.
func WithSubmitTimeout(d time.Duration) Option {
	return func(w *Wizard) {
		if d < 0 {
			d = 0
		}
		w.submitTimeout = d
	}
}

// WithClock overrides the time source used for event and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) {
		if now != nil {
			w.now = now
		}
	}
}
