package wizard

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/goliatone/go-wizard"

// Status is the lifecycle status of a wizard instance.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusFailed     Status = "failed"
)

func (s Status) valid() bool {
	switch s {
	case StatusInProgress, StatusSubmitting, StatusSubmitted, StatusFailed:
		return true
	}
	return false
}

// Wizard owns the state of one multi step form session. Every state change
// goes through SetPayload, the navigation methods, Reset or Submit.
type Wizard struct {
	mu       sync.Mutex
	id       string
	registry *Registry
	st       state
	result   *SubmissionResult

	logger        Logger
	tracer        trace.Tracer
	submitTimeout time.Duration
	now           func() time.Time

	observers observers
}

// New creates a wizard positioned on the first step. An open registry is frozen.
func New(registry *Registry, opts ...Option) (*Wizard, error) {
	w, err := newWizard(registry, opts...)
	if err != nil {
		return nil, err
	}
	w.st = initialize(registry)
	w.logger.Debug("wizard initialized steps=%d", len(w.st.stepOrder))
	return w, nil
}

func newWizard(registry *Registry, opts ...Option) (*Wizard, error) {
	if registry == nil {
		return nil, cloneError(ErrEmptyRegistry, "registry is required", nil, nil)
	}
	if err := registry.Freeze(); err != nil {
		return nil, err
	}
	w := &Wizard{
		registry: registry,
		logger:   normalizeLogger(nil),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.id == "" {
		w.id = uuid.NewString()
	}
	w.logger = withLoggerFields(normalizeLogger(w.logger), map[string]any{"wizard_id": w.id})
	return w, nil
}

// ID returns the wizard instance id.
func (w *Wizard) ID() string { return w.id }

// Registry returns the step registry backing this wizard.
func (w *Wizard) Registry() *Registry { return w.registry }

// Result returns the last successful submission result, if any.
func (w *Wizard) Result() (*SubmissionResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil, false
	}
	cp := *w.result
	cp.Composite = clonePayloadMap(w.result.Composite)
	return &cp, true
}

func (w *Wizard) timestamp() time.Time {
	return w.now().UTC()
}
