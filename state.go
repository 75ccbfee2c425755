package wizard

import (
	"fmt"
	"strings"
)

type state struct {
	stepOrder    []string
	currentIndex int
	payloads     map[string]any
	composite    map[string]any
	status       Status
}

func initialize(registry *Registry) state {
	ids := registry.IDs()
	payloads := make(map[string]any, len(ids))
	for i, id := range ids {
		step, _ := registry.StepAt(i)
		payloads[id] = clonePayload(step.InitialPayload)
	}
	return state{
		stepOrder:    ids,
		currentIndex: 0,
		payloads:     payloads,
		composite:    map[string]any{},
		status:       StatusInProgress,
	}
}

func (s *state) currentStepID() string {
	if s.currentIndex < 0 || s.currentIndex >= len(s.stepOrder) {
		return ""
	}
	return s.stepOrder[s.currentIndex]
}

func (s *state) lastIndex() int {
	return len(s.stepOrder) - 1
}

// SetPayload replaces the stored payload for the active step. The step's
// composite contribution is dropped until it validates again. Other steps are
// edited by navigating back to them first.
func (w *Wizard) SetPayload(stepID string, payload any) error {
	stepID = strings.TrimSpace(stepID)
	return w.apply(OpSetPayload, func() (string, error) {
		if err := w.ensureMutableLocked(OpSetPayload); err != nil {
			return "", err
		}
		if _, ok := w.st.payloads[stepID]; !ok {
			return "", cloneError(ErrStepNotFound, fmt.Sprintf("step %q not registered", stepID), nil,
				w.fieldsLocked(OpSetPayload, stepID))
		}
		if active := w.st.currentStepID(); stepID != active {
			meta := w.fieldsLocked(OpSetPayload, stepID)
			meta["active_step_id"] = active
			return "", cloneError(ErrStepNotActive,
				fmt.Sprintf("step %q is not active, current step is %q", stepID, active), nil, meta)
		}
		w.st.payloads[stepID] = clonePayload(payload)
		delete(w.st.composite, stepID)
		return stepID, nil
	})
}

// Payload returns a copy of the stored payload for stepID.
func (w *Wizard) Payload(stepID string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	payload, ok := w.st.payloads[strings.TrimSpace(stepID)]
	if !ok {
		return nil, false
	}
	return clonePayload(payload), true
}

// Composite returns a copy of the validated data accumulated so far.
func (w *Wizard) Composite() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return clonePayloadMap(w.st.composite)
}

func (w *Wizard) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.status
}

func (w *Wizard) CurrentIndex() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.currentIndex
}

// CurrentStep returns the definition of the active step.
func (w *Wizard) CurrentStep() StepDefinition {
	w.mu.Lock()
	idx := w.st.currentIndex
	w.mu.Unlock()
	step, _ := w.registry.StepAt(idx)
	return step
}

// Reset puts every step back to its initial payload and returns to the first
// step. It is rejected while a submission is in flight or after success.
func (w *Wizard) Reset() error {
	return w.apply(OpReset, func() (string, error) {
		if err := w.ensureMutableLocked(OpReset); err != nil {
			return "", err
		}
		w.st = initialize(w.registry)
		return w.st.currentStepID(), nil
	})
}

// apply runs a synchronous transition under the lock and notifies observers
// once the lock is released. A failed status recovers to in-progress on the
// first transition that succeeds.
func (w *Wizard) apply(op Operation, fn func() (string, error)) error {
	w.mu.Lock()
	prevIndex, prevStatus := w.st.currentIndex, w.st.status
	stepID, err := fn()
	if err != nil {
		logger := withLoggerFields(w.logger, w.fieldsLocked(op, w.st.currentStepID()))
		w.mu.Unlock()
		if HasCode(err, ErrCodeWizardLocked) {
			logger.Warn("%s rejected: %v", op, err)
		} else {
			logger.Debug("%s rejected: %v", op, err)
		}
		return err
	}
	if w.st.status == StatusFailed {
		w.st.status = StatusInProgress
	}
	change := w.changeLocked(op, stepID, prevIndex, prevStatus)
	w.mu.Unlock()

	w.logger.Debug("%s applied step=%s index=%d", op, stepID, change.CurrentIndex)
	w.notify(change)
	return nil
}

func (w *Wizard) ensureMutableLocked(op Operation) error {
	switch w.st.status {
	case StatusSubmitting:
		return cloneError(ErrWizardLocked, "wizard is submitting", nil, w.fieldsLocked(op, w.st.currentStepID()))
	case StatusSubmitted:
		return cloneError(ErrWizardLocked, "wizard already submitted", nil, w.fieldsLocked(op, w.st.currentStepID()))
	}
	return nil
}

func (w *Wizard) fieldsLocked(op Operation, stepID string) map[string]any {
	return map[string]any{
		"wizard_id":     w.id,
		"operation":     string(op),
		"step_id":       stepID,
		"current_index": w.st.currentIndex,
		"status":        string(w.st.status),
	}
}
