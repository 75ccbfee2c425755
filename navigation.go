package wizard

import (
	"fmt"
	"strings"
)

// CanGoNext reports whether the active step's payload currently validates.
func (w *Wizard) CanGoNext() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.validateLocked(w.st.currentIndex).IsValid()
}

// CanSubmit reports whether Submit would start an external call right now.
func (w *Wizard) CanSubmit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.st.status {
	case StatusSubmitting, StatusSubmitted:
		return false
	}
	if w.st.currentIndex != w.st.lastIndex() {
		return false
	}
	return w.validateLocked(w.st.currentIndex).IsValid()
}

// GoNext validates the active step and advances. An invalid payload never
// advances and drops any stale composite entry for the step.
func (w *Wizard) GoNext() error {
	return w.apply(OpNext, func() (string, error) {
		if err := w.ensureMutableLocked(OpNext); err != nil {
			return "", err
		}
		if err := w.commitCurrentLocked(OpNext); err != nil {
			return "", err
		}
		if w.st.currentIndex >= w.st.lastIndex() {
			return "", cloneError(ErrAlreadyAtTerminal, "", nil, w.fieldsLocked(OpNext, w.st.currentStepID()))
		}
		w.st.currentIndex++
		return w.st.currentStepID(), nil
	})
}

// GoBack moves to the previous step. Payloads and composite are untouched.
func (w *Wizard) GoBack() error {
	return w.apply(OpBack, func() (string, error) {
		if err := w.ensureMutableLocked(OpBack); err != nil {
			return "", err
		}
		if w.st.currentIndex == 0 {
			return "", cloneError(ErrAlreadyAtStart, "", nil, w.fieldsLocked(OpBack, w.st.currentStepID()))
		}
		w.st.currentIndex--
		return w.st.currentStepID(), nil
	})
}

// JumpTo moves to stepID. Backward targets are revisits and always allowed.
// A forward target must be the next step, and the active step must validate.
func (w *Wizard) JumpTo(stepID string) error {
	stepID = strings.TrimSpace(stepID)
	return w.apply(OpJump, func() (string, error) {
		if err := w.ensureMutableLocked(OpJump); err != nil {
			return "", err
		}
		target := w.registry.IndexOf(stepID)
		if target < 0 {
			return "", cloneError(ErrStepNotFound, fmt.Sprintf("step %q not registered", stepID), nil,
				w.fieldsLocked(OpJump, stepID))
		}
		current := w.st.currentIndex
		if target <= current {
			w.st.currentIndex = target
			return stepID, nil
		}

		meta := w.fieldsLocked(OpJump, stepID)
		meta["target_index"] = target
		if target > current+1 {
			return "", cloneError(ErrNonSequentialJump,
				fmt.Sprintf("cannot jump from index %d to %d", current, target), nil, meta)
		}
		if err := w.commitCurrentLocked(OpJump); err != nil {
			if reason, ok := ValidationReason(err); ok {
				meta["reason"] = reason
			}
			return "", cloneError(ErrNonSequentialJump, "active step has not validated", err, meta)
		}
		w.st.currentIndex = target
		return stepID, nil
	})
}

// commitCurrentLocked re-validates the active step. On success its payload is
// written to composite, on failure its composite entry is removed.
func (w *Wizard) commitCurrentLocked(op Operation) error {
	idx := w.st.currentIndex
	stepID := w.st.currentStepID()
	res := w.validateLocked(idx)
	if !res.IsValid() {
		delete(w.st.composite, stepID)
		meta := w.fieldsLocked(op, stepID)
		meta["reason"] = res.Reason()
		return cloneError(ErrValidationFailed,
			fmt.Sprintf("step %q failed validation: %s", stepID, res.Reason()), nil, meta)
	}
	w.st.composite[stepID] = clonePayload(w.st.payloads[stepID])
	return nil
}

func (w *Wizard) validateLocked(idx int) ValidationResult {
	step, ok := w.registry.StepAt(idx)
	if !ok {
		return Invalid(ReasonInvalid)
	}
	return step.validate(clonePayload(w.st.payloads[step.ID]))
}
