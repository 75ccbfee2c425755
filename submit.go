package wizard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Submitter hands the composite record to the hosting application.
type Submitter interface {
	Submit(ctx context.Context, composite map[string]any) (any, error)
}

// SubmitFunc is an adapter that lets you use a function as a Submitter.
type SubmitFunc func(ctx context.Context, composite map[string]any) (any, error)

// Submit calls the underlying function.
func (f SubmitFunc) Submit(ctx context.Context, composite map[string]any) (any, error) {
	return f(ctx, composite)
}

// SubmissionResult describes a completed submission.
type SubmissionResult struct {
	AttemptID   string
	Value       any
	Composite   map[string]any
	SubmittedAt time.Time
	Duration    time.Duration
}

// Submit re-validates the terminal step, locks the wizard and invokes the
// submitter exactly once. Only one submission may be in flight per wizard.
//
// On failure the wizard moves to failed with payloads and composite intact and
// the caller may submit again. A cancelled context moves it back to
// in-progress instead.
func (w *Wizard) Submit(ctx context.Context, submitter Submitter) (*SubmissionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	prevIndex, prevStatus := w.st.currentIndex, w.st.status
	composite, attemptID, err := w.beginSubmitLocked(submitter)
	if err != nil {
		logger := withLoggerFields(w.logger, w.fieldsLocked(OpSubmit, w.st.currentStepID()))
		w.mu.Unlock()
		logger.Debug("submit rejected: %v", err)
		return nil, err
	}
	started := w.changeLocked(OpSubmit, w.st.currentStepID(), prevIndex, prevStatus)
	fields := w.fieldsLocked(OpSubmit, w.st.currentStepID())
	fields["attempt_id"] = attemptID
	w.mu.Unlock()

	logger := withLoggerFields(w.logger.WithContext(ctx), fields)
	logger.Info("submission started")
	w.notify(started)

	ctx, span := w.tracer.Start(ctx, "wizard.submit", trace.WithAttributes(
		attribute.String("wizard.id", w.id),
		attribute.String("wizard.attempt_id", attemptID),
		attribute.Int("wizard.steps", len(composite)),
	))
	defer span.End()

	callCtx := ctx
	if w.submitTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.submitTimeout)
		defer cancel()
	}

	startedAt := w.timestamp()
	value, callErr := callSubmitter(callCtx, logger, submitter, clonePayloadMap(composite))
	elapsed := w.timestamp().Sub(startedAt)

	w.mu.Lock()
	submittingIndex := w.st.currentIndex
	var (
		outErr error
		result *SubmissionResult
		op     Operation
	)
	switch {
	case callErr == nil:
		w.st.status = StatusSubmitted
		result = &SubmissionResult{
			AttemptID:   attemptID,
			Value:       value,
			Composite:   composite,
			SubmittedAt: w.timestamp(),
			Duration:    elapsed,
		}
		w.result = result
		op = OpSubmitted
	case errors.Is(callErr, context.Canceled):
		w.st.status = StatusInProgress
		op = OpSubmitCancelled
	default:
		w.st.status = StatusFailed
		op = OpSubmitFailed
	}
	// outcome fields carry the settled status, not submitting
	fields = w.fieldsLocked(op, w.st.currentStepID())
	fields["attempt_id"] = attemptID
	switch op {
	case OpSubmitCancelled:
		outErr = cloneError(ErrSubmissionCancelled, "", callErr, fields)
	case OpSubmitFailed:
		outErr = cloneError(ErrSubmissionFailed, fmt.Sprintf("submission failed: %v", callErr), callErr, fields)
	}
	finished := w.changeLocked(op, w.st.currentStepID(), submittingIndex, StatusSubmitting)
	w.mu.Unlock()
	logger = withLoggerFields(w.logger.WithContext(ctx), fields)

	switch op {
	case OpSubmitted:
		span.SetStatus(codes.Ok, "")
		logger.Info("submission completed in %s", elapsed)
	case OpSubmitCancelled:
		span.SetStatus(codes.Error, "cancelled")
		logger.Warn("submission cancelled: %v", callErr)
	default:
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
		logger.Error("submission failed: %v", callErr)
	}
	w.notify(finished)

	if outErr != nil {
		return nil, outErr
	}
	out := *result
	out.Composite = clonePayloadMap(result.Composite)
	return &out, nil
}

func (w *Wizard) beginSubmitLocked(submitter Submitter) (map[string]any, string, error) {
	switch w.st.status {
	case StatusSubmitting:
		return nil, "", cloneError(ErrSubmissionInProgress, "", nil, w.fieldsLocked(OpSubmit, w.st.currentStepID()))
	case StatusSubmitted:
		return nil, "", cloneError(ErrWizardLocked, "wizard already submitted", nil, w.fieldsLocked(OpSubmit, w.st.currentStepID()))
	}
	if submitter == nil {
		return nil, "", cloneError(ErrSubmissionFailed, "submit operation not configured", nil, w.fieldsLocked(OpSubmit, w.st.currentStepID()))
	}
	if w.st.currentIndex != w.st.lastIndex() {
		meta := w.fieldsLocked(OpSubmit, w.st.currentStepID())
		meta["last_index"] = w.st.lastIndex()
		return nil, "", cloneError(ErrNotAtTerminal, "", nil, meta)
	}
	if err := w.requirePriorStepsLocked(); err != nil {
		return nil, "", err
	}
	if err := w.commitCurrentLocked(OpSubmit); err != nil {
		return nil, "", err
	}
	w.st.status = StatusSubmitting
	return clonePayloadMap(w.st.composite), uuid.NewString(), nil
}

// requirePriorStepsLocked rejects a submit when a step before the terminal one
// has no validated entry in the composite.
func (w *Wizard) requirePriorStepsLocked() error {
	for _, id := range w.st.stepOrder[:w.st.lastIndex()] {
		if _, ok := w.st.composite[id]; ok {
			continue
		}
		meta := w.fieldsLocked(OpSubmit, w.st.currentStepID())
		meta["reason"] = ReasonIncomplete
		meta["missing_step_id"] = id
		return cloneError(ErrValidationFailed,
			fmt.Sprintf("step %q has not been validated", id), nil, meta)
	}
	return nil
}

// callSubmitter converts a panicking submitter into an error so the wizard
// never stays locked in submitting.
func callSubmitter(ctx context.Context, logger Logger, submitter Submitter, composite map[string]any) (value any, err error) {
	defer recoverAsError(logger, "submitter", &err)
	return submitter.Submit(ctx, composite)
}
