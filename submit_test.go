package wizard

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// completeABC walks the A/B/C wizard to its terminal step with valid input.
func completeABC(t *testing.T, w *Wizard) {
	t.Helper()
	require.NoError(t, w.SetPayload("A", "x"))
	require.NoError(t, w.GoNext())
	require.NoError(t, w.SetPayload("B", "5"))
	require.NoError(t, w.GoNext())
}

func TestSubmitDeliversComposite(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	var calls int32
	var got map[string]any
	res, err := w.Submit(context.Background(), SubmitFunc(func(_ context.Context, composite map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		got = composite
		return "receipt-1", nil
	}))
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, map[string]any{
		"A": "x",
		"B": "5",
		"C": map[string]any{"newsletter": false},
	}, got)
	assert.Equal(t, StatusSubmitted, w.Status())
	assert.Equal(t, "receipt-1", res.Value)
	assert.NotEmpty(t, res.AttemptID)
	assert.Equal(t, got, res.Composite)

	stored, ok := w.Result()
	require.True(t, ok)
	assert.Equal(t, res.AttemptID, stored.AttemptID)
}

func TestSubmitRequiresTerminalStep(t *testing.T) {
	w := newABC(t)
	require.NoError(t, w.SetPayload("A", "x"))

	called := false
	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeNotAtTerminal))
	assert.False(t, called)
	assert.Equal(t, StatusInProgress, w.Status())
}

func TestSubmitRevalidatesTerminalStep(t *testing.T) {
	reg, err := Register(
		StepDefinition{ID: "name", Validate: Required()},
		StepDefinition{ID: "age", Validate: Numeric()},
	)
	require.NoError(t, err)
	w, err := New(reg, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, w.SetPayload("name", "ada"))
	require.NoError(t, w.GoNext())
	require.NoError(t, w.SetPayload("age", "old"))

	called := false
	_, err = w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		called = true
		return nil, nil
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidationFailed))
	assert.False(t, called)
	assert.Equal(t, StatusInProgress, w.Status())
}

func TestSubmitKeepsEarlierStepsAfterRejectedEdit(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	err := w.SetPayload("A", "")
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeStepNotActive))
	assert.Equal(t, map[string]any{"A": "x", "B": "5"}, w.Composite())

	var got map[string]any
	_, err = w.Submit(context.Background(), SubmitFunc(func(_ context.Context, composite map[string]any) (any, error) {
		got = composite
		return nil, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "x", got["A"])
	assert.Equal(t, "5", got["B"])
}

func TestSubmitRejectsCompositeGap(t *testing.T) {
	w, err := Restore(abcRegistry(t), Snapshot{
		StepOrder:    []string{"A", "B", "C"},
		CurrentIndex: 2,
		Payloads:     map[string]any{"A": "", "B": "5"},
		Composite:    map[string]any{"B": "5"},
	}, WithLogger(quietLogger()))
	require.NoError(t, err)

	var calls int32
	_, err = w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeValidationFailed))
	reason, ok := ValidationReason(err)
	require.True(t, ok)
	assert.Equal(t, ReasonIncomplete, reason)

	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "A", ge.Metadata["missing_step_id"])

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Equal(t, StatusInProgress, w.Status())
	assert.Equal(t, 2, w.CurrentIndex())
	_, present := w.Composite()["C"]
	assert.False(t, present, "terminal step is not committed when an earlier step is missing")
}

func TestBlankedEarlierStepBlocksReturnToTerminal(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	require.NoError(t, w.JumpTo("A"))
	require.NoError(t, w.SetPayload("A", ""))

	assert.True(t, HasCode(w.GoNext(), ErrCodeValidationFailed))
	assert.True(t, HasCode(w.JumpTo("C"), ErrCodeNonSequentialJump))
	assert.Equal(t, 0, w.CurrentIndex())

	var calls int32
	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}))
	assert.True(t, HasCode(err, ErrCodeNotAtTerminal))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSubmitWithoutSubmitter(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	_, err := w.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionFailed))
	assert.Equal(t, StatusInProgress, w.Status())
}

func TestConcurrentSubmitCallsSubmitterOnce(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	submitter := SubmitFunc(func(context.Context, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		close(entered)
		<-release
		return "ok", nil
	})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = w.Submit(context.Background(), submitter)
	}()
	<-entered

	assert.Equal(t, StatusSubmitting, w.Status())

	_, err := w.Submit(context.Background(), submitter)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionInProgress))

	for _, op := range []func() error{
		func() error { return w.SetPayload("A", "y") },
		w.GoBack,
		w.GoNext,
		w.Reset,
		func() error { return w.JumpTo("A") },
	} {
		err := op()
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeWizardLocked))
	}

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, StatusSubmitted, w.Status())
}

func TestSubmittedWizardIsLocked(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)
	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	_, err = w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		t.Fatal("submitter called twice")
		return nil, nil
	}))
	assert.True(t, HasCode(err, ErrCodeWizardLocked))
	assert.True(t, HasCode(w.SetPayload("A", "z"), ErrCodeWizardLocked))
	assert.True(t, HasCode(w.Reset(), ErrCodeWizardLocked))
}

func TestSubmitFailureAllowsRetry(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)
	before := w.Snapshot()

	upstream := errors.New("upstream unavailable")
	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, upstream
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionFailed))
	assert.ErrorIs(t, SubmissionCause(err), upstream)
	assert.Equal(t, StatusFailed, w.Status())

	after := w.Snapshot()
	assert.Equal(t, before.Payloads, after.Payloads)
	assert.Equal(t, before.Composite, after.Composite)
	assert.Equal(t, before.CurrentIndex, after.CurrentIndex)

	res, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return "second", nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Value)
	assert.Equal(t, StatusSubmitted, w.Status())
}

func TestSubmitOutcomeReportsSettledStatus(t *testing.T) {
	buf := &bytes.Buffer{}
	w := newABC(t, WithLogger(NewFmtLogger(buf)))
	completeABC(t, w)

	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}))
	require.Error(t, err)

	var ge *apperrors.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, string(StatusFailed), ge.Metadata["status"])
	assert.Equal(t, string(OpSubmitFailed), ge.Metadata["operation"])
	assert.NotEmpty(t, ge.Metadata["attempt_id"])

	var failedLine string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "submission failed") {
			failedLine = line
		}
	}
	require.NotEmpty(t, failedLine)
	assert.Contains(t, failedLine, "status=failed")
	assert.NotContains(t, failedLine, "status=submitting")

	ctx, cancel := context.WithCancel(context.Background())
	_, err = w.Submit(ctx, SubmitFunc(func(ctx context.Context, _ map[string]any) (any, error) {
		cancel()
		return nil, ctx.Err()
	}))
	require.Error(t, err)
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, string(StatusInProgress), ge.Metadata["status"])
}

func TestFailedStatusClearsOnNextChange(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)
	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	}))
	require.Error(t, err)
	require.Equal(t, StatusFailed, w.Status())

	require.NoError(t, w.GoBack())
	assert.Equal(t, StatusInProgress, w.Status())
}

func TestSubmitCancellation(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := w.Submit(ctx, SubmitFunc(func(ctx context.Context, _ map[string]any) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionCancelled))
	assert.ErrorIs(t, SubmissionCause(err), context.Canceled)
	assert.Equal(t, StatusInProgress, w.Status())
	assert.Equal(t, 2, w.CurrentIndex())
}

func TestSubmitTimeoutIsFailure(t *testing.T) {
	w := newABC(t, WithSubmitTimeout(10*time.Millisecond))
	completeABC(t, w)

	_, err := w.Submit(context.Background(), SubmitFunc(func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionFailed))
	assert.ErrorIs(t, SubmissionCause(err), context.DeadlineExceeded)
	assert.Equal(t, StatusFailed, w.Status())
}

func TestSubmitRecoversPanickingSubmitter(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	}))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubmissionFailed))
	assert.Contains(t, SubmissionCause(err).Error(), "kaboom")
	assert.Equal(t, StatusFailed, w.Status())
}

func TestSubmitCompositeIsolatedFromSubmitter(t *testing.T) {
	w := newABC(t)
	completeABC(t, w)

	res, err := w.Submit(context.Background(), SubmitFunc(func(_ context.Context, composite map[string]any) (any, error) {
		composite["A"] = "tampered"
		return nil, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "x", res.Composite["A"])
	assert.Equal(t, "x", w.Composite()["A"])
}

func TestSubmitRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	w := newABC(t, WithTracer(provider.Tracer("wizard-test")), WithID("w-span"))
	completeABC(t, w)

	_, err := w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("nope")
	}))
	require.Error(t, err)
	_, err = w.Submit(context.Background(), SubmitFunc(func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "wizard.submit", span.Name())
		attrs := map[string]string{}
		for _, kv := range span.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "w-span", attrs["wizard.id"])
		assert.Equal(t, "3", attrs["wizard.steps"])
		assert.NotEmpty(t, attrs["wizard.attempt_id"])
	}
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}
