package wizard

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeDuplicateStepID      = "WIZARD_DUPLICATE_STEP_ID"
	ErrCodeInvalidStepID        = "WIZARD_INVALID_STEP_ID"
	ErrCodeEmptyRegistry        = "WIZARD_EMPTY_REGISTRY"
	ErrCodeRegistryFrozen       = "WIZARD_REGISTRY_FROZEN"
	ErrCodeStepNotFound         = "WIZARD_STEP_NOT_FOUND"
	ErrCodeStepNotActive        = "WIZARD_STEP_NOT_ACTIVE"
	ErrCodeWizardLocked         = "WIZARD_LOCKED"
	ErrCodeValidationFailed     = "WIZARD_VALIDATION_FAILED"
	ErrCodeAlreadyAtTerminal    = "WIZARD_ALREADY_AT_TERMINAL"
	ErrCodeAlreadyAtStart       = "WIZARD_ALREADY_AT_START"
	ErrCodeNonSequentialJump    = "WIZARD_NON_SEQUENTIAL_JUMP"
	ErrCodeNotAtTerminal        = "WIZARD_NOT_AT_TERMINAL"
	ErrCodeSubmissionInProgress = "WIZARD_SUBMISSION_IN_PROGRESS"
	ErrCodeSubmissionFailed     = "WIZARD_SUBMISSION_FAILED"
	ErrCodeSubmissionCancelled  = "WIZARD_SUBMISSION_CANCELLED"
	ErrCodeSnapshotMismatch     = "WIZARD_SNAPSHOT_MISMATCH"
)

// Configuration errors. They are raised while building a registry and are not
// recoverable for that registry instance.
var (
	ErrDuplicateStepID = apperrors.New("duplicate step id", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeDuplicateStepID)
	ErrInvalidStepID = apperrors.New("step id is required", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidStepID)
	ErrEmptyRegistry = apperrors.New("registry requires at least one step", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeEmptyRegistry)
	ErrRegistryFrozen = apperrors.New("registry is frozen", apperrors.CategoryConflict).
				WithTextCode(ErrCodeRegistryFrozen)
	ErrSnapshotMismatch = apperrors.New("snapshot does not match registry", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeSnapshotMismatch)
)

// Navigation errors. Expected, user facing and recoverable.
var (
	ErrStepNotFound = apperrors.New("step not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeStepNotFound)
	ErrStepNotActive = apperrors.New("step is not active", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeStepNotActive)
	ErrWizardLocked = apperrors.New("wizard is locked", apperrors.CategoryConflict).
			WithTextCode(ErrCodeWizardLocked)
	ErrValidationFailed = apperrors.New("step validation failed", apperrors.CategoryValidation).
				WithTextCode(ErrCodeValidationFailed)
	ErrAlreadyAtTerminal = apperrors.New("already at terminal step", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeAlreadyAtTerminal)
	ErrAlreadyAtStart = apperrors.New("already at first step", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeAlreadyAtStart)
	ErrNonSequentialJump = apperrors.New("non sequential jump", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeNonSequentialJump)
	ErrNotAtTerminal = apperrors.New("submit requires the terminal step", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeNotAtTerminal)
)

// Submission errors.
var (
	ErrSubmissionInProgress = apperrors.New("submission in progress", apperrors.CategoryConflict).
				WithTextCode(ErrCodeSubmissionInProgress)
	ErrSubmissionFailed = apperrors.New("submission failed", apperrors.CategoryExternal).
				WithTextCode(ErrCodeSubmissionFailed)
	ErrSubmissionCancelled = apperrors.New("submission cancelled", apperrors.CategoryExternal).
				WithTextCode(ErrCodeSubmissionCancelled)
)

func cloneError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrWizardLocked
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the wizard text code carried by err, or "" for foreign errors.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given wizard text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// ValidationReason extracts the validator reason code from a ValidationFailed
// or NonSequentialJump error.
func ValidationReason(err error) (string, bool) {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) || ge.Metadata == nil {
		return "", false
	}
	reason, ok := ge.Metadata["reason"].(string)
	return reason, ok && reason != ""
}

// SubmissionCause returns the error the external submit operation returned.
func SubmissionCause(err error) error {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) {
		return nil
	}
	switch ge.TextCode {
	case ErrCodeSubmissionFailed, ErrCodeSubmissionCancelled:
		return ge.Source
	}
	return nil
}
