package wizard

import "strings"

// ValidationResult is the outcome of a step validator. The zero value is invalid
// with no reason; use Valid or Invalid to build one.
type ValidationResult struct {
	ok     bool
	reason string
}

// Valid approves a payload.
func Valid() ValidationResult {
	return ValidationResult{ok: true}
}

// Invalid rejects a payload with a machine readable reason code.
func Invalid(reason string) ValidationResult {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonInvalid
	}
	return ValidationResult{reason: reason}
}

// ReasonInvalid is used when a validator rejects without naming a reason.
const ReasonInvalid = "invalid"

// ReasonIncomplete marks a step that never validated on the way to submit.
const ReasonIncomplete = "incomplete"

func (r ValidationResult) IsValid() bool { return r.ok }

// Reason is empty for valid results.
func (r ValidationResult) Reason() string {
	if r.ok {
		return ""
	}
	if r.reason == "" {
		return ReasonInvalid
	}
	return r.reason
}

// Validator approves or rejects a step payload. Validators must be pure.
type Validator func(payload any) ValidationResult

// StepDefinition declares one step of a wizard.
type StepDefinition struct {
	ID             string
	Title          string
	Validate       Validator
	InitialPayload any
	Metadata       map[string]any
}

func (s StepDefinition) validate(payload any) ValidationResult {
	if s.Validate == nil {
		return Valid()
	}
	return s.Validate(payload)
}

func cloneStep(s StepDefinition) StepDefinition {
	s.ID = strings.TrimSpace(s.ID)
	s.InitialPayload = clonePayload(s.InitialPayload)
	s.Metadata = copyMap(s.Metadata)
	return s
}
