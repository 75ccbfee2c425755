package wizard

import (
	"net/http"
	"strings"
)

const (
	GRPCCodeAborted            = "Aborted"
	GRPCCodeCanceled           = "Canceled"
	GRPCCodeFailedPrecondition = "FailedPrecondition"
	GRPCCodeInternal           = "Internal"
	GRPCCodeInvalidArgument    = "InvalidArgument"
	GRPCCodeNotFound           = "NotFound"
	GRPCCodeUnavailable        = "Unavailable"
)

const rpcCodeInternal = "WIZARD_INTERNAL"

// TransportErrorMapping maps an engine error onto transport protocol codes.
type TransportErrorMapping struct {
	Code       string
	HTTPStatus int
	GRPCCode   string
	RPCCode    string
}

// RPCErrorEnvelope is the RPC transport error shape.
type RPCErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// MapError maps engine error codes to transport protocol categories.
func MapError(err error) TransportErrorMapping {
	code := strings.TrimSpace(ErrorCode(err))
	mapping := TransportErrorMapping{Code: code, RPCCode: code}

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidStepID:
		mapping.HTTPStatus = http.StatusUnprocessableEntity
		mapping.GRPCCode = GRPCCodeInvalidArgument
	case ErrCodeStepNotFound:
		mapping.HTTPStatus = http.StatusNotFound
		mapping.GRPCCode = GRPCCodeNotFound
	case ErrCodeAlreadyAtTerminal, ErrCodeAlreadyAtStart, ErrCodeNonSequentialJump, ErrCodeNotAtTerminal,
		ErrCodeStepNotActive:
		mapping.HTTPStatus = http.StatusConflict
		mapping.GRPCCode = GRPCCodeFailedPrecondition
	case ErrCodeWizardLocked, ErrCodeSubmissionInProgress:
		mapping.HTTPStatus = http.StatusLocked
		mapping.GRPCCode = GRPCCodeAborted
	case ErrCodeSubmissionFailed:
		mapping.HTTPStatus = http.StatusBadGateway
		mapping.GRPCCode = GRPCCodeUnavailable
	case ErrCodeSubmissionCancelled:
		mapping.HTTPStatus = http.StatusRequestTimeout
		mapping.GRPCCode = GRPCCodeCanceled
	case ErrCodeDuplicateStepID, ErrCodeEmptyRegistry, ErrCodeRegistryFrozen, ErrCodeSnapshotMismatch:
		mapping.HTTPStatus = http.StatusInternalServerError
		mapping.GRPCCode = GRPCCodeFailedPrecondition
	default:
		mapping.HTTPStatus = http.StatusInternalServerError
		mapping.GRPCCode = GRPCCodeInternal
		mapping.RPCCode = rpcCodeInternal
	}
	return mapping
}

// HTTPStatusForError returns the mapped HTTP status code.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

// GRPCCodeForError returns the mapped gRPC status code name.
func GRPCCodeForError(err error) string {
	return MapError(err).GRPCCode
}

// RPCErrorForError builds the RPC envelope for err.
func RPCErrorForError(err error) *RPCErrorEnvelope {
	if err == nil {
		return nil
	}
	mapping := MapError(err)
	reason, _ := ValidationReason(err)
	return &RPCErrorEnvelope{
		Code:    mapping.RPCCode,
		Message: err.Error(),
		Reason:  reason,
	}
}
