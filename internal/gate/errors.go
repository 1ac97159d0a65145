package gate

import (
	"fmt"
)

// ErrorCode categorizes gate failures.
type ErrorCode string

const (
	// CodeWorkerNotRegistered indicates the caller has no worker record.
	CodeWorkerNotRegistered ErrorCode = "WORKER_NOT_REGISTERED"

	// CodeUnapprovedCodeIdentity indicates the caller's code identity is not
	// in the approved set.
	CodeUnapprovedCodeIdentity ErrorCode = "UNAPPROVED_CODE_IDENTITY"

	// CodeMeasurementMismatch indicates the event log does not replay to the
	// report's RTMR3, or the compose hash does not match the app compose.
	CodeMeasurementMismatch ErrorCode = "MEASUREMENT_MISMATCH"

	// CodeQuoteVerificationFailed indicates the verifier rejected the quote.
	CodeQuoteVerificationFailed ErrorCode = "QUOTE_VERIFICATION_FAILED"
)

// Error is a gate rejection. No state is mutated when one is returned.
type Error struct {
	Code    ErrorCode
	Message string

	// Caller is the identity that was rejected.
	Caller string

	// CodeIdentity is set when the rejection concerns a specific identity.
	CodeIdentity string

	Err error
}

// Sentinels for errors.Is.
var (
	ErrWorkerNotRegistered     = &Error{Code: CodeWorkerNotRegistered}
	ErrUnapprovedCodeIdentity  = &Error{Code: CodeUnapprovedCodeIdentity}
	ErrMeasurementMismatch     = &Error{Code: CodeMeasurementMismatch}
	ErrQuoteVerificationFailed = &Error{Code: CodeQuoteVerificationFailed}
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Caller != "" {
		msg += fmt.Sprintf(" (caller=%s)", e.Caller)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code ErrorCode, caller, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Caller: caller, Err: err}
}
