package engine

import (
	"errors"
	"fmt"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/gate"
)

// ErrorCode is a stable reason string carried by every engine rejection.
type ErrorCode string

const (
	// Protocol and ordering.
	CodeSessionAlreadyActive ErrorCode = "SESSION_ALREADY_ACTIVE"
	CodeUnsupportedChain     ErrorCode = "UNSUPPORTED_CHAIN"
	CodeWrongStepOrder       ErrorCode = "WRONG_STEP_ORDER"
	CodeFlowAlreadyFinished  ErrorCode = "FLOW_ALREADY_FINISHED"
	CodeSessionNonceMismatch ErrorCode = "SESSION_NONCE_MISMATCH"
	CodeNoActiveSession      ErrorCode = "NO_ACTIVE_SESSION"
	CodeStepNotInFlow        ErrorCode = "STEP_NOT_IN_FLOW"
	CodeChainMismatch        ErrorCode = "CHAIN_MISMATCH"
	CodeChainNotConfigured   ErrorCode = "CHAIN_NOT_CONFIGURED"

	// Idempotency.
	CodeSignatureAlreadyCached ErrorCode = "SIGNATURE_ALREADY_CACHED"

	// Encoding.
	CodeMalformedAddress             ErrorCode = "MALFORMED_ADDRESS"
	CodeMalformedSignatureComponents ErrorCode = "MALFORMED_SIGNATURE_COMPONENTS"
	CodeInvalidArgument              ErrorCode = "INVALID_ARGUMENT"

	// Completion.
	CodeUnknownRequest ErrorCode = "UNKNOWN_REQUEST"
	CodeSignerFailed   ErrorCode = "SIGNER_FAILED"
)

// Error is an engine rejection.
//
// Validation errors are returned synchronously before any signer call.
// Completion errors are delivered through the request's Pending result and
// never leave partial state behind.
type Error struct {
	Code    ErrorCode
	Message string

	// Nonce and Step identify the affected session step, when known.
	Nonce *uint64
	Step  *domain.Step

	// Details contains additional context.
	Details map[string]string

	Err error
}

// Sentinels for errors.Is; an *Error matches any sentinel with its code.
var (
	ErrSessionAlreadyActive         = &Error{Code: CodeSessionAlreadyActive}
	ErrUnsupportedChain             = &Error{Code: CodeUnsupportedChain}
	ErrWrongStepOrder               = &Error{Code: CodeWrongStepOrder}
	ErrFlowAlreadyFinished          = &Error{Code: CodeFlowAlreadyFinished}
	ErrSessionNonceMismatch         = &Error{Code: CodeSessionNonceMismatch}
	ErrNoActiveSession              = &Error{Code: CodeNoActiveSession}
	ErrStepNotInFlow                = &Error{Code: CodeStepNotInFlow}
	ErrChainMismatch                = &Error{Code: CodeChainMismatch}
	ErrChainNotConfigured           = &Error{Code: CodeChainNotConfigured}
	ErrSignatureAlreadyCached       = &Error{Code: CodeSignatureAlreadyCached}
	ErrMalformedAddress             = &Error{Code: CodeMalformedAddress}
	ErrMalformedSignatureComponents = &Error{Code: CodeMalformedSignatureComponents}
	ErrInvalidArgument              = &Error{Code: CodeInvalidArgument}
	ErrUnknownRequest               = &Error{Code: CodeUnknownRequest}
	ErrSignerFailed                 = &Error{Code: CodeSignerFailed}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Nonce != nil && e.Step != nil:
		msg += fmt.Sprintf(" (nonce=%d, step=%s)", *e.Nonce, *e.Step)
	case e.Nonce != nil:
		msg += fmt.Sprintf(" (nonce=%d)", *e.Nonce)
	case e.Step != nil:
		msg += fmt.Sprintf(" (step=%s)", *e.Step)
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

// CodeOf returns the stable reason code of err, covering both engine and
// gate rejections. Returns "" for other errors.
func CodeOf(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	var ge *gate.Error
	if errors.As(err, &ge) {
		return string(ge.Code)
	}
	return ""
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) at(nonce uint64, step domain.Step) *Error {
	e.Nonce = &nonce
	e.Step = &step
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) with(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
