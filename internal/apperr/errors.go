// Package apperr holds the error taxonomy shared by the realtime engine and
// the HTTP/websocket surfaces that report errors back to users.
package apperr

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, apperr.ErrStorage).
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrAuthentication   = &AppError{Code: CodeAuthentication, Message: "authentication failed"}
	ErrUnreachablePeer  = &AppError{Code: CodeUnreachablePeer, Message: "recipient offline"}
	ErrInvalidCallState = &AppError{Code: CodeInvalidCallState, Message: "call no longer available"}
	ErrDuplicateCall    = &AppError{Code: CodeDuplicateCall, Message: "call already in progress"}
	ErrStorage          = &AppError{Code: CodeStorage, Message: "storage unavailable"}
	ErrNotFound         = &AppError{Code: CodeNotFound, Message: "not found"}
)

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

func Unauthenticated(msg string, cause error) error {
	return Wrap(CodeAuthentication, msg, cause)
}

func Storage(op string, cause error) error {
	return Wrap(CodeStorage, "storage: "+op, cause)
}

func DuplicateCall(pairKey string) error {
	return New(CodeDuplicateCall, "call already in progress for "+pairKey)
}

// CodeOf extracts the code of the outermost AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var cs *InvalidCallStateError
	if errors.As(err, &cs) {
		return CodeInvalidCallState
	}
	return CodeUnknown
}

// Message returns the user-facing text for err. Unknown errors are not
// echoed to clients.
func Message(err error) string {
	var cs *InvalidCallStateError
	if errors.As(err, &cs) {
		return cs.Error()
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// InvalidCallStateError is returned when a call operation is attempted on an
// unknown session, by a non-participant, or in a state that does not allow it.
type InvalidCallStateError struct {
	SessionID string
	Attempted string
	Current   string
}

func (e *InvalidCallStateError) Error() string {
	return fmt.Sprintf("call %s: cannot %s while %s", e.SessionID, e.Attempted, e.Current)
}

func (e *InvalidCallStateError) Unwrap() error { return ErrInvalidCallState }
