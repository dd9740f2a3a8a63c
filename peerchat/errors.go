package peerchat

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ErrValidationSymbol     = "ERR_VALIDATION"
	ErrNameNotFoundSymbol   = "ERR_NAME_NOT_FOUND"
	ErrResolutionSymbol     = "ERR_RESOLUTION"
	ErrUnreachableSymbol    = "ERR_UNREACHABLE"
	ErrCreateFailedSymbol   = "ERR_CREATE_FAILED"
	ErrCreateInFlightSymbol = "ERR_CREATE_IN_FLIGHT"
	ErrSendFailedSymbol     = "ERR_SEND_FAILED"
	ErrSendInFlightSymbol   = "ERR_SEND_IN_FLIGHT"
	ErrStreamSymbol         = "ERR_STREAM"
	ErrNotFoundSymbol       = "ERR_NOT_FOUND"
)

// Error is a classified failure. Wrapped errors keep matching their base
// sentinel through errors.Is.
type Error struct {
	Symbol  string
	Message string
	base    *Error
	cause   error
}

var (
	ErrValidation     = &Error{Symbol: ErrValidationSymbol, Message: "validation failed"}
	ErrNameNotFound   = &Error{Symbol: ErrNameNotFoundSymbol, Message: "name not found"}
	ErrResolution     = &Error{Symbol: ErrResolutionSymbol, Message: "name resolution failed"}
	ErrUnreachable    = &Error{Symbol: ErrUnreachableSymbol, Message: "address is not reachable"}
	ErrCreateFailed   = &Error{Symbol: ErrCreateFailedSymbol, Message: "conversation creation failed"}
	ErrCreateInFlight = &Error{Symbol: ErrCreateInFlightSymbol, Message: "conversation creation already in progress"}
	ErrSendFailed     = &Error{Symbol: ErrSendFailedSymbol, Message: "send failed"}
	ErrSendInFlight   = &Error{Symbol: ErrSendInFlightSymbol, Message: "a send is already in progress"}
	ErrStream         = &Error{Symbol: ErrStreamSymbol, Message: "live stream failed"}
	ErrNotFound       = &Error{Symbol: ErrNotFoundSymbol, Message: "not found"}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = e.Symbol
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Symbol, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Symbol, msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	if e == t {
		return true
	}
	return e.base != nil && e.base == t
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WrapError derives a detailed error from a sentinel.
func WrapError(base *Error, format string, args ...any) error {
	if base == nil {
		base = ErrValidation
	}
	return &Error{
		Symbol:  base.Symbol,
		Message: fmt.Sprintf(format, args...),
		base:    base,
	}
}

// WrapCause derives an error from a sentinel that also unwraps to cause.
func WrapCause(base *Error, cause error, format string, args ...any) error {
	if base == nil {
		base = ErrValidation
	}
	return &Error{
		Symbol:  base.Symbol,
		Message: fmt.Sprintf(format, args...),
		base:    base,
		cause:   cause,
	}
}

func SymbolOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Symbol
	}
	return ""
}
