package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

var (
	ErrCardNotFound        = errors.New("card not found")
	ErrCardDisabled        = errors.New("card has been disabled")
	ErrCardExpired         = errors.New("card has expired")
	ErrCardUsedUp          = errors.New("card usage count exhausted")
	ErrDeviceLimitExceeded = errors.New("device binding limit reached")
	ErrBindingNotFound     = errors.New("device is not bound to this card")
	ErrInvalidCredential   = errors.New("api key is invalid or disabled")
	ErrAPIDisabled         = errors.New("api interface is disabled")
	ErrConfiguration       = errors.New("card configuration error")
	ErrIllegalTransition   = errors.New("illegal card status transition")
	ErrSystem              = errors.New("system error")
	ErrMissingParameters   = errors.New("missing required parameters")
	ErrMalformedRequest    = errors.New("invalid request body")
)

// SystemError wraps a storage or transaction failure.  It is the only error
// kind a caller may retry.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *SystemError) Unwrap() error { return e.Err }

func (e *SystemError) Is(target error) bool { return target == ErrSystem }

func systemErr(op string, err error) error {
	return &SystemError{Op: op, Err: err}
}

// MissingParams reports the request fields that were empty.
func MissingParams(names ...string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameters, strings.Join(names, ", "))
}

// CodeOf maps an error from this package to its envelope code.
func CodeOf(err error) types.Code {
	switch {
	case err == nil:
		return types.CodeSuccess
	case errors.Is(err, ErrCardDisabled):
		return types.CodeCardDisabled
	case errors.Is(err, ErrInvalidCredential):
		return types.CodeInvalidCredential
	case errors.Is(err, ErrAPIDisabled):
		return types.CodeAPIDisabled
	case errors.Is(err, ErrCardNotFound),
		errors.Is(err, ErrCardExpired),
		errors.Is(err, ErrCardUsedUp),
		errors.Is(err, ErrDeviceLimitExceeded),
		errors.Is(err, ErrBindingNotFound),
		errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrInvalidIssue),
		errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrMissingParameters):
		return types.CodeCardError
	default:
		return types.CodeSystemError
	}
}

// ClientMessage is the message placed in the response envelope.  System and
// configuration failures are not described to clients beyond their kind.
func ClientMessage(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConfiguration):
		return ErrConfiguration.Error()
	case CodeOf(err) == types.CodeSystemError:
		return "internal system error"
	default:
		return err.Error()
	}
}
