package panel

import (
	"errors"
	"fmt"

	"resellbot/internal/pkg/utils"
)

// Error kinds. Match them with errors.Is.
var (
	ErrAuthentication   = errors.New("panel authentication failed")
	ErrEndpointNotFound = errors.New("panel endpoint not supported")
	ErrValidation       = errors.New("panel rejected request")
	ErrNetwork          = errors.New("panel unreachable")
	ErrProvisioning     = errors.New("panel operation failed")
	ErrNotFound         = errors.New("panel account not found")
)

const detailLimit = 300

// Error is a tagged adapter failure. Status and Detail carry the raw HTTP code
// and an upstream body excerpt for operator diagnostics.
type Error struct {
	Kind   error
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Status > 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, status int, detail string) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Detail: utils.Excerpt(detail, detailLimit)}
}

// Kind returns the sentinel carried by err, or nil for foreign errors.
func Kind(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}

// Describe renders err for the operator: kind, HTTP code and upstream excerpt.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return err.Error()
	}
	switch pe.Kind {
	case ErrAuthentication:
		return "server unreachable (login failed): " + pe.Error()
	case ErrEndpointNotFound:
		return "feature unsupported on this panel version: " + pe.Error()
	case ErrNetwork:
		return "transient network failure: " + pe.Error()
	}
	return pe.Error()
}
