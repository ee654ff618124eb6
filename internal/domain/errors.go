package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthenticated is returned when an operation needs a bound owner.
var ErrUnauthenticated = errors.New("owner is not authenticated")

// ValidationError reports a record that failed validation rules. It is
// recorded and the record dropped; it never aborts a step.
type ValidationError struct {
	Kind     EntityKind
	RecordID string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %s: %s", e.Kind, e.RecordID, strings.Join(e.Problems, "; "))
}

// TransportError wraps a failed Remote Store call.
type TransportError struct {
	Kind  EntityKind
	Table string
	Op    string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s on %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a corrupt locally-stored payload.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("corrupt local payload at %q: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RollbackError reports that restoring a backup snapshot failed.
type RollbackError struct {
	SessionID string
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of session %s failed: %v", e.SessionID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// ErrorClass returns the taxonomy class name of err for reports and metrics.
func ErrorClass(err error) string {
	var (
		validationErr *ValidationError
		transportErr  *TransportError
		parseErr      *ParseError
		rollbackErr   *RollbackError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &rollbackErr):
		return "rollback"
	}
	return "internal"
}
