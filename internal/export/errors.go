package export

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Exporter.Export wraps exactly one.
var (
	ErrRecipeNotFound         = errors.New("recipe not found")
	ErrUnresolvedClosure      = errors.New("unresolved dependency closure")
	ErrDestinationCollision   = errors.New("destination collision")
	ErrMaterializationFailure = errors.New("materialization failure")
	ErrLockInconsistency      = errors.New("lock inconsistency")
	ErrInvalidRequest         = errors.New("invalid export request")
)

// Error is an export failure of a known kind.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, cause error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindName classifies err for audit records, metrics and exit codes.
// Errors of no known kind are "Internal".
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRecipeNotFound):
		return "RecipeNotFound"
	case errors.Is(err, ErrUnresolvedClosure):
		return "UnresolvedClosure"
	case errors.Is(err, ErrDestinationCollision):
		return "DestinationCollision"
	case errors.Is(err, ErrMaterializationFailure):
		return "MaterializationFailure"
	case errors.Is(err, ErrLockInconsistency):
		return "LockInconsistency"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return "Internal"
	}
}
