package cli

import (
	"errors"
	"fmt"

	"pkgcache/internal/export"
)

const (
	ExitSuccess           = 0
	ExitExportFailure     = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitCollision         = 5
)

// InvocationError carries the exit code of a failure detected before any
// cache state was touched.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configErrorf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch export.KindName(err) {
	case "DestinationCollision":
		return ExitCollision
	case "InvalidRequest":
		return ExitInvalidInvocation
	case "Internal":
		return ExitInternalError
	default:
		return ExitExportFailure
	}
}
