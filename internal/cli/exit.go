package cli

import (
	"errors"
	"fmt"
)

// Runner-owned exit codes. A failing task does not use these: its own exit
// code passes through unchanged, since all error surfaces of the wrapped
// toolchain are delegated.
const (
	ExitSuccess           = 0
	ExitInvalidInvocation = 2
	ExitManifestError     = 3
	ExitInternalError     = 4
)

// InvocationError is a user-facing CLI error with a semantic exit code.
type InvocationError struct {
	Code    int
	Message string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidf(format string, args ...any) error {
	return &InvocationError{Code: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func manifestErrf(format string, args ...any) error {
	return &InvocationError{Code: ExitManifestError, Message: fmt.Sprintf(format, args...)}
}

// ExitCode extracts the semantic exit code from an error. Unknown errors are
// internal errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.Code != 0 {
			return invErr.Code
		}
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
