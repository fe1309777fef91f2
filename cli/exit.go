package cli

import "fmt"

// Scripts distinguish bad input from operational failure by exit code.
const (
	exitValidation = 1
	exitRuntime    = 2
)

// ExitError carries the exit code a failed command wants the process to
// use. RunE implementations return it; main unwraps it before exiting.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}
