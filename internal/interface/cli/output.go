package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Reconciliation found issues
	ExitCommandError = 2 // Bad flags, config or storage errors
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// printer writes either JSON or coloured text.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) json() bool {
	return p.format == "json"
}

func (p printer) encode(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) ok(format string, args ...any) {
	okColor.Fprintf(p.w, format+"\n", args...)
}

func (p printer) warn(format string, args ...any) {
	warnColor.Fprintf(p.w, format+"\n", args...)
}

func (p printer) fail(format string, args ...any) {
	failColor.Fprintf(p.w, format+"\n", args...)
}

func (p printer) plain(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p printer) dim(format string, args ...any) {
	dimColor.Fprintf(p.w, format+"\n", args...)
}
