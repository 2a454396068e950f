package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Conformance failure (scenario failed, replay diverged, critical finding)
	ExitCommandError = 2 // Command error (bad flags, missing files, broken config)
)

// Stable error codes carried in JSON output so scripts can branch on them.
const (
	ErrCodeCompile        = "E_COMPILE"
	ErrCodeValidateFailed = "E_VALIDATE_FAILED"
	ErrCodeTestFailed     = "E_TEST_FAILED"
	ErrCodeVerifyFailed   = "E_VERIFY_FAILED"
	ErrCodeDeterminism    = "E_DETERMINISM"
	ErrCodeDiagnoseCrit   = "E_DIAGNOSE_CRITICAL"
	ErrCodeConfig         = "E_CONFIG"
	ErrCodeNotFound       = "E_NOT_FOUND"
	ErrCodeIO             = "E_IO"
	ErrCodeCapture        = "E_CAPTURE"
	ErrCodeLaunch         = "E_LAUNCH"
)

// ExitError carries an exit code through cobra's error return.
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

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. nil means success;
// errors without a code default to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the JSON envelope every command emits in --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of the envelope.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON emits a success envelope. Text-mode callers print their own output
// and should not call this.
func (f *OutputFormatter) JSON(data any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(CLIResponse{Status: "ok", Data: data})
}

// Error emits an error in the configured format and returns an ExitError
// carrying exitCode, so RunE callers can `return f.Error(...)` directly.
func (f *OutputFormatter) Error(exitCode int, code, message string, details any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	} else {
		fmt.Fprintf(f.Writer, "error [%s]: %s\n", code, message)
		if details != nil {
			fmt.Fprintf(f.Writer, "  %v\n", details)
		}
	}

	return NewExitError(exitCode, message)
}

// Textf prints formatted text output, suppressed in JSON mode.
func (f *OutputFormatter) Textf(format string, args ...any) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format, args...)
}

// IsJSON reports whether the formatter emits JSON envelopes.
func (f *OutputFormatter) IsJSON() bool {
	return f.Format == "json"
}
