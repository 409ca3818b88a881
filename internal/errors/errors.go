// Package errors provides error classification and handling for ssh-fleet.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrorType represents the classification of errors
type ErrorType int

const (
	// SetupErrorType represents configuration, validation, or initialization errors
	SetupErrorType ErrorType = iota

	// ConnectionErrorType represents network or SSH connection errors
	ConnectionErrorType

	// AuthenticationErrorType represents SSH authentication failures
	AuthenticationErrorType

	// RemoteExitErrorType represents a remote command finishing with a non-zero status
	RemoteExitErrorType

	// VerificationErrorType represents a read-back that did not match after a provisioning step
	VerificationErrorType

	// SourceNotFoundErrorType represents a missing transfer source
	SourceNotFoundErrorType

	// ConflictErrorType represents an existing transfer destination that may not be touched
	ConflictErrorType

	// SizeMismatchErrorType represents a resume destination larger than its source
	SizeMismatchErrorType

	// IOErrorType represents local or remote I/O failures
	IOErrorType

	// PathEncodingErrorType represents paths that cannot be represented as UTF-8
	PathEncodingErrorType

	// UnsupportedOSErrorType represents a remote OS family outside the supported set
	UnsupportedOSErrorType

	// TimeoutErrorType represents timeout-related errors
	TimeoutErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case SetupErrorType:
		return "setup"
	case ConnectionErrorType:
		return "connection"
	case AuthenticationErrorType:
		return "authentication"
	case RemoteExitErrorType:
		return "remote-exit"
	case VerificationErrorType:
		return "verification"
	case SourceNotFoundErrorType:
		return "source-not-found"
	case ConflictErrorType:
		return "conflict"
	case SizeMismatchErrorType:
		return "size-mismatch"
	case IOErrorType:
		return "io"
	case PathEncodingErrorType:
		return "path-encoding"
	case UnsupportedOSErrorType:
		return "unsupported-os"
	case TimeoutErrorType:
		return "timeout"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with classification information
type ClassifiedError struct {
	Type      ErrorType
	Original  error
	Message   string
	Retryable bool
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	switch {
	case ce.Message != "" && ce.Original != nil:
		return ce.Message + ": " + ce.Original.Error()
	case ce.Message != "":
		return ce.Message
	case ce.Original != nil:
		return ce.Original.Error()
	default:
		return "unknown error"
	}
}

// Unwrap returns the original error for error unwrapping
func (ce *ClassifiedError) Unwrap() error {
	return ce.Original
}

// IsRetryable returns whether this error type should be retried
func (ce *ClassifiedError) IsRetryable() bool {
	return ce.Retryable
}

// Is is errors.Is from the standard library
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As from the standard library
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsType reports whether err carries a classification of the given type
// anywhere in its chain.
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var ce *ClassifiedError
		if !stderrors.As(err, &ce) {
			return false
		}
		if ce.Type == errorType {
			return true
		}
		err = ce.Original
	}
	return false
}

// ClassifyError analyzes an error and returns its classification. Errors
// already classified keep their type; everything else is classified by
// message keywords.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())
	for _, class := range keywordClasses {
		for _, keyword := range class.keywords {
			if strings.Contains(msg, keyword) {
				return &ClassifiedError{Type: class.typ, Original: err, Retryable: class.retryable}
			}
		}
	}
	return &ClassifiedError{Type: UnknownErrorType, Original: err}
}

// keywordClasses are tried in order; the first matching keyword wins.
var keywordClasses = []struct {
	typ       ErrorType
	retryable bool
	keywords  []string
}{
	{AuthenticationErrorType, false, []string{
		"unable to authenticate",
		"authentication failed",
		"no supported methods remain",
		"permission denied (publickey)",
		"knownhosts: key mismatch",
		"key is unknown",
	}},
	{TimeoutErrorType, true, []string{"timeout", "timed out", "deadline exceeded"}},
	{ConnectionErrorType, true, []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"network is unreachable",
		"no route to host",
		"broken pipe",
		"handshake failed",
		"unexpected eof",
	}},
	{SetupErrorType, false, []string{"configuration", "invalid", "parse error", "validation failed", "missing required", "malformed"}},
}

// NewSetupError creates a new setup error
func NewSetupError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: SetupErrorType, Original: original, Message: message}
}

// NewConnectionError creates a new connection error
func NewConnectionError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: ConnectionErrorType, Original: original, Message: message, Retryable: true}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: AuthenticationErrorType, Original: original, Message: message}
}

// NewRemoteExitError reports a remote command that exited with a non-zero status.
// output is included as-is; callers truncate it.
func NewRemoteExitError(command string, exitStatus int, output string) *ClassifiedError {
	msg := fmt.Sprintf("command '%s' failed (exit code: %d)", command, exitStatus)
	if output != "" {
		msg += " - " + output
	}
	return &ClassifiedError{Type: RemoteExitErrorType, Message: msg}
}

// NewVerificationError creates a new verification error
func NewVerificationError(message string) *ClassifiedError {
	return &ClassifiedError{Type: VerificationErrorType, Message: message}
}

// NewSourceNotFoundError creates a new missing-source error
func NewSourceNotFoundError(path string, original error) *ClassifiedError {
	return &ClassifiedError{Type: SourceNotFoundErrorType, Original: original, Message: fmt.Sprintf("source '%s' not found", path)}
}

// NewConflictError creates a new destination conflict error
func NewConflictError(message string) *ClassifiedError {
	return &ClassifiedError{Type: ConflictErrorType, Message: message}
}

// NewSizeMismatchError creates a new resume size mismatch error
func NewSizeMismatchError(path string, destSize, srcSize int64) *ClassifiedError {
	return &ClassifiedError{
		Type:    SizeMismatchErrorType,
		Message: fmt.Sprintf("destination '%s' is larger than source (%d > %d bytes)", path, destSize, srcSize),
	}
}

// NewIOError creates a new I/O error
func NewIOError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: IOErrorType, Original: original, Message: message, Retryable: true}
}

// NewPathEncodingError creates a new path encoding error
func NewPathEncodingError(path string) *ClassifiedError {
	return &ClassifiedError{Type: PathEncodingErrorType, Message: fmt.Sprintf("path %q is not valid UTF-8", path)}
}

// NewUnsupportedOSError creates a new unsupported OS error
func NewUnsupportedOSError(id, idLike string) *ClassifiedError {
	return &ClassifiedError{Type: UnsupportedOSErrorType, Message: fmt.Sprintf("unsupported OS type: ID=%s, ID_LIKE=%s", id, idLike)}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, original error) *ClassifiedError {
	return &ClassifiedError{Type: TimeoutErrorType, Original: original, Message: message, Retryable: true}
}

// ErrorCollector collects and categorizes errors from concurrent workers
type ErrorCollector struct {
	mu     sync.Mutex
	errors map[ErrorType][]error
	count  int
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make(map[ErrorType][]error),
	}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}

	classified := ClassifyError(err)
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors[classified.Type] = append(ec.errors[classified.Type], err)
	ec.count++
}

// Count returns the total number of errors
func (ec *ErrorCollector) Count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.count
}

// CountByType returns the number of errors of a specific type
func (ec *ErrorCollector) CountByType(errorType ErrorType) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.errors[errorType])
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	return ec.Count() > 0
}

// Summary returns a summary of all collected errors
func (ec *ErrorCollector) Summary() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.count == 0 {
		return "no errors"
	}

	types := make([]ErrorType, 0, len(ec.errors))
	for errorType := range ec.errors {
		types = append(types, errorType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	parts := make([]string, 0, len(types))
	for _, errorType := range types {
		parts = append(parts, fmt.Sprintf("%d %s", len(ec.errors[errorType]), errorType))
	}

	return fmt.Sprintf("total: %d errors (%s)", ec.count, strings.Join(parts, ", "))
}
