package errors

import (
	"errors"
	"fmt"
)

// IndexError is the structured error type for subindex.
// Every failure that leaves the manager is translated into an IndexError so
// callers can branch on Code and log Details (partition, operation).
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_207_LOCK_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates the caller may retry the operation.
	// The manager itself never retries.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() against the sentinel values below.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithPartition records the partition the failure relates to.
func (e *IndexError) WithPartition(partition string) *IndexError {
	return e.WithDetail("partition", partition)
}

// WithOperation records the manager operation that failed.
func (e *IndexError) WithOperation(op string) *IndexError {
	return e.WithDetail("operation", op)
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrLockTimeout      = &IndexError{Code: ErrCodeLockTimeout}
	ErrStoreIO          = &IndexError{Code: ErrCodeStoreIO}
	ErrInterruptedWait  = &IndexError{Code: ErrCodeInterruptedWait}
	ErrCommitFailed     = &IndexError{Code: ErrCodeCommitFailed}
	ErrManagerClosed    = &IndexError{Code: ErrCodeManagerClosed}
	ErrUnknownPartition = &IndexError{Code: ErrCodeUnknownPartition}
	ErrHandleReleased   = &IndexError{Code: ErrCodeHandleReleased}
	ErrIndexNotFound    = &IndexError{Code: ErrCodeIndexNotFound}
)

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreIOError creates an error for a failed directory or reader operation.
func StoreIOError(partition, message string, cause error) *IndexError {
	return New(ErrCodeStoreIO, message, cause).WithPartition(partition)
}

// LockTimeoutError creates an error for a write lock not obtained in time.
func LockTimeoutError(partition string, cause error) *IndexError {
	return New(ErrCodeLockTimeout, "failed to obtain write lock", cause).
		WithPartition(partition).
		WithSuggestion("another process may be rebuilding the index; retry later or run 'subindex unlock'")
}

// InterruptedWaitError creates an error for a wait cut short by shutdown.
func InterruptedWaitError(op string) *IndexError {
	return New(ErrCodeInterruptedWait, "interrupted while waiting", nil).WithOperation(op)
}

// CommitExecutionError wraps the first failing commit action.
// An IndexError cause is returned unchanged so its code survives.
func CommitExecutionError(cause error) error {
	var ie *IndexError
	if errors.As(cause, &ie) {
		return cause
	}
	return New(ErrCodeCommitFailed, "failed to execute commit", cause).WithOperation("execute_commit")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// ClosedError is returned by every manager operation after Close.
func ClosedError(op string) *IndexError {
	return New(ErrCodeManagerClosed, "index manager is closed", nil).WithOperation(op)
}

// UnknownPartitionError is returned for a partition outside the configured set.
func UnknownPartitionError(partition string) *IndexError {
	return New(ErrCodeUnknownPartition, fmt.Sprintf("unknown partition %q", partition), nil).
		WithPartition(partition)
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains an IndexError with Retryable set.
func IsRetryable(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError.
// Returns empty string if the chain has none.
func GetCode(err error) string {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError.
func GetCategory(err error) Category {
	var ie *IndexError
	if errors.As(err, &ie) {
		return ie.Category
	}
	return ""
}
