// Package errors provides a structured error system for volgrid with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderr "errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for volgrid operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Connection Errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"

	// Storage Backend Errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeBucketNotFound ErrorCode = "BUCKET_NOT_FOUND"
	ErrCodeStorageRead    ErrorCode = "STORAGE_READ"
	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"

	// File and container errors
	ErrCodeFileNotFound     ErrorCode = "FILE_NOT_FOUND"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"
	ErrCodeContainerCorrupt ErrorCode = "CONTAINER_CORRUPT"
	ErrCodeContainerVersion ErrorCode = "CONTAINER_VERSION"
	ErrCodeGridNotFound     ErrorCode = "GRID_NOT_FOUND"

	// Grid errors
	ErrCodeTypeMismatch    ErrorCode = "TYPE_MISMATCH"
	ErrCodeUnsupportedType ErrorCode = "UNSUPPORTED_TYPE"
	ErrCodeInvalidState    ErrorCode = "INVALID_STATE"

	// Resource Management Errors
	ErrCodeOutOfMemory       ErrorCode = "OUT_OF_MEMORY"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// Operation Errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFile          ErrorCategory = "file"
	CategoryGrid          ErrorCategory = "grid"
	CategoryResource      ErrorCategory = "resource"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// GridError represents a structured error with context and metadata.
type GridError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *GridError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *GridError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *GridError) Is(target error) bool {
	if gridErr, ok := target.(*GridError); ok {
		return e.Code == gridErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *GridError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("GridError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new grid error with default values.
func NewError(code ErrorCode, message string) *GridError {
	return &GridError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new grid error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *GridError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeNetworkError:
		return CategoryConnection
	case ErrCodeObjectNotFound, ErrCodeBucketNotFound, ErrCodeStorageRead, ErrCodeAccessDenied:
		return CategoryStorage
	case ErrCodeFileNotFound, ErrCodePathInvalid, ErrCodeContainerCorrupt,
		ErrCodeContainerVersion, ErrCodeGridNotFound:
		return CategoryFile
	case ErrCodeTypeMismatch, ErrCodeUnsupportedType, ErrCodeInvalidState:
		return CategoryGrid
	case ErrCodeOutOfMemory, ErrCodeResourceExhausted:
		return CategoryResource
	case ErrCodeOperationTimeout, ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout, ErrCodeConnectionFailed, ErrCodeNetworkError,
		ErrCodeOperationTimeout, ErrCodeResourceExhausted:
		return true
	}
	return false
}

// IsIOError reports whether err describes a failure to read grid data from a
// file or object store, as opposed to a programming or internal error.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	var gridErr *GridError
	if stderr.As(err, &gridErr) {
		switch gridErr.Category {
		case CategoryFile, CategoryStorage, CategoryConnection:
			return true
		}
		return false
	}
	var pathErr *fs.PathError
	return stderr.As(err, &pathErr)
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var gridErr *GridError
	for err != nil {
		if stderr.As(err, &gridErr) {
			if gridErr.Code == code {
				return true
			}
			err = gridErr.Cause
			continue
		}
		return false
	}
	return false
}

// FromFileError converts an os-level error into a coded GridError.
func FromFileError(path string, err error) *GridError {
	code := ErrCodeStorageRead
	if stderr.Is(err, fs.ErrNotExist) {
		code = ErrCodeFileNotFound
	}
	return NewError(code, "cannot open "+path).WithCause(err).WithContext("path", path)
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *GridError) WithContext(key, value string) *GridError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *GridError) WithDetail(key string, value interface{}) *GridError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *GridError) WithComponent(component string) *GridError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *GridError) WithOperation(operation string) *GridError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *GridError) WithCause(cause error) *GridError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *GridError) WithStack() *GridError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *GridError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeFileNotFound: "The grid file does not exist. " +
			"Check the path; the cache keeps this result until the process restarts.",
		ErrCodeContainerCorrupt: "The grid file could not be decoded. " +
			"It may be truncated or written by an incompatible tool.",
		ErrCodeContainerVersion: "The grid file was written by a newer format version.",
		ErrCodeGridNotFound:     "The file does not contain a grid with that name.",
		ErrCodeObjectNotFound: "The requested object does not exist in the bucket. " +
			"Verify the object key and bucket name.",
		ErrCodeAccessDenied: "Credentials lack s3:GetObject permission for the bucket.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeOutOfMemory: "Insufficient memory available. " +
			"Reduce the tree cache size or lower the memory high watermark.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}
