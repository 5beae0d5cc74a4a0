package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Storage error codes
const (
	ErrStorageInit  ErrorCode = "STORAGE_INIT"  // unrecoverable, corpus unusable until fixed
	ErrStorageWrite ErrorCode = "STORAGE_WRITE" // transaction rolled back, batch retry is safe
	ErrEmbedding    ErrorCode = "EMBEDDING"     // propagates to caller, no partial ingest
)

// Reranker error codes
const (
	ErrRerankTimeout    ErrorCode = "RERANK_TIMEOUT"
	ErrWorkerCrashed    ErrorCode = "WORKER_CRASHED"
	ErrRespawnExhausted ErrorCode = "WORKER_RESPAWN_EXHAUSTED"
)

// Pipeline error codes
const (
	ErrGenerationAborted ErrorCode = "GENERATION_ABORTED" // user cancellation, not a failure
	ErrGeneration        ErrorCode = "GENERATION"         // provider or stream failure
	ErrGraphGenerate     ErrorCode = "GRAPH_GENERATE"
	ErrNoRelevantContent ErrorCode = "NO_RELEVANT_CONTENT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsAborted reports whether err is a user-initiated cancellation. Callers
// use this to avoid presenting an abort as a pipeline failure.
func IsAborted(err error) bool {
	return GetErrorCode(err) == ErrGenerationAborted
}
