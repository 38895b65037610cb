package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine failures for logging and exit-code mapping.
type ErrorCode string

const (
	// CodeCycleRunning indicates a second full-sync was requested while one
	// was already in progress.
	CodeCycleRunning ErrorCode = "CYCLE_ALREADY_RUNNING"

	// CodeSyncAborted indicates a pre-condition failure (auth, unreachable
	// host) that aborted the whole cycle before any item was processed.
	CodeSyncAborted ErrorCode = "SYNC_ABORTED"

	// CodeInvalidSignature indicates a webhook HMAC mismatch.
	CodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"

	// CodeUntrustedSource indicates a webhook from an unexpected shop domain.
	CodeUntrustedSource ErrorCode = "UNTRUSTED_SOURCE"
)

// EngineError is a typed engine failure carrying a code for callers that
// need to branch on the category rather than the message.
type EngineError struct {
	Code    ErrorCode
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrCycleRunning is returned by the cycle guard on contention.
var ErrCycleRunning = &EngineError{
	Code:    CodeCycleRunning,
	Message: "a full-sync cycle is already in progress",
}

// NewSyncAborted wraps a fatal pre-condition error for the whole cycle.
func NewSyncAborted(cause error) *EngineError {
	return &EngineError{Code: CodeSyncAborted, Message: cause.Error()}
}

// IsCode reports whether err is an EngineError with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// APIError is a failure from one of the vendor APIs. Transient errors
// (timeouts, 5xx, rate limiting) are eligible for retry.
type APIError struct {
	System    string // "filemaker" or "shopify"
	Status    int    // HTTP status, 0 for network errors
	Code      string // vendor error code, if any
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.System, e.Status, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.System, e.Message)
}

// Transient reports whether the error is worth retrying.
func (e *APIError) Transient() bool { return e.Retryable }

// AuthError is an authentication failure against a vendor API. It is a
// cycle pre-condition failure, never retried by the per-item loop.
type AuthError struct {
	System  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.System, e.Message)
}

// NotFoundError reports a SKU missing from one of the systems.
type NotFoundError struct {
	System string
	SKU    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("SKU not found in %s: %s", e.System, e.SKU)
}

// transienter is implemented by errors that know their own retryability.
type transienter interface{ Transient() bool }

// IsTransient classifies an error for the retry loop. Context cancellation
// is never transient: the caller is going away.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t transienter
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// ErrorKind names an error's type for SyncResult bookkeeping.
func ErrorKind(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.System == "filemaker" {
			return "FileMakerAPIError"
		}
		return "ShopifyAPIError"
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return "SKUNotFoundError"
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return "AuthenticationError"
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return "Error"
}
