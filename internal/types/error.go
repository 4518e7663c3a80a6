package types

import "fmt"

// ErrorCode names a kind from the router's error taxonomy.
type ErrorCode string

const (
	ErrValidation      ErrorCode = "validation"
	ErrPreGuardBlock   ErrorCode = "pre_guard_block"
	ErrBudgetExhausted ErrorCode = "budget_exhausted"
	ErrCircuitOpenAll  ErrorCode = "circuit_open_all"
	ErrProviderTransient ErrorCode = "provider_transient"
	ErrProviderPermanent ErrorCode = "provider_permanent"
	ErrPostGuardBlock  ErrorCode = "post_guard_block"
	ErrCancelled       ErrorCode = "cancelled"
	ErrInternal        ErrorCode = "internal"
)

// ErrorKind is the Provider Adapter's narrower failure taxonomy (§4.4).
type ErrorKind string

const (
	KindUnavailable    ErrorKind = "unavailable"
	KindTimeout        ErrorKind = "timeout"
	KindRateLimited    ErrorKind = "rate_limited"
	KindAuth           ErrorKind = "auth"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindFilteredByBackend ErrorKind = "filtered_by_backend"
	KindUnknown        ErrorKind = "unknown"
)

// Error is the structured error carried through the router core.
type Error struct {
	Code       ErrorCode `json:"code"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfterMs int64   `json:"retry_after_ms,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a new *Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error { e.Cause = cause; return e }
func (e *Error) WithRetryable(r bool) *Error  { e.Retryable = r; return e }
func (e *Error) WithProvider(p string) *Error { e.Provider = p; return e }
func (e *Error) WithKind(k ErrorKind) *Error  { e.Kind = k; return e }

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
