package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a domain-prefixed error identifier returned to clients.
type Code string

const (
	CodeMissingCredential      Code = "auth.missing_credential"
	CodeInvalidCredential      Code = "auth.invalid_credential"
	CodeCredentialLookupFailed Code = "auth.credential_lookup_failed"
	CodeRateLimited            Code = "ratelimit.exceeded"
	CodeWriterClosed           Code = "writer.closed"
	CodeFlushFailed            Code = "writer.flush_failed"
	CodeInvalidPayload         Code = "request.invalid_payload"
	CodeTooLarge               Code = "request.too_large"
	CodeOriginNotAllowed       Code = "cors.origin_not_allowed"
	CodeConfigMissing          Code = "config.missing"
	CodeStoreUnavailable       Code = "store.unavailable"
	CodeInternal               Code = "internal.error"
)

// catalog binds each code to its HTTP status and the message shown to callers
// when the error is created without one.
var catalog = map[Code]struct {
	status  int
	message string
}{
	CodeMissingCredential:      {http.StatusUnauthorized, "credential required"},
	CodeInvalidCredential:      {http.StatusUnauthorized, "invalid credential"},
	CodeCredentialLookupFailed: {http.StatusServiceUnavailable, "credential store unavailable"},
	CodeRateLimited:            {http.StatusTooManyRequests, "rate limit exceeded"},
	CodeWriterClosed:           {http.StatusServiceUnavailable, "ingestion is shutting down"},
	CodeFlushFailed:            {http.StatusInternalServerError, "batch flush failed"},
	CodeInvalidPayload:         {http.StatusBadRequest, "invalid payload"},
	CodeTooLarge:               {http.StatusRequestEntityTooLarge, "payload too large"},
	CodeOriginNotAllowed:       {http.StatusForbidden, "origin not allowed"},
	CodeConfigMissing:          {http.StatusInternalServerError, "required configuration missing"},
	CodeStoreUnavailable:       {http.StatusServiceUnavailable, "dependency unavailable"},
	CodeInternal:               {http.StatusInternalServerError, "internal error"},
}

// Error is the typed error shared by every component. Message and Metadata
// are safe to show to callers; the wrapped cause is not.
type Error struct {
	Code     Code
	Message  string
	Status   int
	Metadata map[string]any

	cause error
}

// New creates an Error for code. An empty message falls back to the catalog text.
func New(code Code, message string) *Error {
	entry, ok := catalog[code]
	if !ok {
		entry = catalog[CodeInternal]
	}
	if message == "" {
		message = entry.message
	}
	return &Error{Code: code, Message: message, Status: entry.status}
}

// Wrap creates an Error for code that keeps cause for logging and errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns a copy of e with key set in its metadata.
func (e *Error) WithMetadata(key string, value any) *Error {
	cp := *e
	cp.Metadata = make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata[key] = value
	return &cp
}

// StatusOf returns the HTTP status for code.
func StatusOf(code Code) int {
	if entry, ok := catalog[code]; ok {
		return entry.status
	}
	return http.StatusInternalServerError
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Body is the JSON shape of every non-2xx response.
type Body struct {
	Error BodyError `json:"error"`
}

type BodyError struct {
	Code     Code           `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToBody renders e for clients.
func (e *Error) ToBody() Body {
	return Body{Error: BodyError{Code: e.Code, Message: e.Message, Metadata: e.Metadata}}
}
