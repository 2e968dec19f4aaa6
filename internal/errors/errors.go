package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies proxy failures independently of how they are rendered.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthMissing
	KindAuthInvalid
	KindUpstreamUnreachable
	KindPayloadMalformed
	KindRouteUnmatched
)

func (k Kind) String() string {
	switch k {
	case KindAuthMissing:
		return "auth_missing"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindPayloadMalformed:
		return "payload_malformed"
	case KindRouteUnmatched:
		return "route_unmatched"
	default:
		return "internal"
	}
}

// ProxyError is an error that can be rendered to clients as JSON.
// Message is always safe to show; Details only under the verbose policy.
type ProxyError struct {
	Kind       Kind   `json:"-"`
	Code       int    `json:"-"`
	Message    string `json:"error"`
	Details    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *ProxyError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ProxyError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// Base errors use pre-serialized bytes.
func (e *ProxyError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if pre, ok := preSerialized[e]; ok {
		w.WriteHeader(e.Code)
		w.Write(pre)
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(e.Code)
	w.Write(body)
}

// Common errors
var (
	ErrAuthMissing = &ProxyError{
		Kind:    KindAuthMissing,
		Code:    http.StatusUnauthorized,
		Message: "API Key required",
	}

	ErrAuthInvalid = &ProxyError{
		Kind:    KindAuthInvalid,
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrUpstreamUnreachable = &ProxyError{
		Kind:    KindUpstreamUnreachable,
		Code:    http.StatusServiceUnavailable,
		Message: "Service temporarily unavailable",
	}

	ErrPayloadMalformed = &ProxyError{
		Kind:    KindPayloadMalformed,
		Code:    http.StatusBadGateway,
		Message: "Malformed upstream payload",
	}

	ErrNotFound = &ProxyError{
		Kind:    KindRouteUnmatched,
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrInternalServer = &ProxyError{
		Kind:    KindInternal,
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

var preSerialized map[*ProxyError][]byte

func init() {
	bases := []*ProxyError{
		ErrAuthMissing, ErrAuthInvalid, ErrUpstreamUnreachable,
		ErrPayloadMalformed, ErrNotFound, ErrInternalServer,
	}
	preSerialized = make(map[*ProxyError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		preSerialized[e] = b
	}
}

// Wrap attaches an underlying cause to a copy of e.
func (e *ProxyError) Wrap(err error) *ProxyError {
	cp := *e
	cp.underlying = err
	return &cp
}

// WithDetails adds details to the error
func (e *ProxyError) WithDetails(details string) *ProxyError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithTimestamp adds a timestamp to the error
func (e *ProxyError) WithTimestamp(ts string) *ProxyError {
	cp := *e
	cp.Timestamp = ts
	return &cp
}

// WithRequestID adds a request ID to the error
func (e *ProxyError) WithRequestID(requestID string) *ProxyError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// KindOf returns the Kind of the ProxyError wrapped by err, or KindInternal
// for foreign errors.
func KindOf(err error) Kind {
	var pe *ProxyError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
