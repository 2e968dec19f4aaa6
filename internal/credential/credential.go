// Package credential selects the API credential carried by an inbound request.
package credential

import (
	"net/http"
	"unicode/utf8"
)

// Source identifies where a credential was found.
type Source string

const (
	SourceHeader      Source = "header"
	SourceQueryAPIKey Source = "query-api_key"
	SourceQueryKey    Source = "query-key"
	SourceNone        Source = "none"
)

const (
	// HeaderName is the request header checked first.
	HeaderName = "X-API-Key"

	// AdminLength is the exact character count an admin credential must have.
	AdminLength = 32
)

// Credential is the single value chosen for a request. Value is returned
// exactly as supplied; no trimming or format checks are applied.
type Credential struct {
	Value  string
	Source Source
}

// Present reports whether a non-empty credential was found.
func (c Credential) Present() bool {
	return c.Value != ""
}

// ValidAdmin reports whether the credential may access the admin snapshot.
func (c Credential) ValidAdmin() bool {
	return utf8.RuneCountInString(c.Value) == AdminLength
}

// Extract returns the first non-empty of the X-API-Key header, the api_key
// query parameter and the key query parameter.
func Extract(r *http.Request) Credential {
	if v := r.Header.Get(HeaderName); v != "" {
		return Credential{Value: v, Source: SourceHeader}
	}
	q := r.URL.Query()
	if v := q.Get("api_key"); v != "" {
		return Credential{Value: v, Source: SourceQueryAPIKey}
	}
	if v := q.Get("key"); v != "" {
		return Credential{Value: v, Source: SourceQueryKey}
	}
	return Credential{Source: SourceNone}
}
