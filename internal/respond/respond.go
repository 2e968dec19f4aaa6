// Package respond writes every client-visible response body and header set
// that does not come from an upstream: CORS decoration, not-found and
// auth-failure bodies under the configured disclosure policy, the root
// page, health payloads and upstream failures.
package respond

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/credential"
	"github.com/wudi/mediaproxy/internal/errors"
	"github.com/wudi/mediaproxy/internal/router"
	"github.com/wudi/mediaproxy/internal/tmplutil"
)

//go:embed pages/notfound.html
var notFoundPage []byte

//go:embed pages/root.html
var rootTemplate string

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)

// Endpoint is a public route as listed on the root page.
type Endpoint struct {
	Path        string
	Description string
}

// Assembler renders responses for one configuration snapshot. It is
// immutable and safe for concurrent use.
type Assembler struct {
	corsOrigin  string
	corsMethods string
	corsHeaders string
	corsPolicy  string

	verbose           bool
	adminUnauthorized bool

	rootPage     []byte
	notFoundJSON []byte
}

// New builds an Assembler from cfg and the routing table.
func New(cfg *config.Config, rules []router.Rule) (*Assembler, error) {
	a := &Assembler{
		corsOrigin:        cfg.CORS.AllowOrigin,
		corsMethods:       strings.Join(cfg.CORS.AllowMethods, ", "),
		corsHeaders:       strings.Join(cfg.CORS.AllowHeaders, ", "),
		corsPolicy:        cfg.CORS.ResourcePolicy,
		verbose:           cfg.Policy.Verbose(),
		adminUnauthorized: cfg.Policy.AdminUnauthorized(),
	}

	var (
		endpoints []string
		listed    []Endpoint
	)
	for _, rule := range rules {
		if rule.Kind == router.Root || rule.Display == "" {
			continue
		}
		endpoints = append(endpoints, rule.Display)
		listed = append(listed, Endpoint{Path: rule.Display, Description: describe(rule.Kind)})
	}

	body, err := json.Marshal(struct {
		*errors.ProxyError
		Endpoints []string `json:"available_endpoints"`
	}{errors.ErrNotFound.WithDetails("The requested endpoint was not found"), endpoints})
	if err != nil {
		return nil, err
	}
	a.notFoundJSON = body

	tmpl, err := tmplutil.Parse("root", rootTemplate)
	if err != nil {
		return nil, fmt.Errorf("root page template: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]interface{}{
		"Title":     "TMDB Proxy Service",
		"Platform":  cfg.Server.Platform,
		"Version":   cfg.Server.Version,
		"Endpoints": listed,
		"KeyHeader": credential.HeaderName,
	})
	if err != nil {
		return nil, fmt.Errorf("root page template: %w", err)
	}
	a.rootPage = buf.Bytes()

	return a, nil
}

func describe(k router.Kind) string {
	switch k {
	case router.Health:
		return "Health check"
	case router.AdminStatus:
		return "Admin status (requires API key)"
	case router.ImageProxy:
		return "Image proxy"
	case router.APIProxy:
		return "API proxy (requires API key)"
	}
	return ""
}

// Verbose reports whether the verbose disclosure policy is active.
func (a *Assembler) Verbose() bool {
	return a.verbose
}

// Decorate sets the CORS headers every public response carries.
func (a *Assembler) Decorate(h http.Header) {
	h.Set("Access-Control-Allow-Origin", a.corsOrigin)
	if a.corsMethods != "" {
		h.Set("Access-Control-Allow-Methods", a.corsMethods)
	}
	if a.corsHeaders != "" {
		h.Set("Access-Control-Allow-Headers", a.corsHeaders)
	}
	if a.corsPolicy != "" {
		h.Set("Cross-Origin-Resource-Policy", a.corsPolicy)
	}
}

// Preflight answers an OPTIONS request: 200, CORS headers, empty body.
func (a *Assembler) Preflight(w http.ResponseWriter) {
	a.Decorate(w.Header())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

// NotFound writes the not-found response. Under the uniform policy this is
// a static page, so every rejected request looks the same.
func (a *Assembler) NotFound(w http.ResponseWriter) {
	a.Decorate(w.Header())
	if a.verbose {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusNotFound)
		w.Write(a.notFoundJSON)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusNotFound)
	w.Write(notFoundPage)
}

// AuthFailure writes a credential failure for the API routes: the error as
// 401 JSON under the verbose policy, the not-found response otherwise.
func (a *Assembler) AuthFailure(w http.ResponseWriter, pe *errors.ProxyError) {
	a.authFailure(w, pe, a.verbose)
}

// AdminAuthFailure is AuthFailure for the admin snapshot, honouring the
// admin-specific override.
func (a *Assembler) AdminAuthFailure(w http.ResponseWriter, pe *errors.ProxyError) {
	a.authFailure(w, pe, a.adminUnauthorized)
}

func (a *Assembler) authFailure(w http.ResponseWriter, pe *errors.ProxyError, explicit bool) {
	if !explicit {
		a.NotFound(w)
		return
	}
	a.Decorate(w.Header())
	pe.WriteJSON(w)
}

// UpstreamFailure writes the 503 for an unreachable upstream. The verbose
// policy adds the cause.
func (a *Assembler) UpstreamFailure(w http.ResponseWriter, err error) {
	pe := errors.ErrUpstreamUnreachable
	if a.verbose && err != nil {
		pe = pe.WithDetails(err.Error())
	}
	a.Decorate(w.Header())
	pe.WriteJSON(w)
}

// Root writes the informational page under the verbose policy and the
// not-found response otherwise.
func (a *Assembler) Root(w http.ResponseWriter) {
	if !a.verbose {
		a.NotFound(w)
		return
	}
	a.Decorate(w.Header())
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)
	w.Write(a.rootPage)
}

// JSON writes v as a JSON body with the given status.
func (a *Assembler) JSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		a.Decorate(w.Header())
		errors.ErrInternalServer.WriteJSON(w)
		return
	}
	a.Decorate(w.Header())
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	w.Write(body)
}
