package router

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// Kind is the handler a request is dispatched to.
type Kind int

const (
	NotFound Kind = iota
	Health
	Root
	AdminStatus
	ImageProxy
	APIProxy
)

func (k Kind) String() string {
	switch k {
	case Health:
		return "health"
	case Root:
		return "root"
	case AdminStatus:
		return "admin_status"
	case ImageProxy:
		return "image"
	case APIProxy:
		return "api"
	default:
		return "not_found"
	}
}

// Rule is one entry of the routing table. Exact rules match the whole path;
// prefix rules match any path starting with Path.
type Rule struct {
	Name    string
	Path    string
	Prefix  bool
	Kind    Kind
	Display string // public description shown in status payloads
}

// DefaultRules is the routing table in evaluation order.
var DefaultRules = []Rule{
	{Name: "health", Path: "/health", Kind: Health, Display: "/health"},
	{Name: "ping", Path: "/ping", Kind: Health, Display: "/ping"},
	{Name: "root", Path: "/", Kind: Root, Display: "/"},
	{Name: "admin", Path: "/admin/status", Kind: AdminStatus, Display: "/admin/status"},
	{Name: "images", Path: "/t/p/", Prefix: true, Kind: ImageProxy, Display: "/t/p/{size}/{path}"},
	{Name: "api", Path: "/3/", Prefix: true, Kind: APIProxy, Display: "/3/{endpoint}"},
}

// Decision is the outcome of routing a path. SubPath is the full path for
// image requests and the remainder after the prefix for API requests.
type Decision struct {
	Kind    Kind
	SubPath string
	Rule    *Rule
}

// Routing is method independent, so every rule lives under one tree key.
const anyMethod = "ANY"

const catchAll = "rest"

// Router compiles the rule table into an httprouter radix tree. It is
// immutable after New and safe for concurrent use.
type Router struct {
	tree  *httprouter.Router
	rules []Rule
	root  *Rule
}

// New compiles rules. When two rules compile to the same pattern the first
// one wins. Rules whose path does not start with "/" are ignored.
func New(rules []Rule) *Router {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	rt := &Router{
		tree:  tree,
		rules: append([]Rule(nil), rules...),
	}

	registered := make(map[string]bool)
	for i := range rt.rules {
		rule := &rt.rules[i]
		if !strings.HasPrefix(rule.Path, "/") {
			continue
		}
		pattern := rule.Path
		if rule.Prefix {
			pattern = strings.TrimSuffix(rule.Path, "/") + "/*" + catchAll
		}
		if registered[pattern] {
			continue
		}
		registered[pattern] = true
		if rule.Kind == Root && !rule.Prefix && rt.root == nil {
			rt.root = rule
		}
		tree.Handle(anyMethod, pattern, captureHandle(rule))
	}
	return rt
}

// Default returns a router over DefaultRules.
func Default() *Router {
	return New(DefaultRules)
}

// Rules returns the routing table in evaluation order.
func (rt *Router) Rules() []Rule {
	return append([]Rule(nil), rt.rules...)
}

// Endpoints returns the public rule descriptions keyed by rule name.
func (rt *Router) Endpoints() map[string]string {
	out := make(map[string]string, len(rt.rules))
	for _, rule := range rt.rules {
		if _, seen := out[rule.Name]; !seen {
			out[rule.Name] = rule.Display
		}
	}
	return out
}

// Route classifies a raw request path. It is total: anything without a rule
// is NotFound. The empty path is treated as the root.
func (rt *Router) Route(path string) Decision {
	if path == "" {
		if rt.root != nil {
			return Decision{Kind: rt.root.Kind, Rule: rt.root}
		}
		return Decision{Kind: NotFound}
	}
	if path[0] != '/' {
		return Decision{Kind: NotFound}
	}

	h, _, _ := rt.tree.Lookup(anyMethod, path)
	if h == nil {
		return Decision{Kind: NotFound}
	}
	var cw captureWriter
	h(&cw, nil, nil)
	rule := cw.rule
	if rule == nil {
		return Decision{Kind: NotFound}
	}

	d := Decision{Kind: rule.Kind, Rule: rule}
	switch rule.Kind {
	case APIProxy:
		d.SubPath = strings.TrimPrefix(path, rule.Path)
	case ImageProxy:
		d.SubPath = path
	}
	return d
}

// captureHandle returns a tree handle that reports its rule through a
// captureWriter instead of serving a response.
func captureHandle(rule *Rule) httprouter.Handle {
	return func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if cw, ok := w.(*captureWriter); ok {
			cw.rule = rule
		}
	}
}

// captureWriter is a no-op ResponseWriter used to extract the matched rule
// from the tree without writing any HTTP response.
type captureWriter struct {
	rule *Rule
}

func (c *captureWriter) Header() http.Header         { return http.Header{} }
func (c *captureWriter) Write(b []byte) (int, error) { return len(b), nil }
func (c *captureWriter) WriteHeader(int)             {}
