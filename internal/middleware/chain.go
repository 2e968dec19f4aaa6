package middleware

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first entry runs outermost.
type Chain []Middleware

// Then returns h wrapped by every middleware in c.
func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}

// Builder accumulates a Chain for one handler graph.
type Builder struct {
	chain Chain
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Use appends m; later middlewares run closer to the handler.
func (b *Builder) Use(m Middleware) *Builder {
	b.chain = append(b.chain, m)
	return b
}

// Build returns the accumulated chain. Further Use calls do not affect it.
func (b *Builder) Build() Chain {
	return append(Chain(nil), b.chain...)
}
