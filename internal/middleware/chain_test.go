package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func tag(name string, order *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name)
			next.ServeHTTP(w, r)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	h := Chain{tag("a", &order), tag("b", &order)}.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []string{"a", "b", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestBuilderBuildIsSnapshot(t *testing.T) {
	var order []string
	b := NewBuilder().Use(tag("first", &order))
	built := b.Build()
	b.Use(tag("late", &order))

	if len(built) != 1 {
		t.Fatalf("built chain has %d entries, want 1", len(built))
	}
	b.Build().Then(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if len(order) != 2 || order[0] != "first" || order[1] != "late" {
		t.Errorf("order = %v", order)
	}
}
