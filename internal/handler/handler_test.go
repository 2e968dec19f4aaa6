package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/mediaproxy/internal/codec"
	"github.com/wudi/mediaproxy/internal/config"
	"github.com/wudi/mediaproxy/internal/realip"
	"github.com/wudi/mediaproxy/internal/respond"
	"github.com/wudi/mediaproxy/internal/router"
	"github.com/wudi/mediaproxy/internal/security"
	"github.com/wudi/mediaproxy/internal/upstream"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// upstreamStub is an httptest upstream that records what it was sent.
type upstreamStub struct {
	*httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	lastReq *http.Request
	body    string
}

func newStub(t *testing.T, fn http.HandlerFunc) *upstreamStub {
	t.Helper()
	s := &upstreamStub{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.lastReq = r.Clone(r.Context())
		s.body = string(b)
		s.mu.Unlock()
		if fn != nil {
			fn(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *upstreamStub) last() (*http.Request, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq, s.body
}

type fixture struct {
	handler *Handler
	api     *upstreamStub
	image   *upstreamStub
}

func newFixture(t *testing.T, mutate func(*config.Config), api, image http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{api: newStub(t, api), image: newStub(t, image)}

	cfg := config.DefaultConfig()
	cfg.Upstream.APIBase = f.api.URL
	cfg.Upstream.ImageBase = f.image.URL
	if mutate != nil {
		mutate(cfg)
	}

	rt := router.Default()
	assembler, err := respond.New(cfg, rt.Rules())
	if err != nil {
		t.Fatal(err)
	}
	extractor, err := realip.New(cfg.ClientIP.Headers, cfg.ClientIP.TrustedProxies)
	if err != nil {
		t.Fatal(err)
	}
	transport, err := upstream.NewTransport(upstream.DefaultTransportConfig)
	if err != nil {
		t.Fatal(err)
	}

	f.handler = New(Options{
		Config:    cfg,
		Router:    rt,
		Assembler: assembler,
		Security:  security.New(cfg.Security),
		ClientIP:  extractor,
		API:       upstream.NewClient("api", transport, cfg.Upstream, upstream.Options{}),
		Images:    upstream.NewClient("image", transport, cfg.Upstream, upstream.Options{}),
		Now:       func() time.Time { return fixedNow },
	})
	return f
}

func (f *fixture) do(method, target string, header http.Header, body string) *httptest.ResponseRecorder {
	return f.doFrom("", method, target, header, body)
}

// doFrom is do with an explicit peer address.
func (f *fixture) doFrom(remote, method, target string, header http.Header, body string) *httptest.ResponseRecorder {
	var rb io.Reader
	if body != "" {
		rb = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rb)
	if remote != "" {
		req.RemoteAddr = remote
	}
	req.Header.Set("User-Agent", browserUA)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func verbose(cfg *config.Config) { cfg.Policy.ErrorDisclosure = config.DisclosureVerbose }

func assertSameResponse(t *testing.T, a, b *httptest.ResponseRecorder) {
	t.Helper()
	if a.Code != b.Code {
		t.Errorf("status %d != %d", a.Code, b.Code)
	}
	if a.Body.String() != b.Body.String() {
		t.Error("bodies differ")
	}
	if a.Header().Get("Content-Type") != b.Header().Get("Content-Type") {
		t.Errorf("content types differ: %q vs %q", a.Header().Get("Content-Type"), b.Header().Get("Content-Type"))
	}
}

func TestPreflightBypassesSecurity(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	rec := f.do(http.MethodOptions, "/3/movie/550", http.Header{"User-Agent": {"evilbot/1.0"}}, "")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
	if f.api.hits.Load() != 0 {
		t.Error("preflight must not reach the upstream")
	}
}

func TestSecurityBlocksLookLikeNotFound(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		country string
		blocked bool
	}{
		{"generic bot", "SomeBot/2.0", "", true},
		{"lowercase googlebot allowed", "googlebot/2.1", "", false},
		{"capitalised Googlebot blocked", "Googlebot/2.1", "", true},
		{"curl", "curl/8.4.0", "", true},
		{"python", "python-requests/2.31", "", true},
		{"curl behind browser marker", "Mozilla/5.0 curl-compatible", "", false},
		{"blocked country", browserUA, "cn", true},
		{"allowed country", browserUA, "US", false},
		{"plain browser", browserUA, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *config.Config) {
				c.Security.BlockedCountries = []string{"CN"}
			}, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) }, nil)

			h := http.Header{"User-Agent": {tt.ua}, "X-Api-Key": {"k"}}
			if tt.country != "" {
				h.Set("CF-IPCountry", tt.country)
			}
			rec := f.do(http.MethodGet, "/3/movie/550", h, "")

			if tt.blocked {
				assertSameResponse(t, rec, f.do(http.MethodGet, "/no/such/path", nil, ""))
				if f.api.hits.Load() != 0 {
					t.Error("blocked request reached the upstream")
				}
				return
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestAPIWithoutCredential(t *testing.T) {
	t.Run("uniform", func(t *testing.T) {
		f := newFixture(t, nil, nil, nil)
		rec := f.do(http.MethodGet, "/3/movie/550", nil, "")

		assertSameResponse(t, rec, f.do(http.MethodGet, "/unknown", nil, ""))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
		if f.api.hits.Load() != 0 {
			t.Errorf("upstream hits = %d, want 0", f.api.hits.Load())
		}
	})

	t.Run("verbose", func(t *testing.T) {
		f := newFixture(t, verbose, nil, nil)
		rec := f.do(http.MethodGet, "/3/movie/550", nil, "")

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		want := `{"error":"API Key required","message":"` + apiKeyHint + `"}`
		if rec.Body.String() != want {
			t.Errorf("body = %s", rec.Body.String())
		}
		if f.api.hits.Load() != 0 {
			t.Errorf("upstream hits = %d, want 0", f.api.hits.Load())
		}
	})
}

func TestAPIForwardsCredential(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		header    http.Header
		wantQuery url.Values
	}{
		{
			name:      "header credential appended",
			target:    "/3/movie/550?language=en-US",
			header:    http.Header{"X-Api-Key": {"abc"}},
			wantQuery: url.Values{"language": {"en-US"}, "api_key": {"abc"}},
		},
		{
			name:      "query key credential appended",
			target:    "/3/search/movie?query=alien&key=xyz",
			wantQuery: url.Values{"query": {"alien"}, "key": {"xyz"}, "api_key": {"xyz"}},
		},
		{
			name:      "existing api_key kept",
			target:    "/3/movie/550?api_key=from-query",
			header:    http.Header{"X-Api-Key": {"from-header"}},
			wantQuery: url.Values{"api_key": {"from-query"}},
		},
		{
			name:      "no query",
			target:    "/3/movie/popular",
			header:    http.Header{"X-Api-Key": {"abc"}},
			wantQuery: url.Values{"api_key": {"abc"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"id":550}`))
			}, nil)
			rec := f.do(http.MethodGet, tt.target, tt.header, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			got, _ := f.api.last()
			if !strings.HasPrefix(got.URL.Path, "/3/") {
				t.Errorf("upstream path = %q", got.URL.Path)
			}
			q := got.URL.Query()
			for k, v := range tt.wantQuery {
				if strings.Join(q[k], ",") != strings.Join(v, ",") {
					t.Errorf("query %s = %v, want %v", k, q[k], v)
				}
			}
			if got.Header.Get("Accept") != "application/json" {
				t.Errorf("Accept = %q", got.Header.Get("Accept"))
			}
		})
	}
}

func TestAPIResponseHeaders(t *testing.T) {
	tests := []struct {
		path     string
		wantTTL  string
		upstream int
	}{
		{"/3/search/movie?query=x", "public, max-age=300", http.StatusOK},
		{"/3/movie/popular", "public, max-age=1800", http.StatusOK},
		{"/3/movie/550", "public, max-age=600", http.StatusNotFound},
		{"/3/configuration/languages", "public, max-age=3600", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(tt.upstream)
				w.Write([]byte(`[]`))
			}, nil)
			rec := f.do(http.MethodGet, tt.path, http.Header{"X-Api-Key": {"k"}}, "")

			if rec.Code != tt.upstream {
				t.Errorf("status = %d, want upstream %d", rec.Code, tt.upstream)
			}
			if got := rec.Header().Get("Cache-Control"); got != tt.wantTTL {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantTTL)
			}
			if got := rec.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q", got)
			}
			if rec.Header().Get("Vary") != "Accept-Encoding" {
				t.Error("missing Vary")
			}
			if rec.Header().Get("Content-Length") != "2" {
				t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
			}
			if rec.Header().Get("Cross-Origin-Resource-Policy") != "cross-origin" {
				t.Error("missing CORS headers")
			}
		})
	}
}

func TestAPIForwardsBody(t *testing.T) {
	f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true}`))
	}, nil)

	rec := f.do(http.MethodPost, "/3/movie/550/rating",
		http.Header{"X-Api-Key": {"k"}, "Content-Type": {"application/json;charset=utf-8"}},
		`{"value":8.5}`)

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	got, body := f.api.last()
	if got.Method != http.MethodPost {
		t.Errorf("method = %s", got.Method)
	}
	if body != `{"value":8.5}` {
		t.Errorf("body = %q", body)
	}
	if got.Header.Get("Content-Type") != "application/json;charset=utf-8" {
		t.Errorf("Content-Type = %q", got.Header.Get("Content-Type"))
	}
}

func TestConfigurationRewrite(t *testing.T) {
	payload := `{"images":{"base_url":"http://image.tmdb.org/t/p/","secure_base_url":"https://image.tmdb.org/t/p/","poster_sizes":["w500"]},"change_keys":["x"]}`

	for _, enc := range []string{"", "gzip", "br", "zstd", "deflate"} {
		t.Run("encoding="+enc, func(t *testing.T) {
			f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
				body, err := codec.Encode(enc, []byte(payload))
				if err != nil {
					t.Error(err)
					return
				}
				if enc != "" {
					w.Header().Set("Content-Encoding", enc)
				}
				w.Write(body)
			}, nil)

			rec := f.do(http.MethodGet, "/3/configuration", http.Header{
				"X-Api-Key":         {"k"},
				"X-Forwarded-Proto": {"https"},
			}, "")

			if rec.Header().Get("Content-Encoding") != enc {
				t.Errorf("Content-Encoding = %q, want %q", rec.Header().Get("Content-Encoding"), enc)
			}
			decoded, err := codec.Decode(enc, rec.Body.Bytes())
			if err != nil {
				t.Fatalf("decode response: %v", err)
			}
			var out struct {
				Images struct {
					BaseURL       string   `json:"base_url"`
					SecureBaseURL string   `json:"secure_base_url"`
					PosterSizes   []string `json:"poster_sizes"`
				} `json:"images"`
			}
			if err := json.Unmarshal(decoded, &out); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			want := "https://example.com/t/p/"
			if out.Images.BaseURL != want || out.Images.SecureBaseURL != want {
				t.Errorf("image bases = %q, %q; want %q", out.Images.BaseURL, out.Images.SecureBaseURL, want)
			}
			if len(out.Images.PosterSizes) != 1 {
				t.Error("other image fields must be preserved")
			}
		})
	}
}

func TestConfigurationRewritePublicOrigin(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Server.PublicOrigin = "https://media.example.net"
	}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":{"base_url":"x"}}`))
	}, nil)

	rec := f.do(http.MethodGet, "/3/configuration", http.Header{"X-Api-Key": {"k"}}, "")
	if !strings.Contains(rec.Body.String(), `"base_url":"https://media.example.net/t/p/"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestConfigurationRewriteKeepsOriginalOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		encoding string
	}{
		{"malformed JSON", `{"images": {`, ""},
		{"no images object", `{"images":"none"}`, ""},
		{"top-level array", `[1,2,3]`, ""},
		{"undecodable gzip", "not gzip at all", "gzip"},
		{"unknown encoding", `{"images":{}}`, "compress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				w.Write([]byte(tt.body))
			}, nil)

			rec := f.do(http.MethodGet, "/3/configuration", http.Header{"X-Api-Key": {"k"}}, "")
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
			if rec.Body.String() != tt.body {
				t.Errorf("body = %q, want original %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestAPIUpstreamUnreachable(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	f.api.Close()

	rec := f.do(http.MethodGet, "/3/movie/550", http.Header{"X-Api-Key": {"k"}}, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Body.String() != `{"error":"Service temporarily unavailable"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}

func TestAPIOversizedBodyIsNotTruncated(t *testing.T) {
	f := newFixture(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		chunk := []byte(strings.Repeat(" ", 64<<10))
		for written := int64(0); written <= codec.MaxDecodedSize; written += int64(len(chunk)) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}, nil)

	rec := f.do(http.MethodGet, "/3/movie/550", http.Header{"X-Api-Key": {"k"}}, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec.Body.String() != `{"error":"Service temporarily unavailable"}` {
		t.Errorf("body starts %q", rec.Body.String()[:min(rec.Body.Len(), 64)])
	}
}

func TestImageProxy(t *testing.T) {
	f := newFixture(t, nil, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/t/p/w500/poster.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Wed, 01 May 2024 10:00:00 GMT")
		w.Header().Set("Content-Type", "image/webp")
		w.Write([]byte("IMAGEBYTES"))
	})

	rec := f.do(http.MethodGet, "/t/p/w500/poster.jpg", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "IMAGEBYTES" {
		t.Errorf("body = %q", rec.Body.String())
	}
	want := map[string]string{
		"Cache-Control": "public, max-age=604800, immutable",
		"Content-Type":  "image/webp",
		"ETag":          `"abc"`,
		"Last-Modified": "Wed, 01 May 2024 10:00:00 GMT",
		"Vary":          "Accept-Encoding",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	got, _ := f.image.last()
	if got.Header.Get("User-Agent") != "Mozilla/5.0 (compatible; TMDB-Proxy/1.0)" {
		t.Errorf("upstream User-Agent = %q", got.Header.Get("User-Agent"))
	}
	if got.Header.Get("Accept") != "image/*" {
		t.Errorf("upstream Accept = %q", got.Header.Get("Accept"))
	}
}

func TestImageProxyDefaultContentType(t *testing.T) {
	f := newFixture(t, nil, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte{0xff, 0xd8})
	})
	rec := f.do(http.MethodGet, "/t/p/original/a.jpg", nil, "")
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
}

func TestImageProxyFailuresLookLikeNotFound(t *testing.T) {
	f := newFixture(t, nil, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	rec := f.do(http.MethodGet, "/t/p/w500/missing.jpg", nil, "")
	assertSameResponse(t, rec, f.do(http.MethodGet, "/nothing", nil, ""))

	f.image.Close()
	rec = f.do(http.MethodGet, "/t/p/w500/missing.jpg", nil, "")
	assertSameResponse(t, rec, f.do(http.MethodGet, "/nothing", nil, ""))
}

func TestAdminStatusKeyLength(t *testing.T) {
	key32 := strings.Repeat("a", 32)
	tests := []struct {
		name    string
		key     string
		mutate  func(*config.Config)
		want    int
		success bool
	}{
		{"31 chars uniform", key32[:31], nil, http.StatusNotFound, false},
		{"32 chars", key32, nil, http.StatusOK, true},
		{"33 chars uniform", key32 + "a", nil, http.StatusNotFound, false},
		{"missing uniform", "", nil, http.StatusNotFound, false},
		{"31 chars verbose", key32[:31], verbose, http.StatusUnauthorized, false},
		{"33 chars verbose", key32 + "a", verbose, http.StatusUnauthorized, false},
		{"override unauthorized", "short", func(c *config.Config) {
			c.Policy.AdminAuthFailure = config.AdminFailureUnauthorized
		}, http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate, nil, nil)
			var h http.Header
			if tt.key != "" {
				h = http.Header{"X-Api-Key": {tt.key}}
			}
			rec := f.do(http.MethodGet, "/admin/status", h, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !tt.success && tt.want == http.StatusNotFound {
				assertSameResponse(t, rec, f.do(http.MethodGet, "/nothing", nil, ""))
			}
		})
	}
}

func TestAdminStatusPayload(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	longUA := "Mozilla/5.0 " + strings.Repeat("é", 60)

	rec := f.do(http.MethodGet, "/admin/status?api_key="+strings.Repeat("k", 32), http.Header{
		"User-Agent":       {longUA},
		"Cf-Connecting-Ip": {"203.0.113.9"},
		"Cf-Ipcountry":     {"de"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var p statusPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Status != "active" || p.Version != "2.0.0" || p.Platform != "mediaproxy" {
		t.Errorf("unexpected header fields: %+v", p)
	}
	if p.Endpoints["images"] != "/t/p/{size}/{path}" || p.Endpoints["api"] != "/3/{endpoint}" {
		t.Errorf("endpoints = %v", p.Endpoints)
	}
	if p.ClientInfo.IP != "203.0.113.9" || p.ClientInfo.Country != "DE" {
		t.Errorf("client_info = %+v", p.ClientInfo)
	}
	if n := len([]rune(p.ClientInfo.UA)); n != 50 {
		t.Errorf("ua has %d characters, want 50", n)
	}
	if !p.Security.APIKeyProvided || p.Security.RequestSecure {
		t.Errorf("security = %+v", p.Security)
	}
	if p.Timestamp != "2024-05-01T12:00:00.000Z" {
		t.Errorf("timestamp = %q", p.Timestamp)
	}
}

func TestCountryHeaderRequiresTrustedPeer(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.ClientIP.TrustedProxies = []string{"10.0.0.0/8"}
		c.Security.BlockedCountries = []string{"XX"}
	}, func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{}`)) }, nil)
	adminKey := strings.Repeat("k", 32)

	status := func(remote string) clientInfo {
		t.Helper()
		rec := f.doFrom(remote, http.MethodGet, "/admin/status?api_key="+adminKey, http.Header{
			"Cf-Connecting-Ip": {"198.51.100.9"},
			"Cf-Ipcountry":     {"ZZ"},
		}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var p statusPayload
		if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
			t.Fatal(err)
		}
		return p.ClientInfo
	}

	if got := status("192.0.2.1:1234"); got.IP != "192.0.2.1" || got.Country != "unknown" {
		t.Errorf("direct peer client_info = %+v, want peer IP and unknown country", got)
	}
	if got := status("10.1.2.3:443"); got.IP != "198.51.100.9" || got.Country != "ZZ" {
		t.Errorf("trusted proxy client_info = %+v, want header values", got)
	}

	// A direct client cannot route around the country block with the header,
	// and a trusted proxy's header still decides it.
	blockedHeader := http.Header{"Cf-Ipcountry": {"XX"}, "X-Api-Key": {"k"}}
	if rec := f.doFrom("192.0.2.1:1234", http.MethodGet, "/3/movie/550", blockedHeader, ""); rec.Code != http.StatusOK {
		t.Errorf("untrusted country header applied: status = %d", rec.Code)
	}
	if rec := f.doFrom("10.1.2.3:443", http.MethodGet, "/3/movie/550", blockedHeader, ""); rec.Code != http.StatusNotFound {
		t.Errorf("trusted country header ignored: status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/health", "/ping"} {
		f := newFixture(t, nil, nil, nil)
		rec := f.do(http.MethodGet, path, nil, "")
		want := `{"status":"ok","timestamp":"2024-05-01T12:00:00.000Z","uptime":"active"}`
		if rec.Body.String() != want {
			t.Errorf("%s body = %s", path, rec.Body.String())
		}
	}

	f := newFixture(t, verbose, nil, nil)
	rec := f.do(http.MethodPost, "/health", http.Header{"X-Forwarded-For": {"198.51.100.7, 10.0.0.1"}}, "")
	var p healthPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Platform != "mediaproxy" || p.ClientIP != "198.51.100.7" || p.Version != "2.0.0" || p.Path != "/health" || p.Method != "POST" {
		t.Errorf("verbose payload = %+v", p)
	}
}

func TestRootAndUnmatched(t *testing.T) {
	f := newFixture(t, nil, nil, nil)
	notFound := f.do(http.MethodGet, "/definitely/not/here", nil, "")
	if notFound.Code != http.StatusNotFound {
		t.Errorf("status = %d", notFound.Code)
	}

	for _, path := range []string{"/", "/health/", "/3", "/t/p", "/admin/status/"} {
		assertSameResponse(t, f.do(http.MethodGet, path, nil, ""), notFound)
	}

	f = newFixture(t, verbose, nil, nil)
	rec := f.do(http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("verbose root: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 50, "short"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "hé"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
