package handler

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wudi/mediaproxy/internal/cachepolicy"
	"github.com/wudi/mediaproxy/internal/codec"
	"github.com/wudi/mediaproxy/internal/credential"
	"github.com/wudi/mediaproxy/internal/errors"
	"github.com/wudi/mediaproxy/internal/logging"
	"github.com/wudi/mediaproxy/internal/metrics"
	"github.com/wudi/mediaproxy/internal/middleware"
	"github.com/wudi/mediaproxy/internal/rewrite"
	"github.com/wudi/mediaproxy/internal/router"
	"github.com/wudi/mediaproxy/internal/upstream"
	"go.uber.org/zap"
)

const apiKeyHint = "Please provide a valid TMDB API Key via header X-API-Key or URL parameter api_key"

// maxRequestBody bounds bodies forwarded to the API host.
const maxRequestBody = 8 << 20

func (h *Handler) serveImage(w http.ResponseWriter, r *http.Request, d router.Decision) {
	resp, err := h.images.Do(r.Context(), upstream.Request{
		Method: http.MethodGet,
		URL:    h.imageBase + d.SubPath,
		Header: http.Header{
			"User-Agent": {h.userAgent},
			"Accept":     {"image/*"},
		},
	})
	if err != nil {
		logging.Warn("image upstream unreachable",
			zap.String("request_id", middleware.RequestIDFromRequest(r)),
			zap.String("path", d.SubPath),
			zap.Stringer("kind", errors.KindOf(err)),
			zap.Error(err),
		)
		h.respond.NotFound(w)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logging.Debug("image upstream returned non-success",
			zap.String("path", d.SubPath),
			zap.Int("status", resp.StatusCode),
		)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		h.respond.NotFound(w)
		return
	}

	hdr := w.Header()
	h.respond.Decorate(hdr)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	hdr.Set("Content-Type", contentType)
	hdr.Set("Cache-Control", cachepolicy.ForImage().String())
	for _, k := range []string{"ETag", "Last-Modified", "Content-Length"} {
		if v := resp.Header.Get(k); v != "" {
			hdr.Set(k, v)
		}
	}
	hdr.Set("Vary", "Accept-Encoding")
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("image stream interrupted", zap.String("path", d.SubPath), zap.Error(err))
	}
}

func (h *Handler) serveAPI(w http.ResponseWriter, r *http.Request, d router.Decision) {
	cred := credential.Extract(r)
	if !cred.Present() {
		h.respond.AuthFailure(w, errors.ErrAuthMissing.WithDetails(apiKeyHint))
		return
	}

	req := upstream.Request{
		Method: r.Method,
		URL:    h.apiURL(d.SubPath, r.URL, cred.Value),
		Header: http.Header{
			"Accept":          {"application/json"},
			"Accept-Encoding": {codec.AcceptEncoding},
			"User-Agent":      {h.userAgent},
		},
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			h.respond.JSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
			return
		}
		req.Body = body
		if ct := r.Header.Get("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
	}

	resp, err := h.api.Do(r.Context(), req)
	if err != nil {
		logging.Warn("api upstream unreachable",
			zap.String("request_id", middleware.RequestIDFromRequest(r)),
			zap.String("path", d.SubPath),
			zap.Stringer("kind", errors.KindOf(err)),
			zap.Error(err),
		)
		h.respond.UpstreamFailure(w, err)
		return
	}
	defer resp.Body.Close()

	payload, err := codec.ReadLimited(resp.Body)
	if err != nil {
		logging.Warn("api upstream body read failed", zap.String("path", d.SubPath), zap.Error(err))
		h.respond.UpstreamFailure(w, errors.ErrUpstreamUnreachable.Wrap(err))
		return
	}

	encoding := resp.Header.Get("Content-Encoding")
	if rewrite.Applies(d.SubPath) {
		var result string
		payload, result = h.rewriteConfiguration(payload, encoding, h.origin(r))
		h.metrics.RecordRewrite(result)
	}

	hdr := w.Header()
	h.respond.Decorate(hdr)
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Cache-Control", cachepolicy.ForAPI(d.SubPath).String())
	if encoding != "" {
		hdr.Set("Content-Encoding", encoding)
	}
	hdr.Set("Vary", "Accept-Encoding")
	hdr.Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(resp.StatusCode)

	if r.Method != http.MethodHead {
		w.Write(payload)
	}
}

// apiURL builds the upstream URL, appending the credential as api_key
// unless the query already carries one.
func (h *Handler) apiURL(subPath string, in *url.URL, key string) string {
	query := in.RawQuery
	if !in.Query().Has("api_key") {
		if query != "" {
			query += "&"
		}
		query += "api_key=" + url.QueryEscape(key)
	}
	return h.apiBase + "/3/" + subPath + "?" + query
}

// rewriteConfiguration points the image base URLs of a configuration
// payload at this proxy. Any failure returns the original bytes.
func (h *Handler) rewriteConfiguration(payload []byte, encoding, origin string) ([]byte, string) {
	if !codec.Supported(encoding) {
		return payload, metrics.RewriteSkipped
	}
	decoded, err := codec.Decode(encoding, payload)
	if err != nil {
		logging.Debug("configuration payload decode failed", zap.String("encoding", encoding), zap.Error(err))
		return payload, metrics.RewriteFailed
	}
	rewritten, err := rewrite.Rewrite(decoded, origin)
	if err != nil {
		logging.Debug("configuration payload rewrite failed", zap.Stringer("kind", errors.KindOf(err)), zap.Error(err))
		return payload, metrics.RewriteFailed
	}
	if bytes.Equal(rewritten, decoded) {
		return payload, metrics.RewriteSkipped
	}
	encoded, err := codec.Encode(encoding, rewritten)
	if err != nil {
		logging.Debug("configuration payload encode failed", zap.String("encoding", encoding), zap.Error(err))
		return payload, metrics.RewriteFailed
	}
	return encoded, metrics.RewriteApplied
}

// origin is the externally visible scheme://host of the proxy.
func (h *Handler) origin(r *http.Request) string {
	if h.publicOrigin != "" {
		return h.publicOrigin
	}
	return scheme(r) + "://" + r.Host
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}
