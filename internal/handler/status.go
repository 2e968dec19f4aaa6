package handler

import (
	"net/http"
	"unicode/utf8"

	"github.com/wudi/mediaproxy/internal/credential"
	"github.com/wudi/mediaproxy/internal/errors"
)

const adminKeyHint = "Please provide a valid TMDB API Key"

// uaLimit is the number of user agent characters echoed in the status snapshot.
const uaLimit = 50

type healthPayload struct {
	Status    string `json:"status"`
	Platform  string `json:"platform,omitempty"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	ClientIP  string `json:"client_ip,omitempty"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Method    string `json:"method,omitempty"`
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request, clientIP string) {
	p := healthPayload{
		Status:    "ok",
		Timestamp: h.timestamp(),
		Uptime:    "active",
	}
	if h.respond.Verbose() {
		p.Platform = h.platform
		p.ClientIP = clientIP
		p.Version = h.version
		p.Path = r.URL.Path
		p.Method = r.Method
	}
	h.respond.JSON(w, http.StatusOK, p)
}

type statusPayload struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Platform   string            `json:"platform"`
	Endpoints  map[string]string `json:"endpoints"`
	ClientInfo clientInfo        `json:"client_info"`
	Security   securityInfo      `json:"security"`
	Timestamp  string            `json:"timestamp"`
}

type clientInfo struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	UA      string `json:"ua"`
}

type securityInfo struct {
	APIKeyProvided bool `json:"api_key_provided"`
	RequestSecure  bool `json:"request_secure"`
}

func (h *Handler) serveAdminStatus(w http.ResponseWriter, r *http.Request, clientIP, country string) {
	cred := credential.Extract(r)
	switch {
	case !cred.Present():
		h.respond.AdminAuthFailure(w, errors.ErrAuthMissing.WithDetails(adminKeyHint))
		return
	case !cred.ValidAdmin():
		h.respond.AdminAuthFailure(w, errors.ErrAuthInvalid.WithDetails(adminKeyHint))
		return
	}

	h.respond.JSON(w, http.StatusOK, statusPayload{
		Status:    "active",
		Version:   h.version,
		Platform:  h.platform,
		Endpoints: h.endpoints,
		ClientInfo: clientInfo{
			IP:      clientIP,
			Country: country,
			UA:      truncate(r.UserAgent(), uaLimit),
		},
		Security: securityInfo{
			APIKeyProvided: true,
			RequestSecure:  scheme(r) == "https",
		},
		Timestamp: h.timestamp(),
	})
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
