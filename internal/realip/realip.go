// Package realip determines the client address behind CDN and proxy hops.
package realip

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is reported when no client address can be determined.
const Unknown = "unknown"

// DefaultHeaders are the platform headers consulted in order.
var DefaultHeaders = []string{"CF-Connecting-IP", "EO-Connecting-IP", "X-Forwarded-For"}

// Extractor reads the client IP from configured headers. With trusted
// proxies configured, headers are honoured only when the peer is trusted and
// X-Forwarded-For is walked right to left past trusted hops.
type Extractor struct {
	headers     []string
	trustedNets []*net.IPNet
}

// New creates an Extractor. Bare IPs in cidrs are treated as single hosts.
func New(headers []string, cidrs []string) (*Extractor, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if !strings.Contains(cidr, "/") {
			ip := net.ParseIP(cidr)
			if ip == nil {
				return nil, &net.ParseError{Type: "IP address", Text: cidr}
			}
			if ip.To4() != nil {
				cidr += "/32"
			} else {
				cidr += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		nets = append(nets, ipNet)
	}

	if len(headers) == 0 {
		headers = DefaultHeaders
	}

	return &Extractor{
		headers:     headers,
		trustedNets: nets,
	}, nil
}

// Extract returns the client IP, the peer address when no header applies,
// or Unknown.
func (e *Extractor) Extract(r *http.Request) string {
	remoteIP := hostOf(r.RemoteAddr)

	if !e.Trusted(r) {
		return orUnknown(remoteIP)
	}

	for _, header := range e.headers {
		val := r.Header.Get(header)
		if val == "" {
			continue
		}
		if strings.EqualFold(header, "X-Forwarded-For") {
			if ip := e.fromXFF(val); ip != "" {
				return ip
			}
			continue
		}
		if ip := strings.TrimSpace(val); ip != "" {
			return ip
		}
	}

	return orUnknown(remoteIP)
}

// Trusted reports whether client-supplied platform headers of r may be
// believed: always without trusted proxies, otherwise only from a trusted peer.
func (e *Extractor) Trusted(r *http.Request) bool {
	if e == nil || len(e.trustedNets) == 0 {
		return true
	}
	return e.isTrusted(hostOf(r.RemoteAddr))
}

// fromXFF returns the first entry, or with trusted proxies the rightmost
// untrusted entry.
func (e *Extractor) fromXFF(xff string) string {
	parts := strings.Split(xff, ",")
	if len(e.trustedNets) == 0 {
		return strings.TrimSpace(parts[0])
	}
	for i := len(parts) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(parts[i])
		if ip == "" {
			continue
		}
		if !e.isTrusted(ip) {
			return ip
		}
	}
	return strings.TrimSpace(parts[0])
}

func (e *Extractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range e.trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func orUnknown(ip string) string {
	if ip == "" {
		return Unknown
	}
	return ip
}
