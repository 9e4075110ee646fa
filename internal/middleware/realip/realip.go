// Package realip resolves the client address of a request, honouring
// X-Forwarded-For and X-Real-IP only when the peer is a trusted proxy.
package realip

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey struct{}

// ClientIPKey is the context key the middleware stores the client IP under.
var ClientIPKey = contextKey{}

// Config holds the configuration for the real IP middleware
type Config struct {
	// TrustProxy enables forwarded header parsing
	TrustProxy bool
	// TrustedProxies lists CIDR ranges or single addresses of trusted proxies
	TrustedProxies []string
}

// Resolver picks the client address out of a request.
type Resolver struct {
	trusted []netip.Prefix
	enabled bool
}

// NewResolver parses the trusted proxy list. Entries that are neither a
// prefix nor an address are skipped.
func NewResolver(cfg Config) *Resolver {
	res := &Resolver{enabled: cfg.TrustProxy}
	if !cfg.TrustProxy {
		return res
	}
	for _, entry := range cfg.TrustedProxies {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			res.trusted = append(res.trusted, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil {
			a = a.Unmap()
			res.trusted = append(res.trusted, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return res
}

// Trusted reports whether ip belongs to a trusted proxy.
func (res *Resolver) Trusted(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range res.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the first untrusted hop, walking
// X-Forwarded-For from the right. When every hop is trusted the leftmost
// entry wins.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := hostOnly(r.RemoteAddr)
	if !res.enabled || !res.Trusted(peer) {
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
		return peer
	}

	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop != "" && !res.Trusted(hop) {
			return hop
		}
	}
	if first := strings.TrimSpace(hops[0]); first != "" {
		return first
	}
	return peer
}

// Middleware stores the resolved client IP in the request context.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	res := NewResolver(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientIPKey, res.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIP returns the IP stored by Middleware, or the peer address when
// the middleware did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return hostOnly(r.RemoteAddr)
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
