// Package security rejects scanner traffic and oversized bodies before they
// reach the router.
package security

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/celution/bountyd/internal/middleware/realip"
	"github.com/celution/bountyd/internal/observability/metrics"
)

// rule is one class of request the filter refuses.
type rule struct {
	name     string
	prefixes []string
	contains []string
}

// rules are matched against the lowercased path. Traversal and null byte
// patterns are also matched against the unescaped raw path.
var rules = []rule{
	{
		name:     "cms_probe",
		prefixes: []string{"/wp-admin", "/wp-includes", "/wp-content", "/wp-login", "/xmlrpc.php", "/phpmyadmin", "/phpinfo", "/.php"},
	},
	{
		name:     "secret_probe",
		prefixes: []string{"/.git/", "/.env", "/.htaccess", "/.htpasswd", "/config.", "/web-inf/"},
	},
	{
		name:     "admin_probe",
		prefixes: []string{"/admin/", "/cgi-bin/", "/shell", "/server-status"},
	},
	{
		name:     "traversal",
		contains: []string{"../", "..%2f", "..%5c", "%2e%2e/", "..\\"},
	},
	{
		name:     "null_byte",
		contains: []string{"%00", "\x00"},
	},
}

// exemptPaths are probe and scrape endpoints
var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// match returns the name of the first rule the path trips, or "".
func match(path, rawPath string) string {
	lower := strings.ToLower(path)
	for _, r := range rules {
		for _, p := range r.prefixes {
			if strings.HasPrefix(lower, p) {
				return r.name
			}
		}
		for _, c := range r.contains {
			if strings.Contains(lower, c) {
				return r.name
			}
		}
	}

	if rawPath == "" {
		return ""
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "encoding"
	}
	decoded = strings.ToLower(decoded)
	if decoded == lower {
		return ""
	}
	for _, r := range rules {
		for _, c := range r.contains {
			if strings.Contains(decoded, c) {
				return r.name
			}
		}
	}
	return ""
}

// FilterMiddleware answers 400 to requests that look like scanner probes,
// path traversal or null byte injection. The response does not say which
// rule matched; the log line does.
func FilterMiddleware(enabled bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		if logger == nil {
			logger = slog.Default()
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if name := match(r.URL.Path, r.URL.RawPath); name != "" {
				logger.Debug("request filtered",
					"rule", name,
					"path", r.URL.Path,
					"client_ip", realip.GetClientIP(r),
				)
				metrics.RequestRejected("filtered")
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
