package security

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/celution/bountyd/internal/observability/metrics"
)

// MaxBodySizeMiddleware caps request bodies at maxSizeMB megabytes. A
// declared Content-Length over the cap is refused with 413 before the
// handler runs; undeclared bodies are cut off while reading. Bodiless
// methods and stream upgrades pass through untouched.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxSizeMB) * 1024 * 1024

	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !carriesBody(r) {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				metrics.RequestRejected("body_too_large")
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					fmt.Sprintf("Request body exceeds %d MB", maxSizeMB))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func carriesBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return !strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
