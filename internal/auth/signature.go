// Package auth authenticates provider callbacks with an HMAC signature over
// the request body.
package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries "sha256=<hex hmac of body>".
const SignatureHeader = "X-Signature"

const signaturePrefix = "sha256="

// Context key type for avoiding collisions
type contextKey string

const signedContextKey contextKey = "signed"

// IsSigned reports whether the request carried a valid signature.
func IsSigned(ctx context.Context) bool {
	signed, _ := ctx.Value(signedContextKey).(bool)
	return signed
}

// Sign returns the header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Valid reports whether header is the signature of body under secret.
func Valid(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Middleware returns an HTTP middleware that rejects requests whose body is
// not signed with secret. The body is buffered and handed on unchanged.
func Middleware(secret []byte, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(SignatureHeader)
			if header == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Signature required")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if !Valid(secret, body, header) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid signature")
				return
			}

			ctx := context.WithValue(r.Context(), signedContextKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware checks the signature only when a secret is configured.
// Without one every request proceeds unsigned.
func OptionalMiddleware(secret []byte, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	if len(secret) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return Middleware(secret, writeError)
}
