// Package transport provides HTTP handlers for the verification backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/celution/bountyd/internal/auth"
	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	RecordProof(ctx context.Context, sub domain.ProofSubmission) (*domain.ProofRecord, error)
	Latest(ctx context.Context, userIdentifier string) (*domain.ProofRecord, error)
}

// Subscriber hands out proof event streams.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan proofbus.Event, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc    Service
	bus    Subscriber
	secret []byte
	logger *slog.Logger
}

// NewHandler creates a new verification HTTP handler. An empty secret
// accepts unsigned callbacks.
func NewHandler(svc Service, bus Subscriber, secret []byte, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, bus: bus, secret: secret, logger: logger}
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/verify", h.handleLatest)
	r.With(auth.OptionalMiddleware(h.secret, writeError)).Post("/verify", h.handleCallback)
	r.Get("/verify/stream", h.handleStream)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	rec, err := h.svc.RecordProof(r.Context(), req.ToDomain())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidProof), errors.Is(err, domain.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record proof")
		}
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Status:    "success",
		Result:    true,
		Duplicate: rec.Duplicate,
	})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Latest(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "No proof received yet")
		case errors.Is(err, domain.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get latest proof")
		}
		return
	}

	writeJSON(w, http.StatusOK, ProofResponse{
		Nullifier:      rec.Nullifier,
		UserIdentifier: rec.UserIdentifier,
	})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message},
	})
}
