// Package transport provides HTTP handlers for reading bounty issues from
// the chain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/celution/bountyd/internal/bounties/domain"
	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/validation"
)

// Handler handles HTTP requests for issues.
type Handler struct {
	chain   chains.Reader
	version VersionResponse
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a new issues HTTP handler. A nil chain leaves only the
// version route working; chain reads answer 503.
func NewHandler(chain chains.Reader, version VersionResponse, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chain:   chain,
		version: version,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes registers the issue routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/issues", h.handleList)
	r.Get("/issues/{id}", h.handleGet)
	r.Get("/addresses/{address}/verified", h.handleVerified)
	r.Get("/version", h.handleVersion)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if !h.requireChain(w) {
		return
	}
	q := r.URL.Query()
	status, err := domain.ParseStatusFilter(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	difficulty, err := domain.ParseDifficultyFilter(q.Get("difficulty"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	issues, err := h.chain.ReadIssues(r.Context())
	if err != nil {
		h.chainError(w, err, "Failed to read issues")
		return
	}

	filter := domain.Filter{Search: strings.TrimSpace(q.Get("search")), Status: status, Difficulty: difficulty}
	views := domain.Project(issues, filter, h.now())
	resp := ListIssuesResponse{Data: make([]IssueResponse, 0, len(views)), Total: len(views)}
	for _, v := range views {
		resp.Data = append(resp.Data, FromView(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !h.requireChain(w) {
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Issue id must be a positive integer")
		return
	}

	issues, err := h.chain.ReadIssues(r.Context())
	if err != nil {
		h.chainError(w, err, "Failed to read issues")
		return
	}
	for _, issue := range issues {
		if issue.ID == id {
			writeJSON(w, http.StatusOK, FromView(domain.View(issue, h.now())))
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Issue not found")
}

func (h *Handler) handleVerified(w http.ResponseWriter, r *http.Request) {
	if !h.requireChain(w) {
		return
	}
	address := chi.URLParam(r, "address")
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	addr := common.HexToAddress(address)
	verified, err := h.chain.IsVerified(r.Context(), addr)
	if err != nil {
		h.chainError(w, err, "Failed to read verification status")
		return
	}
	writeJSON(w, http.StatusOK, VerificationResponse{
		Address:  strings.ToLower(addr.Hex()),
		Verified: verified,
	})
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.version)
}

func (h *Handler) requireChain(w http.ResponseWriter) bool {
	if h.chain == nil {
		writeError(w, http.StatusServiceUnavailable, "CHAIN_UNCONFIGURED", "No bounty contract is configured")
		return false
	}
	return true
}

func (h *Handler) chainError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Warn(message, "error", err)
	if failures.Retryable(err) {
		writeError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", message)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
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
