package transport

import "github.com/celution/bountyd/internal/verification/domain"

// CallbackRequest is the identity provider's callback body.
type CallbackRequest struct {
	AttestationID  string `json:"attestationId"`
	Nullifier      string `json:"nullifier"`
	UserIdentifier string `json:"userIdentifier"`
}

// ToDomain converts CallbackRequest to domain.ProofSubmission.
func (r CallbackRequest) ToDomain() domain.ProofSubmission {
	return domain.ProofSubmission{
		AttestationID:  r.AttestationID,
		Nullifier:      r.Nullifier,
		UserIdentifier: r.UserIdentifier,
	}
}

// CallbackResponse acknowledges a callback.
type CallbackResponse struct {
	Status    string `json:"status"`
	Result    bool   `json:"result"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ProofResponse is the body of GET /api/verify and of each stream message.
type ProofResponse struct {
	Nullifier      string `json:"nullifier"`
	UserIdentifier string `json:"userIdentifier"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
