package transport

import (
	"strings"

	"github.com/celution/bountyd/internal/bounties/domain"
	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/validation"
)

// IssueResponse is an on-chain issue with its derived display fields.
type IssueResponse struct {
	ID                          uint64 `json:"id"`
	Creator                     string `json:"creator"`
	TrackerURL                  string `json:"trackerUrl"`
	Repo                        string `json:"repo,omitempty"`
	Description                 string `json:"description"`
	Bounty                      string `json:"bounty"`
	BountyEther                 string `json:"bountyEther"`
	AssignedTo                  string `json:"assignedTo"`
	Status                      string `json:"status"`
	Difficulty                  string `json:"difficulty"`
	PercentCompleted            uint8  `json:"percentCompleted"`
	ClaimedPercent              uint8  `json:"claimedPercent"`
	CreatedAt                   int64  `json:"createdAt"`
	Age                         string `json:"age"`
	Deadline                    int64  `json:"deadline,omitempty"`
	MinCompletionForStakeReturn uint8  `json:"minCompletionForStakeReturn"`
	ConfidenceScore             uint64 `json:"confidenceScore"`
}

// ListIssuesResponse is the response for listing issues.
type ListIssuesResponse struct {
	Data  []IssueResponse `json:"data"`
	Total int             `json:"total"`
}

// VerificationResponse is the on-chain verification flag of an address.
type VerificationResponse struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// VersionResponse describes the server build and the chain it reads.
type VersionResponse struct {
	Version          string `json:"version"`
	MinClientVersion string `json:"minClientVersion,omitempty"`
	ChainID          int64  `json:"chainId,omitempty"`
	Contract         string `json:"contract,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromView converts a projected issue for the wire.
func FromView(v domain.IssueView) IssueResponse {
	resp := IssueResponse{
		ID:                          v.ID,
		Creator:                     strings.ToLower(v.Creator.Hex()),
		TrackerURL:                  v.TrackerURL,
		Repo:                        v.Repo,
		Description:                 v.Description,
		Bounty:                      "0",
		BountyEther:                 validation.FormatEther(v.Bounty),
		Status:                      string(v.Status),
		Difficulty:                  v.Difficulty.String(),
		PercentCompleted:            v.PercentCompleted,
		ClaimedPercent:              v.ClaimedPercent,
		CreatedAt:                   v.CreatedAt,
		Age:                         v.Age,
		Deadline:                    v.Deadline,
		MinCompletionForStakeReturn: v.MinCompletionForStakeReturn,
		ConfidenceScore:             v.ConfidenceScore,
	}
	if v.Bounty != nil {
		resp.Bounty = v.Bounty.String()
	}
	if v.AssignedTo != chains.ZeroAddress {
		resp.AssignedTo = strings.ToLower(v.AssignedTo.Hex())
	}
	return resp
}
