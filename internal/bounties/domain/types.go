// Package domain coordinates bounty creation and claiming across the issue
// tracker and the bounty contract, and projects the on-chain issue list into
// a filtered view.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/tracker"
)

// DefaultMinCompletionPct is the completion share below which the stake is forfeited.
const DefaultMinCompletionPct = 80

// CreateRequest is a request to open a tracker issue and fund it on-chain.
type CreateRequest struct {
	Repo             tracker.RepoRef
	Title            string
	Description      string
	Labels           []string // extra labels on top of the bounty set
	Difficulty       chains.Difficulty
	Durations        chains.Durations // zero value means chains.DefaultDurations
	MinCompletionPct uint8
	Bounty           *big.Int // wei
	Creator          common.Address
}

// CreateResult is the outcome of CreateAndFund.
type CreateResult struct {
	Issue       *tracker.Issue
	TxHash      common.Hash
	BlockNumber uint64
	Pending     bool // the caller stopped waiting; reconciliation continues in the background
}

// ClaimRequest is a request to stake on an issue and take it.
type ClaimRequest struct {
	IssueID uint64
	Stake   *big.Int // nil means DefaultStake of the bounty
}

// ClaimResult is the outcome of Claim.
type ClaimResult struct {
	Issue   *chains.Issue // refreshed snapshot, nil if the refresh failed
	Stake   *big.Int
	TxHash  common.Hash
	Pending bool
}

// PendingOperation links a created tracker issue to its in-flight funding
// transaction. It lives in memory only.
type PendingOperation struct {
	ID         string
	Repo       tracker.RepoRef
	TrackerURL string
	TxHash     common.Hash
	Bounty     *big.Int
	Difficulty chains.Difficulty
	Creator    common.Address
	StartedAt  time.Time
}
