// Package chains provides the chain gateway interface and the on-chain bounty
// types shared by the coordinator, the verification gate and the EVM module.
package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the sentinel assignee of an open issue.
var ZeroAddress = common.Address{}

// Difficulty is the contract's difficulty enum.
type Difficulty uint8

const (
	Easy Difficulty = iota
	Medium
	Hard
)

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "Easy"
	case Medium:
		return "Medium"
	case Hard:
		return "Hard"
	default:
		return fmt.Sprintf("Difficulty(%d)", uint8(d))
	}
}

// Valid reports whether d is one of the contract's levels.
func (d Difficulty) Valid() bool {
	return d <= Hard
}

// ParseDifficulty parses "easy", "medium" or "hard" (any case).
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return 0, fmt.Errorf("unknown difficulty %q", s)
}

// Durations is the per-difficulty time allowance used to compute a deadline
// once an issue is taken.
type Durations struct {
	Easy   time.Duration
	Medium time.Duration
	Hard   time.Duration
}

// DefaultDurations are 7, 30 and 150 days.
var DefaultDurations = Durations{
	Easy:   7 * 24 * time.Hour,
	Medium: 30 * 24 * time.Hour,
	Hard:   150 * 24 * time.Hour,
}

// For returns the allowance for d.
func (d Durations) For(level Difficulty) time.Duration {
	switch level {
	case Easy:
		return d.Easy
	case Medium:
		return d.Medium
	default:
		return d.Hard
	}
}

// Issue is the on-chain bounty record.
type Issue struct {
	ID                          uint64
	Creator                     common.Address
	TrackerURL                  string
	Description                 string
	Bounty                      *big.Int
	AssignedTo                  common.Address
	Completed                   bool
	PercentCompleted            uint8
	ClaimedPercent              uint8
	UnderReview                 bool
	CreatedAt                   int64 // unix seconds
	Difficulty                  Difficulty
	Deadline                    int64 // unix seconds, 0 until assigned
	Durations                   Durations
	ConfidenceScore             uint64
	MinCompletionForStakeReturn uint8
}

// IsAssigned reports whether someone has taken the issue.
func (i Issue) IsAssigned() bool {
	return i.AssignedTo != ZeroAddress
}

// CreateIssueRequest carries the createIssue arguments and the attached bounty.
type CreateIssueRequest struct {
	TrackerURL       string
	Description      string
	Difficulty       Difficulty
	Durations        Durations
	MinCompletionPct uint8
	Bounty           *big.Int
}

// Gateway is the typed facade over the bounty contract. Write calls return as
// soon as the transaction is broadcast; the returned Tx resolves later.
type Gateway interface {
	ReadIssues(ctx context.Context) ([]Issue, error)
	IsVerified(ctx context.Context, addr common.Address) (bool, error)
	CreateIssue(ctx context.Context, req CreateIssueRequest) (*Tx, error)
	TakeIssue(ctx context.Context, id uint64, stake *big.Int) (*Tx, error)
	StoreVerificationProof(ctx context.Context, nullifier *big.Int) (*Tx, error)
}

// Reader is the read-only part of Gateway.
type Reader interface {
	ReadIssues(ctx context.Context) ([]Issue, error)
	IsVerified(ctx context.Context, addr common.Address) (bool, error)
}
