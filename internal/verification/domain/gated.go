package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
)

// GatedChain refuses bounty writes from a signer the gate has not verified.
// Reads and proof storage pass through.
type GatedChain struct {
	chains.Gateway
	gate   *Gate
	signer common.Address
}

// NewGatedChain wraps inner so that CreateIssue and TakeIssue require
// gate.Verified(signer).
func NewGatedChain(inner chains.Gateway, gate *Gate, signer common.Address) *GatedChain {
	return &GatedChain{Gateway: inner, gate: gate, signer: signer}
}

// CreateIssue forwards to the wrapped gateway once the signer is verified.
func (c *GatedChain) CreateIssue(ctx context.Context, req chains.CreateIssueRequest) (*chains.Tx, error) {
	if err := c.allow("chain.create_issue"); err != nil {
		return nil, err
	}
	return c.Gateway.CreateIssue(ctx, req)
}

// TakeIssue forwards to the wrapped gateway once the signer is verified.
func (c *GatedChain) TakeIssue(ctx context.Context, id uint64, stake *big.Int) (*chains.Tx, error) {
	if err := c.allow("chain.take_issue"); err != nil {
		return nil, err
	}
	return c.Gateway.TakeIssue(ctx, id, stake)
}

func (c *GatedChain) allow(op string) error {
	if c.gate.Verified(c.signer) {
		return nil
	}
	return failures.New(failures.PermissionDenied, op, "wallet "+c.signer.Hex()+" is not verified", ErrNotVerified)
}
