// Package domain contains the identity verification gate and the backend
// service that records proofs relayed by the identity provider.
package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/identity"
)

// State is the gate's position in the verification flow.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateChallenging
	StateAwaitingProof
	StateSubmitting
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateChallenging:
		return "challenging"
	case StateAwaitingProof:
		return "awaiting_proof"
	case StateSubmitting:
		return "submitting"
	case StateVerified:
		return "verified"
	default:
		return "disconnected"
	}
}

// Open reports whether the gate blocks the wallet in this state.
func (s State) Open() bool {
	return s == StateChallenging || s == StateAwaitingProof || s == StateSubmitting
}

// Chain is the part of the chain gateway the gate needs.
type Chain interface {
	IsVerified(ctx context.Context, addr common.Address) (bool, error)
	StoreVerificationProof(ctx context.Context, nullifier *big.Int) (*chains.Tx, error)
}

// Challenger mints and spends single-use challenges. *identity.Verifier
// satisfies it.
type Challenger interface {
	Build(addr common.Address) *identity.Challenge
	Spend(id string) (*identity.Challenge, error)
	Forget(addr common.Address)
}

// ProofSource is the asynchronous proof channel. *identity.Client
// satisfies it.
type ProofSource interface {
	Latest(ctx context.Context, addr common.Address) (identity.Proof, error)
	Subscribe(ctx context.Context, addr common.Address) <-chan identity.Proof
}

// Wallet is the connected signer. Disconnect is called when the user
// abandons verification.
type Wallet interface {
	Disconnect()
}

// Display shows the challenge to the user. Open is called at most once per
// session; later challenges arrive through Update. Close may be called more
// than once.
type Display interface {
	Open(c *identity.Challenge)
	Update(c *identity.Challenge)
	Close()
}

// ProofSubmission is the provider callback body.
type ProofSubmission struct {
	AttestationID  string `json:"attestationId"`
	Nullifier      string `json:"nullifier"`
	UserIdentifier string `json:"userIdentifier"`
}

// ProofRecord is a stored proof.
type ProofRecord struct {
	ID             string    `json:"id"`
	Nullifier      string    `json:"nullifier"`
	UserIdentifier string    `json:"userIdentifier"`
	AttestationID  string    `json:"attestationId,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Duplicate      bool      `json:"duplicate,omitempty"`
}
