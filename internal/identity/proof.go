package identity

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoProof is returned when the backend has not received a proof yet.
var ErrNoProof = errors.New("no proof available")

// Proof is the verification outcome relayed by the backend. The nullifier
// is what gets stored on-chain.
type Proof struct {
	Nullifier      *big.Int
	UserIdentifier string
	ReceivedAt     time.Time
}

// Matches reports whether the proof was produced for addr.
func (p Proof) Matches(addr common.Address) bool {
	id := strings.ToLower(strings.TrimSpace(p.UserIdentifier))
	if id == "" {
		return false
	}
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return common.IsHexAddress(id) && common.HexToAddress(id) == addr
}

// ParseNullifier parses a decimal or 0x-prefixed hex nullifier.
func ParseNullifier(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty nullifier")
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid nullifier %q", s)
	}
	return n, nil
}

// proofMessage is the wire shape of GET /api/verify and the stream.
type proofMessage struct {
	Nullifier      string `json:"nullifier"`
	UserIdentifier string `json:"userIdentifier"`
}

func (m proofMessage) toProof(now time.Time) (Proof, error) {
	n, err := ParseNullifier(m.Nullifier)
	if err != nil {
		return Proof{}, err
	}
	return Proof{Nullifier: n, UserIdentifier: m.UserIdentifier, ReceivedAt: now}, nil
}
