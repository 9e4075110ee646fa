// Package identity builds zero-knowledge identity challenges bound to a
// wallet and receives the resulting proofs from the verification backend.
package identity

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Challenge errors
var (
	ErrChallengeSpent   = errors.New("challenge already used")
	ErrChallengeUnknown = errors.New("challenge unknown or superseded")
)

const challengeVersion = 2

// Config describes the application the proof is requested for.
type Config struct {
	AppName         string
	Scope           string
	Endpoint        string
	EndpointType    string // "https" or "staging_https"
	Logo            string
	DeepLinkBase    string // prefix the encoded challenge is appended to
	UserDefinedData string
}

// Disclosures lists what the holder is asked to reveal.
type Disclosures struct {
	MinimumAge        int      `json:"minimumAge"`
	ExcludedCountries []string `json:"excludedCountries"`
	OFAC              bool     `json:"ofac"`
}

// Challenge is a single-use verification request bound to one wallet address.
type Challenge struct {
	ID              string      `json:"sessionId"`
	Version         int         `json:"version"`
	AppName         string      `json:"appName"`
	Scope           string      `json:"scope"`
	Endpoint        string      `json:"endpoint"`
	EndpointType    string      `json:"endpointType"`
	Logo            string      `json:"logoBase64,omitempty"`
	UserID          string      `json:"userId"`
	UserIDType      string      `json:"userIdType"`
	UserDefinedData string      `json:"userDefinedData"`
	Disclosures     Disclosures `json:"disclosures"`
	IssuedAt        time.Time   `json:"-"`

	deepLinkBase string
	address      common.Address
}

// Address returns the wallet the challenge is bound to.
func (c *Challenge) Address() common.Address { return c.address }

// UniversalLink returns the link a phone opens to answer the challenge.
func (c *Challenge) UniversalLink() string {
	payload, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return c.deepLinkBase + url.QueryEscape(string(payload))
}

type challengeState struct {
	challenge *Challenge
	spent     bool
}

// Verifier mints challenges and enforces single use. Building a new
// challenge for an address supersedes the previous one.
type Verifier struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	byID    map[string]*challengeState
	current map[common.Address]string
}

// NewVerifier creates a verifier for cfg.
func NewVerifier(cfg Config) *Verifier {
	if cfg.EndpointType == "" {
		cfg.EndpointType = "https"
	}
	return &Verifier{
		cfg:     cfg,
		now:     time.Now,
		byID:    make(map[string]*challengeState),
		current: make(map[common.Address]string),
	}
}

// Build mints a fresh challenge for addr.
func (v *Verifier) Build(addr common.Address) *Challenge {
	c := &Challenge{
		ID:              uuid.New().String(),
		Version:         challengeVersion,
		AppName:         v.cfg.AppName,
		Scope:           v.cfg.Scope,
		Endpoint:        v.cfg.Endpoint,
		EndpointType:    v.cfg.EndpointType,
		Logo:            v.cfg.Logo,
		UserID:          strings.ToLower(addr.Hex()),
		UserIDType:      "hex",
		UserDefinedData: v.cfg.UserDefinedData,
		Disclosures:     Disclosures{ExcludedCountries: []string{}},
		IssuedAt:        v.now(),
		deepLinkBase:    v.cfg.DeepLinkBase,
		address:         addr,
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, ok := v.current[addr]; ok {
		delete(v.byID, prev)
	}
	v.byID[c.ID] = &challengeState{challenge: c}
	v.current[addr] = c.ID
	return c
}

// Spend marks the challenge used and returns it. A challenge can be spent
// once; superseded or unknown ids are rejected.
func (v *Verifier) Spend(id string) (*Challenge, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.byID[id]
	if !ok {
		return nil, ErrChallengeUnknown
	}
	if st.spent {
		return nil, ErrChallengeSpent
	}
	st.spent = true
	return st.challenge, nil
}

// Forget drops every challenge bound to addr.
func (v *Verifier) Forget(addr common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.current[addr]; ok {
		delete(v.byID, id)
		delete(v.current, addr)
	}
}
