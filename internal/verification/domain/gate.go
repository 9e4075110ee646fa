package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/identity"
	"github.com/celution/bountyd/internal/observability/metrics"
)

// Gate errors
var (
	ErrNotVerified = errors.New("address is not verified")
	ErrNotOpen     = errors.New("verification gate is not open")
	ErrAbandoned   = errors.New("verification abandoned")
)

// session is the per-wallet verification state. It is dropped when the
// address verifies, changes or disconnects.
type session struct {
	addr      common.Address
	challenge *identity.Challenge
	retries   int
	cancel    context.CancelFunc
}

// Gate blocks wallet usage until the connected address is verified on-chain.
// One Gate serves one wallet. Every external call is made without holding the
// lock; results that arrive after the session moved on are discarded.
type Gate struct {
	chain      Chain
	challenger Challenger
	proofs     ProofSource
	wallet     Wallet
	display    Display
	observer   func(from, to State)
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	sess      *session
	displayed bool
	changed   chan struct{}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithDisplay sets where challenges are shown.
func WithDisplay(d Display) GateOption {
	return func(g *Gate) { g.display = d }
}

// WithObserver registers fn for every state transition. fn runs with the
// gate locked and must not call back into it.
func WithObserver(fn func(from, to State)) GateOption {
	return func(g *Gate) { g.observer = fn }
}

// NewGate creates a gate in the disconnected state.
func NewGate(chain Chain, challenger Challenger, proofs ProofSource, wallet Wallet, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		chain:      chain,
		challenger: challenger,
		proofs:     proofs,
		wallet:     wallet,
		display:    nopDisplay{},
		logger:     logger.With("component", "gate"),
		changed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Challenge returns the live challenge, if any.
func (g *Gate) Challenge() *identity.Challenge {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return nil
	}
	return g.sess.challenge
}

// Retries returns how many times the challenge was rebuilt in this session.
func (g *Gate) Retries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return 0
	}
	return g.sess.retries
}

// Verified reports whether addr is the connected address and is verified.
func (g *Gate) Verified(addr common.Address) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateVerified && g.sess != nil && g.sess.addr == addr
}

// Connect starts a session for addr and reads its verification status.
// A verified address never sees the gate.
func (g *Gate) Connect(ctx context.Context, addr common.Address) error {
	g.mu.Lock()
	effects := g.closeDisplayLocked()
	g.dropSessionLocked()
	epoch := g.beginSessionLocked(addr)
	g.mu.Unlock()
	run(effects)

	return g.check(ctx, epoch, addr)
}

// ChangeAddress moves the session to another account of the same wallet.
func (g *Gate) ChangeAddress(ctx context.Context, addr common.Address) error {
	g.mu.Lock()
	if g.sess == nil {
		g.mu.Unlock()
		return g.Connect(ctx, addr)
	}
	if g.sess.addr == addr {
		g.mu.Unlock()
		return g.Recheck(ctx)
	}
	g.dropSessionLocked()
	epoch := g.beginSessionLocked(addr)
	g.mu.Unlock()

	return g.check(ctx, epoch, addr)
}

// Recheck re-reads the on-chain status while the gate is open, for instance
// after the user returns from the phone app.
func (g *Gate) Recheck(ctx context.Context) error {
	g.mu.Lock()
	if g.sess == nil || !(g.state == StateConnected || g.state == StateChallenging || g.state == StateAwaitingProof) {
		g.mu.Unlock()
		return nil
	}
	epoch, addr := g.epoch, g.sess.addr
	g.mu.Unlock()

	return g.check(ctx, epoch, addr)
}

func (g *Gate) check(ctx context.Context, epoch uint64, addr common.Address) error {
	verified, err := g.chain.IsVerified(ctx, addr)
	if err != nil {
		return fmt.Errorf("reading verification status: %w", err)
	}

	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		return nil
	}
	var effects []func()
	switch {
	case verified:
		effects = g.markVerifiedLocked()
	case g.state == StateConnected:
		effects = g.openLocked()
	}
	g.mu.Unlock()
	run(effects)
	return nil
}

// ProofSucceeded handles the capture UI's success callback for challengeID.
// It uses a proof already pushed on the stream, or fetches the latest one.
// Late and duplicate callbacks are ignored.
func (g *Gate) ProofSucceeded(ctx context.Context, challengeID string) error {
	g.mu.Lock()
	if g.sess == nil || g.state != StateChallenging {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	c, err := g.challenger.Spend(challengeID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.sess == nil || g.state != StateChallenging || g.sess.challenge == nil || g.sess.challenge.ID != c.ID {
		g.mu.Unlock()
		return nil
	}
	g.setStateLocked(StateAwaitingProof)
	epoch, addr := g.epoch, g.sess.addr
	g.mu.Unlock()

	proof, err := g.proofs.Latest(ctx, addr)
	if errors.Is(err, identity.ErrNoProof) {
		g.logger.Debug("no proof yet, waiting for push", "address", addr)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching latest proof: %w", err)
	}
	return g.deliver(ctx, epoch, proof)
}

// ProofDelivered handles a proof from the push stream. A proof for the
// session's address moves the gate to submitting; anything else is ignored.
func (g *Gate) ProofDelivered(ctx context.Context, proof identity.Proof) error {
	g.mu.Lock()
	epoch := g.epoch
	g.mu.Unlock()
	return g.deliver(ctx, epoch, proof)
}

func (g *Gate) deliver(ctx context.Context, epoch uint64, proof identity.Proof) error {
	if proof.Nullifier == nil {
		return fmt.Errorf("proof without nullifier")
	}
	g.mu.Lock()
	if g.epoch != epoch || g.sess == nil || !proof.Matches(g.sess.addr) {
		g.mu.Unlock()
		return nil
	}
	// Only one submission is in flight. Once it fails the gate is back in
	// challenging and the same nullifier may be sent again.
	if g.state != StateChallenging && g.state != StateAwaitingProof {
		state := g.state
		g.mu.Unlock()
		g.logger.Debug("ignoring duplicate proof", "state", state)
		return nil
	}
	g.setStateLocked(StateSubmitting)
	addr := g.sess.addr
	g.mu.Unlock()

	return g.submit(ctx, epoch, addr, proof.Nullifier)
}

func (g *Gate) submit(ctx context.Context, epoch uint64, addr common.Address, nullifier *big.Int) error {
	g.logger.Info("storing verification proof", "address", addr)

	tx, err := g.chain.StoreVerificationProof(ctx, nullifier)
	if err == nil {
		var res chains.TxResult
		res, err = tx.Wait(ctx)
		if err == nil && res.Status == chains.TxFailed {
			err = res.Err
		}
	}
	if err != nil {
		return g.submissionFailed(epoch, err)
	}

	verified, err := g.chain.IsVerified(ctx, addr)
	if err != nil {
		return g.submissionFailed(epoch, err)
	}
	if !verified {
		return g.submissionFailed(epoch, failures.New(failures.PermissionDenied, "gate.submit", "proof stored but address still unverified", ErrNotVerified))
	}

	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		return nil
	}
	effects := g.markVerifiedLocked()
	g.mu.Unlock()
	run(effects)
	return nil
}

// submissionFailed returns the gate to challenging with a fresh challenge.
func (g *Gate) submissionFailed(epoch uint64, cause error) error {
	g.mu.Lock()
	if g.epoch != epoch || g.state != StateSubmitting {
		g.mu.Unlock()
		return cause
	}
	g.sess.retries++
	effects := g.rebuildLocked()
	retries := g.sess.retries
	g.mu.Unlock()
	run(effects)

	g.logger.Warn("verification submission failed", "retries", retries, "error", cause)
	return cause
}

// Retry replaces the challenge with a fresh one.
func (g *Gate) Retry() (*identity.Challenge, error) {
	g.mu.Lock()
	if g.sess == nil || (g.state != StateChallenging && g.state != StateAwaitingProof) {
		g.mu.Unlock()
		return nil, ErrNotOpen
	}
	g.sess.retries++
	effects := g.rebuildLocked()
	c := g.sess.challenge
	g.mu.Unlock()
	run(effects)
	return c, nil
}

// Close handles the user dismissing the gate. Before verification this
// disconnects the wallet.
func (g *Gate) Close() {
	g.abandon(nil)
}

// ProofFailed handles the capture UI's error callback.
func (g *Gate) ProofFailed(reason error) {
	g.abandon(reason)
}

func (g *Gate) abandon(reason error) {
	g.mu.Lock()
	if !g.state.Open() {
		g.mu.Unlock()
		return
	}
	effects := g.closeDisplayLocked()
	g.dropSessionLocked()
	g.setStateLocked(StateDisconnected)
	g.mu.Unlock()
	run(effects)

	g.logger.Info("verification abandoned, disconnecting wallet", "reason", reason)
	g.wallet.Disconnect()
}

// Disconnect ends the session after the wallet disconnected on its own.
// Verification is re-checked from scratch on the next Connect.
func (g *Gate) Disconnect() {
	g.mu.Lock()
	effects := g.closeDisplayLocked()
	g.dropSessionLocked()
	g.setStateLocked(StateDisconnected)
	g.mu.Unlock()
	run(effects)
}

// WaitVerified blocks until the session verifies (nil), ends (ErrAbandoned)
// or ctx is done.
func (g *Gate) WaitVerified(ctx context.Context) error {
	for {
		g.mu.Lock()
		state, changed := g.state, g.changed
		g.mu.Unlock()

		switch state {
		case StateVerified:
			return nil
		case StateDisconnected:
			return ErrAbandoned
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gate) beginSessionLocked(addr common.Address) uint64 {
	g.epoch++
	g.sess = &session{addr: addr}
	g.setStateLocked(StateConnected)
	return g.epoch
}

func (g *Gate) dropSessionLocked() {
	if g.sess != nil {
		if g.sess.cancel != nil {
			g.sess.cancel()
		}
		g.challenger.Forget(g.sess.addr)
		g.sess = nil
	}
	g.epoch++
}

func (g *Gate) closeDisplayLocked() []func() {
	if !g.displayed {
		return nil
	}
	g.displayed = false
	return []func(){g.display.Close}
}

// openLocked builds the first challenge of the session, starts listening for
// pushed proofs and shows the gate unless it is already visible.
func (g *Gate) openLocked() []func() {
	sess := g.sess
	c := g.challenger.Build(sess.addr)
	sess.challenge = c

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	g.setStateLocked(StateChallenging)

	effects := []func(){func() { go g.watchProofs(ctx, sess.addr) }}
	if g.displayed {
		effects = append(effects, func() { g.display.Update(c) })
	} else {
		g.displayed = true
		effects = append(effects, func() { g.display.Open(c) })
	}
	return effects
}

func (g *Gate) rebuildLocked() []func() {
	c := g.challenger.Build(g.sess.addr)
	g.sess.challenge = c
	g.setStateLocked(StateChallenging)
	return []func(){func() { g.display.Update(c) }}
}

func (g *Gate) markVerifiedLocked() []func() {
	if g.sess.cancel != nil {
		g.sess.cancel()
		g.sess.cancel = nil
	}
	g.challenger.Forget(g.sess.addr)
	g.sess.challenge = nil
	g.setStateLocked(StateVerified)
	return g.closeDisplayLocked()
}

func (g *Gate) setStateLocked(to State) {
	from := g.state
	g.state = to
	close(g.changed)
	g.changed = make(chan struct{})
	if from == to {
		return
	}
	metrics.GateTransition(from.String(), to.String())
	if g.observer != nil {
		g.observer(from, to)
	}
}

func (g *Gate) watchProofs(ctx context.Context, addr common.Address) {
	for proof := range g.proofs.Subscribe(ctx, addr) {
		if err := g.ProofDelivered(ctx, proof); err != nil {
			g.logger.Warn("pushed proof not accepted", "address", addr, "error", err)
		}
	}
}

func run(effects []func()) {
	for _, fn := range effects {
		fn()
	}
}

type nopDisplay struct{}

func (nopDisplay) Open(*identity.Challenge)   {}
func (nopDisplay) Update(*identity.Challenge) {}
func (nopDisplay) Close()                     {}
