package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
	"github.com/celution/bountyd/internal/observability/metrics"
	"github.com/celution/bountyd/internal/storage"
	"github.com/celution/bountyd/internal/tracker"
)

// Common errors returned by the coordinator.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrClaimInProgress = errors.New("a claim for this issue is already in progress")
)

const (
	retryAttempts     = 3
	defaultRetryDelay = 250 * time.Millisecond
	orphanSaveTimeout = 10 * time.Second
)

// OrphanRecorder persists issues that were created but never funded.
type OrphanRecorder interface {
	RecordOrphan(ctx context.Context, o *storage.Orphan) error
}

// Coordinator runs the multi-step bounty flows. Tracker steps always precede
// chain steps; a chain failure after the tracker issue exists is reported as
// a partial completion and persisted as an orphan.
type Coordinator struct {
	chain      chains.Gateway
	tracker    tracker.Gateway
	orphans    OrphanRecorder
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration

	mu       sync.Mutex
	pending  map[string]*PendingOperation
	claiming map[uint64]struct{}
	listed   map[tracker.RepoRef][]tracker.Issue
	snapshot []chains.Issue

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCoordinator creates a coordinator. orphans may be nil, in which case
// unfunded issues are only logged.
func NewCoordinator(chain chains.Gateway, tr tracker.Gateway, orphans OrphanRecorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		chain:      chain,
		tracker:    tr,
		orphans:    orphans,
		logger:     logger.With("component", "coordinator"),
		now:        time.Now,
		retryDelay: defaultRetryDelay,
		pending:    make(map[string]*PendingOperation),
		claiming:   make(map[uint64]struct{}),
		listed:     make(map[tracker.RepoRef][]tracker.Issue),
		closing:    make(chan struct{}),
	}
}

// Close stops background reconciliation and waits for it to return.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
	c.wg.Wait()
}

// Pending returns the operations whose funding transaction has not resolved.
func (c *Coordinator) Pending() []PendingOperation {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]PendingOperation, 0, len(c.pending))
	for _, op := range c.pending {
		ops = append(ops, *op)
	}
	return ops
}

// LoadIssues fetches the tracker issues of repo and makes them the visible list.
func (c *Coordinator) LoadIssues(ctx context.Context, repo tracker.RepoRef) ([]tracker.Issue, error) {
	var issues []tracker.Issue
	err := c.retry(ctx, func() error {
		var err error
		issues, err = c.tracker.ListIssues(ctx, repo)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.listed[repo] = issues
	c.mu.Unlock()
	return append([]tracker.Issue(nil), issues...), nil
}

// Issues returns the visible tracker issues of repo.
func (c *Coordinator) Issues(repo tracker.RepoRef) []tracker.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tracker.Issue(nil), c.listed[repo]...)
}

// Refresh reads every on-chain issue and replaces the snapshot.
func (c *Coordinator) Refresh(ctx context.Context) ([]chains.Issue, error) {
	var issues []chains.Issue
	err := c.retry(ctx, func() error {
		var err error
		issues, err = c.chain.ReadIssues(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = issues
	c.mu.Unlock()
	return append([]chains.Issue(nil), issues...), nil
}

// Snapshot returns the last on-chain read.
func (c *Coordinator) Snapshot() []chains.Issue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chains.Issue(nil), c.snapshot...)
}

// CreateAndFund opens a tracker issue and funds it on-chain. A tracker
// failure leaves the chain untouched. A chain failure after the issue exists
// returns a PartialCompletion error wrapping the chain cause. If ctx ends
// before the transaction resolves, the result is marked Pending and
// reconciliation continues in the background.
func (c *Coordinator) CreateAndFund(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateCreate(&req); err != nil {
		metrics.BountyOperation("create", "invalid")
		return nil, err
	}

	labels := tracker.BountyLabels()
	if err := c.retry(ctx, func() error { return c.tracker.EnsureLabels(ctx, req.Repo, labels) }); err != nil {
		c.logger.Warn("could not create bounty labels", "repo", req.Repo, "error", err)
	}

	issue, err := c.tracker.CreateIssue(ctx, req.Repo, tracker.NewIssue{
		Title:  req.Title,
		Body:   req.Description,
		Labels: tracker.IssueLabels(req.Difficulty, req.Labels...),
	})
	if err != nil {
		metrics.BountyOperation("create", failures.ClassOf(err).String())
		return nil, err
	}

	op := &PendingOperation{
		ID:         uuid.NewString(),
		Repo:       req.Repo,
		TrackerURL: issue.HTMLURL,
		Bounty:     new(big.Int).Set(req.Bounty),
		Difficulty: req.Difficulty,
		Creator:    req.Creator,
		StartedAt:  c.now(),
	}
	c.mu.Lock()
	c.pending[op.ID] = op
	c.mu.Unlock()

	tx, err := c.chain.CreateIssue(ctx, chains.CreateIssueRequest{
		TrackerURL:       issue.HTMLURL,
		Description:      req.Description,
		Difficulty:       req.Difficulty,
		Durations:        req.Durations,
		MinCompletionPct: req.MinCompletionPct,
		Bounty:           req.Bounty,
	})
	if err != nil {
		return &CreateResult{Issue: issue}, c.fundingFailed(op, err)
	}

	c.mu.Lock()
	op.TxHash = tx.Hash()
	c.mu.Unlock()
	c.logger.Info("funding transaction sent", "issue", issue.HTMLURL, "tx", tx.Hash())

	res, err := tx.Wait(ctx)
	if err != nil {
		c.background(func() {
			select {
			case <-tx.Done():
				if _, err := c.settleFunding(op, issue, tx.Result()); err != nil {
					c.logger.Error("background funding failed", "issue", op.TrackerURL, "error", err)
				}
			case <-c.closing:
				c.logger.Warn("shutting down with unresolved funding", "issue", op.TrackerURL, "tx", op.TxHash)
			}
		})
		return &CreateResult{Issue: issue, TxHash: tx.Hash(), Pending: true}, err
	}
	return c.settleFunding(op, issue, res)
}

func (c *Coordinator) settleFunding(op *PendingOperation, issue *tracker.Issue, res chains.TxResult) (*CreateResult, error) {
	result := &CreateResult{Issue: issue, TxHash: res.Hash, BlockNumber: res.BlockNumber}
	if res.Status != chains.TxConfirmed {
		return result, c.fundingFailed(op, res.Err)
	}

	c.mu.Lock()
	delete(c.pending, op.ID)
	c.listed[op.Repo] = append([]tracker.Issue{*issue}, c.listed[op.Repo]...)
	c.mu.Unlock()

	metrics.BountyOperation("create", "confirmed")
	c.logger.Info("bounty funded", "issue", issue.HTMLURL, "tx", res.Hash, "block", res.BlockNumber)
	return result, nil
}

func (c *Coordinator) fundingFailed(op *PendingOperation, cause error) error {
	if cause == nil {
		cause = failures.New(failures.Unknown, "chain.create_issue", "transaction failed", nil)
	}
	c.mu.Lock()
	delete(c.pending, op.ID)
	c.mu.Unlock()

	metrics.BountyOperation("create", failures.PartialCompletion.String())
	c.recordOrphan(op, cause)
	return failures.Partial("bounties.create_and_fund", op.TrackerURL, cause)
}

func (c *Coordinator) recordOrphan(op *PendingOperation, cause error) {
	c.logger.Error("issue created but bounty not funded", "issue", op.TrackerURL, "error", cause)
	if c.orphans == nil {
		return
	}

	o := &storage.Orphan{
		TrackerURL:   op.TrackerURL,
		Repo:         op.Repo.String(),
		Bounty:       op.Bounty.String(),
		Difficulty:   op.Difficulty.String(),
		FailureClass: failures.ClassOf(cause).String(),
		Reason:       failures.Message(cause),
	}
	if op.Creator != chains.ZeroAddress {
		o.Creator = strings.ToLower(op.Creator.Hex())
	}
	if op.TxHash != (common.Hash{}) {
		o.TxHash = op.TxHash.Hex()
	}

	ctx, cancel := context.WithTimeout(context.Background(), orphanSaveTimeout)
	defer cancel()
	if err := c.orphans.RecordOrphan(ctx, o); err != nil {
		c.logger.Error("recording orphan failed", "issue", op.TrackerURL, "error", err)
		return
	}
	metrics.OrphanRecorded()
}

// Claim stakes on an issue and takes it. Only one claim per issue may be in
// flight; a concurrent attempt fails with ErrClaimInProgress before any
// network call. The lock is released whatever the outcome.
func (c *Coordinator) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	if !c.acquire(req.IssueID) {
		metrics.BountyOperation("claim", "duplicate")
		return nil, ErrClaimInProgress
	}
	release := func() { c.release(req.IssueID) }

	issue, err := c.lookup(ctx, req.IssueID)
	if err != nil {
		release()
		return nil, err
	}

	stake := req.Stake
	if stake == nil {
		stake = DefaultStake(issue.Bounty)
	}
	if stake == nil || stake.Sign() <= 0 {
		release()
		metrics.BountyOperation("claim", "invalid")
		return nil, failures.New(failures.InvalidAmount, "bounties.claim", "stake must be greater than zero", nil)
	}

	tx, err := c.chain.TakeIssue(ctx, req.IssueID, stake)
	if err != nil {
		release()
		metrics.BountyOperation("claim", failures.ClassOf(err).String())
		return nil, err
	}
	c.logger.Info("claim transaction sent", "issue", req.IssueID, "stake", stake, "tx", tx.Hash())

	res, err := tx.Wait(ctx)
	if err != nil {
		c.background(func() {
			defer release()
			select {
			case <-tx.Done():
				if _, err := c.settleClaim(context.Background(), req.IssueID, stake, tx.Result()); err != nil {
					c.logger.Warn("background claim failed", "issue", req.IssueID, "error", err)
				}
			case <-c.closing:
			}
		})
		return &ClaimResult{Stake: stake, TxHash: tx.Hash(), Pending: true}, err
	}

	defer release()
	return c.settleClaim(ctx, req.IssueID, stake, res)
}

func (c *Coordinator) settleClaim(ctx context.Context, id uint64, stake *big.Int, res chains.TxResult) (*ClaimResult, error) {
	result := &ClaimResult{Stake: stake, TxHash: res.Hash}
	if res.Status != chains.TxConfirmed {
		metrics.BountyOperation("claim", failures.ClassOf(res.Err).String())
		return result, res.Err
	}
	metrics.BountyOperation("claim", "confirmed")

	issues, err := c.Refresh(ctx)
	if err != nil {
		c.logger.Warn("refreshing issues after claim failed", "issue", id, "error", err)
		return result, nil
	}
	for i := range issues {
		if issues[i].ID == id {
			result.Issue = &issues[i]
			break
		}
	}
	return result, nil
}

// lookup finds id in the snapshot, reading the chain once if it is missing.
func (c *Coordinator) lookup(ctx context.Context, id uint64) (chains.Issue, error) {
	if issue, ok := c.fromSnapshot(id); ok {
		return issue, nil
	}
	if _, err := c.Refresh(ctx); err != nil {
		return chains.Issue{}, err
	}
	if issue, ok := c.fromSnapshot(id); ok {
		return issue, nil
	}
	return chains.Issue{}, failures.New(failures.NotFound, "bounties.claim", fmt.Sprintf("issue %d not found", id), nil)
}

func (c *Coordinator) fromSnapshot(id uint64) (chains.Issue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, issue := range c.snapshot {
		if issue.ID == id {
			return issue, true
		}
	}
	return chains.Issue{}, false
}

func (c *Coordinator) acquire(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.claiming[id]; busy {
		return false
	}
	c.claiming[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claiming, id)
}

func (c *Coordinator) background(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// retry repeats fn while it fails with a transient error, doubling the
// delay between attempts. Only steps that have no side effects are retried.
// The last error from fn is returned, even when ctx ends the wait.
func (c *Coordinator) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	var last error
	err := backoff.Retry(func() error {
		last = fn()
		if last != nil && !failures.Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, backoff.WithContext(backoff.WithMaxRetries(b, retryAttempts-1), ctx))
	if err != nil && last != nil {
		return last
	}
	return err
}

// DefaultStake is a tenth of the bounty.
func DefaultStake(bounty *big.Int) *big.Int {
	if bounty == nil {
		return nil
	}
	return new(big.Int).Quo(bounty, big.NewInt(10))
}

func validateCreate(req *CreateRequest) error {
	if req.Repo.Owner == "" || req.Repo.Name == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if !req.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %d", ErrInvalidRequest, req.Difficulty)
	}
	if req.MinCompletionPct > 100 {
		return fmt.Errorf("%w: minimum completion must be between 0 and 100", ErrInvalidRequest)
	}
	if req.Bounty == nil || req.Bounty.Sign() <= 0 {
		return failures.New(failures.InvalidAmount, "bounties.create_and_fund", "bounty must be greater than zero", nil)
	}

	if req.Durations == (chains.Durations{}) {
		req.Durations = chains.DefaultDurations
	}
	if req.Durations.Easy <= 0 || req.Durations.Medium <= 0 || req.Durations.Hard <= 0 {
		return fmt.Errorf("%w: every difficulty needs a positive duration", ErrInvalidRequest)
	}
	return nil
}
