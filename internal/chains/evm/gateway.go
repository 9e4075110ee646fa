// Package evm implements the chain gateway for the bounty contract on
// Ethereum and compatible chains.
package evm

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
)

//go:embed bounty.abi.json
var bountyABIJSON string

var bountyABI = mustParseABI(bountyABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parsing bounty ABI: %v", err))
	}
	return parsed
}

// Backend is the RPC surface the gateway needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer produces transaction options for the connected wallet.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Config holds gateway settings.
type Config struct {
	ContractAddress     common.Address
	RequestsPerSecond   float64
	Burst               int
	ReceiptPollInterval time.Duration
}

const receiptLookupTimeout = 15 * time.Second

// Gateway implements chains.Gateway against a deployed bounty contract.
type Gateway struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	signer   Signer
	limiter  *rate.Limiter
	poll     time.Duration
	logger   *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ chains.Gateway = (*Gateway)(nil)

// New creates a gateway over backend. A nil signer makes the gateway
// read-only; write calls then fail with PermissionDenied.
func New(backend Backend, cfg Config, signer Signer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	poll := cfg.ReceiptPollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Gateway{
		backend:  backend,
		contract: bind.NewBoundContract(cfg.ContractAddress, bountyABI, backend, backend, backend),
		address:  cfg.ContractAddress,
		signer:   signer,
		limiter:  rate.NewLimiter(limit, burst),
		poll:     poll,
		logger:   logger.With("component", "chain", "contract", cfg.ContractAddress.Hex()),
		closing:  make(chan struct{}),
	}
}

// Dial connects to rpcURL and creates a gateway.
func Dial(ctx context.Context, rpcURL string, cfg Config, signer Signer, logger *slog.Logger) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc %s: %w", rpcURL, err)
	}
	return New(client, cfg, signer, logger), nil
}

// Close stops receipt watchers. Pending handles stay unresolved.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() { close(g.closing) })
	g.wg.Wait()
}

// issueRecord mirrors the contract's Issue tuple. Field names follow the ABI
// component names so abi.ConvertType can map them.
type issueRecord struct {
	Id                                              *big.Int
	Creator                                         common.Address
	GithubIssueUrl                                  string
	Description                                     string
	Bounty                                          *big.Int
	AssignedTo                                      common.Address
	IsCompleted                                     bool
	PercentageCompleted                             *big.Int
	ClaimedPercentage                               *big.Int
	IsUnderReview                                   bool
	CreatedAt                                       *big.Int
	Difficulty                                      uint8
	Deadline                                        *big.Int
	EasyDuration                                    *big.Int
	MediumDuration                                  *big.Int
	HardDuration                                    *big.Int
	PresentHackerConfidenceScore                    *big.Int
	MinimumBountyCompletionPercentageForStakeReturn *big.Int
}

// ReadIssues returns every issue in contract order. Records with id 0 are
// placeholders and are dropped.
func (g *Gateway) ReadIssues(ctx context.Context) ([]chains.Issue, error) {
	const op = "chain.read_issues"
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, classify(op, err)
	}

	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAllIssues"); err != nil {
		return nil, classify(op, err)
	}
	if len(out) == 0 {
		return nil, failures.New(failures.Unknown, op, "empty result", nil)
	}
	records := *abi.ConvertType(out[0], new([]issueRecord)).(*[]issueRecord)

	issues := make([]chains.Issue, 0, len(records))
	for _, r := range records {
		if r.Id == nil || r.Id.Sign() == 0 {
			continue
		}
		issues = append(issues, r.toIssue())
	}
	return issues, nil
}

func (r issueRecord) toIssue() chains.Issue {
	return chains.Issue{
		ID:               r.Id.Uint64(),
		Creator:          r.Creator,
		TrackerURL:       r.GithubIssueUrl,
		Description:      r.Description,
		Bounty:           orZero(r.Bounty),
		AssignedTo:       r.AssignedTo,
		Completed:        r.IsCompleted,
		PercentCompleted: percent(r.PercentageCompleted),
		ClaimedPercent:   percent(r.ClaimedPercentage),
		UnderReview:      r.IsUnderReview,
		CreatedAt:        orZero(r.CreatedAt).Int64(),
		Difficulty:       chains.Difficulty(r.Difficulty),
		Deadline:         orZero(r.Deadline).Int64(),
		Durations: chains.Durations{
			Easy:   seconds(r.EasyDuration),
			Medium: seconds(r.MediumDuration),
			Hard:   seconds(r.HardDuration),
		},
		ConfidenceScore:             orZero(r.PresentHackerConfidenceScore).Uint64(),
		MinCompletionForStakeReturn: percent(r.MinimumBountyCompletionPercentageForStakeReturn),
	}
}

// IsVerified reads the on-chain verification flag for addr.
func (g *Gateway) IsVerified(ctx context.Context, addr common.Address) (bool, error) {
	const op = "chain.is_verified"
	if err := g.limiter.Wait(ctx); err != nil {
		return false, classify(op, err)
	}

	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAddressVerified", addr); err != nil {
		return false, classify(op, err)
	}
	if len(out) == 0 {
		return false, failures.New(failures.Unknown, op, "empty result", nil)
	}
	verified, ok := out[0].(bool)
	if !ok {
		return false, failures.New(failures.Unknown, op, fmt.Sprintf("unexpected result type %T", out[0]), nil)
	}
	return verified, nil
}

// CreateIssue broadcasts createIssue with the bounty attached as value.
func (g *Gateway) CreateIssue(ctx context.Context, req chains.CreateIssueRequest) (*chains.Tx, error) {
	const op = "chain.create_issue"
	if req.Bounty == nil || req.Bounty.Sign() <= 0 {
		return nil, failures.New(failures.InvalidAmount, op, "bounty must be greater than zero", nil)
	}
	if !req.Difficulty.Valid() {
		return nil, failures.New(failures.InvalidAmount, op, "unknown difficulty", nil)
	}
	return g.transact(ctx, op, req.Bounty, "createIssue",
		req.TrackerURL,
		req.Description,
		uint8(req.Difficulty),
		durationSeconds(req.Durations.Easy),
		durationSeconds(req.Durations.Medium),
		durationSeconds(req.Durations.Hard),
		new(big.Int).SetUint64(uint64(req.MinCompletionPct)),
	)
}

// TakeIssue broadcasts takeIssue with stake attached as value.
func (g *Gateway) TakeIssue(ctx context.Context, id uint64, stake *big.Int) (*chains.Tx, error) {
	const op = "chain.take_issue"
	if stake == nil || stake.Sign() <= 0 {
		return nil, failures.New(failures.InvalidAmount, op, "stake must be greater than zero", nil)
	}
	return g.transact(ctx, op, stake, "takeIssue", new(big.Int).SetUint64(id))
}

// StoreVerificationProof broadcasts storeNullifier.
func (g *Gateway) StoreVerificationProof(ctx context.Context, nullifier *big.Int) (*chains.Tx, error) {
	const op = "chain.store_nullifier"
	if nullifier == nil || nullifier.Sign() < 0 {
		return nil, failures.New(failures.Unknown, op, "invalid nullifier", nil)
	}
	return g.transact(ctx, op, nil, "storeNullifier", nullifier)
}

func (g *Gateway) transact(ctx context.Context, op string, value *big.Int, method string, args ...any) (*chains.Tx, error) {
	if g.signer == nil {
		return nil, failures.New(failures.PermissionDenied, op, "no wallet connected", nil)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, classify(op, err)
	}
	opts, err := g.signer.TransactOpts(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := g.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, classify(op, err)
	}

	g.logger.Info("transaction broadcast", "op", op, "tx", tx.Hash().Hex(), "from", opts.From.Hex())
	handle := chains.NewTx(tx.Hash())
	g.watch(op, tx, opts.From, handle)
	return handle, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func percent(v *big.Int) uint8 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if v.Cmp(big.NewInt(100)) > 0 {
		return 100
	}
	return uint8(v.Uint64())
}

func seconds(v *big.Int) time.Duration {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return time.Duration(v.Int64()) * time.Second
}

func durationSeconds(d time.Duration) *big.Int {
	return big.NewInt(int64(d / time.Second))
}
