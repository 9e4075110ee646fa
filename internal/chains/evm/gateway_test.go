package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/chains"
	"github.com/celution/bountyd/internal/failures"
)

var contractAddr = common.HexToAddress("0x05B5C305e16382cF1C94165308b90D79A7334F50")

// fakeBackend answers contract calls from in-memory state. Methods the
// gateway never reaches are left to the embedded nil interface.
type fakeBackend struct {
	bind.ContractBackend

	mu        sync.Mutex
	issues    []issueRecord
	verified  map[common.Address]bool
	code      []byte
	callErr   error
	revertErr error
	sendErr   error
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		verified: make(map[common.Address]bool),
		receipts: make(map[common.Hash]*types.Receipt),
		code:     []byte{0x60, 0x80},
	}
}

func (f *fakeBackend) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	method, err := bountyABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "getAllIssues":
		return method.Outputs.Pack(f.issues)
	case "isAddressVerified":
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(f.verified[args[0].(common.Address)])
	default:
		if f.revertErr != nil {
			return nil, f.revertErr
		}
		return nil, nil
	}
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) mine(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: big.NewInt(42), GasUsed: 21000}
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) keySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return keySigner{key: key}
}

func (s keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s keySigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, big.NewInt(1337))
	if err != nil {
		return nil, err
	}
	opts.GasPrice = big.NewInt(1)
	opts.GasLimit = 300000
	opts.Nonce = big.NewInt(0)
	return opts, nil
}

func newTestGateway(backend *fakeBackend, signer Signer) *Gateway {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(backend, Config{ContractAddress: contractAddr, ReceiptPollInterval: 5 * time.Millisecond}, signer, logger)
}

func record(id int64, assigned common.Address) issueRecord {
	return issueRecord{
		Id:                           big.NewInt(id),
		Creator:                      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		GithubIssueUrl:               fmt.Sprintf("https://github.com/acme/widgets/issues/%d", id),
		Description:                  "fix the widget",
		Bounty:                       big.NewInt(1e17),
		AssignedTo:                   assigned,
		PercentageCompleted:          big.NewInt(0),
		ClaimedPercentage:            big.NewInt(0),
		CreatedAt:                    big.NewInt(1_700_000_000),
		Difficulty:                   1,
		Deadline:                     big.NewInt(0),
		EasyDuration:                 big.NewInt(7 * 86400),
		MediumDuration:               big.NewInt(30 * 86400),
		HardDuration:                 big.NewInt(150 * 86400),
		PresentHackerConfidenceScore: big.NewInt(0),
		MinimumBountyCompletionPercentageForStakeReturn: big.NewInt(80),
	}
}

func TestGateway_ReadIssues(t *testing.T) {
	backend := newFakeBackend()
	assignee := common.HexToAddress("0x2222222222222222222222222222222222222222")
	backend.issues = []issueRecord{record(0, chains.ZeroAddress), record(1, chains.ZeroAddress), record(2, assignee)}
	g := newTestGateway(backend, nil)
	defer g.Close()

	issues, err := g.ReadIssues(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 2, "id 0 is dropped")

	assert.Equal(t, uint64(1), issues[0].ID)
	assert.False(t, issues[0].IsAssigned())
	assert.Equal(t, chains.Medium, issues[0].Difficulty)
	assert.Equal(t, 30*24*time.Hour, issues[0].Durations.Medium)
	assert.Equal(t, uint8(80), issues[0].MinCompletionForStakeReturn)
	assert.Equal(t, "https://github.com/acme/widgets/issues/1", issues[0].TrackerURL)

	assert.Equal(t, assignee, issues[1].AssignedTo)
	assert.True(t, issues[1].IsAssigned())
}

func TestGateway_IsVerified(t *testing.T) {
	backend := newFakeBackend()
	addr := common.HexToAddress("0x3333333333333333333333333333333333333333")
	backend.verified[addr] = true
	g := newTestGateway(backend, nil)
	defer g.Close()

	ok, err := g.IsVerified(context.Background(), addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsVerified(context.Background(), common.HexToAddress("0x4444444444444444444444444444444444444444"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateway_ReadIssuesNetworkFailureIsTransient(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = context.DeadlineExceeded
	g := newTestGateway(backend, nil)
	defer g.Close()

	_, err := g.ReadIssues(context.Background())
	assert.Equal(t, failures.Transient, failures.ClassOf(err))
}

func TestGateway_WriteWithoutSigner(t *testing.T) {
	g := newTestGateway(newFakeBackend(), nil)
	defer g.Close()

	_, err := g.TakeIssue(context.Background(), 1, big.NewInt(1))
	assert.Equal(t, failures.PermissionDenied, failures.ClassOf(err))
}

func TestGateway_TakeIssueRejectsZeroStake(t *testing.T) {
	backend := newFakeBackend()
	g := newTestGateway(backend, newKeySigner(t))
	defer g.Close()

	_, err := g.TakeIssue(context.Background(), 1, big.NewInt(0))
	assert.Equal(t, failures.InvalidAmount, failures.ClassOf(err))
	assert.Empty(t, backend.sent)
}

func TestGateway_TakeIssueConfirms(t *testing.T) {
	backend := newFakeBackend()
	g := newTestGateway(backend, newKeySigner(t))
	defer g.Close()

	tx, err := g.TakeIssue(context.Background(), 7, big.NewInt(1e16))
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	assert.Equal(t, tx.Hash(), backend.sent[0].Hash())
	assert.Equal(t, big.NewInt(1e16), backend.sent[0].Value())
	assert.Equal(t, chains.TxPending, tx.Result().Status)

	backend.mine(tx.Hash(), types.ReceiptStatusSuccessful)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, chains.TxConfirmed, res.Status)
	assert.Equal(t, uint64(42), res.BlockNumber)
}

func TestGateway_FailedReceiptIsClassified(t *testing.T) {
	backend := newFakeBackend()
	backend.revertErr = errors.New("execution reverted: User not verified")
	g := newTestGateway(backend, newKeySigner(t))
	defer g.Close()

	tx, err := g.CreateIssue(context.Background(), chains.CreateIssueRequest{
		TrackerURL:       "https://github.com/acme/widgets/issues/9",
		Description:      "d",
		Difficulty:       chains.Easy,
		Durations:        chains.DefaultDurations,
		MinCompletionPct: 80,
		Bounty:           big.NewInt(1e17),
	})
	require.NoError(t, err)

	backend.mine(tx.Hash(), types.ReceiptStatusFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, chains.TxFailed, res.Status)
	assert.Equal(t, failures.PermissionDenied, failures.ClassOf(res.Err))
}

func TestGateway_BroadcastRevert(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("execution reverted: Insufficient payment")
	g := newTestGateway(backend, newKeySigner(t))
	defer g.Close()

	_, err := g.TakeIssue(context.Background(), 3, big.NewInt(1))
	assert.Equal(t, failures.InvalidAmount, failures.ClassOf(err))
}

func TestGateway_CheckDeployment(t *testing.T) {
	backend := newFakeBackend()
	g := newTestGateway(backend, nil)
	defer g.Close()

	require.NoError(t, g.CheckDeployment(context.Background(), nil))
	assert.Equal(t, failures.NotFound, failures.ClassOf(g.CheckDeployment(context.Background(), []byte{0x01})))

	backend.code = nil
	assert.Equal(t, failures.NotFound, failures.ClassOf(g.CheckDeployment(context.Background(), nil)))
}
