package chains

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the lifecycle state of a broadcast transaction.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "pending"
	}
}

// TxResult is the resolved outcome of a transaction. Err is set (and
// classified) when Status is TxFailed.
type TxResult struct {
	Status      TxStatus
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Err         error
}

// Tx is a handle to a broadcast transaction. It resolves exactly once.
type Tx struct {
	hash   common.Hash
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	result TxResult
}

// NewTx creates a pending handle for hash.
func NewTx(hash common.Hash) *Tx {
	return &Tx{
		hash:   hash,
		done:   make(chan struct{}),
		result: TxResult{Status: TxPending, Hash: hash},
	}
}

// Hash returns the transaction hash.
func (t *Tx) Hash() common.Hash { return t.hash }

// Done is closed when the transaction resolves.
func (t *Tx) Done() <-chan struct{} { return t.done }

// Result returns the current state; Status is TxPending until resolution.
func (t *Tx) Result() TxResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Confirm resolves the handle as confirmed. Later resolutions are ignored.
func (t *Tx) Confirm(blockNumber, gasUsed uint64) {
	t.resolve(TxResult{Status: TxConfirmed, Hash: t.hash, BlockNumber: blockNumber, GasUsed: gasUsed})
}

// Fail resolves the handle as failed. Later resolutions are ignored.
func (t *Tx) Fail(blockNumber uint64, err error) {
	t.resolve(TxResult{Status: TxFailed, Hash: t.hash, BlockNumber: blockNumber, Err: err})
}

func (t *Tx) resolve(res TxResult) {
	t.once.Do(func() {
		t.mu.Lock()
		t.result = res
		t.mu.Unlock()
		close(t.done)
	})
}

// Wait blocks until the transaction resolves or ctx is done. There is no
// built-in timeout; a cancelled ctx only stops waiting.
func (t *Tx) Wait(ctx context.Context) (TxResult, error) {
	select {
	case <-t.done:
		return t.Result(), nil
	case <-ctx.Done():
		return t.Result(), ctx.Err()
	}
}
