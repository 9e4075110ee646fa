package evm

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/celution/bountyd/internal/chains"
)

var errExecutionReverted = errors.New("execution reverted")

// watch polls for the receipt of tx until it is mined or the gateway closes.
// There is no deadline: a transaction stuck in the mempool stays pending.
func (g *Gateway) watch(op string, tx *types.Transaction, from common.Address, handle *chains.Tx) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		ticker := time.NewTicker(g.poll)
		defer ticker.Stop()

		for {
			receipt, err := g.lookupReceipt(tx.Hash())
			switch {
			case err == nil:
				g.resolve(op, tx, from, receipt, handle)
				return
			case errors.Is(err, ethereum.NotFound):
			default:
				g.logger.Debug("receipt lookup failed", "op", op, "tx", tx.Hash().Hex(), "error", err)
			}

			select {
			case <-g.closing:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (g *Gateway) lookupReceipt(hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), receiptLookupTimeout)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.backend.TransactionReceipt(ctx, hash)
}

func (g *Gateway) resolve(op string, tx *types.Transaction, from common.Address, receipt *types.Receipt, handle *chains.Tx) {
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		g.logger.Info("transaction confirmed", "op", op, "tx", tx.Hash().Hex(), "block", block, "gas_used", receipt.GasUsed)
		handle.Confirm(block, receipt.GasUsed)
		return
	}

	err := classify(op, g.replay(tx, from, receipt))
	g.logger.Warn("transaction failed", "op", op, "tx", tx.Hash().Hex(), "block", block, "error", err)
	handle.Fail(block, err)
}

// replay re-executes a failed transaction at its block to recover the revert
// reason, which receipts do not carry.
func (g *Gateway) replay(tx *types.Transaction, from common.Address, receipt *types.Receipt) error {
	ctx, cancel := context.WithTimeout(context.Background(), receiptLookupTimeout)
	defer cancel()

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	if _, err := g.backend.CallContract(ctx, msg, receipt.BlockNumber); err != nil {
		return err
	}
	return errExecutionReverted
}
