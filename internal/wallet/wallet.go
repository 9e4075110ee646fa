// Package wallet holds the local signing key used for bounty transactions.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/celution/bountyd/internal/failures"
)

// ErrDisconnected is returned when signing after Disconnect.
var ErrDisconnected = errors.New("wallet disconnected")

// Wallet is a connected signer. It implements evm.Signer and the
// verification gate's Wallet.
type Wallet struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	connected bool
}

// FromHex connects a wallet from a hex-encoded private key.
func FromHex(hexKey string, chainID *big.Int) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return newWallet(key, chainID), nil
}

// FromKeystore connects a wallet from an encrypted keystore file. A wrong
// passphrase is reported as a rejection.
func FromKeystore(path, passphrase string, chainID *big.Int) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if errors.Is(err, keystore.ErrDecrypt) {
		return nil, failures.New(failures.UserRejected, "wallet.connect", "could not unlock keystore", err)
	}
	if err != nil {
		return nil, fmt.Errorf("decrypting keystore: %w", err)
	}
	return newWallet(key.PrivateKey, chainID), nil
}

func newWallet(key *ecdsa.PrivateKey, chainID *big.Int) *Wallet {
	return &Wallet{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   new(big.Int).Set(chainID),
		connected: true,
	}
}

// Address returns the wallet address. It stays readable after Disconnect.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Connected reports whether the wallet can still sign.
func (w *Wallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// TransactOpts returns signing options bound to ctx.
func (w *Wallet) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return nil, failures.New(failures.UserRejected, "wallet.sign", "wallet is disconnected", ErrDisconnected)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("creating transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Disconnect drops the key. Later signing attempts fail.
func (w *Wallet) Disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.key = nil
	w.connected = false
}
