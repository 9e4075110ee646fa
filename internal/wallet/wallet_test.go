package wallet

import (
	"context"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/failures"
)

var chainID = big.NewInt(44787)

func TestFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	w, err := FromHex(hexKey, chainID)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), w.Address())
	assert.True(t, w.Connected())

	opts, err := w.TransactOpts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, w.Address(), opts.From)
	assert.NotNil(t, opts.Signer)

	_, err = FromHex("not-a-key", chainID)
	assert.Error(t, err)
}

func TestDisconnect(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := newWallet(key, chainID)
	addr := w.Address()

	w.Disconnect()
	assert.False(t, w.Connected())
	assert.Equal(t, addr, w.Address())

	_, err = w.TransactOpts(context.Background())
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, failures.UserRejected, failures.ClassOf(err))

	// second disconnect is harmless
	w.Disconnect()
}

func TestFromKeystore(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	k := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
	data, err := keystore.EncryptKey(k, "hunter2", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	w, err := FromKeystore(path, "hunter2", chainID)
	require.NoError(t, err)
	assert.Equal(t, k.Address, w.Address())

	_, err = FromKeystore(path, "wrong", chainID)
	assert.ErrorIs(t, err, failures.ErrUserRejected)

	_, err = FromKeystore(filepath.Join(t.TempDir(), "missing.json"), "hunter2", chainID)
	assert.Error(t, err)
}
