package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celution/bountyd/internal/proofbus"
	"github.com/celution/bountyd/internal/storage"
)

// mockStore implements ProofStore for testing
type mockStore struct {
	proofs []*storage.Proof
	err    error
}

func (m *mockStore) SaveProof(ctx context.Context, p *storage.Proof) error {
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.proofs {
		if existing.Nullifier == p.Nullifier && existing.UserIdentifier == p.UserIdentifier {
			return storage.ErrDuplicateProof
		}
	}
	p.ID = "proof-" + p.Nullifier
	m.proofs = append(m.proofs, p)
	return nil
}

func (m *mockStore) LatestProof(ctx context.Context, userIdentifier string) (*storage.Proof, error) {
	for i := len(m.proofs) - 1; i >= 0; i-- {
		if userIdentifier == "" || m.proofs[i].UserIdentifier == userIdentifier {
			return m.proofs[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

// mockBus records published events
type mockBus struct {
	mu     sync.Mutex
	events []proofbus.Event
	err    error
}

func (m *mockBus) Publish(ctx context.Context, ev proofbus.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

const userHex = "0x00000000000000000000000000000000000a11ce"

func TestService_RecordProof(t *testing.T) {
	store := &mockStore{}
	bus := &mockBus{}
	svc := NewService(store, bus, testLogger())
	svc.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	t.Run("stores and publishes", func(t *testing.T) {
		rec, err := svc.RecordProof(ctx, ProofSubmission{
			AttestationID:  "1",
			Nullifier:      "0x2a",
			UserIdentifier: "00000000000000000000000000000000000A11CE",
		})
		require.NoError(t, err)
		assert.Equal(t, "42", rec.Nullifier)
		assert.Equal(t, userHex, rec.UserIdentifier)
		assert.False(t, rec.Duplicate)

		require.Len(t, bus.events, 1)
		assert.Equal(t, "42", bus.events[0].Nullifier)
		assert.Equal(t, userHex, bus.events[0].UserIdentifier)
	})

	t.Run("duplicate is acknowledged without publishing", func(t *testing.T) {
		rec, err := svc.RecordProof(ctx, ProofSubmission{Nullifier: "42", UserIdentifier: userHex})
		require.NoError(t, err)
		assert.True(t, rec.Duplicate)
		assert.Len(t, bus.events, 1)
	})

	t.Run("invalid input", func(t *testing.T) {
		tests := []struct {
			name    string
			sub     ProofSubmission
			wantErr error
		}{
			{"missing nullifier", ProofSubmission{UserIdentifier: userHex}, ErrInvalidProof},
			{"negative nullifier", ProofSubmission{Nullifier: "-1", UserIdentifier: userHex}, ErrInvalidProof},
			{"bad user", ProofSubmission{Nullifier: "1", UserIdentifier: "alice"}, ErrInvalidAddress},
			{"missing user", ProofSubmission{Nullifier: "1"}, ErrInvalidAddress},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.RecordProof(ctx, tt.sub)
				assert.ErrorIs(t, err, tt.wantErr)
			})
		}
	})
}

func TestService_RecordProof_PublishFailureKeepsProof(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, &mockBus{err: errors.New("redis down")}, testLogger())

	_, err := svc.RecordProof(context.Background(), ProofSubmission{Nullifier: "7", UserIdentifier: userHex})
	require.NoError(t, err)

	rec, err := svc.Latest(context.Background(), userHex)
	require.NoError(t, err)
	assert.Equal(t, "7", rec.Nullifier)
}

func TestService_RecordProof_StoreError(t *testing.T) {
	bus := &mockBus{}
	svc := NewService(&mockStore{err: errors.New("disk full")}, bus, testLogger())

	_, err := svc.RecordProof(context.Background(), ProofSubmission{Nullifier: "7", UserIdentifier: userHex})
	require.Error(t, err)
	assert.Empty(t, bus.events)
}

func TestService_Latest(t *testing.T) {
	store := &mockStore{}
	svc := NewService(store, &mockBus{}, testLogger())
	ctx := context.Background()

	_, err := svc.Latest(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	other := "0x0000000000000000000000000000000000000b0b"
	_, err = svc.RecordProof(ctx, ProofSubmission{Nullifier: "1", UserIdentifier: userHex})
	require.NoError(t, err)
	_, err = svc.RecordProof(ctx, ProofSubmission{Nullifier: "2", UserIdentifier: other})
	require.NoError(t, err)

	rec, err := svc.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2", rec.Nullifier)

	rec, err = svc.Latest(ctx, "0x00000000000000000000000000000000000A11CE")
	require.NoError(t, err)
	assert.Equal(t, "1", rec.Nullifier)

	_, err = svc.Latest(ctx, "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
