package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

var (
	alice = domain.MustIdentity("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = domain.MustIdentity("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func balanceOf(t *testing.T, s *Store, id domain.Identity) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, s.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		bal, err = tx.Ledger().Balance(ctx, id)
		return err
	}))
	return bal
}

func TestSeedIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	n, err := s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 100}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 999}, {Identity: bob, Amount: 5}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(100), balanceOf(t, s, alice))
	assert.Equal(t, uint64(5), balanceOf(t, s, bob))
}

func TestTransferReceipt(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 100}})
	require.NoError(t, err)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		r, err := tx.Ledger().Transfer(ctx, alice, bob, 40)
		require.NoError(t, err)
		assert.Equal(t, domain.Receipt{
			From: alice, To: bob, Amount: 40,
			FromBefore: 100, FromAfter: 60,
			ToBefore: 0, ToAfter: 40,
		}, r)

		// Staged balances are visible inside the unit.
		bal, err := tx.Ledger().Balance(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), bal)
		return nil
	}))
	assert.Equal(t, uint64(60), balanceOf(t, s, alice))
	assert.Equal(t, uint64(40), balanceOf(t, s, bob))
}

func TestTransferRejections(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 10}})
	require.NoError(t, err)

	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().Transfer(ctx, alice, bob, 11)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().Transfer(ctx, alice, alice, 1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrSameAccount)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Ledger().Transfer(ctx, bob, alice, 0)
		return err
	}))
	assert.Equal(t, uint64(10), balanceOf(t, s, alice))
}

func TestAtomicDiscardsStagedWritesOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 100}})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Ledger().Transfer(ctx, alice, bob, 50); err != nil {
			return err
		}
		if err := tx.Config().Create(ctx, domain.GlobalConfig{Admin: alice}); err != nil {
			return err
		}
		if err := tx.Players().Create(ctx, domain.PlayerAccount{ID: "p1", Owner: alice}); err != nil {
			return err
		}
		if err := tx.Rounds().Append(ctx, domain.Round{ID: "r1", PlayerID: "p1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, uint64(100), balanceOf(t, s, alice))
	assert.Equal(t, uint64(0), balanceOf(t, s, bob))
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Config().Get(ctx)
		assert.ErrorIs(t, err, domain.ErrNotInitialized)
		_, err = tx.Players().Get(ctx, "p1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		rounds, err := tx.Rounds().List(ctx, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, rounds)
		return nil
	}))
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	err := s.View(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Players().Create(ctx, domain.PlayerAccount{ID: "p1", Owner: alice})
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestConfigSingleton(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Config().Create(ctx, domain.GlobalConfig{Admin: alice})
	}))
	err := s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Config().Create(ctx, domain.GlobalConfig{Admin: bob})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyInitialized)
}

func TestRoundsNewestFirstWithPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i, id := range []string{"r1", "r2", "r3"} {
			round := domain.Round{ID: id, PlayerID: "p1", SettledAt: base.Add(time.Duration(i) * time.Hour)}
			if err := tx.Rounds().Append(ctx, round); err != nil {
				return err
			}
		}
		return tx.Rounds().Append(ctx, domain.Round{ID: "other", PlayerID: "p2", SettledAt: base})
	}))
	claimedAt := base.Add(5 * time.Hour)
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Rounds().MarkClaimed(ctx, "r3", claimedAt)
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		rounds, err := tx.Rounds().ListByPlayer(ctx, "p1", domain.ListOpts{Limit: 2})
		require.NoError(t, err)
		require.Len(t, rounds, 2)
		assert.Equal(t, "r3", rounds[0].ID)
		assert.Equal(t, "r2", rounds[1].ID)
		require.NotNil(t, rounds[0].ClaimedAt)
		assert.Equal(t, claimedAt, *rounds[0].ClaimedAt)

		rounds, err = tx.Rounds().ListByPlayer(ctx, "p1", domain.ListOpts{Offset: 2})
		require.NoError(t, err)
		require.Len(t, rounds, 1)
		assert.Equal(t, "r1", rounds[0].ID)

		until := base.Add(30 * time.Minute)
		rounds, err = tx.Rounds().List(ctx, domain.ListOpts{Until: &until})
		require.NoError(t, err)
		assert.Len(t, rounds, 2)
		return nil
	}))
}

func TestAuditLogNewestFirst(t *testing.T) {
	a := NewAuditLog()
	ctx := context.Background()
	require.NoError(t, a.Log(ctx, "first", nil))
	require.NoError(t, a.Log(ctx, "second", map[string]any{"k": "v"}))

	entries, err := a.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].ID)
	assert.Equal(t, "first", entries[1].Event)
}

func TestAuditCommitsWithUnit(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Seed(ctx, []domain.Allocation{{Identity: alice, Amount: 100}})
	require.NoError(t, err)

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Ledger().Transfer(ctx, alice, bob, 40); err != nil {
			return err
		}
		return tx.Audit().Record(ctx, "moved", map[string]any{"amount": 40})
	}))

	failed := errors.New("boom")
	err = s.Atomic(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Ledger().Transfer(ctx, alice, bob, 10); err != nil {
			return err
		}
		if err := tx.Audit().Record(ctx, "moved", map[string]any{"amount": 10}); err != nil {
			return err
		}
		return failed
	})
	require.ErrorIs(t, err, failed)

	entries, err := s.AuditLog().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "moved", entries[0].Event)
	assert.Equal(t, 40, entries[0].Detail["amount"])
	assert.Equal(t, uint64(60), balanceOf(t, s, alice))

	err = s.View(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Audit().Record(ctx, "nope", nil)
	})
	assert.ErrorIs(t, err, errReadOnly)
}
