package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earnly/credit-engine/inventory"
	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/store/memory"
)

var now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newPool(t *testing.T, codes ...string) *memory.Memory {
	t.Helper()
	ctx := context.Background()
	m := memory.New(memory.WithClock(func() time.Time { return now }))
	require.NoError(t, m.SaveReward(ctx, ledger.Reward{ID: "steam-20", Title: "Steam $20", Price: 2000, Active: true}))
	var pool []ledger.GiftCode
	for _, c := range codes {
		pool = append(pool, ledger.GiftCode{Code: c})
	}
	if len(pool) > 0 {
		require.NoError(t, m.AddCodes(ctx, "steam-20", pool))
	}
	return m
}

func TestCanTransition(t *testing.T) {
	assert.True(t, inventory.CanTransition(ledger.CodeFree, ledger.CodeUsed))
	assert.True(t, inventory.CanTransition(ledger.CodeFree, ledger.CodeReserved))
	assert.True(t, inventory.CanTransition(ledger.CodeReserved, ledger.CodeFree))
	assert.True(t, inventory.CanTransition(ledger.CodeReserved, ledger.CodeUsed))

	// used is terminal
	assert.False(t, inventory.CanTransition(ledger.CodeUsed, ledger.CodeFree))
	assert.False(t, inventory.CanTransition(ledger.CodeUsed, ledger.CodeReserved))
	assert.False(t, inventory.CanTransition(ledger.CodeFree, ledger.CodeFree))
}

func TestAllocate_EmptyPoolIsOutOfStock(t *testing.T) {
	// GIVEN: A reward whose stock counter says 3 but whose pool is empty
	m := newPool(t)
	ctx := context.Background()
	require.NoError(t, m.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.IncrementStock(ctx, "steam-20", 3)
	}))

	// WHEN: Allocating
	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := inventory.AllocateOneFreeCode(ctx, tx, "steam-20")
		return err
	})

	// THEN: The pool wins over the counter
	assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	assert.Equal(t, ledger.KindFailedPrecondition, ledger.KindOf(err))
}

func TestConsume_MarksUsed(t *testing.T) {
	m := newPool(t, "STEAM-20-AAAAAA")
	ctx := context.Background()

	var used ledger.GiftCode
	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		code, err := inventory.AllocateOneFreeCode(ctx, tx, "steam-20")
		if err != nil {
			return err
		}
		used, err = inventory.Consume(ctx, tx, code, "u1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.CodeUsed, used.Status)
	assert.Equal(t, "u1", used.UsedBy)
	require.NotNil(t, used.UsedAt)
	assert.Equal(t, now, *used.UsedAt)

	// a used code can never be consumed again
	err = m.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := inventory.Consume(ctx, tx, used, "u2")
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestReserveAndClaim(t *testing.T) {
	// GIVEN: A pool with one code
	m := newPool(t, "STEAM-20-BBBBBB")
	ctx := context.Background()

	// WHEN: Reserving it for u1
	hold, err := inventory.Reserve(ctx, m, ledger.DefaultRetryPolicy(), "steam-20", "u1")
	require.NoError(t, err)

	// THEN: The code is held and out of stock
	reserved, err := m.ListCodes(ctx, "steam-20", ledger.CodeReserved)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	assert.Equal(t, "u1", reserved[0].ReservedBy)
	assert.Equal(t, now, *reserved[0].ReservedAt)

	r, err := m.GetReward(ctx, "steam-20")
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.Stock)

	_, err = inventory.Reserve(ctx, m, ledger.DefaultRetryPolicy(), "steam-20", "u2")
	assert.ErrorIs(t, err, ledger.ErrOutOfStock)

	// another user cannot claim the hold
	err = m.WithTx(ctx, func(tx ledger.Tx) error {
		_, err := inventory.Claim(ctx, tx, inventory.Hold{RewardID: hold.RewardID, CodeID: hold.CodeID, UserID: "u2"})
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	err = m.WithTx(ctx, func(tx ledger.Tx) error {
		code, err := inventory.Claim(ctx, tx, hold)
		if err != nil {
			return err
		}
		_, err = inventory.Consume(ctx, tx, code, hold.UserID)
		return err
	})
	require.NoError(t, err)

	used, err := m.ListCodes(ctx, "steam-20", ledger.CodeUsed)
	require.NoError(t, err)
	require.Len(t, used, 1)
	assert.Empty(t, used[0].ReservedBy)
	assert.Nil(t, used[0].ReservedAt)
}
