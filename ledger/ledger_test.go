package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earnly/credit-engine/ledger"
)

// =============================================================================
// CREDITS
// =============================================================================

func TestParseCredits_RoundsHalfUp(t *testing.T) {
	cases := map[string]ledger.Credits{
		"37.6": 38,
		"37.4": 37,
		"2.5":  3,
		"0":    0,
		"100":  100,
		" 12 ": 12,
		"1e2":  100,
	}
	for in, want := range cases {
		got, err := ledger.ParseCredits(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseCredits_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "NaN", "-1", "-0.6", "1e30"} {
		_, err := ledger.ParseCredits(in)
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument, in)
	}
}

func TestRoundCredits_Decimal(t *testing.T) {
	got, err := ledger.RoundCredits(decimal.RequireFromString("0.49"))
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(0), got)
}

func TestAddCredits_Bounds(t *testing.T) {
	sum, ok := ledger.AddCredits(math.MaxInt64-1, 1)
	assert.True(t, ok)
	assert.Equal(t, ledger.Credits(math.MaxInt64), sum)

	_, ok = ledger.AddCredits(math.MaxInt64, 1)
	assert.False(t, ok)

	sum, ok = ledger.AddCredits(10, -15)
	assert.True(t, ok)
	assert.Equal(t, ledger.Credits(-5), sum)
}

func TestUserDeltaApplyTo_Overflow(t *testing.T) {
	u := ledger.User{ID: "u1", Balance: 5e18, TotalEarned: 5e18}

	got, err := ledger.UserDelta{Balance: 5e18, TotalEarned: 5e18}.ApplyTo(u)

	assert.ErrorIs(t, err, ledger.ErrBalanceOverflow)
	assert.Equal(t, u, got)
	assert.Equal(t, ledger.Credits(math.MaxInt64-5), ledger.Ceiling(5))
	assert.Equal(t, ledger.Credits(math.MaxInt64), ledger.Ceiling(-5))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestKindOf(t *testing.T) {
	ib := &ledger.InsufficientBalanceError{Balance: 10, Price: 50, Shortfall: 40}
	region := &ledger.RegionError{RewardID: "amazon-5", Country: "RO", Allowed: []string{"US"}}

	cases := []struct {
		err  error
		kind ledger.Kind
	}{
		{ledger.ErrUserNotFound, ledger.KindNotFound},
		{fmt.Errorf("load: %w", ledger.ErrRewardNotFound), ledger.KindNotFound},
		{ledger.ErrAccountRestricted, ledger.KindPermissionDenied},
		{ledger.ErrRewardInactive, ledger.KindFailedPrecondition},
		{ledger.ErrOutOfStock, ledger.KindFailedPrecondition},
		{ib, ledger.KindFailedPrecondition},
		{region, ledger.KindFailedPrecondition},
		{ledger.ErrUnauthenticated, ledger.KindUnauthenticated},
		{ledger.ErrInvalidArgument, ledger.KindInvalidArgument},
		{ledger.ErrBalanceOverflow, ledger.KindInvalidArgument},
		{ledger.ErrUnauthorized, ledger.KindUnauthorized},
		{errors.New("disk on fire"), ledger.KindInternal},
		{ledger.ErrConcurrentModification, ledger.KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, ledger.KindOf(tc.err), tc.err.Error())
	}
	assert.Equal(t, "insufficient_balance", ledger.Reason(ib))
	assert.Equal(t, "region_unavailable", ledger.Reason(region))
}

func TestRewardAvailableIn(t *testing.T) {
	open := ledger.Reward{}
	assert.True(t, open.AvailableIn(""))
	assert.True(t, open.AvailableIn("RO"))

	gated := ledger.Reward{Region: []string{"US", "CA"}}
	assert.True(t, gated.AvailableIn("CA"))
	assert.False(t, gated.AvailableIn("RO"))
	assert.False(t, gated.AvailableIn(""))
}

func TestInstructionsOrDefault(t *testing.T) {
	r := ledger.Reward{Title: "Steam Wallet $20"}
	assert.Equal(t, "Redeem this Steam Wallet $20 code", r.InstructionsOrDefault())
	r.Instructions = "Add funds in Steam"
	assert.Equal(t, "Add funds in Steam", r.InstructionsOrDefault())
}

// =============================================================================
// RETRY
// =============================================================================

// conflictingStore fails the first n WithTx calls with a conflict.
type conflictingStore struct {
	failures int
	calls    int
}

func (s *conflictingStore) WithTx(_ context.Context, _ func(ledger.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *conflictingStore) Now() time.Time { return time.Now() }

func fastPolicy(attempts uint64) ledger.RetryPolicy {
	return ledger.RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestTransact_RetriesConflicts(t *testing.T) {
	// GIVEN: A store that conflicts twice, then commits
	s := &conflictingStore{failures: 2}
	var retries []int

	// WHEN: Running with 5 attempts
	err := ledger.Transact(context.Background(), s, fastPolicy(5), func(ledger.Tx) error { return nil },
		func(attempt int, _ error) { retries = append(retries, attempt) })

	// THEN: Third attempt commits
	require.NoError(t, err)
	assert.Equal(t, 3, s.calls)
	assert.Equal(t, []int{2, 3}, retries)
}

func TestTransact_ExhaustedSurfacesInternal(t *testing.T) {
	s := &conflictingStore{failures: 100}

	err := ledger.Transact(context.Background(), s, fastPolicy(3), func(ledger.Tx) error { return nil }, nil)

	require.Error(t, err)
	assert.Equal(t, 3, s.calls)
	assert.ErrorIs(t, err, ledger.ErrInternal)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))
}

type failingStore struct{ calls int }

func (s *failingStore) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	s.calls++
	return fn(nil)
}

func (s *failingStore) Now() time.Time { return time.Now() }

func TestTransact_DomainErrorsNotRetried(t *testing.T) {
	s := &failingStore{}

	err := ledger.Transact(context.Background(), s, fastPolicy(5), func(ledger.Tx) error {
		return ledger.ErrOutOfStock
	}, nil)

	assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	assert.Equal(t, 1, s.calls)
}
