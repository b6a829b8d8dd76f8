/*
store.go - Ledger Store capability contract

PURPOSE:
  Defines the interface between the engine and the document store. The
  store is the only shared mutable resource: every mutation path that
  touches a value participating in an invariant goes through WithTx (for
  conditional read-modify-write) or ReleaseExpiredReservations (for the
  reclaimer's per-reward batch).

KEY INTERFACES:
  Tx:               Operations available inside one serializable transaction
  TxStore:          WithTx + server clock
  ReservationStore: Atomic per-reward release of stale reservations
  Reader:           Read paths for the mobile client
  CatalogStore:     Catalog and profile writes (seeding, user init)
  Store:            Everything above

SERIALIZABILITY:
  WithTx must run fn against a consistent snapshot and either commit all of
  fn's writes or none. Conflicting transactions are never merged: the loser
  gets ErrConcurrentModification and may be retried (see retry.go).

SERVER TIMESTAMP:
  Tx.Now() is the store-assigned write time for the whole transaction.
  Every timestamp written inside fn should come from it.

IMPLEMENTATIONS:
  - store/sqlite: SQLite with immediate transactions (production)
  - store/memory: copy-on-commit in-memory store (tests, dev)
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION
// =============================================================================

// UserDelta is an atomic increment applied to a user document.
type UserDelta struct {
	Balance       Credits
	TotalEarned   Credits
	TotalRedeemed Credits

	// CreateIfMissing merges the increment into a new zero-valued user when
	// none exists (webhook credit for a user who never opened the app).
	CreateIfMissing bool
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	// Now returns the transaction's server-assigned timestamp.
	Now() time.Time

	// GetUser returns ErrUserNotFound if the user does not exist.
	GetUser(ctx context.Context, id string) (User, error)

	// GetReward returns ErrRewardNotFound if the reward does not exist.
	GetReward(ctx context.Context, id string) (Reward, error)

	// FindCode returns at most one code of the pool with the given status,
	// in the store's implicit order. ok is false when none matches.
	FindCode(ctx context.Context, rewardID string, status CodeStatus) (code GiftCode, ok bool, err error)

	// GetCode returns ErrCodeNotFound if the code is not in the pool.
	GetCode(ctx context.Context, rewardID, codeID string) (GiftCode, error)

	// UpdateCode persists the lifecycle fields of code.
	UpdateCode(ctx context.Context, code GiftCode) error

	// IncrementUser applies d and bumps updatedAt.
	IncrementUser(ctx context.Context, userID string, d UserDelta) error

	// IncrementStock adds delta to the reward's stock and bumps updatedAt.
	IncrementStock(ctx context.Context, rewardID string, delta int64) error

	InsertRedemption(ctx context.Context, r Redemption) error
	InsertNotification(ctx context.Context, n Notification) error

	// GetTaskEvent looks up a webhook dedup record.
	GetTaskEvent(ctx context.Context, id string) (ev TaskEvent, ok bool, err error)
	InsertTaskEvent(ctx context.Context, ev TaskEvent) error
	InsertEarning(ctx context.Context, e EarningEntry) error
}

// TxStore runs serializable transactions.
type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Now is the store clock, the same clock Tx.Now reads.
	Now() time.Time
}

// =============================================================================
// RESERVATIONS - Batch used by the reclaimer
// =============================================================================

// ReservationStore releases stale reservations.
type ReservationStore interface {
	// ReleaseExpiredReservations resets every code of rewardID with status
	// reserved and reservedAt strictly before cutoff to free, clears the
	// reservation fields, and increments the reward's stock by the number
	// released. All of it is one atomic batch.
	ReleaseExpiredReservations(ctx context.Context, rewardID string, cutoff time.Time) (int, error)
}

// =============================================================================
// READ PATHS & CATALOG
// =============================================================================

// Reader serves the client's read paths. Lists are newest first.
type Reader interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetReward(ctx context.Context, id string) (Reward, error)
	ListRewards(ctx context.Context, filter RewardFilter) ([]Reward, error)
	ListCodes(ctx context.Context, rewardID string, status CodeStatus) ([]GiftCode, error)
	ListEarnings(ctx context.Context, userID string, limit int) ([]EarningEntry, error)
	ListRedemptions(ctx context.Context, userID string, limit int) ([]Redemption, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
}

// CatalogStore holds the non-transactional writes: catalog management and
// profile creation. None of them touch balances.
type CatalogStore interface {
	// CreateUser inserts u with zero financial totals unless the user already
	// exists; created reports whether a row was written.
	CreateUser(ctx context.Context, u User) (created bool, err error)

	// SaveReward upserts catalog fields. Stock is only set on insert; after
	// that it moves with codes (AddCodes, redemption, reclaim).
	SaveReward(ctx context.Context, r Reward) error

	// AddCodes inserts free codes into the pool and increments the reward's
	// stock by the number inserted, atomically.
	AddCodes(ctx context.Context, rewardID string, codes []GiftCode) error

	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// Store is the full capability contract.
type Store interface {
	TxStore
	ReservationStore
	Reader
	CatalogStore
	Close() error
}
