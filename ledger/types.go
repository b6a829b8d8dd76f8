/*
Package ledger defines the credit ledger: the documents that carry balances,
stock and gift codes, the store contract every mutation path goes through,
and the error taxonomy shared by the redemption engine, webhook ingestion
and the reservation reclaimer.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credits: integer point currency. Never fractional, never negative on a
    committed user balance.
  - User: balance holder. balance == totalEarned - totalRedeemed.
  - Reward: catalog entry priced in credits, backed by a pool of GiftCodes.
  - GiftCode: single-use code with a free/reserved/used lifecycle.
  - Redemption, TaskEvent, EarningEntry, Notification: append-only records.

DESIGN PRINCIPLES:
  1. The store is the only shared mutable state. Nothing in this package
     holds locks; coordination happens in Store.WithTx.
  2. Append-only receipts: Redemption, TaskEvent and EarningEntry are never
     updated after insert.
  3. Type safety: ids are plain strings issued by collaborators (auth
     provider, partner, catalog), statuses are typed constants.

SEE ALSO:
  - store.go: Store / Tx capability contract
  - errors.go: error kinds and sentinels
  - credits.go: parsing partner amounts into Credits
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CREDITS
// =============================================================================

// Credits is the app's internal point currency.
type Credits int64

// =============================================================================
// USER
// =============================================================================

// Flags gate a user's eligibility to redeem.
type Flags struct {
	Banned   bool `json:"banned"`
	Locked   bool `json:"locked"`
	Verified bool `json:"verified"`
}

// Restricted reports whether the account may not redeem.
func (f Flags) Restricted() bool { return f.Banned || f.Locked }

// User is a balance holder. The id is issued by the authentication provider.
type User struct {
	ID            string
	Email         string
	Name          string
	Balance       Credits
	TotalEarned   Credits
	TotalRedeemed Credits
	Country       string
	Flags         Flags
	JoinedAt      time.Time
	UpdatedAt     time.Time
}

// Consistent reports whether the balance invariant holds.
func (u User) Consistent() bool {
	return u.Balance == u.TotalEarned-u.TotalRedeemed && u.Balance >= 0
}

// =============================================================================
// REWARD
// =============================================================================

type Category string

const (
	CategoryGiftCard Category = "giftcard"
	CategoryPayPal   Category = "paypal"
	CategoryCrypto   Category = "crypto"
	CategoryCashout  Category = "cashout"
)

// Reward is a catalog item exchangeable for credits.
type Reward struct {
	ID                string
	Title             string
	Description       string
	Provider          string
	Price             Credits
	Value             decimal.Decimal // face value in Currency
	Currency          string
	Region            []string // empty = unrestricted
	Category          Category
	Active            bool
	Stock             int64
	Image             string
	Terms             string
	EstimatedDelivery string
	Instructions      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AvailableIn reports whether a user from country may redeem the reward.
// An empty region set means the reward is unrestricted.
func (r Reward) AvailableIn(country string) bool {
	if len(r.Region) == 0 {
		return true
	}
	if country == "" {
		return false
	}
	for _, c := range r.Region {
		if c == country {
			return true
		}
	}
	return false
}

// InstructionsOrDefault returns the redemption instructions shown to the user.
func (r Reward) InstructionsOrDefault() string {
	if r.Instructions != "" {
		return r.Instructions
	}
	return "Redeem this " + r.Title + " code"
}

// RewardFilter narrows ListRewards.
type RewardFilter struct {
	ActiveOnly bool
	Category   Category
	Country    string // when set, drop rewards not available in this country
}

// =============================================================================
// GIFT CODE
// =============================================================================

type CodeStatus string

const (
	CodeFree     CodeStatus = "free"
	CodeReserved CodeStatus = "reserved"
	CodeUsed     CodeStatus = "used"
)

// GiftCode is one entry of a reward's inventory pool.
type GiftCode struct {
	ID         string
	RewardID   string
	Code       string
	Status     CodeStatus
	ReservedBy string
	ReservedAt *time.Time
	UsedBy     string
	UsedAt     *time.Time
	Batch      string
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// =============================================================================
// RECEIPTS
// =============================================================================

type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionDelivered RedemptionStatus = "delivered"
	RedemptionFailed    RedemptionStatus = "failed"
	RedemptionRefunded  RedemptionStatus = "refunded"
)

// Redemption is the receipt of one completed exchange. Append-only.
type Redemption struct {
	ID           string
	UserID       string
	RewardID     string
	Title        string
	Price        Credits
	Code         string
	Status       RedemptionStatus
	Instructions string
	DeliveredAt  *time.Time
	RedeemedAt   time.Time
	ExpiresAt    *time.Time
}

// TaskEvent is the webhook dedup record, keyed by the partner transaction id.
type TaskEvent struct {
	ID      string // partner transaction id
	UserID  string
	Source  string
	Credits Credits
	At      time.Time
}

// EarningEntry is one line of a user's earnings history.
type EarningEntry struct {
	ID      string
	UserID  string
	Source  string
	TxID    string
	Credits Credits
	At      time.Time
}

type NotificationType string

const (
	NotifyEarning    NotificationType = "earning"
	NotifyRedemption NotificationType = "redemption"
	NotifySystem     NotificationType = "system"
)

// Notification is a fire-and-forget message about a ledger event.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]string
	Read      bool
	ReadAt    *time.Time
	CreatedAt time.Time
}
