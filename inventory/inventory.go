/*
Package inventory manages the per-reward pools of gift codes.

PURPOSE:
  Exactly-once allocation of single-use codes. A code moves through a
  tri-state lifecycle and never leaves the terminal state:

      free ──────────────► used
        │                   ▲
        ▼                   │
      reserved ─────────────┘
        │
        └──► free   (reclaimed after the reservation timeout)

  The redemption path goes straight from free to used. The reserved state
  exists for two-phase holds (Reserve) and is what the reclaimer recovers.

STOCK:
  A reward's stock counts codes that are free. Redeeming a free code and
  reserving one each take one unit; releasing a reservation gives it back.

ALLOCATION:
  AllocateOneFreeCode picks any free code in the store's implicit order.
  Codes of one reward are interchangeable, so no fairness is promised
  between concurrent redeemers; the enclosing transaction guarantees that
  a code is handed to at most one of them.

SEE ALSO:
  - redemption/engine.go: consumes codes inside the redeem transaction
  - reclaimer/reclaimer.go: releases stale reservations
*/
package inventory

import (
	"context"
	"fmt"

	"github.com/earnly/credit-engine/ledger"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

var transitions = map[ledger.CodeStatus][]ledger.CodeStatus{
	ledger.CodeFree:     {ledger.CodeReserved, ledger.CodeUsed},
	ledger.CodeReserved: {ledger.CodeFree, ledger.CodeUsed},
	ledger.CodeUsed:     nil,
}

// CanTransition reports whether a code may move from one status to another.
func CanTransition(from, to ledger.CodeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(code *ledger.GiftCode, to ledger.CodeStatus) error {
	if !CanTransition(code.Status, to) {
		return &ledger.TransitionError{CodeID: code.ID, From: code.Status, To: to}
	}
	code.Status = to
	return nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocateOneFreeCode returns one free code of the reward's pool, or
// ErrOutOfStock when the pool has none, whatever the reward's stock
// counter says.
func AllocateOneFreeCode(ctx context.Context, tx ledger.Tx, rewardID string) (ledger.GiftCode, error) {
	code, ok, err := tx.FindCode(ctx, rewardID, ledger.CodeFree)
	if err != nil {
		return ledger.GiftCode{}, fmt.Errorf("find free code for %s: %w", rewardID, err)
	}
	if !ok {
		return ledger.GiftCode{}, fmt.Errorf("no codes available for %s: %w", rewardID, ledger.ErrOutOfStock)
	}
	return code, nil
}

// Consume marks code as used by userID. The code may be free or held.
func Consume(ctx context.Context, tx ledger.Tx, code ledger.GiftCode, userID string) (ledger.GiftCode, error) {
	if err := transition(&code, ledger.CodeUsed); err != nil {
		return code, err
	}
	now := tx.Now()
	code.UsedBy = userID
	code.UsedAt = &now
	code.ReservedBy = ""
	code.ReservedAt = nil
	if err := tx.UpdateCode(ctx, code); err != nil {
		return code, fmt.Errorf("mark code %s used: %w", code.ID, err)
	}
	return code, nil
}

// =============================================================================
// TWO-PHASE HOLD
// =============================================================================

// Hold is a code reserved for a user but not yet delivered.
type Hold struct {
	RewardID string
	CodeID   string
	UserID   string
}

// Reserve takes one free code out of circulation for userID without
// charging anything. The held code leaves the reward's stock; completing
// the hold does not decrement it again. Holds that are never completed are
// returned to the pool, and to stock, by the reclaimer once they are older
// than its timeout.
func Reserve(ctx context.Context, s ledger.TxStore, policy ledger.RetryPolicy, rewardID, userID string) (Hold, error) {
	var hold Hold
	err := ledger.Transact(ctx, s, policy, func(tx ledger.Tx) error {
		reward, err := tx.GetReward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward.Stock <= 0 {
			return fmt.Errorf("reward %s has no stock: %w", rewardID, ledger.ErrOutOfStock)
		}
		code, err := AllocateOneFreeCode(ctx, tx, rewardID)
		if err != nil {
			return err
		}
		if err := transition(&code, ledger.CodeReserved); err != nil {
			return err
		}
		now := tx.Now()
		code.ReservedBy = userID
		code.ReservedAt = &now
		if err := tx.UpdateCode(ctx, code); err != nil {
			return fmt.Errorf("reserve code %s: %w", code.ID, err)
		}
		if err := tx.IncrementStock(ctx, rewardID, -1); err != nil {
			return fmt.Errorf("hold stock for %s: %w", rewardID, err)
		}
		hold = Hold{RewardID: rewardID, CodeID: code.ID, UserID: userID}
		return nil
	}, nil)
	return hold, err
}

// Claim loads a held code inside tx, checking it still belongs to the hold.
func Claim(ctx context.Context, tx ledger.Tx, h Hold) (ledger.GiftCode, error) {
	code, err := tx.GetCode(ctx, h.RewardID, h.CodeID)
	if err != nil {
		return code, err
	}
	if code.Status != ledger.CodeReserved || code.ReservedBy != h.UserID {
		return code, &ledger.TransitionError{CodeID: code.ID, From: code.Status, To: ledger.CodeUsed}
	}
	return code, nil
}
