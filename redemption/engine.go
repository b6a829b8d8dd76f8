/*
engine.go - Redemption Engine

PURPOSE:
  Converts credits into a gift code. One call either commits every effect
  below or none of them.

PRECONDITIONS (checked in this order, inside the transaction):
  1. user exists                          NotFound
  2. user not banned, not locked          PermissionDenied
  3. reward exists                        NotFound
  4. reward active                        FailedPrecondition
  5. reward stock > 0                     FailedPrecondition (out_of_stock)
  6. balance >= price                     FailedPrecondition (insufficient_balance)
  7. user country in reward region        FailedPrecondition (region_unavailable)
     (only when the region set is non-empty)
  8. a free code exists in the pool       FailedPrecondition (out_of_stock)

EFFECTS (same transaction):
  - code           free -> used, usedBy, usedAt
  - user           balance -= price, totalRedeemed += price, updatedAt
  - reward         stock -= 1, updatedAt
  - redemption     inserted, status delivered
  - notification   "Reward Redeemed!"

CONCURRENCY:
  The store serializes conflicting transactions. A conflict is retried with
  bounded backoff (ledger.Transact); two callers racing for the last code
  get one success and one out_of_stock.

  Redeem is not idempotent: calling it twice redeems twice when balance and
  stock allow.

HOLDS:
  CompleteHold finishes a two-phase reservation (inventory.Reserve). It runs
  the same checks except the stock counter, which the hold already took.

SEE ALSO:
  - inventory/inventory.go: code allocation and state machine
  - ledger/retry.go: conflict retry
  - api/handlers.go: POST /api/redeem
*/
package redemption

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/earnly/credit-engine/inventory"
	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/metrics"
)

// Result is what the caller gets back from a successful redemption.
type Result struct {
	RedemptionID string
	Code         string
	Title        string
	Instructions string
	Price        ledger.Credits
	Balance      ledger.Credits // balance after the debit
	ExpiresAt    *time.Time
}

// Engine runs redemptions against a transactional store.
type Engine struct {
	store  ledger.TxStore
	policy ledger.RetryPolicy
	newID  func() string
	log    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(p ledger.RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithIDGenerator overrides id generation for redemptions and notifications.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// NewEngine creates an engine over store.
func NewEngine(store ledger.TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		policy: ledger.DefaultRetryPolicy(),
		newID:  uuid.NewString,
		log:    logging.Component("redemption"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Redeem spends the price of rewardID from userID's balance on one code.
func (e *Engine) Redeem(ctx context.Context, userID, rewardID string) (Result, error) {
	if userID == "" {
		return Result{}, ledger.ErrUnauthenticated
	}
	if rewardID == "" {
		return Result{}, fmt.Errorf("%w: rewardId is required", ledger.ErrInvalidArgument)
	}

	pick := func(ctx context.Context, tx ledger.Tx, reward ledger.Reward) (ledger.GiftCode, error) {
		return inventory.AllocateOneFreeCode(ctx, tx, reward.ID)
	}
	return e.run(ctx, "redeem", userID, rewardID, pick, true)
}

// CompleteHold charges the user for a code reserved by inventory.Reserve
// and delivers it. The reward's stock is left alone.
func (e *Engine) CompleteHold(ctx context.Context, hold inventory.Hold) (Result, error) {
	if hold.UserID == "" {
		return Result{}, ledger.ErrUnauthenticated
	}
	if hold.RewardID == "" || hold.CodeID == "" {
		return Result{}, fmt.Errorf("%w: hold is incomplete", ledger.ErrInvalidArgument)
	}

	pick := func(ctx context.Context, tx ledger.Tx, _ ledger.Reward) (ledger.GiftCode, error) {
		return inventory.Claim(ctx, tx, hold)
	}
	return e.run(ctx, "complete_hold", hold.UserID, hold.RewardID, pick, false)
}

// codePicker chooses the code a redemption will consume.
type codePicker func(ctx context.Context, tx ledger.Tx, reward ledger.Reward) (ledger.GiftCode, error)

func (e *Engine) run(ctx context.Context, op, userID, rewardID string, pick codePicker, takeStock bool) (Result, error) {
	start := time.Now()
	var res Result

	onRetry := func(attempt int, err error) {
		metrics.TxRetries.WithLabelValues(op).Inc()
		e.log.Debug().Str("user", userID).Str("reward", rewardID).Int("attempt", attempt).
			Err(err).Msg("Retrying redemption after conflict")
	}

	err := ledger.Transact(ctx, e.store, e.policy, func(tx ledger.Tx) error {
		r, err := e.redeemTx(ctx, tx, userID, rewardID, pick, takeStock)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, onRetry)

	outcome := "ok"
	if err != nil {
		outcome = ledger.Reason(err)
	}
	metrics.RecordRedemption(outcome, time.Since(start))

	if err != nil {
		if ledger.KindOf(err) == ledger.KindInternal {
			e.log.Error().Err(err).Str("op", op).Str("user", userID).Str("reward", rewardID).
				Msg("Redemption failed")
			if !errors.Is(err, ledger.ErrInternal) {
				err = fmt.Errorf("%w: %v", ledger.ErrInternal, err)
			}
		}
		return Result{}, err
	}

	metrics.CreditsRedeemed.Add(float64(res.Price))
	logging.Ctx(ctx).Info().Str("op", op).Str("user", userID).Str("reward", rewardID).
		Str("redemption", res.RedemptionID).Int64("price", int64(res.Price)).Msg("Reward redeemed")
	return res, nil
}

// redeemTx is one attempt. Every read and write goes through tx.
func (e *Engine) redeemTx(ctx context.Context, tx ledger.Tx, userID, rewardID string, pick codePicker, takeStock bool) (Result, error) {
	// 1-2
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if user.Flags.Restricted() {
		return Result{}, fmt.Errorf("user %s: %w", userID, ledger.ErrAccountRestricted)
	}

	// 3-4
	reward, err := tx.GetReward(ctx, rewardID)
	if err != nil {
		return Result{}, err
	}
	if !reward.Active {
		return Result{}, fmt.Errorf("reward %s: %w", rewardID, ledger.ErrRewardInactive)
	}

	// 5, a held code already left stock
	if takeStock && reward.Stock <= 0 {
		return Result{}, fmt.Errorf("reward %s: %w", rewardID, ledger.ErrOutOfStock)
	}

	// 6
	if user.Balance < reward.Price {
		return Result{}, &ledger.InsufficientBalanceError{
			UserID:    userID,
			RewardID:  rewardID,
			Balance:   user.Balance,
			Price:     reward.Price,
			Shortfall: reward.Price - user.Balance,
		}
	}

	// 7
	if !reward.AvailableIn(user.Country) {
		return Result{}, &ledger.RegionError{RewardID: rewardID, Country: user.Country, Allowed: reward.Region}
	}

	// 8
	code, err := pick(ctx, tx, reward)
	if err != nil {
		return Result{}, err
	}

	// Effects
	code, err = inventory.Consume(ctx, tx, code, userID)
	if err != nil {
		return Result{}, err
	}

	if err := tx.IncrementUser(ctx, userID, ledger.UserDelta{
		Balance:       -reward.Price,
		TotalRedeemed: reward.Price,
	}); err != nil {
		return Result{}, fmt.Errorf("debit user %s: %w", userID, err)
	}

	if takeStock {
		if err := tx.IncrementStock(ctx, rewardID, -1); err != nil {
			return Result{}, fmt.Errorf("decrement stock of %s: %w", rewardID, err)
		}
	}

	now := tx.Now()
	redemption := ledger.Redemption{
		ID:           e.newID(),
		UserID:       userID,
		RewardID:     rewardID,
		Title:        reward.Title,
		Price:        reward.Price,
		Code:         code.Code,
		Status:       ledger.RedemptionDelivered,
		Instructions: reward.InstructionsOrDefault(),
		DeliveredAt:  &now,
		RedeemedAt:   now,
		ExpiresAt:    code.ExpiresAt,
	}
	if err := tx.InsertRedemption(ctx, redemption); err != nil {
		return Result{}, fmt.Errorf("insert redemption: %w", err)
	}

	if err := tx.InsertNotification(ctx, ledger.Notification{
		ID:      e.newID(),
		UserID:  userID,
		Type:    ledger.NotifyRedemption,
		Title:   "Reward Redeemed!",
		Message: fmt.Sprintf("Your %s code is ready", reward.Title),
		Data: map[string]string{
			"redemptionId": redemption.ID,
			"rewardId":     rewardID,
			"credits":      strconv.FormatInt(int64(reward.Price), 10),
		},
		CreatedAt: now,
	}); err != nil {
		return Result{}, fmt.Errorf("insert notification: %w", err)
	}

	return Result{
		RedemptionID: redemption.ID,
		Code:         code.Code,
		Title:        reward.Title,
		Instructions: redemption.Instructions,
		Price:        reward.Price,
		Balance:      user.Balance - reward.Price,
		ExpiresAt:    code.ExpiresAt,
	}, nil
}
