/*
Package webhook ingests the survey partner's credit callbacks.

PURPOSE:
  Turns an authenticated partner delivery into exactly one credit on the
  user's balance, no matter how often the partner retries it.

AUTHENTICATION:
  POST  hex(HMAC-SHA256(secret, raw body)) in x-signature, x-hub-signature
        or x-signature-hmac-sha256 (first non-empty wins)
  GET   hex(HMAC-SHA1(key, canonical URL without hash)) in ?hash=,
        where key is either the secret or the server key

IDEMPOTENCY:
  The partner transaction id is the TaskEvent id. Apply checks for it and
  writes it in the same transaction as the credit, so a replay finds it and
  does nothing. Two deliveries racing each other conflict in the store and
  the loser, on retry, sees the winner's event.

LIMITS:
  One event credits at most MaxCredits (DefaultMaxCredits unless
  configured). Larger amounts are rejected before anything is written.

RESPONSES (bare text, nothing internal leaks):
  200 OK                   applied or duplicate
  400 Bad payload          missing ids, bad amount, amount over the limit
  401 Invalid signature    missing key material or signature mismatch
  405 Method Not Allowed   anything but GET and POST
  500 Server error         store failure

SEE ALSO:
  - parse.go: field aliases and amount rounding
  - verify.go: signatures and the canonical URL
  - handler.go: HTTP endpoint
*/
package webhook

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/logging"
	"github.com/earnly/credit-engine/metrics"
)

// DefaultMaxCredits caps a single partner event.
const DefaultMaxCredits ledger.Credits = 1_000_000

// Ingestor applies credit events to the ledger.
type Ingestor struct {
	store      ledger.TxStore
	policy     ledger.RetryPolicy
	maxCredits ledger.Credits
	newID      func() string
	log        zerolog.Logger
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(p ledger.RetryPolicy) IngestorOption {
	return func(i *Ingestor) { i.policy = p }
}

// WithMaxCredits overrides the per-event credit ceiling. Values <= 0 keep
// the default.
func WithMaxCredits(n ledger.Credits) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxCredits = n
		}
	}
}

// NewIngestor creates an ingestor over store.
func NewIngestor(store ledger.TxStore, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		store:      store,
		policy:     ledger.DefaultRetryPolicy(),
		maxCredits: DefaultMaxCredits,
		newID:      uuid.NewString,
		log:        logging.Component("webhook"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Apply credits ev once. applied is false when the transaction id was
// already recorded.
func (i *Ingestor) Apply(ctx context.Context, ev CreditEvent) (applied bool, err error) {
	if ev.UserID == "" || ev.TxID == "" {
		return false, fmt.Errorf("%w: user and transaction id are required", ledger.ErrInvalidArgument)
	}
	if ev.Credits < 0 {
		return false, fmt.Errorf("%w: negative credits", ledger.ErrInvalidArgument)
	}
	if ev.Credits > i.maxCredits {
		return false, fmt.Errorf("%w: %d credits exceeds the per-event limit of %d",
			ledger.ErrInvalidArgument, ev.Credits, i.maxCredits)
	}

	onRetry := func(attempt int, err error) {
		metrics.TxRetries.WithLabelValues("webhook").Inc()
		i.log.Debug().Str("tx", ev.TxID).Int("attempt", attempt).Err(err).Msg("Retrying credit after conflict")
	}

	err = ledger.Transact(ctx, i.store, i.policy, func(tx ledger.Tx) error {
		applied = false
		if _, seen, err := tx.GetTaskEvent(ctx, ev.TxID); err != nil {
			return err
		} else if seen {
			return nil
		}

		now := tx.Now()
		if err := tx.InsertTaskEvent(ctx, ledger.TaskEvent{
			ID: ev.TxID, UserID: ev.UserID, Source: ev.Source, Credits: ev.Credits, At: now,
		}); err != nil {
			return fmt.Errorf("record task event: %w", err)
		}

		if err := tx.IncrementUser(ctx, ev.UserID, ledger.UserDelta{
			Balance:         ev.Credits,
			TotalEarned:     ev.Credits,
			CreateIfMissing: true,
		}); err != nil {
			return fmt.Errorf("credit user %s: %w", ev.UserID, err)
		}

		if err := tx.InsertEarning(ctx, ledger.EarningEntry{
			ID: i.newID(), UserID: ev.UserID, Source: ev.Source, TxID: ev.TxID, Credits: ev.Credits, At: now,
		}); err != nil {
			return fmt.Errorf("record earning: %w", err)
		}

		if err := tx.InsertNotification(ctx, ledger.Notification{
			ID:      i.newID(),
			UserID:  ev.UserID,
			Type:    ledger.NotifyEarning,
			Title:   "Credits Earned!",
			Message: fmt.Sprintf("You earned %d credits", ev.Credits),
			Data: map[string]string{
				"source":  ev.Source,
				"txId":    ev.TxID,
				"credits": strconv.FormatInt(int64(ev.Credits), 10),
			},
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("notify user: %w", err)
		}

		applied = true
		return nil
	}, onRetry)
	if err != nil {
		return false, err
	}

	if applied {
		metrics.CreditsEarned.Add(float64(ev.Credits))
		i.log.Info().Str("user", ev.UserID).Str("tx", ev.TxID).Int64("credits", int64(ev.Credits)).
			Msg("Credits applied")
	} else {
		i.log.Info().Str("tx", ev.TxID).Msg("Duplicate delivery ignored")
	}
	return applied, nil
}
