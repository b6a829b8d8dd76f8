/*
errors.go - Error kinds and sentinel errors for the credit ledger

PURPOSE:
  All error types in one place. Callers match with errors.Is / errors.As;
  boundaries (HTTP, webhook) translate with KindOf.

ERROR KINDS:
  NotFound            user or reward missing
  PermissionDenied    banned or locked account
  FailedPrecondition  inactive reward, out of stock, insufficient balance,
                      reward not available in the user's region
  Unauthenticated     no caller identity
  InvalidArgument     missing or malformed input
  Unauthorized        webhook signature failure
  Internal            unexpected store failure, exhausted retries

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ib *ledger.InsufficientBalanceError
      if errors.As(err, &ib) {
          // "need ib.Shortfall more credits"
      }
  }

SEE ALSO:
  - retry.go: which errors are retried
  - api/respond.go: kind to HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS
// =============================================================================

// Kind classifies an error for the caller.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindFailedPrecondition Kind = "failed_precondition"
	KindUnauthenticated    Kind = "unauthenticated"
	KindInvalidArgument    Kind = "invalid_argument"
	KindUnauthorized       Kind = "unauthorized"
	KindInternal           Kind = "internal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrRewardNotFound = errors.New("reward not found")
	ErrCodeNotFound   = errors.New("gift code not found")

	// ErrNotificationNotFound is returned by MarkNotificationRead.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrAccountRestricted is returned when the user is banned or locked.
	ErrAccountRestricted = errors.New("account is restricted")

	ErrRewardInactive = errors.New("reward is not active")

	// ErrOutOfStock covers both a zero stock counter and an empty free pool.
	ErrOutOfStock = errors.New("reward is out of stock")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrRegionUnavailable = errors.New("reward not available in your region")

	// ErrInvalidTransition is returned when a gift code state change is not
	// allowed by the free/reserved/used state machine.
	ErrInvalidTransition = errors.New("invalid gift code transition")

	ErrUnauthenticated = errors.New("must be authenticated")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("invalid signature")

	// ErrConcurrentModification is returned by a Store when a transaction
	// lost a conflict with another writer. It is the only retryable error.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrInternal = errors.New("internal error")
)

// ErrBalanceOverflow is returned when an increment would push a user total
// past the largest representable credit amount.
var ErrBalanceOverflow = fmt.Errorf("%w: credit total out of range", ErrInvalidArgument)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports how many credits the user is missing.
type InsufficientBalanceError struct {
	UserID    string
	RewardID  string
	Balance   Credits
	Price     Credits
	Shortfall Credits
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d, short %d",
		e.Balance, e.Price, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// RegionError reports a region mismatch between user and reward.
type RegionError struct {
	RewardID string
	Country  string
	Allowed  []string
}

func (e *RegionError) Error() string {
	country := e.Country
	if country == "" {
		country = "unknown"
	}
	return fmt.Sprintf("reward %s not available in region %s (allowed %v)", e.RewardID, country, e.Allowed)
}

func (e *RegionError) Unwrap() error {
	return ErrRegionUnavailable
}

// TransitionError reports a rejected gift code state change.
type TransitionError struct {
	CodeID string
	From   CodeStatus
	To     CodeStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("gift code %s: cannot move from %s to %s", e.CodeID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrRewardNotFound),
		errors.Is(err, ErrCodeNotFound),
		errors.Is(err, ErrNotificationNotFound):
		return KindNotFound
	case errors.Is(err, ErrAccountRestricted):
		return KindPermissionDenied
	case errors.Is(err, ErrRewardInactive),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrRegionUnavailable),
		errors.Is(err, ErrInvalidTransition):
		return KindFailedPrecondition
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// Reason returns a short machine-readable reason for precondition failures,
// used by clients to pick a message ("need N more credits", "coming soon").
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrRewardNotFound):
		return "reward_not_found"
	case errors.Is(err, ErrAccountRestricted):
		return "account_restricted"
	case errors.Is(err, ErrRewardInactive):
		return "reward_inactive"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrRegionUnavailable):
		return "region_unavailable"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	}
	return string(KindOf(err))
}
