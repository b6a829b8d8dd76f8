package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	half        = decimal.NewFromFloat(0.5)
	maxCredits  = decimal.NewFromInt(math.MaxInt64)
	zeroCredits = decimal.Zero
)

// RoundCredits converts a partner amount into whole credits, rounding half
// up (37.6 -> 38, 2.5 -> 3, 2.49 -> 2). Negative and out-of-range amounts
// are rejected.
func RoundCredits(amount decimal.Decimal) (Credits, error) {
	if amount.LessThan(zeroCredits) {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidArgument, amount)
	}
	rounded := amount.Add(half).Floor()
	if rounded.GreaterThan(maxCredits) {
		return 0, fmt.Errorf("%w: amount %s out of range", ErrInvalidArgument, amount)
	}
	return Credits(rounded.IntPart()), nil
}

// ParseCredits parses a decimal string (as sent by partners in query
// strings or JSON string fields) and rounds it with RoundCredits.
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", ErrInvalidArgument, s)
	}
	return RoundCredits(d)
}

// AddCredits returns a+b. ok is false when the sum does not fit in Credits.
func AddCredits(a, b Credits) (sum Credits, ok bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, false
	}
	return a + b, true
}

// Ceiling returns the largest total that can still take delta without
// overflowing. Stores use it as an upper bound in conditional updates.
func Ceiling(delta Credits) Credits {
	if delta > 0 {
		return math.MaxInt64 - delta
	}
	return math.MaxInt64
}

// ApplyTo adds d to u's totals. The user is left untouched and
// ErrBalanceOverflow returned when any total would leave the int64 range.
func (d UserDelta) ApplyTo(u User) (User, error) {
	balance, ok0 := AddCredits(u.Balance, d.Balance)
	earned, ok1 := AddCredits(u.TotalEarned, d.TotalEarned)
	redeemed, ok2 := AddCredits(u.TotalRedeemed, d.TotalRedeemed)
	if !ok0 || !ok1 || !ok2 {
		return u, fmt.Errorf("user %s: %w", u.ID, ErrBalanceOverflow)
	}
	u.Balance, u.TotalEarned, u.TotalRedeemed = balance, earned, redeemed
	return u, nil
}
