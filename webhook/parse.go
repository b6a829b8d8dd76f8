package webhook

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/earnly/credit-engine/ledger"
)

// CreditEvent is a verified, parsed partner delivery.
type CreditEvent struct {
	UserID  string
	TxID    string
	Credits ledger.Credits
	Source  string
}

// ParseError reports why a payload was rejected.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bad payload: %s %s", e.Field, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ledger.ErrInvalidArgument
}

// Field aliases, first match wins.
var (
	userIDKeys      = []string{"user_id", "userId", "uid"}
	txIDKeys        = []string{"transaction_id", "tx_id", "transactionId"}
	amountKeys      = []string{"reward_amount", "amount", "payout"}
	queryTxIDKeys   = append(append([]string(nil), txIDKeys...), "tid")
	queryAmountKeys = append(append([]string(nil), amountKeys...), "value")
)

// =============================================================================
// JSON BODY (signed POST)
// =============================================================================

// ParseJSON reads a POST body. Ids may be strings or numbers; the amount may
// be a JSON number or a numeric string.
func ParseJSON(body []byte, source string) (CreditEvent, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return CreditEvent{}, &ParseError{Field: "body", Reason: "is not a JSON object"}
	}

	ev := CreditEvent{Source: source}
	ev.UserID = firstID(doc, userIDKeys)
	if ev.UserID == "" {
		return CreditEvent{}, &ParseError{Field: "user_id", Reason: "is missing"}
	}
	ev.TxID = firstID(doc, txIDKeys)
	if ev.TxID == "" {
		return CreditEvent{}, &ParseError{Field: "transaction_id", Reason: "is missing"}
	}

	raw, ok := firstPresent(doc, amountKeys)
	if !ok {
		return CreditEvent{}, &ParseError{Field: "reward_amount", Reason: "is missing"}
	}
	var amount string
	switch v := raw.(type) {
	case json.Number:
		amount = v.String()
	case string:
		amount = v
	default:
		return CreditEvent{}, &ParseError{Field: "reward_amount", Reason: "is not a number"}
	}
	credits, err := ledger.ParseCredits(amount)
	if err != nil {
		return CreditEvent{}, &ParseError{Field: "reward_amount", Reason: "is not a non-negative number"}
	}
	ev.Credits = credits
	return ev, nil
}

// firstID returns the first alias holding a non-empty string or a number.
func firstID(doc map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// firstPresent returns the first alias that is present and not null.
func firstPresent(doc map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// =============================================================================
// QUERY STRING (signed GET, form-encoded POST)
// =============================================================================

// ParseQuery reads the partner's query parameters.
func ParseQuery(q url.Values, source string) (CreditEvent, error) {
	ev := CreditEvent{Source: source}
	ev.UserID = firstValue(q, userIDKeys)
	if ev.UserID == "" {
		return CreditEvent{}, &ParseError{Field: "user_id", Reason: "is missing"}
	}
	ev.TxID = firstValue(q, queryTxIDKeys)
	if ev.TxID == "" {
		return CreditEvent{}, &ParseError{Field: "transaction_id", Reason: "is missing"}
	}

	amount, ok := "", false
	for _, k := range queryAmountKeys {
		if q.Has(k) {
			amount, ok = q.Get(k), true
			break
		}
	}
	if !ok {
		return CreditEvent{}, &ParseError{Field: "reward_amount", Reason: "is missing"}
	}
	credits, err := ledger.ParseCredits(amount)
	if err != nil {
		return CreditEvent{}, &ParseError{Field: "reward_amount", Reason: "is not a non-negative number"}
	}
	ev.Credits = credits
	return ev, nil
}

func firstValue(q url.Values, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}
