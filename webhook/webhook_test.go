/*
webhook_test.go - Tests for partner webhook ingestion

Tests for:
- Exactly-once crediting (replays and concurrent duplicates)
- POST body signatures (altered body, header variants, missing key)
- GET URL signatures (either key, swapped hash, proxy headers)
- Payload parsing, aliases and rounding
- Method and payload rejections
*/
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earnly/credit-engine/ledger"
	"github.com/earnly/credit-engine/store/memory"
)

const (
	testSecret = "s3cr3t"
	testServer = "srv-key"
	endpoint   = "http://api.earnly.test/webhooks/bitlabs"
)

var now = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, keys Keys) (*Handler, *memory.Memory) {
	t.Helper()
	s := memory.New(memory.WithClock(func() time.Time { return now }))
	return NewHandler(NewIngestor(s), HandlerConfig{Keys: keys, Source: "bitlabs"}), s
}

func signedPost(body string, header string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, SignBody(testSecret, []byte(body)))
	return req
}

func signedGet(key, query string) *http.Request {
	canonical := endpoint + "?" + query
	return httptest.NewRequest(http.MethodGet, canonical+"&hash="+SignURL(key, canonical), nil)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func balance(t *testing.T, s *memory.Memory, userID string) ledger.Credits {
	t.Helper()
	u, err := s.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, u.Consistent())
	return u.Balance
}

func taskEventSeen(t *testing.T, s *memory.Memory, id string) bool {
	t.Helper()
	var seen bool
	require.NoError(t, s.WithTx(context.Background(), func(tx ledger.Tx) error {
		var err error
		_, seen, err = tx.GetTaskEvent(context.Background(), id)
		return err
	}))
	return seen
}

// =============================================================================
// EXACTLY ONCE
// =============================================================================

func TestPost_CreditsOnceAndRoundsHalfUp(t *testing.T) {
	// GIVEN: A signed delivery worth 37.6 credits for a user who never opened the app
	h, s := newTestHandler(t, Keys{Secret: testSecret, Server: testServer})
	body := `{"user_id":"u1","transaction_id":"T1","reward_amount":37.6}`

	// WHEN: The partner delivers it twice
	first := serve(h, signedPost(body, "x-signature"))
	second := serve(h, signedPost(body, "x-signature"))

	// THEN: Both succeed and the user is credited 38 once
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "OK", first.Body.String())
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, ledger.Credits(38), balance(t, s, "u1"))

	earnings, err := s.ListEarnings(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, earnings, 1)
	assert.Equal(t, "T1", earnings[0].TxID)
	assert.Equal(t, "bitlabs", earnings[0].Source)

	notes, err := s.ListNotifications(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, ledger.NotifyEarning, notes[0].Type)
}

func TestApply_ConcurrentDuplicates(t *testing.T) {
	s := memory.New()
	ing := NewIngestor(s)
	ev := CreditEvent{UserID: "u1", TxID: "T-dup", Credits: 25, Source: "bitlabs"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ing.Apply(context.Background(), ev)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, ledger.Credits(25), balance(t, s, "u1"))
}

func TestApply_ExistingUserKeepsProfile(t *testing.T) {
	s := memory.New()
	_, err := s.CreateUser(context.Background(), ledger.User{ID: "u1", Email: "u1@earnly.test", Country: "US"})
	require.NoError(t, err)

	applied, err := NewIngestor(s).Apply(context.Background(), CreditEvent{UserID: "u1", TxID: "T9", Credits: 10})
	require.NoError(t, err)
	assert.True(t, applied)

	u, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "US", u.Country)
	assert.Equal(t, ledger.Credits(10), u.TotalEarned)
}

// =============================================================================
// POST SIGNATURES
// =============================================================================

func TestPost_AlteredBodyRejected(t *testing.T) {
	// GIVEN: A body altered by one byte after signing
	h, s := newTestHandler(t, Keys{Secret: testSecret})
	body := `{"user_id":"u1","transaction_id":"T1","reward_amount":10}`
	tampered := strings.Replace(body, "10", "90", 1)

	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(tampered))
	req.Header.Set("x-signature", SignBody(testSecret, []byte(body)))

	// WHEN: Delivering it
	rec := serve(h, req)

	// THEN: Rejected and nothing credited
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid signature", rec.Body.String())
	_, err := s.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestPost_SignatureHeaders(t *testing.T) {
	for i, header := range []string{"x-signature", "x-hub-signature", "x-signature-hmac-sha256"} {
		h, s := newTestHandler(t, Keys{Secret: testSecret})
		body := fmt.Sprintf(`{"uid":"u1","tx_id":"T%d","amount":"5"}`, i)

		rec := serve(h, signedPost(body, header))

		assert.Equal(t, http.StatusOK, rec.Code, header)
		assert.Equal(t, ledger.Credits(5), balance(t, s, "u1"), header)
	}
}

func TestPost_Sha256Prefix(t *testing.T) {
	h, _ := newTestHandler(t, Keys{Secret: testSecret})
	body := `{"userId":"u1","transactionId":"T1","payout":1}`
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(body))
	req.Header.Set("X-Hub-Signature", "sha256="+SignBody(testSecret, []byte(body)))

	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestPost_MissingSignatureOrSecret(t *testing.T) {
	body := `{"user_id":"u1","transaction_id":"T1","reward_amount":10}`

	h, _ := newTestHandler(t, Keys{Secret: testSecret})
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	// no secret configured: nothing can verify, even a "signature" of the empty key
	h, _ = newTestHandler(t, Keys{Server: testServer})
	req = httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(body))
	req.Header.Set("x-signature", SignBody("", []byte(body)))
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
}

func TestPost_FormEncodedBody(t *testing.T) {
	h, s := newTestHandler(t, Keys{Secret: testSecret})
	body := url.Values{"uid": {"u1"}, "tid": {"T1"}, "value": {"2.5"}}.Encode()
	req := httptest.NewRequest(http.MethodPost, endpoint, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-signature", SignBody(testSecret, []byte(body)))

	assert.Equal(t, http.StatusOK, serve(h, req).Code)
	assert.Equal(t, ledger.Credits(3), balance(t, s, "u1"))
}

// =============================================================================
// GET SIGNATURES
// =============================================================================

func TestGet_EitherKeyMatches(t *testing.T) {
	h, s := newTestHandler(t, Keys{Secret: testSecret, Server: testServer})

	rec := serve(h, signedGet(testServer, "uid=u1&tid=T1&value=37.6"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, signedGet(testSecret, "user_id=u1&transaction_id=T2&reward_amount=2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, ledger.Credits(40), balance(t, s, "u1"))
}

func TestGet_SwappedHashRejected(t *testing.T) {
	// GIVEN: A valid hash lifted from a different delivery
	h, s := newTestHandler(t, Keys{Secret: testSecret, Server: testServer})
	other := endpoint + "?uid=u1&tid=T1&value=1"
	target := endpoint + "?uid=u1&tid=T1&value=1000"
	req := httptest.NewRequest(http.MethodGet, target+"&hash="+SignURL(testServer, other), nil)

	// WHEN: Replaying it on the altered URL
	rec := serve(h, req)

	// THEN: Rejected, nothing credited
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid signature", rec.Body.String())
	_, err := s.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestGet_UpperCaseHashAccepted(t *testing.T) {
	h, _ := newTestHandler(t, Keys{Server: testServer})
	canonical := endpoint + "?uid=u1&tid=T1&value=1"
	req := httptest.NewRequest(http.MethodGet, canonical+"&hash="+strings.ToUpper(SignURL(testServer, canonical)), nil)

	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestGet_MissingHashOrKeys(t *testing.T) {
	h, _ := newTestHandler(t, Keys{Secret: testSecret})
	req := httptest.NewRequest(http.MethodGet, endpoint+"?uid=u1&tid=T1&value=1", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	h, _ = newTestHandler(t, Keys{Secret: "  ", Server: ""})
	assert.Equal(t, http.StatusUnauthorized, serve(h, signedGet("", "uid=u1&tid=T1&value=1")).Code)
}

func TestGet_EncodedSpaceKeepsPartnerEncoding(t *testing.T) {
	// GIVEN: A partner URL whose transaction id holds a percent-encoded space
	h, s := newTestHandler(t, Keys{Secret: testSecret})
	query := "uid=u1&tid=T%201&value=2"

	// WHEN: The signature covers the URL exactly as sent
	ok := serve(h, signedGet(testSecret, query))

	// THEN: It is accepted and the id is decoded once
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.True(t, taskEventSeen(t, s, "T 1"))

	// a signature over the form-encoded spelling does not match
	plusForm := endpoint + "?uid=u1&tid=T+1&value=2"
	req := httptest.NewRequest(http.MethodGet, endpoint+"?"+query+"&hash="+SignURL(testSecret, plusForm), nil)
	assert.Equal(t, http.StatusUnauthorized, serve(h, req).Code)

	spaced := httptest.NewRequest(http.MethodGet, endpoint+"?tid=T%201&hash=x&memo=a+b", nil)
	assert.Equal(t, endpoint+"?tid=T%201&memo=a+b", CanonicalURL(spaced))
}

func TestCanonicalURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"http://internal:8080/webhooks/bitlabs?uid=u1&hash=abc&tid=T%201&value=3&hash=def", nil)
	assert.Equal(t, "http://internal:8080/webhooks/bitlabs?uid=u1&tid=T%201&value=3", CanonicalURL(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "api.earnly.app, proxy.local")
	assert.Equal(t, "https://api.earnly.app/webhooks/bitlabs?uid=u1&tid=T%201&value=3", CanonicalURL(req))

	onlyHash := httptest.NewRequest(http.MethodGet, "http://h/webhooks/bitlabs?hash=abc", nil)
	assert.Equal(t, "http://h/webhooks/bitlabs", CanonicalURL(onlyHash))
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, Keys{Secret: testSecret})
	for _, m := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := serve(h, httptest.NewRequest(m, endpoint, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, m)
		assert.Equal(t, "Method Not Allowed", rec.Body.String())
	}
}

func TestBadPayload(t *testing.T) {
	h, _ := newTestHandler(t, Keys{Secret: testSecret})
	bodies := []string{
		`{"transaction_id":"T1","reward_amount":1}`,
		`{"user_id":"u1","reward_amount":1}`,
		`{"user_id":"u1","transaction_id":"T1"}`,
		`{"user_id":"u1","transaction_id":"T1","reward_amount":"lots"}`,
		`{"user_id":"u1","transaction_id":"T1","reward_amount":-5}`,
		`{"user_id":"u1","transaction_id":"T1","reward_amount":true}`,
		`not json`,
	}
	for _, body := range bodies {
		rec := serve(h, signedPost(body, "x-signature"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Bad payload", rec.Body.String(), body)
	}
}

func TestBodyTooLarge(t *testing.T) {
	s := memory.New()
	h := NewHandler(NewIngestor(s), HandlerConfig{Keys: Keys{Secret: testSecret}, MaxBody: 32})
	body := `{"user_id":"u1","transaction_id":"T1","reward_amount":1,"pad":"xxxxxxxx"}`

	assert.Equal(t, http.StatusBadRequest, serve(h, signedPost(body, "x-signature")).Code)
}

func TestPost_AmountOverLimitRejected(t *testing.T) {
	// GIVEN: A signed delivery far above the per-event ceiling
	h, s := newTestHandler(t, Keys{Secret: testSecret})
	body := `{"user_id":"u1","transaction_id":"T-big","reward_amount":5000000000000000000}`

	// WHEN: The partner delivers it twice
	first := serve(h, signedPost(body, "x-signature"))
	second := serve(h, signedPost(body, "x-signature"))

	// THEN: Both are bad payloads and nothing is recorded
	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, "Bad payload", first.Body.String())
	assert.Equal(t, http.StatusBadRequest, second.Code)
	_, err := s.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestApply_MaxCredits(t *testing.T) {
	s := memory.New()
	ing := NewIngestor(s, WithMaxCredits(500))
	ctx := context.Background()

	applied, err := ing.Apply(ctx, CreditEvent{UserID: "u1", TxID: "T1", Credits: 500})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = ing.Apply(ctx, CreditEvent{UserID: "u1", TxID: "T2", Credits: 501})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	assert.False(t, applied)

	// a rejected event is not remembered, so a corrected retry still counts
	assert.False(t, taskEventSeen(t, s, "T2"))
	assert.Equal(t, ledger.Credits(500), balance(t, s, "u1"))
}

func TestApply_DefaultMaxCredits(t *testing.T) {
	s := memory.New()
	ing := NewIngestor(s, WithMaxCredits(0))

	_, err := ing.Apply(context.Background(), CreditEvent{UserID: "u1", TxID: "T1", Credits: DefaultMaxCredits + 1})
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

// =============================================================================
// PARSING
// =============================================================================

func TestParseJSON_Aliases(t *testing.T) {
	ev, err := ParseJSON([]byte(`{"uid":12345,"tx_id":"A-1","payout":"0.5"}`), "bitlabs")
	require.NoError(t, err)
	assert.Equal(t, CreditEvent{UserID: "12345", TxID: "A-1", Credits: 1, Source: "bitlabs"}, ev)

	// empty string falls through to the next alias
	ev, err = ParseJSON([]byte(`{"user_id":"","userId":"u2","transaction_id":"B","amount":null,"payout":4}`), "bitlabs")
	require.NoError(t, err)
	assert.Equal(t, "u2", ev.UserID)
	assert.Equal(t, ledger.Credits(4), ev.Credits)
}

func TestParseQuery_Errors(t *testing.T) {
	_, err := ParseQuery(url.Values{"uid": {"u1"}, "tid": {"T"}, "value": {"NaN"}}, "bitlabs")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "reward_amount", pe.Field)
	assert.Equal(t, ledger.KindInvalidArgument, ledger.KindOf(err))
}
