// Package memory provides an in-memory ledger.Store for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earnly/credit-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes transactions behind one mutex. Each transaction works
// on a private copy of the state that replaces the shared state on commit,
// so a failed transaction leaves nothing behind.
type Memory struct {
	mu    sync.Mutex
	state *state
	clock func() time.Time
}

type state struct {
	users         map[string]ledger.User
	rewards       map[string]ledger.Reward
	rewardOrder   []string
	codes         map[string][]ledger.GiftCode // pool per reward, insertion order
	redemptions   []ledger.Redemption
	notifications []ledger.Notification
	taskEvents    map[string]ledger.TaskEvent
	earnings      []ledger.EarningEntry
}

// Option configures a Memory store.
type Option func(*Memory)

// WithClock overrides the server clock.
func WithClock(clock func() time.Time) Option {
	return func(m *Memory) { m.clock = clock }
}

func New(opts ...Option) *Memory {
	m := &Memory{
		state: &state{
			users:      make(map[string]ledger.User),
			rewards:    make(map[string]ledger.Reward),
			codes:      make(map[string][]ledger.GiftCode),
			taskEvents: make(map[string]ledger.TaskEvent),
		},
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (s *state) clone() *state {
	c := &state{
		users:         make(map[string]ledger.User, len(s.users)),
		rewards:       make(map[string]ledger.Reward, len(s.rewards)),
		rewardOrder:   append([]string(nil), s.rewardOrder...),
		codes:         make(map[string][]ledger.GiftCode, len(s.codes)),
		redemptions:   append([]ledger.Redemption(nil), s.redemptions...),
		notifications: append([]ledger.Notification(nil), s.notifications...),
		taskEvents:    make(map[string]ledger.TaskEvent, len(s.taskEvents)),
		earnings:      append([]ledger.EarningEntry(nil), s.earnings...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.rewards {
		c.rewards[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = append([]ledger.GiftCode(nil), v...)
	}
	for k, v := range s.taskEvents {
		c.taskEvents[k] = v
	}
	return c
}

func (m *Memory) Now() time.Time { return m.clock() }

func (m *Memory) Close() error { return nil }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against a snapshot and commits it if fn succeeds.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{st: m.state.clone(), now: m.clock()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.st
	return nil
}

type memTx struct {
	st  *state
	now time.Time
}

func (t *memTx) Now() time.Time { return t.now }

func (t *memTx) GetUser(_ context.Context, id string) (ledger.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return u, nil
}

func (t *memTx) GetReward(_ context.Context, id string) (ledger.Reward, error) {
	r, ok := t.st.rewards[id]
	if !ok {
		return ledger.Reward{}, ledger.ErrRewardNotFound
	}
	return r, nil
}

func (t *memTx) FindCode(_ context.Context, rewardID string, status ledger.CodeStatus) (ledger.GiftCode, bool, error) {
	for _, c := range t.st.codes[rewardID] {
		if c.Status == status {
			return c, true, nil
		}
	}
	return ledger.GiftCode{}, false, nil
}

func (t *memTx) GetCode(_ context.Context, rewardID, codeID string) (ledger.GiftCode, error) {
	for _, c := range t.st.codes[rewardID] {
		if c.ID == codeID {
			return c, nil
		}
	}
	return ledger.GiftCode{}, ledger.ErrCodeNotFound
}

func (t *memTx) UpdateCode(_ context.Context, code ledger.GiftCode) error {
	pool := t.st.codes[code.RewardID]
	for i := range pool {
		if pool[i].ID == code.ID {
			pool[i].Status = code.Status
			pool[i].ReservedBy = code.ReservedBy
			pool[i].ReservedAt = code.ReservedAt
			pool[i].UsedBy = code.UsedBy
			pool[i].UsedAt = code.UsedAt
			return nil
		}
	}
	return ledger.ErrCodeNotFound
}

func (t *memTx) IncrementUser(_ context.Context, userID string, d ledger.UserDelta) error {
	u, ok := t.st.users[userID]
	if !ok {
		if !d.CreateIfMissing {
			return ledger.ErrUserNotFound
		}
		u = ledger.User{ID: userID, JoinedAt: t.now}
	}
	u, err := d.ApplyTo(u)
	if err != nil {
		return err
	}
	if u.Balance < 0 {
		return fmt.Errorf("%w: user %s balance would be %d", ledger.ErrInsufficientBalance, userID, u.Balance)
	}
	u.UpdatedAt = t.now
	t.st.users[userID] = u
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, rewardID string, delta int64) error {
	r, ok := t.st.rewards[rewardID]
	if !ok {
		return ledger.ErrRewardNotFound
	}
	r.Stock += delta
	if r.Stock < 0 {
		return fmt.Errorf("%w: reward %s stock would be %d", ledger.ErrOutOfStock, rewardID, r.Stock)
	}
	r.UpdatedAt = t.now
	t.st.rewards[rewardID] = r
	return nil
}

func (t *memTx) InsertRedemption(_ context.Context, r ledger.Redemption) error {
	t.st.redemptions = append(t.st.redemptions, r)
	return nil
}

func (t *memTx) InsertNotification(_ context.Context, n ledger.Notification) error {
	t.st.notifications = append(t.st.notifications, n)
	return nil
}

func (t *memTx) GetTaskEvent(_ context.Context, id string) (ledger.TaskEvent, bool, error) {
	ev, ok := t.st.taskEvents[id]
	return ev, ok, nil
}

func (t *memTx) InsertTaskEvent(_ context.Context, ev ledger.TaskEvent) error {
	if _, ok := t.st.taskEvents[ev.ID]; ok {
		return ledger.ErrConcurrentModification
	}
	t.st.taskEvents[ev.ID] = ev
	return nil
}

func (t *memTx) InsertEarning(_ context.Context, e ledger.EarningEntry) error {
	t.st.earnings = append(t.st.earnings, e)
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) ReleaseExpiredReservations(ctx context.Context, rewardID string, cutoff time.Time) (int, error) {
	released := 0
	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		st := tx.(*memTx).st
		if _, ok := st.rewards[rewardID]; !ok {
			return ledger.ErrRewardNotFound
		}
		pool := st.codes[rewardID]
		for i := range pool {
			c := &pool[i]
			if c.Status != ledger.CodeReserved || c.ReservedAt == nil || !c.ReservedAt.Before(cutoff) {
				continue
			}
			c.Status = ledger.CodeFree
			c.ReservedBy = ""
			c.ReservedAt = nil
			released++
		}
		if released == 0 {
			return nil
		}
		return tx.IncrementStock(ctx, rewardID, int64(released))
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// =============================================================================
// READ PATHS
// =============================================================================

func (m *Memory) snapshot() *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Memory) GetUser(_ context.Context, id string) (ledger.User, error) {
	u, ok := m.snapshot().users[id]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return u, nil
}

func (m *Memory) GetReward(_ context.Context, id string) (ledger.Reward, error) {
	r, ok := m.snapshot().rewards[id]
	if !ok {
		return ledger.Reward{}, ledger.ErrRewardNotFound
	}
	return r, nil
}

func (m *Memory) ListRewards(_ context.Context, filter ledger.RewardFilter) ([]ledger.Reward, error) {
	st := m.snapshot()
	var out []ledger.Reward
	for _, id := range st.rewardOrder {
		r := st.rewards[id]
		if filter.ActiveOnly && !r.Active {
			continue
		}
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		if filter.Country != "" && !r.AvailableIn(filter.Country) {
			continue
		}
		out = append(out, r)
	}
	// catalog order, same as the SQLite store
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ListCodes(_ context.Context, rewardID string, status ledger.CodeStatus) ([]ledger.GiftCode, error) {
	var out []ledger.GiftCode
	for _, c := range m.snapshot().codes[rewardID] {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func newestFirst[T any](items []T, userID string, owner func(T) string, at func(T) time.Time, limit int) []T {
	var out []T
	for _, it := range items {
		if owner(it) == userID {
			out = append(out, it)
		}
	}
	// stable + reverse keeps insertion order as the tie-break
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return at(out[i]).After(at(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) ListEarnings(_ context.Context, userID string, limit int) ([]ledger.EarningEntry, error) {
	return newestFirst(m.snapshot().earnings, userID,
		func(e ledger.EarningEntry) string { return e.UserID },
		func(e ledger.EarningEntry) time.Time { return e.At }, limit), nil
}

func (m *Memory) ListRedemptions(_ context.Context, userID string, limit int) ([]ledger.Redemption, error) {
	return newestFirst(m.snapshot().redemptions, userID,
		func(r ledger.Redemption) string { return r.UserID },
		func(r ledger.Redemption) time.Time { return r.RedeemedAt }, limit), nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string, limit int) ([]ledger.Notification, error) {
	return newestFirst(m.snapshot().notifications, userID,
		func(n ledger.Notification) string { return n.UserID },
		func(n ledger.Notification) time.Time { return n.CreatedAt }, limit), nil
}

// =============================================================================
// CATALOG & PROFILES
// =============================================================================

func (m *Memory) CreateUser(ctx context.Context, u ledger.User) (bool, error) {
	created := false
	err := m.WithTx(ctx, func(tx ledger.Tx) error {
		st := tx.(*memTx).st
		if _, ok := st.users[u.ID]; ok {
			return nil
		}
		u.Balance, u.TotalEarned, u.TotalRedeemed = 0, 0, 0
		u.JoinedAt = tx.Now()
		u.UpdatedAt = tx.Now()
		st.users[u.ID] = u
		created = true
		return nil
	})
	return created, err
}

func (m *Memory) SaveReward(ctx context.Context, r ledger.Reward) error {
	return m.WithTx(ctx, func(tx ledger.Tx) error {
		st := tx.(*memTx).st
		existing, ok := st.rewards[r.ID]
		if ok {
			r.Stock = existing.Stock
			r.CreatedAt = existing.CreatedAt
		} else {
			r.CreatedAt = tx.Now()
			st.rewardOrder = append(st.rewardOrder, r.ID)
		}
		r.UpdatedAt = tx.Now()
		st.rewards[r.ID] = r
		return nil
	})
}

func (m *Memory) AddCodes(ctx context.Context, rewardID string, codes []ledger.GiftCode) error {
	return m.WithTx(ctx, func(tx ledger.Tx) error {
		st := tx.(*memTx).st
		if _, ok := st.rewards[rewardID]; !ok {
			return ledger.ErrRewardNotFound
		}
		for _, c := range codes {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			c.RewardID = rewardID
			c.Status = ledger.CodeFree
			if c.CreatedAt.IsZero() {
				c.CreatedAt = tx.Now()
			}
			st.codes[rewardID] = append(st.codes[rewardID], c)
		}
		return tx.IncrementStock(ctx, rewardID, int64(len(codes)))
	})
}

func (m *Memory) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	return m.WithTx(ctx, func(tx ledger.Tx) error {
		st := tx.(*memTx).st
		for i := range st.notifications {
			n := &st.notifications[i]
			if n.ID == notificationID && n.UserID == userID {
				now := tx.Now()
				n.Read = true
				n.ReadAt = &now
				return nil
			}
		}
		return ledger.ErrNotificationNotFound
	})
}

// SetUser writes a user document verbatim. Test fixtures use it to set up
// balances and flags without going through the webhook.
func (m *Memory) SetUser(u ledger.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state.clone()
	st.users[u.ID] = u
	m.state = st
}

// SetCode writes a code verbatim, e.g. a reservation with a chosen time.
func (m *Memory) SetCode(c ledger.GiftCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state.clone()
	defer func() { m.state = st }()
	pool := st.codes[c.RewardID]
	for i := range pool {
		if pool[i].ID == c.ID {
			pool[i] = c
			return
		}
	}
	st.codes[c.RewardID] = append(pool, c)
}
