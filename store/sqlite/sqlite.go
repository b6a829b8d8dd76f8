/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  The Ledger Store: users, rewards, gift code pools, receipts and webhook
  dedup records, with serializable multi-document transactions.

SERIALIZABILITY:
  Every connection opens transactions with BEGIN IMMEDIATE (_txlock), so a
  transaction takes SQLite's single writer lock before its first read and
  keeps it until commit. Two redeem transactions racing for the last free
  code therefore run one after the other; the second sees the code used.
  A transaction that cannot get the lock within the busy timeout fails with
  ledger.ErrConcurrentModification and is retried by ledger.Transact.

KEY TABLES:
  users:         balance, total_earned, total_redeemed, flags
  rewards:       catalog + stock counter
  gift_codes:    per-reward pools (status free/reserved/used)
  redemptions:   receipts (append-only)
  notifications: per-user messages
  task_events:   webhook dedup, PRIMARY KEY = partner transaction id
  earnings:      earnings history (append-only)

CONSTRAINTS:
  CHECK (balance >= 0) and CHECK (stock >= 0) back the engine's
  precondition checks; a violation surfaces as the matching domain error.

MIGRATION:
  Versioned SQL migrations under migrations/ are embedded and applied with
  goose on New().

USAGE:
  store, err := sqlite.New("./data/earnly.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/earnly/credit-engine/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the server clock used for write timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	const params = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"

	dsn := dbPath + "?_journal_mode=WAL&" + params
	inMemory := dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
	if inMemory {
		dsn = "file::memory:?" + params
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the server clock in UTC.
func (s *Store) Now() time.Time {
	return s.clock().UTC()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within an immediate database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, now: s.Now()}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txStore struct {
	tx  *sql.Tx
	now time.Time
}

func (t *txStore) Now() time.Time { return t.now }

func (t *txStore) GetUser(ctx context.Context, id string) (ledger.User, error) {
	return getUser(ctx, t.tx, id)
}

func (t *txStore) GetReward(ctx context.Context, id string) (ledger.Reward, error) {
	return getReward(ctx, t.tx, id)
}

func (t *txStore) FindCode(ctx context.Context, rewardID string, status ledger.CodeStatus) (ledger.GiftCode, bool, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+codeColumns+" FROM gift_codes WHERE reward_id = ? AND status = ? LIMIT 1",
		rewardID, status,
	)
	code, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.GiftCode{}, false, nil
	}
	if err != nil {
		return ledger.GiftCode{}, false, translate(err)
	}
	return code, true, nil
}

func (t *txStore) GetCode(ctx context.Context, rewardID, codeID string) (ledger.GiftCode, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+codeColumns+" FROM gift_codes WHERE reward_id = ? AND id = ?",
		rewardID, codeID,
	)
	code, err := scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.GiftCode{}, ledger.ErrCodeNotFound
	}
	if err != nil {
		return ledger.GiftCode{}, translate(err)
	}
	return code, nil
}

func (t *txStore) UpdateCode(ctx context.Context, code ledger.GiftCode) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE gift_codes
		SET status = ?, reserved_by = ?, reserved_at = ?, used_by = ?, used_at = ?
		WHERE reward_id = ? AND id = ?`,
		code.Status,
		nullString(code.ReservedBy), nullTime(code.ReservedAt),
		nullString(code.UsedBy), nullTime(code.UsedAt),
		code.RewardID, code.ID,
	)
	return expectRow(res, err, ledger.ErrCodeNotFound)
}

func (t *txStore) IncrementUser(ctx context.Context, userID string, d ledger.UserDelta) error {
	now := formatTime(t.now)
	// SQLite turns an overflowing integer sum into a REAL, so every total is
	// bounded by the ceiling for its delta.
	maxBalance, maxEarned, maxRedeemed := ledger.Ceiling(d.Balance), ledger.Ceiling(d.TotalEarned), ledger.Ceiling(d.TotalRedeemed)

	if d.CreateIfMissing {
		res, err := t.tx.ExecContext(ctx, `
			INSERT INTO users (id, balance, total_earned, total_redeemed, joined_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				balance = users.balance + excluded.balance,
				total_earned = users.total_earned + excluded.total_earned,
				total_redeemed = users.total_redeemed + excluded.total_redeemed,
				updated_at = excluded.updated_at
			WHERE users.balance <= ? AND users.total_earned <= ? AND users.total_redeemed <= ?`,
			userID, d.Balance, d.TotalEarned, d.TotalRedeemed, now, now,
			maxBalance, maxEarned, maxRedeemed,
		)
		return expectRow(res, err, fmt.Errorf("user %s: %w", userID, ledger.ErrBalanceOverflow))
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE users
		SET balance = balance + ?, total_earned = total_earned + ?,
		    total_redeemed = total_redeemed + ?, updated_at = ?
		WHERE id = ? AND balance <= ? AND total_earned <= ? AND total_redeemed <= ?`,
		d.Balance, d.TotalEarned, d.TotalRedeemed, now, userID,
		maxBalance, maxEarned, maxRedeemed,
	)
	if err := expectRow(res, err, ledger.ErrUserNotFound); !errors.Is(err, ledger.ErrUserNotFound) {
		return err
	}
	var exists int
	switch err := t.tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&exists); {
	case errors.Is(err, sql.ErrNoRows):
		return ledger.ErrUserNotFound
	case err != nil:
		return translate(err)
	}
	return fmt.Errorf("user %s: %w", userID, ledger.ErrBalanceOverflow)
}

func (t *txStore) IncrementStock(ctx context.Context, rewardID string, delta int64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE rewards SET stock = stock + ?, updated_at = ? WHERE id = ?",
		delta, formatTime(t.now), rewardID,
	)
	return expectRow(res, err, ledger.ErrRewardNotFound)
}

func (t *txStore) InsertRedemption(ctx context.Context, r ledger.Redemption) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO redemptions
		(id, user_id, reward_id, title, price, code, status, instructions, delivered_at, redeemed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.RewardID, r.Title, r.Price, r.Code, r.Status, r.Instructions,
		nullTime(r.DeliveredAt), formatTime(r.RedeemedAt), nullTime(r.ExpiresAt),
	)
	return translate(err)
}

func (t *txStore) InsertNotification(ctx context.Context, n ledger.Notification) error {
	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data_json, read, read_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, string(dataJSON), n.Read,
		nullTime(n.ReadAt), formatTime(n.CreatedAt),
	)
	return translate(err)
}

func (t *txStore) GetTaskEvent(ctx context.Context, id string) (ledger.TaskEvent, bool, error) {
	var (
		ev ledger.TaskEvent
		at string
	)
	err := t.tx.QueryRowContext(ctx,
		"SELECT id, user_id, source, credits, at FROM task_events WHERE id = ?", id,
	).Scan(&ev.ID, &ev.UserID, &ev.Source, &ev.Credits, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.TaskEvent{}, false, nil
	}
	if err != nil {
		return ledger.TaskEvent{}, false, translate(err)
	}
	ev.At = parseTime(at)
	return ev, true, nil
}

func (t *txStore) InsertTaskEvent(ctx context.Context, ev ledger.TaskEvent) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO task_events (id, user_id, source, credits, at) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.UserID, ev.Source, ev.Credits, formatTime(ev.At),
	)
	if isUniqueConstraintError(err) {
		// another delivery of the same partner transaction committed first
		return ledger.ErrConcurrentModification
	}
	return translate(err)
}

func (t *txStore) InsertEarning(ctx context.Context, e ledger.EarningEntry) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO earnings (id, user_id, source, tx_id, credits, at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, e.UserID, e.Source, e.TxID, e.Credits, formatTime(e.At),
	)
	return translate(err)
}

// =============================================================================
// RESERVATIONS (ledger.ReservationStore interface)
// =============================================================================

// ReleaseExpiredReservations frees stale reservations of one reward and
// restores its stock, as one transaction.
func (s *Store) ReleaseExpiredReservations(ctx context.Context, rewardID string, cutoff time.Time) (int, error) {
	released := 0
	err := s.WithTx(ctx, func(tx ledger.Tx) error {
		t := tx.(*txStore)
		res, err := t.tx.ExecContext(ctx, `
			UPDATE gift_codes
			SET status = 'free', reserved_by = NULL, reserved_at = NULL
			WHERE reward_id = ? AND status = 'reserved' AND reserved_at < ?`,
			rewardID, formatTime(cutoff),
		)
		if err != nil {
			return translate(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		released = int(n)
		if released == 0 {
			return nil
		}
		return t.IncrementStock(ctx, rewardID, n)
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// =============================================================================
// READ PATHS (ledger.Reader interface)
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id string) (ledger.User, error) {
	return getUser(ctx, s.db, id)
}

func (s *Store) GetReward(ctx context.Context, id string) (ledger.Reward, error) {
	return getReward(ctx, s.db, id)
}

// ListRewards returns rewards in catalog order (by title).
func (s *Store) ListRewards(ctx context.Context, filter ledger.RewardFilter) ([]ledger.Reward, error) {
	query := "SELECT " + rewardColumns + " FROM rewards WHERE 1 = 1"
	var args []any
	if filter.ActiveOnly {
		query += " AND active = TRUE"
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY title, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []ledger.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		// region membership is a JSON set; filter after decoding
		if filter.Country != "" && !r.AvailableIn(filter.Country) {
			continue
		}
		rewards = append(rewards, r)
	}
	return rewards, rows.Err()
}

func (s *Store) ListCodes(ctx context.Context, rewardID string, status ledger.CodeStatus) ([]ledger.GiftCode, error) {
	query := "SELECT " + codeColumns + " FROM gift_codes WHERE reward_id = ?"
	args := []any{rewardID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gift codes: %w", err)
	}
	defer rows.Close()

	var codes []ledger.GiftCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gift code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (s *Store) ListEarnings(ctx context.Context, userID string, limit int) ([]ledger.EarningEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source, tx_id, credits, at
		FROM earnings WHERE user_id = ?
		ORDER BY at DESC, rowid DESC
		LIMIT ?`,
		userID, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	defer rows.Close()

	var entries []ledger.EarningEntry
	for rows.Next() {
		var (
			e  ledger.EarningEntry
			at string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Source, &e.TxID, &e.Credits, &at); err != nil {
			return nil, fmt.Errorf("failed to scan earning: %w", err)
		}
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListRedemptions(ctx context.Context, userID string, limit int) ([]ledger.Redemption, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, reward_id, title, price, code, status, instructions,
		       delivered_at, redeemed_at, expires_at
		FROM redemptions WHERE user_id = ?
		ORDER BY redeemed_at DESC, rowid DESC
		LIMIT ?`,
		userID, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Redemption
	for rows.Next() {
		var (
			r                      ledger.Redemption
			deliveredAt, expiresAt sql.NullString
			redeemedAt             string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.RewardID, &r.Title, &r.Price, &r.Code, &r.Status,
			&r.Instructions, &deliveredAt, &redeemedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		r.DeliveredAt = parseNullTime(deliveredAt)
		r.RedeemedAt = parseTime(redeemedAt)
		r.ExpiresAt = parseNullTime(expiresAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListNotifications(ctx context.Context, userID string, limit int) ([]ledger.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, data_json, read, read_at, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		userID, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []ledger.Notification
	for rows.Next() {
		var (
			n         ledger.Notification
			dataJSON  string
			readAt    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &dataJSON,
			&n.Read, &readAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if dataJSON != "" && dataJSON != "null" {
			if err := json.Unmarshal([]byte(dataJSON), &n.Data); err != nil {
				return nil, fmt.Errorf("notification %s: bad data: %w", n.ID, err)
			}
		}
		n.ReadAt = parseNullTime(readAt)
		n.CreatedAt = parseTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG & PROFILES (ledger.CatalogStore interface)
// =============================================================================

// CreateUser inserts a user with zero totals; an existing user is left alone.
func (s *Store) CreateUser(ctx context.Context, u ledger.User) (bool, error) {
	now := formatTime(s.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, country, banned, locked, verified, joined_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Email, u.Name, u.Country, u.Flags.Banned, u.Flags.Locked, u.Flags.Verified, now, now,
	)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveReward upserts a reward. Stock is only written on insert.
func (s *Store) SaveReward(ctx context.Context, r ledger.Reward) error {
	regionJSON, err := json.Marshal(regionOrEmpty(r.Region))
	if err != nil {
		return fmt.Errorf("failed to encode region: %w", err)
	}
	now := formatTime(s.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rewards
		(id, title, description, provider, price, value, currency, region_json, category, active,
		 stock, image, terms, estimated_delivery, instructions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			provider = excluded.provider,
			price = excluded.price,
			value = excluded.value,
			currency = excluded.currency,
			region_json = excluded.region_json,
			category = excluded.category,
			active = excluded.active,
			image = excluded.image,
			terms = excluded.terms,
			estimated_delivery = excluded.estimated_delivery,
			instructions = excluded.instructions,
			updated_at = excluded.updated_at`,
		r.ID, r.Title, r.Description, r.Provider, r.Price, r.Value.String(), r.Currency,
		string(regionJSON), r.Category, r.Active, r.Stock, r.Image, r.Terms,
		r.EstimatedDelivery, r.Instructions, now, now,
	)
	return translate(err)
}

// AddCodes inserts free codes and raises the reward's stock by the count.
func (s *Store) AddCodes(ctx context.Context, rewardID string, codes []ledger.GiftCode) error {
	return s.WithTx(ctx, func(tx ledger.Tx) error {
		t := tx.(*txStore)
		if _, err := getReward(ctx, t.tx, rewardID); err != nil {
			return err
		}
		for _, c := range codes {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			createdAt := c.CreatedAt
			if createdAt.IsZero() {
				createdAt = t.now
			}
			_, err := t.tx.ExecContext(ctx, `
				INSERT INTO gift_codes (id, reward_id, code, status, batch, expires_at, created_at)
				VALUES (?, ?, ?, 'free', ?, ?, ?)`,
				c.ID, rewardID, c.Code, c.Batch, nullTime(c.ExpiresAt), formatTime(createdAt),
			)
			if err != nil {
				return translate(fmt.Errorf("failed to insert code %s: %w", c.Code, err))
			}
		}
		return t.IncrementStock(ctx, rewardID, int64(len(codes)))
	})
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = TRUE, read_at = ? WHERE id = ? AND user_id = ?",
		formatTime(s.Now()), notificationID, userID,
	)
	return expectRow(res, err, ledger.ErrNotificationNotFound)
}

// =============================================================================
// ROW MAPPING
// =============================================================================

const userColumns = `id, email, name, balance, total_earned, total_redeemed, country,
	banned, locked, verified, joined_at, updated_at`

func getUser(ctx context.Context, q queryer, id string) (ledger.User, error) {
	var (
		u                   ledger.User
		joinedAt, updatedAt string
	)
	err := q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Balance, &u.TotalEarned, &u.TotalRedeemed, &u.Country,
		&u.Flags.Banned, &u.Flags.Locked, &u.Flags.Verified, &joinedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	if err != nil {
		return ledger.User{}, translate(err)
	}
	u.JoinedAt = parseTime(joinedAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

const rewardColumns = `id, title, description, provider, price, value, currency, region_json,
	category, active, stock, image, terms, estimated_delivery, instructions, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func getReward(ctx context.Context, q queryer, id string) (ledger.Reward, error) {
	r, err := scanReward(q.QueryRowContext(ctx, "SELECT "+rewardColumns+" FROM rewards WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Reward{}, ledger.ErrRewardNotFound
	}
	if err != nil {
		return ledger.Reward{}, translate(err)
	}
	return r, nil
}

func scanReward(row rowScanner) (ledger.Reward, error) {
	var (
		r                    ledger.Reward
		value, regionJSON    string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.Provider, &r.Price, &value, &r.Currency, &regionJSON,
		&r.Category, &r.Active, &r.Stock, &r.Image, &r.Terms, &r.EstimatedDelivery, &r.Instructions,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}
	if r.Value, err = decimal.NewFromString(value); err != nil {
		return r, fmt.Errorf("reward %s: bad value %q: %w", r.ID, value, err)
	}
	// an unreadable region set must not widen availability to everyone
	if regionJSON != "" {
		if err := json.Unmarshal([]byte(regionJSON), &r.Region); err != nil {
			return r, fmt.Errorf("reward %s: bad region set: %w", r.ID, err)
		}
	}
	if len(r.Region) == 0 {
		r.Region = nil
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

const codeColumns = `id, reward_id, code, status, reserved_by, reserved_at, used_by, used_at,
	batch, expires_at, created_at`

func scanCode(row rowScanner) (ledger.GiftCode, error) {
	var (
		c                             ledger.GiftCode
		reservedBy, usedBy            sql.NullString
		reservedAt, usedAt, expiresAt sql.NullString
		createdAt                     string
	)
	err := row.Scan(&c.ID, &c.RewardID, &c.Code, &c.Status, &reservedBy, &reservedAt,
		&usedBy, &usedAt, &c.Batch, &expiresAt, &createdAt)
	if err != nil {
		return c, err
	}
	c.ReservedBy = reservedBy.String
	c.ReservedAt = parseNullTime(reservedAt)
	c.UsedBy = usedBy.String
	c.UsedAt = parseNullTime(usedAt)
	c.ExpiresAt = parseNullTime(expiresAt)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func regionOrEmpty(region []string) []string {
	if region == nil {
		return []string{}
	}
	return region
}

// sqlLimit maps "no limit" (<= 0) to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func expectRow(res sql.Result, err error, notFound error) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// translate maps driver errors onto ledger errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	case sqlite3.ErrConstraint:
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck {
			return checkViolation(err)
		}
	}
	return err
}

func checkViolation(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "balance"):
		return fmt.Errorf("%w: %v", ledger.ErrInsufficientBalance, err)
	case strings.Contains(msg, "stock"):
		return fmt.Errorf("%w: %v", ledger.ErrOutOfStock, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
