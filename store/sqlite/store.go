// Package sqlite implements store.Store on SQLite via modernc.org/sqlite.
// Balance and billing mutations are single UPDATE ... RETURNING
// statements whose WHERE clause carries the precondition; usage history
// is a JSON array rewritten in the same statement with the JSON1
// functions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DimensionCoin/credits"
	"github.com/DimensionCoin/credits/billing"
	"github.com/DimensionCoin/credits/id"
	creditsstore "github.com/DimensionCoin/credits/store"
	"github.com/DimensionCoin/credits/store/internal/sqlcol"
	"github.com/DimensionCoin/credits/user"
)

// compile-time interface check
var _ creditsstore.Store = (*Store)(nil)

const userColumns = `id, external_id, email, first_name, last_name, tier, customer_ref,
	credits, top_selections, usage_history, billing_event_at, created_at, updated_at`

// Store implements store.Store using database/sql and the pure-Go SQLite
// driver.
type Store struct {
	db *sql.DB
}

// New wraps an existing handle opened with the "sqlite" driver.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the database file at path with WAL journaling and a single
// connection, so writers queue in the pool instead of failing with
// SQLITE_BUSY.
func Open(path string) (*Store, error) {
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &Store{db: db}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrate(ctx, s.db); err != nil {
		return fmt.Errorf("credits/sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) (*user.User, bool, error) {
	selections, err := sqlcol.EncodeSelections(u.TopSelections)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credits_users (id, external_id, email, first_name, last_name, tier,
			customer_ref, credits, top_selections, usage_history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', ?, ?)
		ON CONFLICT (external_id) DO NOTHING`,
		u.ID.String(), u.ExternalID, u.Email, u.FirstName, u.LastName, string(u.Tier),
		u.CustomerRef, u.Credits, selections, u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("credits/sqlite: create user: %w", err)
		}
		if existing, getErr := s.GetUser(ctx, u.ExternalID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("credits/sqlite: create user: %w", err)
	}

	got, err := s.GetUser(ctx, u.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return got, n == 1, nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (*user.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM credits_users WHERE external_id = ?`, externalID)
	return scanUser(row, "get user")
}

func (s *Store) GetUserByCustomerRef(ctx context.Context, ref string) (*user.User, error) {
	if ref == "" {
		return nil, credits.ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM credits_users WHERE customer_ref = ? LIMIT 1`, ref)
	return scanUser(row, "get user by customer")
}

func (s *Store) ConsumeCredits(ctx context.Context, externalID string, entry user.UsageEntry, historyLimit int) (*user.User, error) {
	if historyLimit <= 0 {
		historyLimit = user.HistoryCapacity
	}
	obj, err := sqlcol.EncodeUsage(entry)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credits_users
		SET credits = credits - ?1,
			usage_history = (
				SELECT json_group_array(json(entry)) FROM (
					SELECT entry FROM (
						SELECT ?2 AS entry, -1 AS pos
						UNION ALL
						SELECT value, key FROM json_each(credits_users.usage_history)
					)
					ORDER BY pos
					LIMIT ?3
				)
			),
			updated_at = ?4
		WHERE external_id = ?5 AND credits >= ?1
		RETURNING `+userColumns,
		entry.Amount, obj, historyLimit, now(), externalID,
	)

	u, err := scanUser(row, "consume credits")
	if errors.Is(err, credits.ErrUserNotFound) {
		return nil, credits.ErrInsufficientCreditsOrNotFound
	}
	return u, err
}

func (s *Store) AddCredits(ctx context.Context, externalID string, amount int64) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE credits_users SET credits = credits + ?, updated_at = ?
		WHERE external_id = ?
		RETURNING `+userColumns,
		amount, now(), externalID,
	)
	return scanUser(row, "add credits")
}

func (s *Store) ApplyBilling(ctx context.Context, sel user.Selector, upd user.BillingUpdate) (*user.User, error) {
	col, key := selectorColumn(sel)
	if col == "" {
		return nil, credits.ErrUserNotFound
	}

	var amount sql.NullInt64
	if upd.Credits != nil {
		amount = sql.NullInt64{Int64: *upd.Credits, Valid: true}
	}
	var eventAt sql.NullInt64
	if !upd.EventAt.IsZero() {
		eventAt = sql.NullInt64{Int64: upd.EventAt.UnixMilli(), Valid: true}
	}

	query := `
		UPDATE credits_users
		SET tier = ?1,
			credits = COALESCE(?2, credits),
			customer_ref = COALESCE(NULLIF(?3, ''), customer_ref),
			billing_event_at = COALESCE(?4, billing_event_at),
			updated_at = ?5
		WHERE id = (SELECT id FROM credits_users WHERE ` + col + ` = ?6 LIMIT 1)`
	if upd.Ordered {
		query += ` AND (billing_event_at IS NULL OR billing_event_at <= ?4)`
	}
	query += ` RETURNING ` + userColumns

	row := s.db.QueryRowContext(ctx, query,
		string(upd.Tier), amount, upd.CustomerRef, eventAt, now(), key)

	u, err := scanUser(row, "apply billing")
	if err == nil || !upd.Ordered || !errors.Is(err, credits.ErrUserNotFound) {
		return u, err
	}

	// The guard or the selector rejected the write; tell them apart.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM credits_users WHERE `+col+` = ?`, key).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: apply billing: %w", err)
	}
	if exists > 0 {
		return nil, credits.ErrStaleEvent
	}
	return nil, credits.ErrUserNotFound
}

func (s *Store) SetTopSelections(ctx context.Context, externalID string, selections []string) (*user.User, error) {
	encoded, err := sqlcol.EncodeSelections(selections)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credits_users SET top_selections = ?, updated_at = ?
		WHERE external_id = ?
		RETURNING `+userColumns,
		encoded, now(), externalID,
	)
	return scanUser(row, "set top selections")
}

func (s *Store) UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE credits_users
		SET email = COALESCE(?, email),
			first_name = COALESCE(?, first_name),
			last_name = COALESCE(?, last_name),
			updated_at = ?
		WHERE external_id = ?
		RETURNING `+userColumns,
		nullString(upd.Email), nullString(upd.FirstName), nullString(upd.LastName), now(), externalID,
	)
	return scanUser(row, "update profile")
}

// ==================== Billing Event Store ====================

func (s *Store) RecordEvent(ctx context.Context, r *billing.Record) error {
	processed := r.ProcessedAt
	if processed.IsZero() {
		processed = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credits_billing_events
			(id, provider_event_id, kind, subject, outcome, reason, occurred_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_event_id) DO UPDATE SET
			kind = excluded.kind,
			subject = excluded.subject,
			outcome = excluded.outcome,
			reason = excluded.reason,
			occurred_at = excluded.occurred_at,
			processed_at = excluded.processed_at`,
		r.ID.String(), r.ProviderEventID, string(r.Kind), r.Subject, string(r.Outcome),
		r.Reason, r.OccurredAt.UnixMilli(), processed.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("credits/sqlite: record event: %w", err)
	}
	return nil
}

func (s *Store) GetEventRecord(ctx context.Context, providerEventID string) (*billing.Record, error) {
	var (
		rawID, kind, outcome string
		occurred, processed  int64
		rec                  billing.Record
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_event_id, kind, subject, outcome, reason, occurred_at, processed_at
		FROM credits_billing_events WHERE provider_event_id = ?`, providerEventID,
	).Scan(&rawID, &rec.ProviderEventID, &kind, &rec.Subject, &outcome, &rec.Reason, &occurred, &processed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credits.ErrEventNotFound
		}
		return nil, fmt.Errorf("credits/sqlite: get event record: %w", err)
	}

	rec.ID, err = id.ParseBillingEventID(rawID)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: get event record: %w", err)
	}
	rec.Kind = billing.Kind(kind)
	rec.Outcome = billing.Outcome(outcome)
	rec.OccurredAt = sqlcol.FromMillis(occurred)
	rec.ProcessedAt = sqlcol.FromMillis(processed)
	return &rec, nil
}

// ==================== Helpers ====================

func scanUser(row *sql.Row, op string) (*user.User, error) {
	var (
		rawID, tier          string
		selections, history  string
		eventAt              sql.NullInt64
		createdAt, updatedAt int64
		u                    user.User
	)
	err := row.Scan(&rawID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName, &tier,
		&u.CustomerRef, &u.Credits, &selections, &history, &eventAt, &createdAt, &updatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, credits.ErrUserNotFound
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
		default:
			return nil, fmt.Errorf("credits/sqlite: %s: %w", op, err)
		}
	}

	if u.ID, err = id.ParseUserID(rawID); err != nil {
		return nil, fmt.Errorf("credits/sqlite: %s: %w", op, err)
	}
	if u.TopSelections, err = sqlcol.DecodeSelections([]byte(selections)); err != nil {
		return nil, fmt.Errorf("credits/sqlite: %s: %w", op, err)
	}
	if u.UsageHistory, err = sqlcol.DecodeHistory([]byte(history)); err != nil {
		return nil, fmt.Errorf("credits/sqlite: %s: %w", op, err)
	}

	u.Tier = user.Tier(tier)
	u.CreatedAt = sqlcol.FromMillis(createdAt)
	u.UpdatedAt = sqlcol.FromMillis(updatedAt)
	if eventAt.Valid {
		at := sqlcol.FromMillis(eventAt.Int64)
		u.BillingEventAt = &at
	}
	return &u, nil
}

func selectorColumn(sel user.Selector) (string, string) {
	switch {
	case sel.ExternalID != "":
		return "external_id", sel.ExternalID
	case sel.CustomerRef != "":
		return "customer_ref", sel.CustomerRef
	default:
		return "", ""
	}
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// now returns the current time in Unix milliseconds.
func now() int64 {
	return time.Now().UnixMilli()
}
