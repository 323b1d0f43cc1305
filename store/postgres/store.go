// Package postgres implements store.Store on PostgreSQL using pgx.
//
// Every mutation is one UPDATE ... RETURNING statement. Row locks taken by
// the UPDATE serialize concurrent writers, and PostgreSQL re-checks the
// WHERE clause against the committed row before applying, so a debit
// that no longer fits the balance matches nothing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

const uniqueViolation = "23505"

// Store implements store.Store using a pgx connection pool.
type Store struct {
	pool  *pgxpool.Pool
	owned bool
}

// New wraps an existing pool. Close leaves it open.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a pool for dsn and verifies connectivity. Close closes the
// pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("credits/postgres: ping: %w", err)
	}
	return &Store{pool: pool, owned: true}, nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies pending schema migrations under an advisory lock.
func (s *Store) Migrate(ctx context.Context) error {
	if err := migrate(ctx, s.pool); err != nil {
		return fmt.Errorf("credits/postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool if this store opened it.
func (s *Store) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) (*user.User, bool, error) {
	selections, err := sqlcol.EncodeSelections(u.TopSelections)
	if err != nil {
		return nil, false, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credits_users (id, external_id, email, first_name, last_name, tier,
			customer_ref, credits, top_selections, usage_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, '[]'::jsonb, $10, $11)
		ON CONFLICT (external_id) DO NOTHING`,
		u.ID.String(), u.ExternalID, u.Email, u.FirstName, u.LastName, string(u.Tier),
		u.CustomerRef, u.Credits, selections, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, false, fmt.Errorf("credits/postgres: create user: %w", err)
		}
		// A concurrent insert for the same identity can surface on the
		// email index instead of the conflict target.
		if existing, getErr := s.GetUser(ctx, u.ExternalID); getErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
	}

	got, err := s.GetUser(ctx, u.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return got, tag.RowsAffected() == 1, nil
}

func (s *Store) GetUser(ctx context.Context, externalID string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM credits_users WHERE external_id = $1`, externalID)
	return scanUser(row, "get user")
}

func (s *Store) GetUserByCustomerRef(ctx context.Context, ref string) (*user.User, error) {
	if ref == "" {
		return nil, credits.ErrUserNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM credits_users WHERE customer_ref = $1 LIMIT 1`, ref)
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

	row := s.pool.QueryRow(ctx, `
		UPDATE credits_users
		SET credits = credits - $1,
			usage_history = (
				SELECT COALESCE(jsonb_agg(h.entry ORDER BY h.ord), '[]'::jsonb)
				FROM (
					SELECT entry, ord
					FROM jsonb_array_elements(jsonb_build_array($2::jsonb) || credits_users.usage_history)
						WITH ORDINALITY AS t(entry, ord)
					ORDER BY ord
					LIMIT $3
				) h
			),
			updated_at = NOW()
		WHERE external_id = $4 AND credits >= $1
		RETURNING `+userColumns,
		entry.Amount, obj, int64(historyLimit), externalID,
	)

	u, err := scanUser(row, "consume credits")
	if errors.Is(err, credits.ErrUserNotFound) {
		return nil, credits.ErrInsufficientCreditsOrNotFound
	}
	return u, err
}

func (s *Store) AddCredits(ctx context.Context, externalID string, amount int64) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE credits_users SET credits = credits + $1, updated_at = NOW()
		WHERE external_id = $2
		RETURNING `+userColumns,
		amount, externalID,
	)
	return scanUser(row, "add credits")
}

func (s *Store) ApplyBilling(ctx context.Context, sel user.Selector, upd user.BillingUpdate) (*user.User, error) {
	col, key := selectorColumn(sel)
	if col == "" {
		return nil, credits.ErrUserNotFound
	}

	var eventAt *time.Time
	if !upd.EventAt.IsZero() {
		at := upd.EventAt.UTC()
		eventAt = &at
	}

	query := `
		UPDATE credits_users
		SET tier = $1,
			credits = COALESCE($2::bigint, credits),
			customer_ref = COALESCE(NULLIF($3::text, ''), customer_ref),
			billing_event_at = COALESCE($4::timestamptz, billing_event_at),
			updated_at = NOW()
		WHERE id = (SELECT id FROM credits_users WHERE ` + col + ` = $5 LIMIT 1)`
	if upd.Ordered {
		query += ` AND (billing_event_at IS NULL OR billing_event_at <= $4::timestamptz)`
	}
	query += ` RETURNING ` + userColumns

	row := s.pool.QueryRow(ctx, query, string(upd.Tier), upd.Credits, upd.CustomerRef, eventAt, key)

	u, err := scanUser(row, "apply billing")
	if err == nil || !upd.Ordered || !errors.Is(err, credits.ErrUserNotFound) {
		return u, err
	}

	// The guard or the selector rejected the write; tell them apart.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credits_users WHERE `+col+` = $1)`, key).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: apply billing: %w", err)
	}
	if exists {
		return nil, credits.ErrStaleEvent
	}
	return nil, credits.ErrUserNotFound
}

func (s *Store) SetTopSelections(ctx context.Context, externalID string, selections []string) (*user.User, error) {
	encoded, err := sqlcol.EncodeSelections(selections)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE credits_users SET top_selections = $1::jsonb, updated_at = NOW()
		WHERE external_id = $2
		RETURNING `+userColumns,
		encoded, externalID,
	)
	return scanUser(row, "set top selections")
}

func (s *Store) UpdateProfile(ctx context.Context, externalID string, upd user.ProfileUpdate) (*user.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE credits_users
		SET email = COALESCE($1::text, email),
			first_name = COALESCE($2::text, first_name),
			last_name = COALESCE($3::text, last_name),
			updated_at = NOW()
		WHERE external_id = $4
		RETURNING `+userColumns,
		upd.Email, upd.FirstName, upd.LastName, externalID,
	)
	return scanUser(row, "update profile")
}

// ==================== Billing Event Store ====================

func (s *Store) RecordEvent(ctx context.Context, r *billing.Record) error {
	processed := r.ProcessedAt
	if processed.IsZero() {
		processed = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO credits_billing_events
			(id, provider_event_id, kind, subject, outcome, reason, occurred_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_event_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			subject = EXCLUDED.subject,
			outcome = EXCLUDED.outcome,
			reason = EXCLUDED.reason,
			occurred_at = EXCLUDED.occurred_at,
			processed_at = EXCLUDED.processed_at`,
		r.ID.String(), r.ProviderEventID, string(r.Kind), r.Subject, string(r.Outcome),
		r.Reason, r.OccurredAt.UTC(), processed.UTC(),
	)
	if err != nil {
		return fmt.Errorf("credits/postgres: record event: %w", err)
	}
	return nil
}

func (s *Store) GetEventRecord(ctx context.Context, providerEventID string) (*billing.Record, error) {
	var (
		rawID, kind, outcome string
		rec                  billing.Record
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider_event_id, kind, subject, outcome, reason, occurred_at, processed_at
		FROM credits_billing_events WHERE provider_event_id = $1`, providerEventID,
	).Scan(&rawID, &rec.ProviderEventID, &kind, &rec.Subject, &outcome, &rec.Reason,
		&rec.OccurredAt, &rec.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, credits.ErrEventNotFound
		}
		return nil, fmt.Errorf("credits/postgres: get event record: %w", err)
	}

	rec.ID, err = id.ParseBillingEventID(rawID)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: get event record: %w", err)
	}
	rec.Kind = billing.Kind(kind)
	rec.Outcome = billing.Outcome(outcome)
	rec.OccurredAt = rec.OccurredAt.UTC()
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	return &rec, nil
}

// ==================== Helpers ====================

func scanUser(row pgx.Row, op string) (*user.User, error) {
	var (
		rawID, tier         string
		selections, history []byte
		eventAt             *time.Time
		u                   user.User
	)
	err := row.Scan(&rawID, &u.ExternalID, &u.Email, &u.FirstName, &u.LastName, &tier,
		&u.CustomerRef, &u.Credits, &selections, &history, &eventAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, credits.ErrUserNotFound
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: %w", credits.ErrDuplicateKey, err)
		default:
			return nil, fmt.Errorf("credits/postgres: %s: %w", op, err)
		}
	}

	if u.ID, err = id.ParseUserID(rawID); err != nil {
		return nil, fmt.Errorf("credits/postgres: %s: %w", op, err)
	}
	if u.TopSelections, err = sqlcol.DecodeSelections(selections); err != nil {
		return nil, fmt.Errorf("credits/postgres: %s: %w", op, err)
	}
	if u.UsageHistory, err = sqlcol.DecodeHistory(history); err != nil {
		return nil, fmt.Errorf("credits/postgres: %s: %w", op, err)
	}

	u.Tier = user.Tier(tier)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	if eventAt != nil {
		at := eventAt.UTC()
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
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
