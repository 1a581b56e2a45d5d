// Package postgres provides a PostgreSQL implementation of the
// subsync.Store and subsync.PaymentStore interfaces. The idempotency
// guard is a single conditional UPDATE, so the event-id comparison and
// the field update are one atomic statement and concurrent redeliveries
// of the same event cannot both apply.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/immigrationai/subsync/pkg/subsync"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// Store implements subsync.Store and subsync.PaymentStore using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool:   pool,
		config: config,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the subscriptions and payments tables when they do
// not exist. Production deployments manage schema through migrations;
// this exists for development and integration tests.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id VARCHAR(255) NOT NULL,
			provider VARCHAR(64) NOT NULL,
			provider_subscription_id VARCHAR(255) NOT NULL UNIQUE,
			plan_id VARCHAR(255),
			status VARCHAR(32) NOT NULL DEFAULT 'incomplete',
			current_period_end TIMESTAMPTZ,
			last_event_id VARCHAR(255),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS subscriptions_user_id_idx ON subscriptions (user_id);
		CREATE INDEX IF NOT EXISTS subscriptions_status_idx ON subscriptions (status);
		CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			provider_transaction_id VARCHAR(255) NOT NULL UNIQUE,
			status VARCHAR(32) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// FindByProviderSubscriptionID implements subsync.Store
func (s *Store) FindByProviderSubscriptionID(ctx context.Context, provider, providerSubscriptionID string) (*subsync.Subscription, error) {
	var (
		sub              subsync.Subscription
		planID           *string
		currentPeriodEnd *time.Time
		lastEventID      *string
		metadata         map[string]string
	)

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, provider, provider_subscription_id, plan_id, status,
				current_period_end, last_event_id, metadata, created_at, updated_at
			FROM subscriptions
			WHERE provider = $1 AND provider_subscription_id = $2`,
		provider, providerSubscriptionID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Provider,
		&sub.ProviderSubscriptionID,
		&planID,
		&sub.Status,
		&currentPeriodEnd,
		&lastEventID,
		&metadata,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if planID != nil {
		sub.PlanID = *planID
	}
	if lastEventID != nil {
		sub.LastEventID = *lastEventID
	}
	sub.CurrentPeriodEnd = currentPeriodEnd
	sub.Metadata = metadata
	return &sub, nil
}

// Insert implements subsync.Store
func (s *Store) Insert(ctx context.Context, sub *subsync.Subscription) error {
	if sub == nil || sub.ProviderSubscriptionID == "" || sub.UserID == "" {
		return subsync.ErrInvalidSubscription
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions
				(user_id, provider, provider_subscription_id, plan_id, status,
				 current_period_end, last_event_id, metadata)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
		sub.UserID, sub.Provider, sub.ProviderSubscriptionID, sub.PlanID,
		sub.Status, sub.CurrentPeriodEnd, sub.LastEventID, sub.Metadata,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return subsync.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// UpdateIfNewEvent implements subsync.Store. The guard and the update are
// one statement: `last_event_id IS DISTINCT FROM $eventID` skips rows
// whose last applied event already is this one, and the CTE reports
// whether the row exists at all so the caller can distinguish "already
// applied" from "never seen".
func (s *Store) UpdateIfNewEvent(ctx context.Context, provider, providerSubscriptionID, eventID string, change subsync.Change) (bool, error) {
	var (
		exists  bool
		applied bool
	)

	err := s.pool.QueryRow(ctx,
		`WITH target AS (
			SELECT 1 FROM subscriptions
			WHERE provider = $1 AND provider_subscription_id = $2
		), updated AS (
			UPDATE subscriptions
			SET status = $3,
				plan_id = NULLIF($4, ''),
				current_period_end = $5,
				metadata = COALESCE($6, metadata),
				last_event_id = $7,
				updated_at = now()
			WHERE provider = $1 AND provider_subscription_id = $2
				AND last_event_id IS DISTINCT FROM $7
			RETURNING 1
		)
		SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM updated)`,
		provider, providerSubscriptionID, change.Status, change.PlanID,
		change.CurrentPeriodEnd, change.Metadata, eventID,
	).Scan(&exists, &applied)

	if err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	if !exists {
		return false, subsync.ErrSubscriptionNotFound
	}
	return applied, nil
}

// MarkPaymentStatus implements subsync.PaymentStore
func (s *Store) MarkPaymentStatus(ctx context.Context, providerTransactionID string, status subsync.PaymentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = now()
			WHERE provider_transaction_id = $1`,
		providerTransactionID, status)
	if err != nil {
		return fmt.Errorf("failed to mark payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subsync.ErrPaymentNotFound
	}
	return nil
}
