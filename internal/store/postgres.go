package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"fluency-push-go/internal/models"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const subscriptionColumns = `id, user_id, endpoint, p256dh, auth, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunMigrations creates tables if they don't exist and applies schema updates
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return err
	}

	migrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id ON push_subscriptions (user_id);`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveSubscription upserts on endpoint; a browser re-subscribing rotates its keys
func (s *PostgresStore) SaveSubscription(ctx context.Context, sub models.PushSubscription) (models.PushSubscription, error) {
	var saved models.PushSubscription
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (endpoint) DO UPDATE
		 SET user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		 RETURNING `+subscriptionColumns,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth,
	).Scan(&saved.ID, &saved.UserID, &saved.Endpoint, &saved.P256dh, &saved.Auth, &saved.CreatedAt)
	if err != nil {
		return models.PushSubscription{}, err
	}
	return saved, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, filter models.SubscriptionFilter) ([]models.PushSubscription, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case filter.Broadcast:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+subscriptionColumns+` FROM push_subscriptions ORDER BY id`,
		)
	case len(filter.UserIDs) == 0:
		return nil, nil
	case len(filter.UserIDs) == 1:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = $1 ORDER BY id`,
			filter.UserIDs[0],
		)
	default:
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+subscriptionColumns+` FROM push_subscriptions WHERE user_id = ANY($1) ORDER BY id`,
			pq.Array(filter.UserIDs),
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteByEndpoints(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ANY($1)`,
		pq.Array(endpoints),
	)
	return err
}
