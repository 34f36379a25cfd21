package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"naskahcollab/pkg/logger"
)

const (
	pingRetries    = 5
	pingRetryDelay = 2 * time.Second
)

// Connect opens the Postgres pool and waits until it answers a ping,
// retrying through temporary DNS or network blips.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := WaitForPing(ctx, db, pingRetries, pingRetryDelay); err != nil {
		db.Close()
		return nil, err
	}
	logger.Sugar.Info("Successfully connected to the database")
	return db, nil
}

// WaitForPing pings db until it succeeds, retrying up to retries times with a
// constant delay.
func WaitForPing(ctx context.Context, db *sql.DB, retries int, delay time.Duration) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
	err := backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, policy, func(err error, wait time.Duration) {
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", wait, err)
	})
	if err != nil {
		return fmt.Errorf("could not connect to database after %d retries: %w", retries, err)
	}
	return nil
}

// Migrate creates the version archive table when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS collab_versions (
		id             TEXT PRIMARY KEY,
		document_id    TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		parent_version TEXT NOT NULL DEFAULT '',
		content        TEXT NOT NULL,
		checksum       TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		changes        JSONB NOT NULL DEFAULT '[]',
		created_at     TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create collab_versions: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS collab_versions_document_idx ON collab_versions (document_id, created_at)`)
	if err != nil {
		return fmt.Errorf("create collab_versions index: %w", err)
	}
	return nil
}
