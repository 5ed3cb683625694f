package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists payment history in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transaction_history table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transaction_history (
			id             VARCHAR(40) PRIMARY KEY,
			user_id        VARCHAR(128) NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount >= 0),
			currency       VARCHAR(8) NOT NULL,
			method         VARCHAR(32) NOT NULL,
			status         VARCHAR(16) NOT NULL CHECK (status IN ('success', 'failed')),
			transaction_id VARCHAR(128),
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transaction_history_user_time
			ON transaction_history (user_id, created_at);
	`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_history (id, user_id, amount, currency, method, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, e.ID, e.UserID, e.Amount, e.Currency, e.Method, string(e.Status), e.TransactionID, e.At)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, userID string, since time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, currency, method, status, COALESCE(transaction_id, ''), created_at
		FROM transaction_history
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Currency, &e.Method, &status, &e.TransactionID, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Status = Status(status)
		result = append(result, e)
	}
	return result, rows.Err()
}
