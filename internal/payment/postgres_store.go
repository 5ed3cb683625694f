package payment

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresAttemptLog persists payment attempts in PostgreSQL.
type PostgresAttemptLog struct {
	db *sql.DB
}

// NewPostgresAttemptLog creates a PostgreSQL-backed attempt log.
func NewPostgresAttemptLog(db *sql.DB) *PostgresAttemptLog {
	return &PostgresAttemptLog{db: db}
}

// Migrate creates the payment_attempts table if it doesn't exist.
func (l *PostgresAttemptLog) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_attempts (
			id              VARCHAR(40) PRIMARY KEY,
			idempotency_key VARCHAR(64) NOT NULL,
			attempt_number  INTEGER NOT NULL CHECK (attempt_number > 0),
			user_id         VARCHAR(128) NOT NULL DEFAULT '',
			amount          BIGINT NOT NULL CHECK (amount > 0),
			currency        VARCHAR(8) NOT NULL DEFAULT '',
			method          VARCHAR(32) NOT NULL,
			outcome         VARCHAR(20) NOT NULL CHECK (outcome IN ('success', 'transient_failure', 'permanent_failure')),
			transaction_id  VARCHAR(255) NOT NULL DEFAULT '',
			receipt_ref     VARCHAR(255) NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (idempotency_key, attempt_number)
		);

		CREATE INDEX IF NOT EXISTS idx_payment_attempts_user
			ON payment_attempts (user_id, created_at DESC);
	`)
	return err
}

func (l *PostgresAttemptLog) Record(ctx context.Context, a *Attempt) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (id, idempotency_key, attempt_number, user_id, amount,
			currency, method, outcome, transaction_id, receipt_ref, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID,
		a.IdempotencyKey,
		a.Number,
		a.UserID,
		a.Amount,
		a.Currency,
		string(a.Method),
		string(a.Outcome),
		a.TransactionID,
		a.ReceiptRef,
		a.Error,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record payment attempt: %w", err)
	}
	return nil
}

func (l *PostgresAttemptLog) ListByKey(ctx context.Context, idempotencyKey string) ([]*Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, idempotency_key, attempt_number, user_id, amount, currency, method,
			outcome, transaction_id, receipt_ref, error, created_at
		FROM payment_attempts
		WHERE idempotency_key = $1
		ORDER BY attempt_number ASC
	`, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Attempt
	for rows.Next() {
		var a Attempt
		var method, outcome string
		if err := rows.Scan(&a.ID, &a.IdempotencyKey, &a.Number, &a.UserID, &a.Amount,
			&a.Currency, &method, &outcome, &a.TransactionID, &a.ReceiptRef, &a.Error,
			&a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment attempt: %w", err)
		}
		a.Method = Method(method)
		a.Outcome = Outcome(outcome)
		result = append(result, &a)
	}
	return result, rows.Err()
}
