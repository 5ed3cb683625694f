package receipts

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the authorization_receipts table and indexes.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authorization_receipts (
			id              VARCHAR(40) PRIMARY KEY,
			attempt_id      VARCHAR(40) NOT NULL,
			idempotency_key VARCHAR(64) NOT NULL UNIQUE,
			user_id         VARCHAR(128) NOT NULL,
			amount          BIGINT NOT NULL CHECK (amount > 0),
			currency        VARCHAR(8) NOT NULL DEFAULT '',
			method          VARCHAR(32) NOT NULL,
			transaction_id  VARCHAR(255) NOT NULL,
			gateway_ref     VARCHAR(255),
			risk_score      NUMERIC(4,3),
			payload_hash    VARCHAR(64) NOT NULL,
			signature       VARCHAR(128) NOT NULL,
			issued_at       TIMESTAMPTZ NOT NULL,
			expires_at      TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_authorization_receipts_user
			ON authorization_receipts (user_id, created_at DESC);
	`)
	return err
}

const receiptColumns = `id, attempt_id, idempotency_key, user_id, amount, currency, method,
		       transaction_id, gateway_ref, risk_score, payload_hash, signature,
		       issued_at, expires_at, created_at`

// Create inserts the receipt. A concurrent insert for the same idempotency
// key keeps the first row.
func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO authorization_receipts (
			id, attempt_id, idempotency_key, user_id, amount, currency, method,
			transaction_id, gateway_ref, risk_score, payload_hash, signature,
			issued_at, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		r.ID, r.AttemptID, r.IdempotencyKey, r.UserID, r.Amount, r.Currency, r.Method,
		r.TransactionID, nullString(r.GatewayRef), nullFloat(r.RiskScore), r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	return p.getOne(ctx, `SELECT `+receiptColumns+` FROM authorization_receipts WHERE id = $1`, id)
}

func (p *PostgresStore) GetByKey(ctx context.Context, idempotencyKey string) (*Receipt, error) {
	return p.getOne(ctx, `SELECT `+receiptColumns+` FROM authorization_receipts WHERE idempotency_key = $1`, idempotencyKey)
}

func (p *PostgresStore) getOne(ctx context.Context, query, arg string) (*Receipt, error) {
	r, err := scanReceipt(p.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM authorization_receipts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- scanners ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		gatewayRef sql.NullString
		riskScore  sql.NullFloat64
	)

	err := sc.Scan(
		&r.ID, &r.AttemptID, &r.IdempotencyKey, &r.UserID, &r.Amount, &r.Currency, &r.Method,
		&r.TransactionID, &gatewayRef, &riskScore, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.GatewayRef = gatewayRef.String
	if riskScore.Valid {
		v := riskScore.Float64
		r.RiskScore = &v
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
