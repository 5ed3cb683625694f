package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id                VARCHAR(40) PRIMARY KEY,
			user_id           VARCHAR(128) NOT NULL,
			overall_score     NUMERIC(4,3) NOT NULL CHECK (overall_score >= 0 AND overall_score <= 1),
			level             VARCHAR(10) NOT NULL CHECK (level IN ('low', 'medium', 'high')),
			manual_review     BOOLEAN NOT NULL DEFAULT FALSE,
			verification      BOOLEAN NOT NULL DEFAULT FALSE,
			block             BOOLEAN NOT NULL DEFAULT FALSE,
			breakdown         JSONB NOT NULL DEFAULT '{}',
			reasons           JSONB NOT NULL DEFAULT '[]',
			suggested_actions JSONB NOT NULL DEFAULT '[]',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_user
			ON risk_assessments (user_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_review
			ON risk_assessments (created_at DESC) WHERE manual_review;
	`)
	return err
}

// Record inserts the assessment and prunes the user's trail to the newest
// MaxAuditEntriesPerUser rows in the same transaction.
func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}
	reasons, _ := json.Marshal(nonNil(a.Reasons))
	actions, _ := json.Marshal(nonNil(a.SuggestedActions))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, user_id, overall_score, level, manual_review,
			verification, block, breakdown, reasons, suggested_actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		a.ID,
		a.UserID,
		a.OverallScore,
		string(a.Level),
		a.RequiresManualReview,
		a.RequiresAdditionalVerification,
		a.BlockTransaction,
		breakdown,
		reasons,
		actions,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM risk_assessments
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM risk_assessments
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)
	`, a.UserID, MaxAuditEntriesPerUser)
	if err != nil {
		return fmt.Errorf("failed to prune risk assessments: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Assessment, error) {
	if limit <= 0 || limit > MaxAuditEntriesPerUser {
		limit = MaxAuditEntriesPerUser
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, overall_score, level, manual_review, verification, block,
			breakdown, reasons, suggested_actions, created_at
		FROM risk_assessments
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var level string
		var breakdown, reasons, actions []byte

		if err := rows.Scan(&a.ID, &a.UserID, &a.OverallScore, &level, &a.RequiresManualReview,
			&a.RequiresAdditionalVerification, &a.BlockTransaction,
			&breakdown, &reasons, &actions, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		a.Level = Level(level)
		a.Breakdown = make(map[string]float64)
		_ = json.Unmarshal(breakdown, &a.Breakdown)
		_ = json.Unmarshal(reasons, &a.Reasons)
		_ = json.Unmarshal(actions, &a.SuggestedActions)
		result = append(result, &a)
	}
	return result, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
