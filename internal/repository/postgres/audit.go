package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

// AuditRepo implements dsr.Recorder against PostgreSQL.
type AuditRepo struct{ db *sql.DB }

// NewAuditRepo creates a Postgres-backed audit recorder.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (r *AuditRepo) Record(ctx context.Context, e dsr.AuditEntry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dsr_audit (id, request_id, operation, identifier_hash, list_count, failure_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New().String(), e.RequestID, e.Operation, e.IdentifierHash, e.ListCount, e.FailureCount, createdAt)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByIdentifier returns the audit trail for one subject, newest first.
func (r *AuditRepo) ListByIdentifier(ctx context.Context, identifier string, limit int) ([]dsr.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id, operation, identifier_hash, list_count, failure_count, created_at
		FROM dsr_audit
		WHERE identifier_hash = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, dsr.HashIdentifier(identifier), limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []dsr.AuditEntry
	for rows.Next() {
		var e dsr.AuditEntry
		if err := rows.Scan(&e.RequestID, &e.Operation, &e.IdentifierHash, &e.ListCount, &e.FailureCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
