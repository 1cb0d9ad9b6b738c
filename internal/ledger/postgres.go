package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the cost_records table. Execute it via
// [PostgresLedger.Migrate] or apply it manually during deployment. The job
// store's completion transaction inserts into this table, so this schema must
// be migrated before the training one is used.
const Schema = `
CREATE TABLE IF NOT EXISTS cost_records (
    id                TEXT PRIMARY KEY,
    job_id            TEXT NOT NULL,
    user_id           TEXT NOT NULL,
    category          TEXT NOT NULL,
    voice_id          TEXT NOT NULL DEFAULT '',
    cost_cents        BIGINT NOT NULL,
    samples_processed INT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cost_records_user ON cost_records(user_id);
`

// DB is the database interface used by [PostgresLedger]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger is a [Ledger] backed by a PostgreSQL database.
type PostgresLedger struct {
	db DB
}

// Compile-time interface check.
var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a new [PostgresLedger] using the given connection
// or pool. Call [PostgresLedger.Migrate] before issuing queries.
func NewPostgresLedger(db DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Append writes rec. An empty ID is assigned; CreatedAt is set from the
// database clock.
func (l *PostgresLedger) Append(ctx context.Context, rec *CostRecord) error {
	if rec.JobID == "" {
		return errors.New("ledger: job id must not be empty")
	}
	if rec.UserID == "" {
		return errors.New("ledger: user id must not be empty")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO cost_records (id, job_id, user_id, category, voice_id, cost_cents, samples_processed)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`

	err := l.db.QueryRow(ctx, query,
		rec.ID, rec.JobID, rec.UserID, rec.Category, rec.VoiceID, rec.CostCents, rec.SamplesProcessed,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// TotalForUser returns the total spend for userID in cents.
func (l *PostgresLedger) TotalForUser(ctx context.Context, userID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM cost_records
		WHERE user_id = $1`

	var total int64
	if err := l.db.QueryRow(ctx, query, userID).Scan(&total); err != nil {
		return 0, fmt.Errorf("ledger: total for %q: %w", userID, err)
	}
	return total, nil
}

// ListForUser returns all records for userID, newest first.
func (l *PostgresLedger) ListForUser(ctx context.Context, userID string) ([]CostRecord, error) {
	const query = `
		SELECT id, job_id, user_id, category, voice_id, cost_cents, samples_processed, created_at
		FROM cost_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`

	rows, err := l.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list for %q: %w", userID, err)
	}
	defer rows.Close()

	var recs []CostRecord
	for rows.Next() {
		var rec CostRecord
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.UserID, &rec.Category, &rec.VoiceID,
			&rec.CostCents, &rec.SamplesProcessed, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: list for %q: scan: %w", userID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list for %q: %w", userID, err)
	}
	return recs, nil
}
