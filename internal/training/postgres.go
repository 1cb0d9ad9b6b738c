package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/narratale/voicesmith/internal/samples"
)

// Schema is the SQL DDL for the training_jobs table. Execute it via
// [PostgresJobStore.Migrate] or apply it manually during deployment.
//
// The partial unique index is the serialization point for job creation: at
// most one row per (user_id, category) may be non-terminal, and the INSERT in
// [PostgresJobStore.Create] either wins or fails with SQLSTATE 23505.
const Schema = `
CREATE TABLE IF NOT EXISTS training_jobs (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    category          TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'pending',
    required_samples  INT NOT NULL DEFAULT 0,
    samples_used      JSONB NOT NULL DEFAULT '[]',
    provider_voice_id TEXT NOT NULL DEFAULT '',
    started_at        TIMESTAMPTZ,
    completed_at      TIMESTAMPTZ,
    error_message     TEXT NOT NULL DEFAULT '',
    cost_cents        BIGINT NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_training_jobs_one_active
    ON training_jobs(user_id, category)
    WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS idx_training_jobs_user ON training_jobs(user_id);
`

// DB is the database interface used by [PostgresJobStore]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface. Begin is required for
// the atomic completion write.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresJobStore is a [JobStore] backed by a PostgreSQL database.
type PostgresJobStore struct {
	db DB
}

// Compile-time interface check.
var _ JobStore = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a new [PostgresJobStore] using the given
// connection or pool. Call [PostgresJobStore.Migrate] before issuing queries.
func NewPostgresJobStore(db DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresJobStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("training: migrate: %w", err)
	}
	return nil
}

// Create inserts job in StatusPending. A unique violation on the active-job
// index maps to [ErrJobAlreadyActive].
func (s *PostgresJobStore) Create(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return errors.New("training: job id must not be empty")
	}
	if job.UserID == "" {
		return errors.New("training: user id must not be empty")
	}
	if !job.Category.IsValid() {
		return fmt.Errorf("training: invalid category %q", job.Category)
	}

	usedJSON, err := json.Marshal(emptySlice(job.SamplesUsed))
	if err != nil {
		return fmt.Errorf("training: marshal samples_used: %w", err)
	}

	const query = `
		INSERT INTO training_jobs (id, user_id, category, status, required_samples, samples_used)
		VALUES ($1,$2,$3,'pending',$4,$5)`

	_, err = s.db.Exec(ctx, query,
		job.ID, job.UserID, string(job.Category), job.RequiredSamples, usedJSON,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrJobAlreadyActive
		}
		return fmt.Errorf("training: create job: %w", err)
	}
	job.Status = StatusPending
	return nil
}

// StartProcessing transitions pending → processing with a gated UPDATE.
func (s *PostgresJobStore) StartProcessing(ctx context.Context, jobID string) error {
	const query = `
		UPDATE training_jobs
		SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("training: start processing %q: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// Complete performs the atomic completion write described on [JobStore].
// The job UPDATE runs first because its WHERE status = 'processing' clause is
// the late-result gate; the sample locks and the cost record only commit when
// that gate passed and every sample was still unlocked.
func (s *PostgresJobStore) Complete(ctx context.Context, jobID, providerVoiceID string, sampleIDs []string, costCents int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("training: complete %q: begin: %w", jobID, err)
	}
	// Rollback after a successful commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	const completeJob = `
		UPDATE training_jobs
		SET status = 'completed', provider_voice_id = $2, cost_cents = $3,
		    completed_at = now(), error_message = ''
		WHERE id = $1 AND status = 'processing'
		RETURNING user_id, category`

	var userID, category string
	err = tx.QueryRow(ctx, completeJob, jobID, providerVoiceID, costCents).Scan(&userID, &category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotProcessing
		}
		return fmt.Errorf("training: complete %q: update job: %w", jobID, err)
	}

	const lockSamples = `
		UPDATE voice_samples
		SET is_locked = TRUE
		WHERE id = ANY($1) AND is_locked = FALSE`

	tag, err := tx.Exec(ctx, lockSamples, sampleIDs)
	if err != nil {
		return fmt.Errorf("training: complete %q: lock samples: %w", jobID, err)
	}
	if got, want := tag.RowsAffected(), int64(len(sampleIDs)); got != want {
		// A sample vanished or was locked by something else. Abort: the job
		// must not read completed with unlocked samples.
		return fmt.Errorf("training: complete %q: locked %d of %d samples", jobID, got, want)
	}

	const appendCost = `
		INSERT INTO cost_records (id, job_id, user_id, category, voice_id, cost_cents, samples_processed)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, appendCost,
		uuid.NewString(), jobID, userID, category, providerVoiceID, costCents, len(sampleIDs))
	if err != nil {
		return fmt.Errorf("training: complete %q: append cost record: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("training: complete %q: commit: %w", jobID, err)
	}
	return nil
}

// Fail transitions a non-terminal job to failed.
func (s *PostgresJobStore) Fail(ctx context.Context, jobID, reason string) error {
	const query = `
		UPDATE training_jobs
		SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')`

	tag, err := s.db.Exec(ctx, query, jobID, reason)
	if err != nil {
		return fmt.Errorf("training: fail %q: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotProcessing
	}
	return nil
}

// Get retrieves a job by ID. Returns (nil, nil) if no job with the given ID
// exists.
func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	const query = `
		SELECT id, user_id, category, status, required_samples, samples_used,
		       provider_voice_id, started_at, completed_at, error_message, cost_cents
		FROM training_jobs
		WHERE id = $1`

	var (
		job         Job
		category    string
		status      string
		usedJSON    []byte
		startedAt   *time.Time
		completedAt *time.Time
	)

	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.UserID, &category, &status, &job.RequiredSamples, &usedJSON,
		&job.ProviderVoiceID, &startedAt, &completedAt, &job.ErrorMessage, &job.CostCents,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("training: get %q: %w", jobID, err)
	}

	job.Category = samples.Category(category)
	job.Status = Status(status)
	if err := json.Unmarshal(usedJSON, &job.SamplesUsed); err != nil {
		return nil, fmt.Errorf("training: get %q: unmarshal samples_used: %w", jobID, err)
	}
	if startedAt != nil {
		job.StartedAt = *startedAt
	}
	job.CompletedAt = completedAt
	return &job, nil
}

// FailAllActive forces every non-terminal job for userID to failed.
func (s *PostgresJobStore) FailAllActive(ctx context.Context, userID, reason string) (int, error) {
	const query = `
		UPDATE training_jobs
		SET status = 'failed', error_message = $2, completed_at = now()
		WHERE user_id = $1 AND status IN ('pending', 'processing')`

	tag, err := s.db.Exec(ctx, query, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("training: fail all active for %q: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
