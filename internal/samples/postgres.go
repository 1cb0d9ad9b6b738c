package samples

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voice_samples table. Execute it via
// [PostgresRepository.Migrate] or apply it manually during deployment.
//
// Sample locking is performed by the training job store inside the job
// completion transaction; this package only ever reads is_locked.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_samples (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    category   TEXT NOT NULL,
    label      TEXT NOT NULL DEFAULT '',
    audio_ref  TEXT NOT NULL,
    is_locked  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_samples_unlocked
    ON voice_samples(user_id, category)
    WHERE is_locked = FALSE;
`

// DB is the database interface used by [PostgresRepository]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository is a [Repository] backed by a PostgreSQL database.
type PostgresRepository struct {
	db DB
}

// Compile-time interface check.
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new [PostgresRepository] using the given
// connection or pool. Call [PostgresRepository.Migrate] before issuing
// queries.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("samples: migrate: %w", err)
	}
	return nil
}

// Create inserts a new, unlocked sample.
func (r *PostgresRepository) Create(ctx context.Context, s *VoiceSample) error {
	if s.ID == "" {
		return errors.New("samples: id must not be empty")
	}
	if s.UserID == "" {
		return errors.New("samples: user id must not be empty")
	}
	if !s.Category.IsValid() {
		return fmt.Errorf("samples: invalid category %q", s.Category)
	}
	if s.AudioRef == "" {
		return errors.New("samples: audio ref must not be empty")
	}

	const query = `
		INSERT INTO voice_samples (id, user_id, category, label, audio_ref)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, s.ID, s.UserID, string(s.Category), s.Label, s.AudioRef).
		Scan(&s.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("samples: sample with id %q already exists", s.ID)
		}
		return fmt.Errorf("samples: create: %w", err)
	}
	s.IsLocked = false
	return nil
}

// ListUnlocked returns up to limit unlocked samples for (userID, category),
// oldest first so the earliest recordings are preferred for training.
func (r *PostgresRepository) ListUnlocked(ctx context.Context, userID string, category Category, limit int) ([]VoiceSample, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit <= 0 {
		const query = `
			SELECT id, user_id, category, label, audio_ref, is_locked, created_at
			FROM voice_samples
			WHERE user_id = $1 AND category = $2 AND is_locked = FALSE
			ORDER BY created_at ASC, id ASC`
		rows, err = r.db.Query(ctx, query, userID, string(category))
	} else {
		const query = `
			SELECT id, user_id, category, label, audio_ref, is_locked, created_at
			FROM voice_samples
			WHERE user_id = $1 AND category = $2 AND is_locked = FALSE
			ORDER BY created_at ASC, id ASC
			LIMIT $3`
		rows, err = r.db.Query(ctx, query, userID, string(category), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("samples: list unlocked: %w", err)
	}
	defer rows.Close()

	var out []VoiceSample
	for rows.Next() {
		var s VoiceSample
		var cat string
		if err := rows.Scan(&s.ID, &s.UserID, &cat, &s.Label, &s.AudioRef, &s.IsLocked, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("samples: list unlocked scan: %w", err)
		}
		s.Category = Category(cat)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("samples: list unlocked: %w", err)
	}
	return out, nil
}

// CountUnlocked returns the unlocked-sample count per category for userID.
func (r *PostgresRepository) CountUnlocked(ctx context.Context, userID string) (map[Category]int, error) {
	const query = `
		SELECT category, COUNT(*)
		FROM voice_samples
		WHERE user_id = $1 AND is_locked = FALSE
		GROUP BY category`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("samples: count unlocked: %w", err)
	}
	defer rows.Close()

	counts := make(map[Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("samples: count unlocked scan: %w", err)
		}
		counts[Category(cat)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("samples: count unlocked: %w", err)
	}
	return counts, nil
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
