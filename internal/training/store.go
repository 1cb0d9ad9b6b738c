package training

import "context"

// JobStore persists training jobs and performs the state-machine writes the
// orchestrator depends on. Implementations must be safe for concurrent use,
// and every transition must be gated on the job's current status so that
// late or duplicate writes become no-ops rather than corruption.
type JobStore interface {
	// Create inserts a new job in StatusPending. Returns
	// [ErrJobAlreadyActive] if a non-terminal job already exists for the
	// job's (user, category) pair; the check-and-create is atomic.
	Create(ctx context.Context, job *Job) error

	// StartProcessing transitions pending → processing and stamps StartedAt.
	// Returns [ErrJobNotProcessing] if the job is not pending (e.g., a reset
	// already failed it).
	StartProcessing(ctx context.Context, jobID string) error

	// Complete atomically locks every sample in sampleIDs, transitions
	// processing → completed with the provider voice ID and cost, and
	// appends a cost record, all in one transaction. Returns
	// [ErrJobNotProcessing] if the job is no longer processing (late result
	// for an abandoned job); returns another error, with nothing committed,
	// if any sample could not be locked.
	Complete(ctx context.Context, jobID, providerVoiceID string, sampleIDs []string, costCents int64) error

	// Fail transitions a non-terminal job to failed with the given reason.
	// Returns [ErrJobNotProcessing] if the job is already terminal.
	Fail(ctx context.Context, jobID, reason string) error

	// Get retrieves a job by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, jobID string) (*Job, error)

	// FailAllActive forces every non-terminal job for userID to failed with
	// the given reason and reports how many were affected. Idempotent.
	FailAllActive(ctx context.Context, userID, reason string) (int, error)
}
