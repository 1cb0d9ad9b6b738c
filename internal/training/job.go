// Package training implements the voice-clone training orchestrator: the
// per-(user, category) job state machine, the threshold trigger, the
// deadline guard around provider calls, and the reset escape hatch.
//
// The persisted job store is the single source of truth for job state.
// Creation of an active job is serialized by a partial unique index on
// (user_id, category) over non-terminal statuses, so concurrent requests
// admit exactly one job even across processes. Sample locking, job
// completion, and the cost record are written in one transaction; a job is
// never marked completed unless every sample it used was locked in the same
// commit.
package training

import (
	"errors"
	"time"

	"github.com/narratale/voicesmith/internal/samples"
)

// Status is the lifecycle state of a [Job].
type Status string

const (
	// StatusPending: created, waiting for a worker.
	StatusPending Status = "pending"

	// StatusProcessing: a worker is waiting on the provider call.
	StatusProcessing Status = "processing"

	// StatusCompleted: provider succeeded and bookkeeping committed.
	StatusCompleted Status = "completed"

	// StatusFailed: provider failed, timed out, was reset, or bookkeeping
	// could not be committed.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a final state. Terminal jobs never change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one voice-clone training attempt for a (user, category) pair.
type Job struct {
	ID              string
	UserID          string
	Category        samples.Category
	Status          Status
	RequiredSamples int

	// SamplesUsed lists the sample IDs selected at creation time. All were
	// unlocked at selection; they become locked iff the job completes.
	SamplesUsed []string

	ProviderVoiceID string
	StartedAt       time.Time
	CompletedAt     *time.Time
	ErrorMessage    string
	CostCents       int64
}

var (
	// ErrJobAlreadyActive is returned when a non-terminal job already exists
	// for the (user, category) pair. No state is mutated.
	ErrJobAlreadyActive = errors.New("training: a job is already active for this user and category")

	// ErrInsufficientSamples is returned when fewer unlocked samples exist
	// than the configured minimum. No state is mutated.
	ErrInsufficientSamples = errors.New("training: not enough unlocked samples")

	// ErrJobNotProcessing is returned by gated store writes when the job has
	// left the expected state, typically because it was abandoned or reset.
	// Callers must discard the pending side effect.
	ErrJobNotProcessing = errors.New("training: job is no longer in the expected state")

	// ErrProviderTimeout is the synthetic failure reported when the provider
	// call exceeds its deadline. The call itself is abandoned, not killed;
	// any late result is discarded.
	ErrProviderTimeout = errors.New("training: provider call exceeded deadline")
)
