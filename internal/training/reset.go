package training

import (
	"context"
	"fmt"
	"log/slog"
)

// resetReason is the error message stamped on jobs failed by a reset.
const resetReason = "manually reset"

// SessionResetter clears a user's session-scoped training state after a
// reset. Implemented by the session store; a nil resetter is valid.
type SessionResetter interface {
	// ResetUser clears all in-progress flags for userID and recomputes
	// pending counts from ground truth.
	ResetUser(ctx context.Context, userID string)
}

// ResetService forces a stuck user back to idle: every non-terminal job is
// failed and the session cache is rebuilt. Already-locked samples are left
// untouched, and any late provider result for the abandoned jobs is discarded
// by the status gate on [JobStore.Complete].
//
// ResetAll is idempotent: repeated calls converge to the same state.
type ResetService struct {
	jobs     JobStore
	sessions SessionResetter
}

// NewResetService creates a ResetService. sessions may be nil.
func NewResetService(jobs JobStore, sessions SessionResetter) *ResetService {
	return &ResetService{jobs: jobs, sessions: sessions}
}

// ResetAll fails every non-terminal job for userID with reason "manually
// reset" and clears the user's session in-progress flags.
func (s *ResetService) ResetAll(ctx context.Context, userID string) error {
	n, err := s.jobs.FailAllActive(ctx, userID, resetReason)
	if err != nil {
		return fmt.Errorf("training: reset %q: %w", userID, err)
	}

	if s.sessions != nil {
		s.sessions.ResetUser(ctx, userID)
	}

	slog.Info("user training state reset", "user_id", userID, "jobs_failed", n)
	return nil
}
