// Package session holds the per-user, session-scoped view of training
// progress: how many unlocked samples each category has and whether a
// training run is currently underway.
//
// The store is a cache, not a source of truth. Counts are recomputed from the
// sample repository at every lifecycle edge instead of being decremented, so
// a missed or duplicated notification corrects itself on the next recompute.
// State is held in memory and vanishes with the process; [Store.Initialize]
// rebuilds it from persistent storage on the next login.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/narratale/voicesmith/internal/samples"
	"github.com/narratale/voicesmith/internal/training"
)

// Status describes where a category is in the training lifecycle.
type Status string

const (
	// StatusIdle means no run is underway and none has finished this session.
	StatusIdle Status = "idle"

	// StatusQueued means a job was created and waits for a worker.
	StatusQueued Status = "queued"

	// StatusTraining means the provider call is in flight.
	StatusTraining Status = "training"

	// StatusTrained means the most recent run this session succeeded.
	StatusTrained Status = "trained"

	// StatusFailed means the most recent run this session failed.
	StatusFailed Status = "failed"
)

// CategoryState is the session-scoped progress snapshot for one category.
type CategoryState struct {
	// PendingCount is the number of unlocked samples, as of the last
	// recompute from the sample repository.
	PendingCount int

	// InProgress is true from job creation until its terminal transition.
	InProgress bool

	// Status is the lifecycle phase shown to the user.
	Status Status
}

// Store tracks per-user category state. All methods are safe for concurrent
// use. Store implements [training.ProgressSink] and
// [training.SessionResetter].
type Store struct {
	repo samples.Repository

	mu    sync.RWMutex
	users map[string]map[samples.Category]*CategoryState
}

// Interface checks against the training package's consumer interfaces.
var (
	_ training.ProgressSink    = (*Store)(nil)
	_ training.SessionResetter = (*Store)(nil)
)

// NewStore creates an empty Store backed by repo.
func NewStore(repo samples.Repository) *Store {
	return &Store{
		repo:  repo,
		users: make(map[string]map[samples.Category]*CategoryState),
	}
}

// Initialize builds the state for userID from persistent storage. Existing
// in-progress flags are preserved so a login during an active run does not
// hide it. A repository failure degrades to zero counts rather than blocking
// the session.
func (s *Store) Initialize(ctx context.Context, userID string) {
	counts, err := s.repo.CountUnlocked(ctx, userID)
	if err != nil {
		slog.Warn("session state init degraded to zero counts", "user_id", userID, "err", err)
		counts = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.ensureLocked(userID)
	for _, cat := range samples.Categories {
		cats[cat].PendingCount = counts[cat]
	}
}

// Forget drops all in-memory state for userID, e.g. on logout. Persistent
// samples and jobs are unaffected.
func (s *Store) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

// Progress returns a snapshot of every category's state for userID,
// initializing from storage when the user is not yet tracked.
func (s *Store) Progress(ctx context.Context, userID string) map[samples.Category]CategoryState {
	s.mu.RLock()
	_, known := s.users[userID]
	s.mu.RUnlock()
	if !known {
		s.Initialize(ctx, userID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[samples.Category]CategoryState, len(samples.Categories))
	for cat, st := range s.users[userID] {
		out[cat] = *st
	}
	return out
}

// SampleRecorded refreshes the pending count for (userID, category) after a
// sample was persisted and returns the updated snapshot. The caller decides
// whether the new count crosses the training threshold.
func (s *Store) SampleRecorded(ctx context.Context, userID string, category samples.Category) (CategoryState, error) {
	counts, err := s.repo.CountUnlocked(ctx, userID)
	if err != nil {
		return CategoryState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.ensureLocked(userID)
	for _, cat := range samples.Categories {
		cats[cat].PendingCount = counts[cat]
	}
	return *cats[category], nil
}

// JobQueued marks (userID, category) as having an active run waiting for a
// worker. Implements [training.ProgressSink].
func (s *Store) JobQueued(userID string, category samples.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensureLocked(userID)[category]
	st.InProgress = true
	st.Status = StatusQueued
}

// JobStarted marks the provider call as in flight. Implements
// [training.ProgressSink].
func (s *Store) JobStarted(userID string, category samples.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensureLocked(userID)[category]
	st.InProgress = true
	st.Status = StatusTraining
}

// JobFinished records a terminal transition and recomputes pending counts
// from storage: a successful run locked its samples, so the count must come
// from ground truth, never from local arithmetic. Implements
// [training.ProgressSink].
func (s *Store) JobFinished(ctx context.Context, userID string, category samples.Category, success bool) {
	counts, err := s.repo.CountUnlocked(ctx, userID)
	if err != nil {
		slog.Warn("pending count refresh failed, keeping stale counts", "user_id", userID, "err", err)
		counts = s.snapshotCounts(userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.ensureLocked(userID)
	for _, cat := range samples.Categories {
		cats[cat].PendingCount = counts[cat]
	}
	st := cats[category]
	st.InProgress = false
	if success {
		st.Status = StatusTrained
	} else {
		st.Status = StatusFailed
	}
}

// ResetUser clears every in-progress flag for userID back to idle and
// recomputes counts from storage. Implements [training.SessionResetter].
func (s *Store) ResetUser(ctx context.Context, userID string) {
	counts, err := s.repo.CountUnlocked(ctx, userID)
	if err != nil {
		slog.Warn("pending count refresh failed during reset", "user_id", userID, "err", err)
		counts = s.snapshotCounts(userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cats := s.ensureLocked(userID)
	for _, cat := range samples.Categories {
		st := cats[cat]
		st.PendingCount = counts[cat]
		st.InProgress = false
		st.Status = StatusIdle
	}
}

// AnyInProgress reports whether userID has an active run in any category.
// The recording UI uses this to disable actions while a run is underway; an
// untracked user has no runs.
func (s *Store) AnyInProgress(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.users[userID] {
		if st.InProgress {
			return true
		}
	}
	return false
}

// TriggerReady reports whether (userID, category) should start an automatic
// training run at the given threshold.
func (s *Store) TriggerReady(userID string, category samples.Category, threshold int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats, ok := s.users[userID]
	if !ok {
		return false
	}
	st := cats[category]
	return training.ShouldTrigger(st.PendingCount, st.InProgress, threshold)
}

// ensureLocked returns the category map for userID, creating idle entries for
// every category on first use. Caller must hold s.mu.
func (s *Store) ensureLocked(userID string) map[samples.Category]*CategoryState {
	cats, ok := s.users[userID]
	if !ok {
		cats = make(map[samples.Category]*CategoryState, len(samples.Categories))
		for _, cat := range samples.Categories {
			cats[cat] = &CategoryState{Status: StatusIdle}
		}
		s.users[userID] = cats
	}
	return cats
}

// snapshotCounts returns the currently cached pending counts for userID.
func (s *Store) snapshotCounts(userID string) map[samples.Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[samples.Category]int, len(samples.Categories))
	for cat, st := range s.users[userID] {
		out[cat] = st.PendingCount
	}
	return out
}
