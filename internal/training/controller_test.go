package training

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/narratale/voicesmith/internal/samples"
	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// ---------------------------------------------------------------------------
// Test helpers — mocks
// ---------------------------------------------------------------------------

// stubRepo is a samples.Repository returning a fixed unlocked set.
type stubRepo struct {
	mu        sync.Mutex
	unlocked  []samples.VoiceSample
	lastLimit int
	listErr   error
}

func (r *stubRepo) Create(context.Context, *samples.VoiceSample) error {
	return errors.New("not implemented")
}

func (r *stubRepo) ListUnlocked(_ context.Context, _ string, _ samples.Category, limit int) ([]samples.VoiceSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	if r.listErr != nil {
		return nil, r.listErr
	}
	list := r.unlocked
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *stubRepo) CountUnlocked(context.Context, string) (map[samples.Category]int, error) {
	return nil, errors.New("not implemented")
}

func makeSamples(n int) []samples.VoiceSample {
	out := make([]samples.VoiceSample, n)
	for i := range out {
		out[i] = samples.VoiceSample{
			ID:       fmt.Sprintf("s-%d", i),
			Category: samples.CategoryEmotion,
			AudioRef: fmt.Sprintf("https://cdn.example/%d.wav", i),
		}
	}
	return out
}

type completeCall struct {
	jobID     string
	voiceID   string
	sampleIDs []string
	costCents int64
}

type failCall struct {
	jobID  string
	reason string
}

// stubJobStore records lifecycle calls. Safe for concurrent use since worker
// goroutines call into it.
type stubJobStore struct {
	mu          sync.Mutex
	createErr   error
	startErr    error
	completeErr error
	failErr     error

	created   []*Job
	started   []string
	completed []completeCall
	failed    []failCall
}

func (s *stubJobStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *job
	s.created = append(s.created, &cp)
	return nil
}

func (s *stubJobStore) StartProcessing(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = append(s.started, jobID)
	return nil
}

func (s *stubJobStore) Complete(_ context.Context, jobID, voiceID string, sampleIDs []string, costCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return s.completeErr
	}
	s.completed = append(s.completed, completeCall{jobID, voiceID, sampleIDs, costCents})
	return nil
}

func (s *stubJobStore) Fail(_ context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.failed = append(s.failed, failCall{jobID, reason})
	return nil
}

func (s *stubJobStore) Get(context.Context, string) (*Job, error) { return nil, nil }

func (s *stubJobStore) FailAllActive(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *stubJobStore) snapshot() (created int, started int, completed []completeCall, failed []failCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created), len(s.started),
		append([]completeCall(nil), s.completed...),
		append([]failCall(nil), s.failed...)
}

// recordingSink implements ProgressSink and signals lifecycle events.
type recordingSink struct {
	mu       sync.Mutex
	queued   []string
	started  chan string
	finished []bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{started: make(chan string, 16)}
}

func (s *recordingSink) JobQueued(userID string, _ samples.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, userID)
}

func (s *recordingSink) JobStarted(userID string, _ samples.Category) {
	s.started <- userID
}

func (s *recordingSink) JobFinished(_ context.Context, _ string, _ samples.Category, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, success)
}

func (s *recordingSink) finishes() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.finished...)
}

// trainFunc adapts a function to clone.Provider.
type trainFunc func(ctx context.Context, userID string, in []clone.Sample) (clone.TrainResult, error)

type funcProvider struct {
	fn trainFunc
}

func (p *funcProvider) Name() string { return "func" }

func (p *funcProvider) TrainVoice(ctx context.Context, userID string, in []clone.Sample) (clone.TrainResult, error) {
	return p.fn(ctx, userID, in)
}

// newTestController builds a Controller with a single worker and test-sized
// knobs.
func newTestController(t *testing.T, jobs *stubJobStore, repo *stubRepo, fn trainFunc, sink ProgressSink) *Controller {
	t.Helper()
	c := NewController(ControllerConfig{
		Jobs:               jobs,
		Samples:            repo,
		Provider:           &funcProvider{fn: fn},
		Sessions:           sink,
		MinSamples:         5,
		MaxSamples:         8,
		ProviderTimeout:    time.Second,
		Workers:            1,
		QueueSize:          4,
		CostPerSampleCents: 5,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// ---------------------------------------------------------------------------
// RequestTraining
// ---------------------------------------------------------------------------

func TestRequestTraining_SuccessfulRun(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(6)}
	sink := newRecordingSink()

	c := newTestController(t, jobs, repo, func(_ context.Context, userID string, in []clone.Sample) (clone.TrainResult, error) {
		if userID != "user-1" {
			t.Errorf("provider userID = %q, want user-1", userID)
		}
		if len(in) != 6 {
			t.Errorf("provider got %d samples, want 6", len(in))
		}
		return clone.TrainResult{VoiceID: "voice-42"}, nil
	}, sink)

	jobID, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion)
	if err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	if jobID == "" {
		t.Fatal("empty job ID")
	}

	// Close drains the worker pool so the run has finished.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	created, started, completed, failed := jobs.snapshot()
	if created != 1 || started != 1 {
		t.Errorf("created = %d, started = %d, want 1/1", created, started)
	}
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if len(completed) != 1 {
		t.Fatalf("got %d completions, want 1", len(completed))
	}
	got := completed[0]
	if got.jobID != jobID {
		t.Errorf("completed job = %q, want %q", got.jobID, jobID)
	}
	if got.voiceID != "voice-42" {
		t.Errorf("voice = %q, want voice-42", got.voiceID)
	}
	if len(got.sampleIDs) != 6 {
		t.Errorf("locked %d samples, want 6", len(got.sampleIDs))
	}
	if got.costCents != 30 {
		t.Errorf("cost = %d, want 6 samples * 5 cents", got.costCents)
	}

	if fin := sink.finishes(); len(fin) != 1 || !fin[0] {
		t.Errorf("sink finishes = %v, want [true]", fin)
	}
}

func TestRequestTraining_CapsAtMaxSamples(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(12)}

	var gotSamples int
	var mu sync.Mutex
	c := newTestController(t, jobs, repo, func(_ context.Context, _ string, in []clone.Sample) (clone.TrainResult, error) {
		mu.Lock()
		gotSamples = len(in)
		mu.Unlock()
		return clone.TrainResult{VoiceID: "v"}, nil
	}, nil)

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	_ = c.Close()

	repo.mu.Lock()
	lastLimit := repo.lastLimit
	repo.mu.Unlock()
	if lastLimit != 8 {
		t.Errorf("selection limit = %d, want MaxSamples 8", lastLimit)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotSamples != 8 {
		t.Errorf("provider got %d samples, want 8", gotSamples)
	}
}

func TestRequestTraining_InsufficientSamples(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(3)}
	c := newTestController(t, jobs, repo, nil, nil)

	_, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion)
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("error = %v, want ErrInsufficientSamples", err)
	}
	if !strings.Contains(err.Error(), "have 3, need 5") {
		t.Errorf("error = %q, want counts", err.Error())
	}
	if created, _, _, _ := jobs.snapshot(); created != 0 {
		t.Error("no job should be created when samples are insufficient")
	}
}

func TestRequestTraining_InvalidInput(t *testing.T) {
	c := newTestController(t, &stubJobStore{}, &stubRepo{}, nil, nil)

	if _, err := c.RequestTraining(context.Background(), "", samples.CategoryEmotion); err == nil {
		t.Error("empty user ID should fail")
	}
	if _, err := c.RequestTraining(context.Background(), "user-1", "whistling"); err == nil {
		t.Error("invalid category should fail")
	}
}

func TestRequestTraining_AlreadyActive(t *testing.T) {
	jobs := &stubJobStore{createErr: ErrJobAlreadyActive}
	repo := &stubRepo{unlocked: makeSamples(5)}
	c := newTestController(t, jobs, repo, nil, nil)

	_, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion)
	if !errors.Is(err, ErrJobAlreadyActive) {
		t.Fatalf("error = %v, want ErrJobAlreadyActive", err)
	}
}

// ---------------------------------------------------------------------------
// Worker behaviour
// ---------------------------------------------------------------------------

func TestProcess_ProviderTimeoutFailsJob(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(5)}
	sink := newRecordingSink()

	release := make(chan struct{})
	defer close(release)

	c := NewController(ControllerConfig{
		Jobs:            jobs,
		Samples:         repo,
		Provider:        &funcProvider{fn: func(context.Context, string, []clone.Sample) (clone.TrainResult, error) { <-release; return clone.TrainResult{}, nil }},
		Sessions:        sink,
		MinSamples:      5,
		MaxSamples:      8,
		ProviderTimeout: 20 * time.Millisecond,
		Workers:         1,
	})

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, _, completed, failed := jobs.snapshot()
	if len(completed) != 0 {
		t.Fatalf("unexpected completions: %+v", completed)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failures, want 1", len(failed))
	}
	if !strings.Contains(failed[0].reason, "timed out") {
		t.Errorf("failure reason = %q, want timeout message", failed[0].reason)
	}
	if fin := sink.finishes(); len(fin) != 1 || fin[0] {
		t.Errorf("sink finishes = %v, want [false]", fin)
	}
}

func TestProcess_ProviderRejectionFailsJob(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(5)}

	c := newTestController(t, jobs, repo, func(context.Context, string, []clone.Sample) (clone.TrainResult, error) {
		return clone.TrainResult{}, clone.NewRejected(errors.New("sample too short"))
	}, nil)

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	_ = c.Close()

	_, _, _, failed := jobs.snapshot()
	if len(failed) != 1 {
		t.Fatalf("got %d failures, want 1", len(failed))
	}
	if !strings.Contains(failed[0].reason, "rejected") || !strings.Contains(failed[0].reason, "sample too short") {
		t.Errorf("failure reason = %q, want categorized provider error", failed[0].reason)
	}
}

func TestProcess_LateResultDiscardedWhenJobNoLongerProcessing(t *testing.T) {
	jobs := &stubJobStore{completeErr: ErrJobNotProcessing}
	repo := &stubRepo{unlocked: makeSamples(5)}
	sink := newRecordingSink()

	c := newTestController(t, jobs, repo, func(context.Context, string, []clone.Sample) (clone.TrainResult, error) {
		return clone.TrainResult{VoiceID: "voice-late"}, nil
	}, sink)

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	_ = c.Close()

	// The result lands after a reset: no completion, no failure, no finished
	// notification. The job already reached its terminal state elsewhere.
	_, _, completed, failed := jobs.snapshot()
	if len(completed) != 0 || len(failed) != 0 {
		t.Errorf("completed = %v, failed = %v, want both empty", completed, failed)
	}
	if fin := sink.finishes(); len(fin) != 0 {
		t.Errorf("sink finishes = %v, want none", fin)
	}
}

func TestProcess_BookkeepingFailureFailsJob(t *testing.T) {
	jobs := &stubJobStore{completeErr: errors.New("connection reset during commit")}
	repo := &stubRepo{unlocked: makeSamples(5)}
	sink := newRecordingSink()

	c := newTestController(t, jobs, repo, func(context.Context, string, []clone.Sample) (clone.TrainResult, error) {
		return clone.TrainResult{VoiceID: "voice-9"}, nil
	}, sink)

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	_ = c.Close()

	// The provider succeeded but the completion write did not. Fail closed:
	// the job must end failed rather than completed with unlocked samples.
	_, _, completed, failed := jobs.snapshot()
	if len(completed) != 0 {
		t.Fatalf("unexpected completions: %+v", completed)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failures, want 1", len(failed))
	}
	if !strings.Contains(failed[0].reason, "completion bookkeeping failed") ||
		!strings.Contains(failed[0].reason, "connection reset during commit") {
		t.Errorf("failure reason = %q, want bookkeeping failure with cause", failed[0].reason)
	}
	if fin := sink.finishes(); len(fin) != 1 || fin[0] {
		t.Errorf("sink finishes = %v, want [false]", fin)
	}
}

func TestProcess_SkipsJobFailedBeforePickup(t *testing.T) {
	jobs := &stubJobStore{startErr: ErrJobNotProcessing}
	repo := &stubRepo{unlocked: makeSamples(5)}

	providerCalled := false
	var mu sync.Mutex
	c := newTestController(t, jobs, repo, func(context.Context, string, []clone.Sample) (clone.TrainResult, error) {
		mu.Lock()
		providerCalled = true
		mu.Unlock()
		return clone.TrainResult{}, nil
	}, nil)

	if _, err := c.RequestTraining(context.Background(), "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("RequestTraining: %v", err)
	}
	_ = c.Close()

	mu.Lock()
	defer mu.Unlock()
	if providerCalled {
		t.Error("provider must not be called for a job no longer pending")
	}
}

func TestRequestTraining_QueueFullFailsJob(t *testing.T) {
	jobs := &stubJobStore{}
	repo := &stubRepo{unlocked: makeSamples(5)}
	sink := newRecordingSink()

	gate := make(chan struct{})
	c := NewController(ControllerConfig{
		Jobs:            jobs,
		Samples:         repo,
		Provider:        &funcProvider{fn: func(context.Context, string, []clone.Sample) (clone.TrainResult, error) { <-gate; return clone.TrainResult{VoiceID: "v"}, nil }},
		Sessions:        sink,
		MinSamples:      5,
		MaxSamples:      8,
		ProviderTimeout: time.Second,
		Workers:         1,
		QueueSize:       1,
	})

	ctx := context.Background()
	// First job occupies the single worker.
	if _, err := c.RequestTraining(ctx, "user-1", samples.CategoryEmotion); err != nil {
		t.Fatalf("first RequestTraining: %v", err)
	}
	select {
	case <-sink.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not pick up the first job")
	}

	// Second job fills the queue, third overflows.
	if _, err := c.RequestTraining(ctx, "user-2", samples.CategoryEmotion); err != nil {
		t.Fatalf("second RequestTraining: %v", err)
	}
	_, err := c.RequestTraining(ctx, "user-3", samples.CategoryEmotion)
	if err == nil || !strings.Contains(err.Error(), "worker queue full") {
		t.Fatalf("third RequestTraining error = %v, want queue full", err)
	}

	close(gate)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The overflowed job reached a terminal state instead of staying pending.
	_, _, completed, failed := jobs.snapshot()
	if len(failed) != 1 || failed[0].reason != "worker queue full" {
		t.Fatalf("failed = %+v, want one 'worker queue full'", failed)
	}
	if len(completed) != 2 {
		t.Errorf("got %d completions, want 2", len(completed))
	}
}
