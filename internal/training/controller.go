package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/narratale/voicesmith/internal/observe"
	"github.com/narratale/voicesmith/internal/samples"
	"github.com/narratale/voicesmith/pkg/provider/clone"
)

// Defaults for [ControllerConfig]; zero values fall back to these.
const (
	DefaultMinSamples = 5
	DefaultMaxSamples = 8
	DefaultWorkers    = 4
	DefaultQueueSize  = 64
)

// ProgressSink receives job lifecycle notifications so the session-scoped
// progress cache can stay roughly current. All methods are advisory: the
// persisted job store remains the source of truth, and a nil sink is valid.
type ProgressSink interface {
	// JobQueued is called after a job was accepted for (userID, category).
	JobQueued(userID string, category samples.Category)

	// JobStarted is called when a worker begins the provider call.
	JobStarted(userID string, category samples.Category)

	// JobFinished is called after a terminal transition. Implementations
	// should recompute pending counts from ground truth, not decrement.
	JobFinished(ctx context.Context, userID string, category samples.Category, success bool)
}

// ControllerConfig holds the dependencies and tuning knobs for a
// [Controller].
type ControllerConfig struct {
	Jobs     JobStore
	Samples  samples.Repository
	Provider clone.Provider

	// Sessions receives lifecycle notifications. Optional.
	Sessions ProgressSink

	// Metrics records instrumentation. When nil, [observe.DefaultMetrics]
	// is used.
	Metrics *observe.Metrics

	// MinSamples and MaxSamples bound the candidate window per run: a run
	// needs at least MinSamples unlocked samples and never submits more
	// than MaxSamples, to bound provider payload and cost.
	MinSamples int
	MaxSamples int

	// ProviderTimeout bounds the wall-clock duration of one provider call.
	ProviderTimeout time.Duration

	// Workers is the size of the background pool executing provider calls.
	Workers int

	// QueueSize is the capacity of the pending-task queue. A saturated
	// queue fails new jobs instead of blocking the request path.
	QueueSize int

	// CostPerSampleCents is the ledger cost attributed per submitted sample.
	CostPerSampleCents int64
}

// task carries a queued job together with the provider payload resolved at
// selection time.
type task struct {
	job     *Job
	payload []clone.Sample
}

// Controller is the authoritative per-(user, category) training state
// machine. RequestTraining performs the synchronous preconditions and job
// creation; the provider call runs on a bounded worker pool and callers
// observe completion by polling [Controller.GetJob].
//
// All exported methods are safe for concurrent use.
type Controller struct {
	cfg     ControllerConfig
	metrics *observe.Metrics

	queue chan task
	eg    *errgroup.Group

	closeOnce sync.Once
}

// NewController creates a Controller and starts its worker pool. Call
// [Controller.Close] to drain the pool during shutdown.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = max(cfg.MinSamples, DefaultMaxSamples)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	c := &Controller{
		cfg:     cfg,
		metrics: cfg.Metrics,
		queue:   make(chan task, cfg.QueueSize),
		eg:      &errgroup.Group{},
	}
	for range cfg.Workers {
		c.eg.Go(c.worker)
	}
	return c
}

// RequestTraining validates the preconditions, creates a job, and enqueues
// the provider call. It returns the job ID immediately; the call itself runs
// in the background.
//
// Returns [ErrInsufficientSamples] when fewer than MinSamples unlocked
// samples exist, and [ErrJobAlreadyActive] when another non-terminal job
// holds the (userID, category) slot. Neither mutates any state.
func (c *Controller) RequestTraining(ctx context.Context, userID string, category samples.Category) (string, error) {
	if userID == "" {
		return "", errors.New("training: user id must not be empty")
	}
	if !category.IsValid() {
		return "", fmt.Errorf("training: invalid category %q", category)
	}

	unlocked, err := c.cfg.Samples.ListUnlocked(ctx, userID, category, c.cfg.MaxSamples)
	if err != nil {
		return "", fmt.Errorf("training: select candidates: %w", err)
	}
	if len(unlocked) < c.cfg.MinSamples {
		return "", fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(unlocked), c.cfg.MinSamples)
	}

	ids := make([]string, len(unlocked))
	payload := make([]clone.Sample, len(unlocked))
	for i, s := range unlocked {
		ids[i] = s.ID
		payload[i] = clone.Sample{ID: s.ID, Label: s.Label, AudioRef: s.AudioRef}
	}

	job := &Job{
		ID:              uuid.NewString(),
		UserID:          userID,
		Category:        category,
		Status:          StatusPending,
		RequiredSamples: c.cfg.MinSamples,
		SamplesUsed:     ids,
	}
	if err := c.cfg.Jobs.Create(ctx, job); err != nil {
		return "", err
	}

	if c.cfg.Sessions != nil {
		c.cfg.Sessions.JobQueued(userID, category)
	}

	select {
	case c.queue <- task{job: job, payload: payload}:
	default:
		// Fail closed instead of blocking the request path. The job exists
		// and must reach a terminal state so the slot frees up.
		if err := c.cfg.Jobs.Fail(ctx, job.ID, "worker queue full"); err != nil && !errors.Is(err, ErrJobNotProcessing) {
			slog.Error("failed to fail job after queue overflow", "job_id", job.ID, "err", err)
		}
		c.finish(ctx, job, false)
		return "", errors.New("training: worker queue full")
	}

	c.metrics.RecordJob(ctx, "queued", string(category))
	slog.Info("training job queued",
		"job_id", job.ID,
		"user_id", userID,
		"category", category,
		"samples", len(ids),
	)
	return job.ID, nil
}

// GetJob retrieves a job for status polling. Returns (nil, nil) if not found.
func (c *Controller) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return c.cfg.Jobs.Get(ctx, jobID)
}

// Close drains the worker pool. Queued tasks are still executed; no new
// tasks can be submitted after Close returns. Safe to call multiple times.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.queue)
	})
	return c.eg.Wait()
}

// worker executes queued tasks until the queue is closed.
func (c *Controller) worker() error {
	for t := range c.queue {
		c.process(t)
	}
	return nil
}

// process drives one job from pending to a terminal state. It runs on a
// worker goroutine, detached from the request that created the job, so it
// uses a background context.
func (c *Controller) process(t task) {
	ctx := context.Background()
	job := t.job

	if err := c.cfg.Jobs.StartProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			// Reset (or overflow handling) beat us to a terminal state.
			slog.Info("skipping job no longer pending", "job_id", job.ID)
			return
		}
		slog.Error("failed to start processing", "job_id", job.ID, "err", err)
		c.failJob(ctx, job, "could not start processing: "+err.Error())
		return
	}
	if c.cfg.Sessions != nil {
		c.cfg.Sessions.JobStarted(job.UserID, job.Category)
	}

	c.metrics.ActiveJobs.Add(ctx, 1)
	defer c.metrics.ActiveJobs.Add(ctx, -1)

	start := time.Now()
	result, err := runWithDeadline(ctx, c.cfg.ProviderTimeout, func(ctx context.Context) (clone.TrainResult, error) {
		return c.cfg.Provider.TrainVoice(ctx, job.UserID, t.payload)
	})
	c.metrics.TrainingDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		c.metrics.RecordProviderError(ctx, c.cfg.Provider.Name(), string(clone.CategoryOf(err)))
		c.failJob(ctx, job, failureReason(err, c.cfg.ProviderTimeout))
		return
	}

	cost := int64(len(t.payload)) * c.cfg.CostPerSampleCents
	if err := c.cfg.Jobs.Complete(ctx, job.ID, result.VoiceID, job.SamplesUsed, cost); err != nil {
		if errors.Is(err, ErrJobNotProcessing) {
			// The job was abandoned or reset while the provider was
			// working. The result must not resurrect it.
			slog.Warn("discarding provider result for abandoned job",
				"job_id", job.ID, "voice_id", result.VoiceID)
			return
		}
		// Provider succeeded but bookkeeping did not. Fail closed: "not
		// cloned, retry" beats a completed job with unlocked samples.
		c.failJob(ctx, job, "completion bookkeeping failed: "+err.Error())
		return
	}

	c.metrics.RecordJob(ctx, "completed", string(job.Category))
	c.finish(ctx, job, true)
	slog.Info("training job completed",
		"job_id", job.ID,
		"user_id", job.UserID,
		"category", job.Category,
		"voice_id", result.VoiceID,
		"cost_cents", cost,
		"duration", time.Since(start),
	)
}

// failJob moves the job to failed and notifies the session cache. A job that
// is already terminal (reset while we worked) is left untouched.
func (c *Controller) failJob(ctx context.Context, job *Job, reason string) {
	err := c.cfg.Jobs.Fail(ctx, job.ID, reason)
	switch {
	case errors.Is(err, ErrJobNotProcessing):
		slog.Info("job already terminal, dropping failure", "job_id", job.ID, "reason", reason)
		return
	case err != nil:
		slog.Error("failed to mark job failed", "job_id", job.ID, "reason", reason, "err", err)
	}

	c.metrics.RecordJob(ctx, "failed", string(job.Category))
	c.finish(ctx, job, false)
	slog.Warn("training job failed",
		"job_id", job.ID,
		"user_id", job.UserID,
		"category", job.Category,
		"reason", reason,
	)
}

// finish notifies the session cache of a terminal transition.
func (c *Controller) finish(ctx context.Context, job *Job, success bool) {
	if c.cfg.Sessions != nil {
		c.cfg.Sessions.JobFinished(ctx, job.UserID, job.Category, success)
	}
}

// failureReason renders a provider error as the job's stored error message.
func failureReason(err error, timeout time.Duration) string {
	if errors.Is(err, ErrProviderTimeout) {
		return fmt.Sprintf("provider call timed out after %s", timeout)
	}
	var ce *clone.CategorizedError
	if errors.As(err, &ce) {
		return fmt.Sprintf("provider %s: %v", ce.Category, ce.Err)
	}
	return err.Error()
}
