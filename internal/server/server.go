// Package server exposes the training orchestrator over HTTP. Routes are
// registered on a standard [http.ServeMux] using method-and-path patterns;
// observability middleware is applied by the caller.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/narratale/voicesmith/internal/ledger"
	"github.com/narratale/voicesmith/internal/observe"
	"github.com/narratale/voicesmith/internal/samples"
	"github.com/narratale/voicesmith/internal/session"
	"github.com/narratale/voicesmith/internal/training"
)

// Server holds the handler dependencies.
type Server struct {
	samples    samples.Repository
	sessions   *session.Store
	controller *training.Controller
	reset      *training.ResetService
	costs      ledger.Ledger
	metrics    *observe.Metrics

	// threshold is the per-category unlocked-sample count that triggers an
	// automatic run after an upload.
	threshold int
}

// Config bundles the dependencies for [New].
type Config struct {
	Samples    samples.Repository
	Sessions   *session.Store
	Controller *training.Controller
	Reset      *training.ResetService
	Costs      ledger.Ledger
	Metrics    *observe.Metrics
	Threshold  int
}

// New creates a Server. A nil Metrics falls back to [observe.DefaultMetrics].
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = training.DefaultThreshold
	}
	return &Server{
		samples:    cfg.Samples,
		sessions:   cfg.Sessions,
		controller: cfg.Controller,
		reset:      cfg.Reset,
		costs:      cfg.Costs,
		metrics:    cfg.Metrics,
		threshold:  cfg.Threshold,
	}
}

// Register adds all API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/users/{userID}/samples", s.handleRecordSample)
	mux.HandleFunc("GET /v1/users/{userID}/progress", s.handleProgress)
	mux.HandleFunc("POST /v1/users/{userID}/train", s.handleTrain)
	mux.HandleFunc("POST /v1/users/{userID}/reset", s.handleReset)
	mux.HandleFunc("GET /v1/users/{userID}/costs", s.handleCosts)
	mux.HandleFunc("GET /v1/jobs/{jobID}", s.handleGetJob)
}

// recordSampleRequest is the body of POST /v1/users/{userID}/samples.
type recordSampleRequest struct {
	Category string `json:"category"`
	Label    string `json:"label"`
	AudioRef string `json:"audio_ref"`
}

// recordSampleResponse reports the stored sample and whether the upload
// tripped an automatic training run.
type recordSampleResponse struct {
	SampleID          string `json:"sample_id"`
	PendingCount      int    `json:"pending_count"`
	TrainingTriggered bool   `json:"training_triggered"`
	JobID             string `json:"job_id,omitempty"`
}

func (s *Server) handleRecordSample(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	ctx := r.Context()

	var req recordSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	category := samples.Category(req.Category)
	if !category.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid category %q; valid values: emotion, sound, modulation", req.Category))
		return
	}
	if req.AudioRef == "" {
		writeError(w, http.StatusBadRequest, "audio_ref is required")
		return
	}

	sample := &samples.VoiceSample{
		ID:       uuid.NewString(),
		UserID:   userID,
		Category: category,
		Label:    req.Label,
		AudioRef: req.AudioRef,
	}
	if err := s.samples.Create(ctx, sample); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, r, "create sample", err)
		return
	}
	s.metrics.RecordSample(ctx, string(category))

	state, err := s.sessions.SampleRecorded(ctx, userID, category)
	if err != nil {
		// The sample is stored; a stale counter is recoverable. Respond with
		// what we know.
		observe.Logger(ctx).Warn("pending count refresh failed after upload", "user_id", userID, "err", err)
	}

	resp := recordSampleResponse{
		SampleID:     sample.ID,
		PendingCount: state.PendingCount,
	}

	// Threshold crossing starts a run automatically. Losing the creation race
	// to a concurrent upload is fine: some other request started the run.
	if s.sessions.TriggerReady(userID, category, s.threshold) {
		jobID, err := s.controller.RequestTraining(ctx, userID, category)
		switch {
		case err == nil:
			resp.TrainingTriggered = true
			resp.JobID = jobID
		case errors.Is(err, training.ErrJobAlreadyActive):
			observe.Logger(ctx).Info("auto-trigger lost creation race", "user_id", userID, "category", category)
		case errors.Is(err, training.ErrInsufficientSamples):
			// Counter said trigger but ground truth disagrees; the counter
			// recomputes on the next upload.
			observe.Logger(ctx).Warn("auto-trigger skipped, counter ahead of storage", "user_id", userID, "category", category)
		default:
			observe.Logger(ctx).Error("auto-trigger failed", "user_id", userID, "category", category, "err", err)
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// progressResponse is the body of GET /v1/users/{userID}/progress.
type progressResponse struct {
	Threshold     int                          `json:"threshold"`
	AnyInProgress bool                         `json:"any_in_progress"`
	Categories    map[string]categoryProgress `json:"categories"`
}

type categoryProgress struct {
	PendingCount int    `json:"pending_count"`
	Required     int    `json:"required"`
	InProgress   bool   `json:"in_progress"`
	Status       string `json:"status"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	progress := s.sessions.Progress(r.Context(), userID)
	resp := progressResponse{
		Threshold:     s.threshold,
		AnyInProgress: s.sessions.AnyInProgress(userID),
		Categories:    make(map[string]categoryProgress, len(progress)),
	}
	for cat, st := range progress {
		resp.Categories[string(cat)] = categoryProgress{
			PendingCount: st.PendingCount,
			Required:     s.threshold,
			InProgress:   st.InProgress,
			Status:       string(st.Status),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// trainRequest is the body of POST /v1/users/{userID}/train.
type trainRequest struct {
	Category string `json:"category"`
}

// trainResponse is returned with 202 Accepted; the job completes
// asynchronously and is polled via GET /v1/jobs/{jobID}.
type trainResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	category := samples.Category(req.Category)
	if !category.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid category %q; valid values: emotion, sound, modulation", req.Category))
		return
	}

	jobID, err := s.controller.RequestTraining(r.Context(), userID, category)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, trainResponse{JobID: jobID})
	case errors.Is(err, training.ErrJobAlreadyActive):
		writeError(w, http.StatusConflict, "a training run is already active for this category")
	case errors.Is(err, training.ErrInsufficientSamples):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.internalError(w, r, "request training", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	if err := s.reset.ResetAll(r.Context(), userID); err != nil {
		s.internalError(w, r, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// jobResponse is the body of GET /v1/jobs/{jobID}.
type jobResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	ProviderVoiceID string     `json:"provider_voice_id,omitempty"`
	SamplesUsed     []string   `json:"samples_used"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CostCents       int64      `json:"cost_cents"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")

	job, err := s.controller.GetJob(r.Context(), jobID)
	if err != nil {
		s.internalError(w, r, "get job", err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{
		ID:           job.ID,
		UserID:       job.UserID,
		Category:     string(job.Category),
		Status:       string(job.Status),
		SamplesUsed:  job.SamplesUsed,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
		CostCents:    job.CostCents,
	}
	if job.Status == training.StatusCompleted {
		resp.ProviderVoiceID = job.ProviderVoiceID
	}
	if !job.StartedAt.IsZero() {
		resp.StartedAt = &job.StartedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// costsResponse is the body of GET /v1/users/{userID}/costs.
type costsResponse struct {
	TotalCents int64        `json:"total_cents"`
	Records    []costRecord `json:"records"`
}

type costRecord struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id"`
	Category         string    `json:"category"`
	VoiceID          string    `json:"voice_id"`
	CostCents        int64     `json:"cost_cents"`
	SamplesProcessed int       `json:"samples_processed"`
	CreatedAt        time.Time `json:"created_at"`
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	ctx := r.Context()

	total, err := s.costs.TotalForUser(ctx, userID)
	if err != nil {
		s.internalError(w, r, "total costs", err)
		return
	}
	recs, err := s.costs.ListForUser(ctx, userID)
	if err != nil {
		s.internalError(w, r, "list costs", err)
		return
	}

	resp := costsResponse{TotalCents: total, Records: make([]costRecord, 0, len(recs))}
	for _, rec := range recs {
		resp.Records = append(resp.Records, costRecord{
			ID:               rec.ID,
			JobID:            rec.JobID,
			Category:         rec.Category,
			VoiceID:          rec.VoiceID,
			CostCents:        rec.CostCents,
			SamplesProcessed: rec.SamplesProcessed,
			CreatedAt:        rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// internalError logs err with trace context and responds 500 without leaking
// internals to the client.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.Logger(r.Context()).Error("request failed", "op", op, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
