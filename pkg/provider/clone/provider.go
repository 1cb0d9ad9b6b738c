// Package clone defines the Provider interface for external voice-cloning
// backends and the categorized error type the orchestrator uses to decide how
// a failed training attempt is reported.
//
// A Provider receives the voice samples selected for a training run and
// returns the opaque voice identifier minted by the backend. Backends are
// interchangeable: which one is used is a pure configuration lookup resolved
// once at startup (see the config registry), never a per-call decision. Each
// backend owns its own auth and endpoint handling internally.
//
// Implementations are provided by backend-specific subpackages
// (clone/elevenlabs, clone/xtts) plus a clone/mock test double.
package clone

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory classifies a provider failure. The orchestrator records the
// category on the failed job and in metrics; it does not retry automatically.
type ErrorCategory string

const (
	// Unavailable means the backend could not be reached or answered with a
	// server-side error. The samples remain usable for a later attempt.
	Unavailable ErrorCategory = "unavailable"

	// Rejected means the backend received the request and refused it
	// (bad credentials, unusable audio, quota exhausted).
	Rejected ErrorCategory = "rejected"

	// Unknown covers everything else, including malformed responses.
	Unknown ErrorCategory = "unknown"
)

// CategorizedError wraps a backend failure with its [ErrorCategory].
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	return fmt.Sprintf("clone provider %s: %v", e.Category, e.Err)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error { return e.Err }

// NewUnavailable wraps err as an Unavailable provider failure.
func NewUnavailable(err error) *CategorizedError {
	return &CategorizedError{Category: Unavailable, Err: err}
}

// NewRejected wraps err as a Rejected provider failure.
func NewRejected(err error) *CategorizedError {
	return &CategorizedError{Category: Rejected, Err: err}
}

// NewUnknown wraps err as an Unknown provider failure.
func NewUnknown(err error) *CategorizedError {
	return &CategorizedError{Category: Unknown, Err: err}
}

// CategoryOf extracts the [ErrorCategory] from err. Errors that are not a
// [CategorizedError] report [Unknown].
func CategoryOf(err error) ErrorCategory {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return Unknown
}

// Sample is the per-sample payload handed to a backend: the stable sample ID,
// a human label, and a fetchable reference to the audio (typically a presigned
// URL). The orchestrator never handles audio bytes itself.
type Sample struct {
	ID       string
	Label    string
	AudioRef string
}

// TrainResult is the outcome of a successful training call.
type TrainResult struct {
	// VoiceID is the opaque handle minted by the backend, used later for
	// speech-synthesis requests.
	VoiceID string
}

// Provider trains a custom voice from a set of samples.
//
// TrainVoice blocks until the backend accepts or rejects the training run and
// must respect ctx cancellation. Errors should be wrapped in a
// [CategorizedError] so the orchestrator can report the failure class; plain
// errors are treated as [Unknown]. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name reports the backend's registered name (e.g., "elevenlabs").
	Name() string

	// TrainVoice submits the samples for userID and returns the new voice ID.
	TrainVoice(ctx context.Context, userID string, samples []Sample) (TrainResult, error)
}
