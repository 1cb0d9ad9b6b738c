// Package samples holds the voice-sample model and its repository. Samples
// are the ground truth for everything the orchestrator decides: pending
// counts, threshold crossings, and the candidate set for a training run are
// all derived from the unlocked samples stored here.
package samples

import (
	"context"
	"time"
)

// Category is one of the three independent sample buckets a user records
// into. Each category is trained separately.
type Category string

const (
	CategoryEmotion    Category = "emotion"
	CategorySound      Category = "sound"
	CategoryModulation Category = "modulation"
)

// Categories lists all valid categories in a stable order.
var Categories = []Category{CategoryEmotion, CategorySound, CategoryModulation}

// IsValid reports whether c is a recognised category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryEmotion, CategorySound, CategoryModulation:
		return true
	}
	return false
}

// VoiceSample is one recorded voice sample. AudioRef points at the stored
// audio (a presigned URL or object key); the orchestrator never touches the
// bytes. IsLocked flips to true only inside a successful training job's
// completion transaction, after which the sample is immutable: it preserves
// the trained voice's provenance.
type VoiceSample struct {
	ID        string
	UserID    string
	Category  Category
	Label     string
	AudioRef  string
	IsLocked  bool
	CreatedAt time.Time
}

// Repository stores and queries voice samples.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Create inserts a new, unlocked sample. Returns an error if a sample
	// with the same ID already exists.
	Create(ctx context.Context, s *VoiceSample) error

	// ListUnlocked returns up to limit unlocked samples for (userID,
	// category), oldest first. limit <= 0 means no limit.
	ListUnlocked(ctx context.Context, userID string, category Category, limit int) ([]VoiceSample, error)

	// CountUnlocked returns the unlocked-sample count per category for
	// userID. Categories with no samples are absent from the map.
	CountUnlocked(ctx context.Context, userID string) (map[Category]int, error)
}
