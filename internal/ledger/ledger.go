// Package ledger keeps the append-only record of provider training spend.
// Rows are written once, inside the job completion transaction, and are never
// updated or deleted afterwards.
package ledger

import (
	"context"
	"time"
)

// CostRecord is one completed training run's spend entry.
type CostRecord struct {
	// ID uniquely identifies this record.
	ID string

	// JobID is the training job that produced this record.
	JobID string

	// UserID is the account the spend is attributed to.
	UserID string

	// Category is the voice category that was trained.
	Category string

	// VoiceID is the provider's identifier for the resulting voice model.
	VoiceID string

	// CostCents is the attributed cost in cents.
	CostCents int64

	// SamplesProcessed is the number of samples submitted to the provider.
	SamplesProcessed int

	// CreatedAt is when the record was written.
	CreatedAt time.Time
}

// Ledger provides read and append access to cost records.
//
// Records for completed jobs are normally inserted by the job store inside
// its completion transaction so that cost and completion commit together;
// Append exists for backfills and out-of-band adjustments.
type Ledger interface {
	// Append writes a new cost record.
	Append(ctx context.Context, rec *CostRecord) error

	// TotalForUser returns the total spend for userID in cents. A user with
	// no records totals zero.
	TotalForUser(ctx context.Context, userID string) (int64, error)

	// ListForUser returns all records for userID, newest first.
	ListForUser(ctx context.Context, userID string) ([]CostRecord, error)
}
