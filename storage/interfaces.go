package storage

import (
	"context"

	"property-scraper/models"
)

// Sink persists canonical records keyed by content hash. UpsertBatch must
// be idempotent under repeated identical input: a second call with the same
// records reports them as duplicates, not inserts.
type Sink interface {
	UpsertBatch(ctx context.Context, properties []models.Property) (models.SaveResult, error)
}

// InvalidRecorder is the optional audit side of a Sink: records that failed
// validation are kept for inspection instead of being silently dropped.
type InvalidRecorder interface {
	SaveInvalid(ctx context.Context, source string, properties []models.Property, reasons []string) error
}

// ProgressStore owns the per-source resume cursor. Implementations must
// serialize ResolveStart/Advance per source key so concurrent sessions on
// distinct keys never interfere and two sessions cannot double-claim one
// cursor.
type ProgressStore interface {
	// ResolveStart returns 1 plus the last completed step for the source,
	// creating an in_progress cursor when none exists. A stopped cursor is
	// reopened; a completed one is left terminal (Advance will no-op).
	ResolveStart(ctx context.Context, sourceKey string) (int, error)

	// Advance idempotently records the completion of step for the source.
	// Monotonic: a smaller step than the stored one is a no-op, as is any
	// advance against a terminal cursor.
	Advance(ctx context.Context, sourceKey string, step int, stats models.BatchStats) error

	// MarkCompleted transitions the cursor to its completed terminal state.
	MarkCompleted(ctx context.Context, sourceKey string) error

	// MarkStopped transitions the cursor to its stopped terminal state
	// with the given reason.
	MarkStopped(ctx context.Context, sourceKey, reason string) error

	// Get reads the cursor, nil when none exists.
	Get(ctx context.Context, sourceKey string) (*models.ProgressCursor, error)
}
