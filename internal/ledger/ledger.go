// Package ledger provides the append-only event log that is the single
// source of truth for the exchange. Implementations include a
// newline-delimited JSON file (production default), PostgreSQL, and
// in-memory (for testing).
package ledger

import (
	"context"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// Log is the append-only event log. Records are totally ordered by the
// sequence number the log assigns at append time.
//
// The engine assumes a single appender; readers may run concurrently
// and each maintains its own cursor into the log.
type Log interface {
	// Append durably persists the event before returning and assigns
	// the next sequence number, overwriting e.Seq. The event's
	// timestamp is set to the current UTC time if zero.
	Append(ctx context.Context, e *event.Event) (int64, error)

	// Load returns all events in append order. It fails with a
	// *event.CorruptRecordError if any record cannot be parsed.
	Load(ctx context.Context) ([]event.Event, error)

	// ReadFrom returns the events at or after cursor, for incremental
	// catch-up. Locating the cursor is O(1) relative to log length.
	ReadFrom(ctx context.Context, cursor int64) ([]event.Event, error)

	// Len returns the number of events in the log, which is also the
	// next sequence number to be assigned.
	Len(ctx context.Context) (int64, error)
}
