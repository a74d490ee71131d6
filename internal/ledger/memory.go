package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// MemoryLog implements Log with an in-memory slice. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryLog struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, e *event.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = int64(len(l.events))
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	// Round-trip through the codec so memory and file logs agree on
	// what survives persistence, and malformed events fail here too.
	line, err := event.MarshalLine(e)
	if err != nil {
		return 0, err
	}
	parsed, err := event.UnmarshalLine(line)
	if err != nil {
		return 0, err
	}

	l.events = append(l.events, *parsed)
	return e.Seq, nil
}

func (l *MemoryLog) Load(_ context.Context) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEvents(l.events, 0), nil
}

func (l *MemoryLog) ReadFrom(_ context.Context, cursor int64) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyEvents(l.events, cursor), nil
}

func (l *MemoryLog) Len(_ context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events)), nil
}
