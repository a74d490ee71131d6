package ledger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// FileLog is a Log backed by an append-only NDJSON file: one event per
// line, UTF-8, records never rewritten. All parsed events are kept in
// memory so ReadFrom is a slice index, not a file scan.
//
// Crash safety: every append writes one complete line and fsyncs before
// returning. On open, a final line with no terminating newline is
// treated as a torn write from a crashed appender and discarded (the
// file is truncated back to the last complete record). Any complete
// line that fails to parse is fatal.
type FileLog struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	events []event.Event
}

// OpenFileLog opens (creating if necessary) the log file at path and
// loads all existing records.
func OpenFileLog(path string) (*FileLog, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger: read %s: %w", path, err)
	}

	events, validLen, err := parseLog(data)
	if err != nil {
		return nil, err
	}

	if validLen < int64(len(data)) {
		slog.Warn("ledger: discarding torn final record",
			"path", path,
			"dropped_bytes", int64(len(data))-validLen,
		)
		if err := os.Truncate(path, validLen); err != nil {
			return nil, fmt.Errorf("ledger: truncate torn record in %s: %w", path, err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	return &FileLog{f: f, path: path, events: events}, nil
}

// parseLog decodes every complete line in data. It returns the events,
// plus the byte length of the valid prefix: anything past it is a torn
// final record that the caller should truncate away.
//
// Trailing blank lines are tolerated. A terminated line that fails to
// parse is a *event.CorruptRecordError naming the expected sequence.
func parseLog(data []byte) ([]event.Event, int64, error) {
	var events []event.Event
	validLen := int64(0)
	offset := int64(0)

	for _, raw := range bytes.SplitAfter(data, []byte("\n")) {
		lineLen := int64(len(raw))
		line := bytes.TrimRight(raw, "\r\n")
		terminated := lineLen > 0 && raw[lineLen-1] == '\n'

		if len(bytes.TrimSpace(line)) == 0 {
			offset += lineLen
			if terminated {
				validLen = offset
			}
			continue
		}

		if !terminated {
			// Torn write: invisible until the appender finished the
			// newline, so it is not part of the log.
			break
		}

		e, err := event.UnmarshalLine(line)
		if err != nil {
			return nil, 0, err
		}
		if e.Seq != int64(len(events)) {
			return nil, 0, &event.CorruptRecordError{
				Seq:  e.Seq,
				Line: string(line),
				Err:  fmt.Errorf("sequence gap: expected %d", len(events)),
			}
		}

		events = append(events, *e)
		offset += lineLen
		validLen = offset
	}

	return events, validLen, nil
}

// Append writes the event as one line, fsyncs, and returns the assigned
// sequence number.
func (l *FileLog) Append(_ context.Context, e *event.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = int64(len(l.events))
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := event.MarshalLine(e)
	if err != nil {
		return 0, err
	}

	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return 0, fmt.Errorf("ledger: append to %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return 0, fmt.Errorf("ledger: sync %s: %w", l.path, err)
	}

	l.events = append(l.events, *e)
	return e.Seq, nil
}

func (l *FileLog) Load(_ context.Context) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyEvents(l.events, 0), nil
}

func (l *FileLog) ReadFrom(_ context.Context, cursor int64) ([]event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyEvents(l.events, cursor), nil
}

func (l *FileLog) Len(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events)), nil
}

// Close releases the underlying file handle.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func copyEvents(events []event.Event, from int64) []event.Event {
	if from < 0 {
		from = 0
	}
	if from >= int64(len(events)) {
		return nil
	}
	out := make([]event.Event, len(events)-int(from))
	copy(out, events[from:])
	return out
}
