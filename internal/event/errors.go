package event

import "fmt"

// CorruptRecordError reports a ledger line that could not be parsed as
// a record of a known shape. It is fatal at load time: a log with an
// unreadable record cannot produce trustworthy derived state.
type CorruptRecordError struct {
	Seq  int64 // sequence number of the offending record, -1 if unknown
	Line string
	Err  error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("event: corrupt record at seq %d: %v", e.Seq, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// UnsupportedKindError reports an event whose kind no consumer in this
// build understands. It indicates a forward-incompatible writer and is
// fatal at replay — never silently skipped.
type UnsupportedKindError struct {
	Kind Kind
	Seq  int64
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("event: unsupported event kind %q at seq %d", e.Kind, e.Seq)
}
