package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// PostgresLog implements Log on a PostgreSQL table. Each record stores
// the same self-contained JSON line the file backend writes, keyed by
// sequence number, so the two backends are byte-compatible.
//
// Schema:
//
//	CREATE TABLE IF NOT EXISTS ledger_events (
//	    seq    BIGINT PRIMARY KEY,
//	    record JSONB  NOT NULL
//	);
//
// Sequence assignment uses MAX(seq)+1 inside a transaction, which is
// safe under the engine's single-appender model.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates a PostgreSQL-backed log.
func NewPostgresLog(pool *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{pool: pool}
}

func (l *PostgresLog) Append(ctx context.Context, e *event.Event) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("ledger: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var next int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM ledger_events`).Scan(&next); err != nil {
		return 0, fmt.Errorf("ledger: next seq: %w", err)
	}

	e.Seq = next
	line, err := event.MarshalLine(e)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_events (seq, record) VALUES ($1, $2::JSONB)`,
		next, string(line)); err != nil {
		return 0, fmt.Errorf("ledger: insert seq %d: %w", next, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit seq %d: %w", next, err)
	}

	return next, nil
}

func (l *PostgresLog) Load(ctx context.Context) ([]event.Event, error) {
	return l.ReadFrom(ctx, 0)
}

func (l *PostgresLog) ReadFrom(ctx context.Context, cursor int64) ([]event.Event, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT seq, record::TEXT FROM ledger_events WHERE seq >= $1 ORDER BY seq`,
		cursor)
	if err != nil {
		return nil, fmt.Errorf("ledger: read from %d: %w", cursor, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var seq int64
		var record string
		if err := rows.Scan(&seq, &record); err != nil {
			return nil, fmt.Errorf("ledger: scan seq: %w", err)
		}
		e, err := event.UnmarshalLine([]byte(record))
		if err != nil {
			return nil, err
		}
		if e.Seq != seq {
			return nil, &event.CorruptRecordError{
				Seq:  seq,
				Line: record,
				Err:  fmt.Errorf("record claims seq %d", e.Seq),
			}
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (l *PostgresLog) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := l.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ledger_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}
