// Package obs is the SQLite-native run event log. Each reconciliation run
// appends lifecycle events (started, archived, classified, committed,
// failed) to a side database kept next to the snapshot, so operators can
// reconstruct what a run did without parsing process logs.
//
// The event log is write-only from the engine's perspective: reconciliation
// never reads it back, and a failure to record an event never affects the
// run. Persistence is async with a bounded buffer; overflow falls back to a
// synchronous insert rather than dropping the event.
package obs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rinklab/rinksync/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	run_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	data_json  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, created_at);
`

// Init applies the event schema to a freshly opened side database.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("obs: apply schema: %w", err)
	}
	return nil
}

// Event is one run lifecycle entry.
type Event struct {
	ID        string
	CreatedAt int64 // ms
	RunID     string
	Kind      string // "run_started", "archived", "classified", "committed", "prune_failed", "run_failed", "unlocked"
	DataJSON  string
}

// Logger appends events asynchronously.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *Event
	stop  chan struct{}
	done  chan struct{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// NewLogger creates an async event logger over an Init-ed database.
func NewLogger(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *Event, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Record queues an event. The payload is marshalled to JSON; a payload that
// cannot be marshalled is recorded with an empty body rather than lost.
// Never blocks: on a full buffer it inserts synchronously.
func (l *Logger) Record(runID, kind string, payload any) {
	e := &Event{
		ID:        l.newID(),
		CreatedAt: time.Now().UnixMilli(),
		RunID:     runID,
		Kind:      kind,
		DataJSON:  "{}",
	}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			e.DataJSON = string(b)
		}
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("obs: event buffer full, sync fallback", "kind", kind)
		l.insert(e)
	}
}

// Close drains buffered events and stops the writer.
func (l *Logger) Close() {
	close(l.stop)
	<-l.done
}

// ListRun returns the events of one run, oldest first. Operator surface
// only; the engine never calls this.
func (l *Logger) ListRun(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, run_id, kind, data_json FROM events
		WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("obs: list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.RunID, &e.Kind, &e.DataJSON); err != nil {
			return nil, fmt.Errorf("obs: scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (l *Logger) flushLoop() {
	defer close(l.done)
	for {
		select {
		case e := <-l.ch:
			l.insert(e)
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					l.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) insert(e *Event) {
	_, err := l.db.Exec(
		`INSERT INTO events (id, created_at, run_id, kind, data_json) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, e.RunID, e.Kind, e.DataJSON)
	if err != nil {
		slog.Error("obs: insert event", "kind", e.Kind, "error", err)
	}
}
