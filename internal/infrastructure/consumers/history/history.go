// Package history appends every delivered event to a DuckDB table.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Zhima-Mochi/repoevents/internal/application/dispatch"
	"github.com/Zhima-Mochi/repoevents/internal/domain/event"
	"github.com/Zhima-Mochi/repoevents/internal/infrastructure/consumers/batch"
	"github.com/Zhima-Mochi/repoevents/internal/observability"
	"github.com/Zhima-Mochi/repoevents/internal/observability/logctx"

	_ "github.com/marcboeker/go-duckdb"
)

const (
	Implementation = "history"
	table          = "event_history"
)

const schema = `
	id           VARCHAR PRIMARY KEY,
	unit_of_work VARCHAR NOT NULL,
	dispatcher   VARCHAR NOT NULL,
	actor        VARCHAR,
	event_type   VARCHAR NOT NULL,
	subject_type VARCHAR NOT NULL,
	subject_id   VARCHAR NOT NULL,
	object_type  VARCHAR,
	object_id    VARCHAR,
	detail       VARCHAR,
	occurred_at  TIMESTAMP NOT NULL,
	recorded_at  TIMESTAMP NOT NULL`

const insert = `INSERT OR IGNORE INTO ` + table + ` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type Config struct {
	// Path of the DuckDB database file; empty keeps it in memory.
	Path string `mapstructure:"path"`
}

// Record is one stored row.
type Record struct {
	ID          string    `json:"id"`
	UnitOfWork  string    `json:"unit_of_work"`
	Dispatcher  string    `json:"dispatcher"`
	Actor       string    `json:"actor,omitempty"`
	EventType   string    `json:"event_type"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	ObjectType  string    `json:"object_type,omitempty"`
	ObjectID    string    `json:"object_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Consumer buffers the events of a unit of work and writes them in one
// transaction in End. Rows are keyed by event id, so a replayed batch does
// not duplicate history.
type Consumer struct {
	cfg     Config
	conn    *sql.DB
	log     observability.Logger
	now     func() time.Time
	batches *batch.Batches[[]event.Event]
}

func New(cfg Config, log observability.Logger) *Consumer {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Consumer{
		cfg:     cfg,
		log:     log.With(observability.F("consumer_impl", Implementation)),
		now:     func() time.Time { return time.Now().UTC() },
		batches: batch.New(func() *[]event.Event { return new([]event.Event) }),
	}
}

func (c *Consumer) Initialize(ctx context.Context) error {
	if c.cfg.Path != "" && c.cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("history: create data dir: %w", err)
		}
	}
	conn, err := sql.Open("duckdb", c.cfg.Path)
	if err != nil {
		return fmt.Errorf("history: open: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+table+" ("+schema+")"); err != nil {
		_ = conn.Close()
		return fmt.Errorf("history: create table: %w", err)
	}
	c.conn = conn
	logctx.FromOr(ctx, c.log).Info("history_store_ready", observability.F("path", c.cfg.Path))
	return nil
}

func (c *Consumer) Consume(_ context.Context, scope dispatch.Scope, e event.Event) error {
	c.batches.Update(scope.UnitOfWorkID, func(p *[]event.Event) { *p = append(*p, e) })
	return nil
}

func (c *Consumer) End(ctx context.Context, scope dispatch.Scope) (err error) {
	p, ok := c.batches.Take(scope.UnitOfWorkID)
	if !ok || len(*p) == 0 {
		return nil
	}
	if c.conn == nil {
		return errors.New("history: not initialized")
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("history: prepare: %w", err)
	}
	defer stmt.Close()

	recordedAt := c.now()
	for _, e := range *p {
		var objectType any
		if e.ObjectType != 0 {
			objectType = e.ObjectType.String()
		}
		if _, err = stmt.ExecContext(ctx,
			e.ID, scope.UnitOfWorkID, scope.Dispatcher, nullable(e.Actor),
			e.Type.String(), e.SubjectType.String(), e.SubjectID,
			objectType, nullable(e.ObjectID), nullable(e.Detail),
			e.Timestamp.UTC(), recordedAt,
		); err != nil {
			return fmt.Errorf("history: insert %s: %w", e.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	logctx.FromOr(ctx, c.log).Debug("history_appended", observability.F("events", len(*p)))
	return nil
}

func (c *Consumer) Abort(_ context.Context, scope dispatch.Scope) {
	c.batches.Drop(scope.UnitOfWorkID)
}

func (c *Consumer) Finish(context.Context) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ForSubject returns the stored history of one object, oldest first. Events
// that name the object as secondary object are included.
func (c *Consumer) ForSubject(ctx context.Context, id string, limit int) ([]Record, error) {
	if c.conn == nil {
		return nil, errors.New("history: not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, unit_of_work, dispatcher, actor, event_type, subject_type, subject_id,
		       object_type, object_id, detail, occurred_at, recorded_at
		FROM `+table+`
		WHERE subject_id = ? OR object_id = ?
		ORDER BY occurred_at, recorded_at, id
		LIMIT %d`, limit), id, id)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                                   Record
			actor, objectType, objectID, detail sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UnitOfWork, &r.Dispatcher, &actor, &r.EventType, &r.SubjectType,
			&r.SubjectID, &objectType, &objectID, &detail, &r.OccurredAt, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Actor, r.ObjectType, r.ObjectID, r.Detail = actor.String, objectType.String, objectID.String, detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored events.
func (c *Consumer) Count(ctx context.Context) (int, error) {
	if c.conn == nil {
		return 0, errors.New("history: not initialized")
	}
	var n int
	err := c.conn.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n)
	return n, err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
