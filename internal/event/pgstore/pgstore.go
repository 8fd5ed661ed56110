// Package pgstore provides a PostgreSQL implementation of event.Store,
// used as the durable archive when a database URL is configured.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/event/pgstore")

//go:embed schema.sql
var schema string

// Store persists unified events in PostgreSQL. Filterable columns are
// denormalized alongside a JSONB document holding the full envelope.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Append inserts a new event row.
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	ctx, span := tracer.Start(ctx, "pgstore.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	doc, err := json.Marshal(e)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal event: %w", err))
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, event_type, ts, severity, status, source_module, event_user, resource, investigating_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.Type, e.Time, e.Severity, string(e.Status),
		e.Context.SourceModule, e.Context.User, e.Context.Resource,
		nullTime(e.InvestigatingAt), doc,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("insert event: %w", err))
	}
	return nil
}

// Get retrieves an event by ID.
func (s *Store) Get(ctx context.Context, id string) (*event.Event, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM events WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, spanErr(span, fmt.Errorf("select event: %w", err))
	}

	var e event.Event
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, false, spanErr(span, fmt.Errorf("unmarshal event: %w", err))
	}
	return &e, true, nil
}

// Update rewrites an event row. Updating an unknown event is a no-op to
// match the bounded in-memory store's semantics.
func (s *Store) Update(ctx context.Context, e *event.Event) error {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	doc, err := json.Marshal(e)
	if err != nil {
		return spanErr(span, fmt.Errorf("marshal event: %w", err))
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE events
		SET event_type = $2, ts = $3, severity = $4, status = $5,
		    source_module = $6, event_user = $7, resource = $8,
		    investigating_at = $9, doc = $10
		WHERE id = $1`,
		e.ID, e.Type, e.Time, e.Severity, string(e.Status),
		e.Context.SourceModule, e.Context.User, e.Context.Resource,
		nullTime(e.InvestigatingAt), doc,
	)
	if err != nil {
		return spanErr(span, fmt.Errorf("update event: %w", err))
	}
	return nil
}

// List returns matching events newest first, bounded by f.Limit.
func (s *Store) List(ctx context.Context, f event.Filter) ([]*event.Event, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}

	query := `SELECT doc FROM events WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Type != "" {
		query += ` AND event_type = ` + arg(f.Type)
	}
	if f.MinSeverity > 0 {
		query += ` AND severity >= ` + arg(f.MinSeverity)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.User != "" {
		query += ` AND event_user = ` + arg(f.User)
	}
	if f.Resource != "" {
		query += ` AND resource = ` + arg(f.Resource)
	}
	if !f.Since.IsZero() {
		query += ` AND ts >= ` + arg(f.Since)
	}
	query += ` ORDER BY ts DESC LIMIT ` + arg(limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, spanErr(span, fmt.Errorf("list events: %w", err))
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, spanErr(span, fmt.Errorf("scan event: %w", err))
		}
		var e event.Event
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, spanErr(span, fmt.Errorf("unmarshal event: %w", err))
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, spanErr(span, fmt.Errorf("list events: %w", err))
	}
	return out, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
