// Package eventstore keeps the append-only audit log of domain events. Appends run inside the
// caller's database transaction so an event is recorded if and only if the state change commits.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/postgres"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Aggregate types.
const (
	AggregateBook        = "book"
	AggregateUser        = "user"
	AggregateTransaction = "transaction"
)

// Event is one recorded domain event.
type Event struct {
	ID            int64               `json:"id" db:"id"`
	AggregateID   uuid.UUID           `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string              `json:"aggregate_type" db:"aggregate_type"`
	EventType     string              `json:"event_type" db:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data" db:"event_data"`
	Metadata      map[string]any      `json:"metadata,omitempty" db:"-"`
	Version       int                 `json:"version" db:"version"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// NewEvent encodes data as the event payload.
func NewEvent(eventType string, data any) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: payload}, nil
}

// WithActor records who caused the event.
func (e Event) WithActor(actor uuid.UUID) Event {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	e.Metadata["actor"] = actor.String()
	return e
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.EventData, v)
}

// Store appends and loads events.
type Store struct {
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an event store.
func New() *Store {
	return &Store{
		tracer: otel.Tracer("library/eventstore"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append writes events for aggregateID after checking that the aggregate's current version is
// expectedVersion. It must be called with the transaction that carries the state change.
func (es *Store) Append(ctx context.Context, q sqlx.ExtContext, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	currentVersion, err := es.CurrentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := expectedVersion + i + 1

		var metadata any
		if len(event.Metadata) > 0 {
			raw, err := json.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for event %d: %w", i, err)
			}
			metadata = string(raw)
		}

		var eventID int64
		err := q.QueryRowxContext(ctx, `
			INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, aggregateID, aggregateType, event.EventType, string(event.EventData), metadata, version, es.now()).Scan(&eventID)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int64("event.id", eventID),
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	return nil
}

// Load returns the events of an aggregate in version order. A toVersion of 0 means no upper bound.
func (es *Store) Load(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	where := goqu.Ex{
		"aggregate_id": aggregateID,
		"version":      goqu.Op{"gte": fromVersion},
	}
	ds := postgres.Dialect.
		From("events").
		Select("id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at").
		Where(where)
	if toVersion > 0 {
		ds = ds.Where(goqu.C("version").Lte(toVersion))
	}

	query, args, err := ds.Order(goqu.C("version").Asc()).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event        Event
			payload      []byte
			metadataJSON []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.AggregateType,
			&event.EventType,
			&payload,
			&metadataJSON,
			&event.Version,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.EventData = payload

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", event.ID, err)
			}
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version recorded for an aggregate, 0 when it has none.
func (es *Store) CurrentVersion(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) (int, error) {
	var version int
	err := q.QueryRowxContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}
