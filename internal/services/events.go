package services

import (
	"context"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ujala-development/serials/internal/domain"
)

const (
	EventOrderCreated            = "order.created"
	EventOrderUpdated            = "order.updated"
	EventOrderDeleted            = "order.deleted"
	EventItemsTransitioned       = "items.transitioned"
	EventItemTransferred         = "item.transferred"
	EventReconciliationCompleted = "reconciliation.completed"

	eventIDPrefix = "evt_"
)

// Event is a domain event published after a write commits.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OrderID    string         `json:"orderId,omitempty"`
	FactoryID  string         `json:"factoryId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventPublisher delivers events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) error
}

// EngineMetrics records engine level counters.
type EngineMetrics interface {
	SerialsAllocated(ctx context.Context, factoryID string, count int64)
	ItemsTransitioned(ctx context.Context, target domain.Status, count int)
	RecordsRepaired(ctx context.Context, kind string, count int)
}

// LoggerFunc receives structured log events from services.
type LoggerFunc func(ctx context.Context, event string, fields map[string]any)

type noopMetrics struct{}

func (noopMetrics) SerialsAllocated(context.Context, string, int64)       {}
func (noopMetrics) ItemsTransitioned(context.Context, domain.Status, int) {}
func (noopMetrics) RecordsRepaired(context.Context, string, int)          {}

// emitter is shared by the services that publish events.
type emitter struct {
	events EventPublisher
	logger LoggerFunc
	clock  func() time.Time
}

func newEmitter(events EventPublisher, logger LoggerFunc, clock func() time.Time) emitter {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	if clock == nil {
		clock = time.Now
	}
	return emitter{events: events, logger: logger, clock: clock}
}

func (e emitter) publish(ctx context.Context, event Event) {
	if e.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = eventIDPrefix + ulid.Make().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.clock().UTC()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := e.events.PublishEvent(ctx, event); err != nil {
		e.logger(ctx, "event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
