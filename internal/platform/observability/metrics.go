package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ujala-development/serials/internal/domain"
)

// EngineMetrics records engine counters on an OpenTelemetry meter.
type EngineMetrics struct {
	allocated    metric.Int64Counter
	transitioned metric.Int64Counter
	repaired     metric.Int64Counter
}

// NewEngineMetrics registers the counters. A nil meter uses the global provider.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	allocated, errAlloc := meter.Int64Counter("serials.allocated",
		metric.WithDescription("Serial numbers reserved from factory counters"))
	transitioned, errTrans := meter.Int64Counter("serials.items.transitioned",
		metric.WithDescription("Order items moved to a new status"))
	repaired, errRepair := meter.Int64Counter("serials.records.repaired",
		metric.WithDescription("Records changed by reconciliation"))
	if err := errors.Join(errAlloc, errTrans, errRepair); err != nil {
		return nil, err
	}
	return &EngineMetrics{allocated: allocated, transitioned: transitioned, repaired: repaired}, nil
}

func (m *EngineMetrics) SerialsAllocated(ctx context.Context, factoryID string, count int64) {
	m.allocated.Add(ctx, count, metric.WithAttributes(attribute.String("factory", factoryID)))
}

func (m *EngineMetrics) ItemsTransitioned(ctx context.Context, target domain.Status, count int) {
	m.transitioned.Add(ctx, int64(count), metric.WithAttributes(attribute.String("status", string(target))))
}

func (m *EngineMetrics) RecordsRepaired(ctx context.Context, kind string, count int) {
	m.repaired.Add(ctx, int64(count), metric.WithAttributes(attribute.String("kind", kind)))
}
