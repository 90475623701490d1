package di

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/platform/config"
	"github.com/ujala-development/serials/internal/repositories/memory"
	"github.com/ujala-development/serials/internal/services"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []services.Event
	pingErr error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event services.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Ping(context.Context) error  { return p.pingErr }
func (p *recordingPublisher) Close(context.Context) error { return nil }

func memoryConfig() config.Config {
	return config.Config{
		Environment: "test",
		Storage:     config.StorageConfig{Backend: config.StorageMemory},
		Events:      config.EventsConfig{Backend: config.EventsNone},
		Engine:      config.EngineConfig{MaxUnitsPerOrder: 100},
	}
}

func TestNewContainerWiresMemoryBackend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	publisher := &recordingPublisher{}
	c, err := NewContainer(ctx, memoryConfig(), WithPublisher(publisher), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	defer c.Close(ctx)

	factory, err := c.Services.Directory.RegisterFactory(ctx, services.RegisterFactoryCommand{Code: "F001", Name: "Pune"})
	if err != nil {
		t.Fatalf("register factory: %v", err)
	}
	model, err := c.Services.Directory.RegisterModel(ctx, services.RegisterModelCommand{Code: "WP", Name: "Water purifier"})
	if err != nil {
		t.Fatalf("register model: %v", err)
	}
	agg, err := c.Services.Orders.CreateOrder(ctx, services.CreateOrderRequest{
		Month: 11, Year: 2025, FactoryID: factory.ID, ModelID: model.ID, Quantity: 2, OrderType: domain.OrderTypeTwoUnits,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if len(agg.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(agg.Items))
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != services.EventOrderCreated {
		t.Fatalf("expected order.created event, got %+v", publisher.events)
	}

	report, err := c.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Backend != config.StorageMemory {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := report.Checks["events"]; !ok {
		t.Fatalf("expected events probe, got %v", report.Checks)
	}
}

func TestNewContainerReportsDegradedPublisher(t *testing.T) {
	ctx := context.Background()
	publisher := &recordingPublisher{pingErr: errors.New("broker down")}
	c, err := NewContainer(ctx, memoryConfig(), WithStore(memory.NewRegistry()), WithPublisher(publisher))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	report, err := c.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %+v", report)
	}
}

func TestNewContainerWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	c, err := NewContainer(ctx, memoryConfig())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.Publisher != nil {
		t.Fatalf("expected no publisher for the none backend")
	}
	report, err := c.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, ok := report.Checks["events"]; ok {
		t.Fatalf("unexpected events probe")
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewContainerRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Storage.Backend = "cassandra"
	if _, err := NewContainer(ctx, cfg); err == nil {
		t.Fatalf("expected unsupported storage error")
	}
	cfg = memoryConfig()
	cfg.Events.Backend = "kafka"
	if _, err := NewContainer(ctx, cfg); err == nil {
		t.Fatalf("expected unsupported events error")
	}
}
