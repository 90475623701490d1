package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ujala-development/serials/internal/platform/config"
	"github.com/ujala-development/serials/internal/platform/events"
	pfirestore "github.com/ujala-development/serials/internal/platform/firestore"
	"github.com/ujala-development/serials/internal/platform/observability"
	ppostgres "github.com/ujala-development/serials/internal/platform/postgres"
	"github.com/ujala-development/serials/internal/repositories"
	firestoreRepo "github.com/ujala-development/serials/internal/repositories/firestore"
	"github.com/ujala-development/serials/internal/repositories/memory"
	postgresRepo "github.com/ujala-development/serials/internal/repositories/postgres"
	"github.com/ujala-development/serials/internal/services"
)

// Services bundles the service-layer contracts the CLI relies upon.
type Services struct {
	Counters    services.CounterService
	Directory   services.DirectoryService
	Orders      services.OrderService
	Fulfillment services.FulfillmentService
	Reconcile   services.ReconciliationService
	System      services.SystemService
}

// Store is a registry that can report its own reachability.
type Store interface {
	repositories.Registry
	Ping(ctx context.Context) error
}

// Publisher is an event publisher owned by the container.
type Publisher interface {
	services.EventPublisher
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Container wires repositories, publishers and services for runtime use.
type Container struct {
	Config    config.Config
	Store     Store
	Publisher Publisher
	Services  Services

	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	meter     metric.Meter
	store     Store
	publisher Publisher
	clock     func() time.Time
	version   string
}

// WithLogger sets the logger services write their events to.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeter overrides the meter used for engine counters.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithStore skips backend construction and uses store. The container does not close it.
func WithStore(store Store) Option {
	return func(o *options) { o.store = store }
}

// WithPublisher skips publisher construction and uses publisher. The container does not close it.
func WithPublisher(publisher Publisher) Option {
	return func(o *options) { o.publisher = publisher }
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithVersion is reported by the health service.
func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// NewContainer constructs the runtime dependencies for the configured storage and event backends.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	c := &Container{Config: cfg}
	store := o.store
	if store == nil {
		built, closer, err := buildStore(ctx, cfg, o.clock)
		if err != nil {
			return nil, err
		}
		store = built
		c.closers = append(c.closers, closer)
	}
	c.Store = store

	publisher := o.publisher
	if publisher == nil {
		built, closer, err := buildPublisher(ctx, cfg)
		if err != nil {
			_ = c.Close(ctx)
			return nil, err
		}
		publisher = built
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}
	c.Publisher = publisher

	metrics, err := observability.NewEngineMetrics(o.meter)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build engine metrics: %w", err)
	}

	svc, err := buildServices(cfg, store, publisher, metrics, o)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases the store and publisher in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg config.Config, clock func() time.Time) (Store, func(context.Context) error, error) {
	switch cfg.Storage.Backend {
	case config.StorageFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore,
			pfirestore.WithDefaultTxOptions(pfirestore.TxOptionsFromConfig(cfg.Storage)...))
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, fmt.Errorf("initialise firestore client: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider, firestoreRepo.WithClock(clock))
		if err != nil {
			_ = provider.Close(ctx)
			return nil, nil, fmt.Errorf("build firestore registry: %w", err)
		}
		return reg, reg.Close, nil
	case config.StoragePostgres:
		pool, err := ppostgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise postgres pool: %w", err)
		}
		reg, err := postgresRepo.NewRegistry(pool,
			postgresRepo.WithClock(clock),
			postgresRepo.WithTxOptions(ppostgres.TxOptionsFromConfig(cfg.Storage)...))
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("build postgres registry: %w", err)
		}
		if err := reg.EnsureSchema(ctx); err != nil {
			_ = reg.Close(ctx)
			return nil, nil, fmt.Errorf("apply postgres schema: %w", err)
		}
		return reg, reg.Close, nil
	case config.StorageMemory:
		reg := memory.NewRegistry(memory.WithClock(clock))
		return reg, reg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// buildPublisher returns a nil publisher for the "none" backend.
func buildPublisher(ctx context.Context, cfg config.Config) (Publisher, func(context.Context) error, error) {
	switch cfg.Events.Backend {
	case "", config.EventsNone:
		return nil, nil, nil
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSub.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Events.PubSub.Topic))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		closer := func(ctx context.Context) error {
			return errors.Join(publisher.Close(ctx), client.Close())
		}
		return publisher, closer, nil
	case config.EventsAMQP:
		publisher, err := events.DialAMQP(cfg.Events.AMQP.URL, cfg.Events.AMQP.Exchange)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise amqp publisher: %w", err)
		}
		return publisher, publisher.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported events backend %q", cfg.Events.Backend)
	}
}

func buildServices(cfg config.Config, store Store, publisher Publisher, metrics services.EngineMetrics, o options) (Services, error) {
	var svc Services
	// a nil Publisher must not become a non-nil interface holding nil
	var eventPublisher services.EventPublisher
	if publisher != nil {
		eventPublisher = publisher
	}
	logFor := func(name string) services.LoggerFunc {
		return observability.EventLogger(o.logger.Named(name))
	}

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: store.Counters(),
		Metrics:    metrics,
		Logger:     logFor("counters"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counters

	directory, err := services.NewDirectoryService(services.DirectoryServiceDeps{
		Repository: store.Directory(),
		Logger:     logFor("directory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build directory service: %w", err)
	}
	svc.Directory = directory

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           store.Orders(),
		Items:            store.Items(),
		Directory:        store.Directory(),
		Clock:            o.clock,
		Events:           eventPublisher,
		Logger:           logFor("orders"),
		Metrics:          metrics,
		MaxUnitsPerOrder: cfg.Engine.MaxUnitsPerOrder,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:  store.Orders(),
		Items:   store.Items(),
		Clock:   o.clock,
		Events:  eventPublisher,
		Logger:  logFor("fulfillment"),
		Metrics: metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillment

	reconcile, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Counters:  store.Counters(),
		Orders:    store.Orders(),
		Items:     store.Items(),
		Directory: store.Directory(),
		Clock:     o.clock,
		Events:    eventPublisher,
		Logger:    logFor("reconcile"),
		Metrics:   metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconcile = reconcile

	probes := []repositories.Probe{{Name: "store", Check: store.Ping}}
	if publisher != nil {
		probes = append(probes, repositories.Probe{Name: "events", Check: publisher.Ping})
	}
	health, err := repositories.NewProbeSet(probes, repositories.WithProbeClock(o.clock))
	if err != nil {
		return Services{}, fmt.Errorf("build health probes: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		Health: health,
		Clock:  o.clock,
		Build: services.BuildInfo{
			Version:     strings.TrimSpace(o.version),
			Environment: cfg.Environment,
			Backend:     cfg.Storage.Backend,
		},
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system
	return svc, nil
}
