package services

import (
	"context"
	"time"

	"github.com/ujala-development/serials/internal/domain"
)

// CounterService exposes per-factory serial counters and human ID sequences.
type CounterService interface {
	Allocate(ctx context.Context, factoryID string, amount int64) (AllocatedRange, error)
	Reset(ctx context.Context, factoryID string, value int64) error
	Current(ctx context.Context, factoryID string) (domain.FactoryCounter, error)
	List(ctx context.Context) ([]domain.FactoryCounter, error)
	NextSequentialID(ctx context.Context, prefix string, width int) (string, error)
}

// DirectoryService registers and resolves factories and models.
type DirectoryService interface {
	RegisterFactory(ctx context.Context, cmd RegisterFactoryCommand) (domain.Factory, error)
	RegisterModel(ctx context.Context, cmd RegisterModelCommand) (domain.Model, error)
	GetFactory(ctx context.Context, factoryID string) (domain.Factory, error)
	GetModel(ctx context.Context, modelID string) (domain.Model, error)
	ListFactories(ctx context.Context) ([]domain.Factory, error)
	ListModels(ctx context.Context) ([]domain.Model, error)
}

// OrderService creates, edits and reads orders together with their serialized items.
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.OrderAggregate, error)
	UpdateOrder(ctx context.Context, orderID string, patch UpdateOrderPatch) (domain.Order, error)
	DeleteOrder(ctx context.Context, orderID string) (DeleteOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderAggregate, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	ListItemsByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	ListItemsByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error)
	BoxesForOrder(ctx context.Context, orderID string) ([]Box, error)
}

// FulfillmentService moves items and orders through the fulfillment lifecycle.
type FulfillmentService interface {
	TransitionItems(ctx context.Context, itemIDs []string, target domain.Status) ([]domain.OrderItem, error)
	StartItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)
	CompleteItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)
	DispatchItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)
	ReopenItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)
	CancelItems(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error)

	MarkOrderCompleted(ctx context.Context, orderID string) (domain.OrderAggregate, error)
	MarkOrderDispatched(ctx context.Context, orderID string) (domain.OrderAggregate, error)
	CancelOrder(ctx context.Context, orderID string) (domain.OrderAggregate, error)

	TransferItem(ctx context.Context, itemID string) (domain.TransferResult, error)
	TransferOrder(ctx context.Context, orderID string) (TransferOrderReport, error)
}

// ReconciliationService repairs drift between counters, orders and items.
type ReconciliationService interface {
	Deduplicate(ctx context.Context) (DedupeReport, error)
	ResyncCounters(ctx context.Context, factoryIDs ...string) (ResyncReport, error)
	PurgeOrphans(ctx context.Context) (PurgeReport, error)
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

// AllocatedRange is the exclusive counter range handed to one caller.
type AllocatedRange struct {
	FactoryID string `json:"factoryId"`
	Previous  int64  `json:"previous"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// RegisterFactoryCommand creates or replaces a factory. An empty ID creates a new one.
type RegisterFactoryCommand struct {
	ID   string
	Code string
	Name string
}

// RegisterModelCommand creates or replaces a model. An empty ID creates a new one.
type RegisterModelCommand struct {
	ID   string
	Code string
	Name string
}

// CreateOrderRequest carries the inputs of a new purchase order.
type CreateOrderRequest struct {
	Month       int
	Year        int
	FactoryID   string
	ModelID     string
	CategoryRef string
	Quantity    int
	OrderType   domain.OrderType
}

// UpdateOrderPatch lists the fields to change. Nil fields keep their stored value.
type UpdateOrderPatch struct {
	Month       *int
	Year        *int
	FactoryID   *string
	ModelID     *string
	CategoryRef *string
	Quantity    *int
	OrderType   *domain.OrderType
}

// DeleteOrderResult reports what a cascade delete removed.
type DeleteOrderResult struct {
	OrderID      string `json:"orderId"`
	ItemsRemoved int    `json:"itemsRemoved"`
}

// OrderListFilter narrows ListOrders.
type OrderListFilter struct {
	FactoryID string
	Status    domain.Status
}

// Box groups the items that share a box number.
type Box struct {
	OrderID string             `json:"orderId"`
	Number  int                `json:"number"`
	Items   []domain.OrderItem `json:"items"`
}

// TransferOrderReport summarises TransferOrder.
type TransferOrderReport struct {
	OrderID            string                  `json:"orderId"`
	Transferred        []domain.Product        `json:"transferred"`
	AlreadyTransferred int                     `json:"alreadyTransferred"`
	Skipped            []ItemTransitionFailure `json:"skipped,omitempty"`
	OrderTransferred   bool                    `json:"orderTransferred"`
}

// RepairFailure records a reconciliation step that failed and was skipped.
type RepairFailure struct {
	Scope string `json:"scope"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// DedupeReport summarises Deduplicate.
type DedupeReport struct {
	OrderGroups   int             `json:"orderGroups"`
	OrdersRemoved int             `json:"ordersRemoved"`
	ItemGroups    int             `json:"itemGroups"`
	ItemsRemoved  int             `json:"itemsRemoved"`
	Failures      []RepairFailure `json:"failures,omitempty"`
}

// CounterResync describes the outcome for one factory.
type CounterResync struct {
	FactoryID string `json:"factoryId"`
	Previous  int64  `json:"previous"`
	Value     int64  `json:"value"`
	Items     int    `json:"items"`
	Changed   bool   `json:"changed"`
}

// ResyncReport summarises ResyncCounters.
type ResyncReport struct {
	Factories     []CounterResync  `json:"factories"`
	Sequences     map[string]int64 `json:"sequences,omitempty"`
	CountersReset int              `json:"countersReset"`
	Failures      []RepairFailure  `json:"failures,omitempty"`
}

// PurgeReport summarises PurgeOrphans.
type PurgeReport struct {
	OrphanOrders []string        `json:"orphanOrders,omitempty"`
	ItemsRemoved int             `json:"itemsRemoved"`
	Failures     []RepairFailure `json:"failures,omitempty"`
}

// ReconcileReport aggregates all repair steps.
type ReconcileReport struct {
	Dedupe     DedupeReport `json:"dedupe"`
	Purge      PurgeReport  `json:"purge"`
	Resync     ResyncReport `json:"resync"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// SystemService reports the health of the storage backend and the event bus.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}
