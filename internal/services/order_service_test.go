package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
	"github.com/ujala-development/serials/internal/repositories/memory"
)

func TestCreateOrderFormatsSerialsAndBoxes(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")

	agg := e.createOrder(t, factory, model, 2, domain.OrderTypeTwoUnits)

	if agg.Order.ID != "ORD00001" {
		t.Fatalf("expected ORD00001, got %s", agg.Order.ID)
	}
	if agg.Order.SerialNumber != "1125F001WP1000"+"10001-10004" {
		t.Fatalf("unexpected order serial %s", agg.Order.SerialNumber)
	}
	if agg.Order.UnitsPerBox != 2 || agg.Order.TotalUnits != 4 {
		t.Fatalf("unexpected units %d/%d", agg.Order.UnitsPerBox, agg.Order.TotalUnits)
	}
	if agg.Order.Status != domain.StatusPending {
		t.Fatalf("expected pending order, got %s", agg.Order.Status)
	}
	if len(agg.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(agg.Items))
	}
	wantBoxes := []int{1, 1, 2, 2}
	for i, item := range agg.Items {
		want := fmt.Sprintf("1125F001WP1000%d", 10001+i)
		if item.SerialNumber != want {
			t.Fatalf("item %d: expected %s, got %s", i, want, item.SerialNumber)
		}
		if item.BoxNumber != wantBoxes[i] {
			t.Fatalf("item %d: expected box %d, got %d", i, wantBoxes[i], item.BoxNumber)
		}
		if item.Status != domain.StatusPending || item.OrderID != agg.Order.ID {
			t.Fatalf("item %d: unexpected state %+v", i, item)
		}
	}

	counter, err := e.counters.Current(context.Background(), factory.ID)
	if err != nil {
		t.Fatalf("current counter: %v", err)
	}
	if counter.Counter != 10004 {
		t.Fatalf("expected counter 10004, got %d", counter.Counter)
	}
	if got := e.events.ofType(EventOrderCreated); len(got) != 1 || got[0].OrderID != agg.Order.ID {
		t.Fatalf("expected one order.created event, got %+v", got)
	}
	if e.metrics.allocated[factory.ID] != 4 {
		t.Fatalf("expected 4 serials recorded, got %d", e.metrics.allocated[factory.ID])
	}
}

func TestCreateOrderContinuesFactoryRange(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")

	e.createOrder(t, factory, model, 2, domain.OrderTypeTwoUnits)
	second := e.createOrder(t, factory, model, 3, domain.OrderTypeOneUnit)

	if second.Order.ID != "ORD00002" {
		t.Fatalf("expected ORD00002, got %s", second.Order.ID)
	}
	if second.Order.SerialStart != 10005 || second.Order.SerialEnd != 10007 {
		t.Fatalf("expected range 10005-10007, got %d-%d", second.Order.SerialStart, second.Order.SerialEnd)
	}
	if second.Order.SerialNumber != "1125F001WP100010005-10007" {
		t.Fatalf("unexpected serial %s", second.Order.SerialNumber)
	}
}

func TestCreateOrderFactoriesHaveIndependentCounters(t *testing.T) {
	e := newTestEngine(t)
	f1, model := e.register(t, "F001", "WP1000")
	f2, _ := e.register(t, "F002", "WP1000")

	e.createOrder(t, f1, model, 2, domain.OrderTypeOneUnit)
	other := e.createOrder(t, f2, model, 1, domain.OrderTypeOneUnit)
	if other.Order.SerialStart != 10001 {
		t.Fatalf("expected fresh counter for second factory, got %d", other.Order.SerialStart)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	valid := CreateOrderRequest{Month: 11, Year: 2025, FactoryID: factory.ID, ModelID: model.ID, Quantity: 1, OrderType: domain.OrderTypeOneUnit}
	cases := map[string]struct {
		mutate func(*CreateOrderRequest)
		want   error
	}{
		"month zero":      {func(r *CreateOrderRequest) { r.Month = 0 }, ErrValidation},
		"month thirteen":  {func(r *CreateOrderRequest) { r.Month = 13 }, ErrValidation},
		"two digit year":  {func(r *CreateOrderRequest) { r.Year = 25 }, ErrValidation},
		"zero quantity":   {func(r *CreateOrderRequest) { r.Quantity = 0 }, ErrValidation},
		"bad order type":  {func(r *CreateOrderRequest) { r.OrderType = "4_units" }, ErrValidation},
		"missing factory": {func(r *CreateOrderRequest) { r.FactoryID = "" }, ErrValidation},
		"unknown factory": {func(r *CreateOrderRequest) { r.FactoryID = "fac_missing" }, ErrNotFound},
		"unknown model":   {func(r *CreateOrderRequest) { r.ModelID = "mdl_missing" }, ErrNotFound},
		"too many units": {func(r *CreateOrderRequest) {
			r.Quantity = 2000
			r.OrderType = domain.OrderTypeThreeUnits
		}, ErrValidation},
	}
	for name, tc := range cases {
		req := valid
		tc.mutate(&req)
		if _, err := e.orders.CreateOrder(ctx, req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}

	if _, err := e.counters.Current(ctx, factory.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected counter untouched after validation failures, got %v", err)
	}
	orders, err := e.orders.ListOrders(ctx, OrderListFilter{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}
}

func TestCreateOrderCommitFailureLeavesNoState(t *testing.T) {
	e := newTestEngine(t, memory.WithCommitHook(func(op string) error {
		if op == "orders.create" {
			return context.DeadlineExceeded
		}
		return nil
	}))
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	_, err := e.orders.CreateOrder(ctx, CreateOrderRequest{Month: 11, Year: 2025, FactoryID: factory.ID, ModelID: model.ID, Quantity: 2, OrderType: domain.OrderTypeTwoUnits})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected transient error to be retryable")
	}
	if _, err := e.counters.Current(ctx, factory.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no counter after failed commit, got %v", err)
	}
	items, err := e.store.Items().ListAll(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
	if len(e.events.ofType(EventOrderCreated)) != 0 {
		t.Fatalf("expected no event for a failed create")
	}
}

func TestCreateOrderDuplicateSerialIsRetryable(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	e.createOrder(t, factory, model, 2, domain.OrderTypeTwoUnits)
	if err := e.counters.Reset(ctx, factory.ID, domain.CounterSeed); err != nil {
		t.Fatalf("reset: %v", err)
	}

	_, err := e.orders.CreateOrder(ctx, CreateOrderRequest{Month: 11, Year: 2025, FactoryID: factory.ID, ModelID: model.ID, Quantity: 1, OrderType: domain.OrderTypeOneUnit})
	if !errors.Is(err, ErrDuplicateAllocation) {
		t.Fatalf("expected duplicate allocation, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected duplicate allocation to be retryable")
	}
	counter, err := e.counters.Current(ctx, factory.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if counter.Counter != domain.CounterSeed {
		t.Fatalf("expected rolled back counter %d, got %d", domain.CounterSeed, counter.Counter)
	}
}

func TestUpdateOrderStructuralRegeneratesItems(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	first := e.createOrder(t, factory, model, 2, domain.OrderTypeTwoUnits)
	e.createOrder(t, factory, model, 3, domain.OrderTypeOneUnit)

	quantity := 3
	order, err := e.orders.UpdateOrder(ctx, first.Order.ID, UpdateOrderPatch{Quantity: &quantity})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if order.TotalUnits != 6 || order.Quantity != 3 {
		t.Fatalf("expected 6 units over 3 boxes, got %d/%d", order.TotalUnits, order.Quantity)
	}
	if order.SerialStart != 10008 || order.SerialEnd != 10013 {
		t.Fatalf("expected fresh range 10008-10013, got %d-%d", order.SerialStart, order.SerialEnd)
	}
	if order.SerialNumber != "1125F001WP100010008-10013" {
		t.Fatalf("unexpected serial %s", order.SerialNumber)
	}
	if order.ID != first.Order.ID || !order.CreatedAt.Equal(first.Order.CreatedAt) {
		t.Fatalf("expected identity preserved, got %+v", order)
	}

	items, err := e.orders.ListItemsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != order.TotalUnits {
		t.Fatalf("expected %d items, got %d", order.TotalUnits, len(items))
	}
	old := make(map[string]struct{})
	for _, id := range itemIDs(first.Items) {
		old[id] = struct{}{}
	}
	for _, item := range items {
		if _, reused := old[item.ID]; reused {
			t.Fatalf("item %s survived a structural update", item.ID)
		}
		if item.SerialCounter < 10008 {
			t.Fatalf("item reused counter %d", item.SerialCounter)
		}
	}
	if _, err := e.fulfillment.CompleteItems(ctx, itemIDs(first.Items)[:1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected removed items to be gone, got %v", err)
	}
}

func TestUpdateOrderMetadataPropagatesWithoutReserializing(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	_, other := e.register(t, "F001", "WP2000")
	ctx := context.Background()

	created := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)
	category := "cat_coolers"
	order, err := e.orders.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{CategoryRef: &category, ModelID: &other.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if order.SerialNumber != created.Order.SerialNumber {
		t.Fatalf("expected serial unchanged, got %s", order.SerialNumber)
	}
	if order.ModelID != other.ID || order.CategoryRef != category {
		t.Fatalf("expected metadata applied, got %+v", order)
	}

	items, err := e.orders.ListItemsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for i, item := range items {
		if item.ID != created.Items[i].ID || item.SerialNumber != created.Items[i].SerialNumber {
			t.Fatalf("expected item %d to keep identity and serial", i)
		}
		if item.ModelID != other.ID || item.CategoryRef != category {
			t.Fatalf("expected item %d to carry new references, got %+v", i, item)
		}
	}

	if !e.logs.has("order.update.prefix_drift") {
		t.Fatalf("expected prefix drift to be logged")
	}
	events := e.events.ofType(EventOrderUpdated)
	if len(events) != 1 || events[0].Metadata["prefixDrift"] != true {
		t.Fatalf("expected order.updated with prefixDrift, got %+v", events)
	}
}

// interleavingOrders runs before once ahead of the first Mutate, standing in for a writer that
// commits between the service's read and its transaction.
type interleavingOrders struct {
	repositories.OrderRepository
	once   sync.Once
	before func()
}

func (r *interleavingOrders) Mutate(ctx context.Context, orderID string, fn repositories.AggregateMutator) (domain.OrderAggregate, error) {
	r.once.Do(r.before)
	return r.OrderRepository.Mutate(ctx, orderID, fn)
}

func newInterleavedOrderService(t *testing.T, e *testEngine, before func()) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    &interleavingOrders{OrderRepository: e.store.Orders(), before: before},
		Items:     e.store.Items(),
		Directory: e.store.Directory(),
		Clock:     func() time.Time { return e.now },
		Logger:    e.logs.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func TestUpdateOrderKeepsConcurrentMetadataChange(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	_, other := e.register(t, "F001", "WP2000")
	ctx := context.Background()
	created := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)

	svc := newInterleavedOrderService(t, e, func() {
		if _, err := e.orders.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{ModelID: &other.ID}); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
	})
	category := "cat_x"
	order, err := svc.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{CategoryRef: &category})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if order.ModelID != other.ID || order.CategoryRef != category {
		t.Fatalf("expected both changes kept, got model=%s category=%s", order.ModelID, order.CategoryRef)
	}
	items, err := e.orders.ListItemsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for _, item := range items {
		if item.ModelID != other.ID || item.CategoryRef != category {
			t.Fatalf("item %s lost a change: %+v", item.ID, item)
		}
	}
}

func TestUpdateOrderStructuralUsesConcurrentModel(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	_, other := e.register(t, "F001", "WP2000")
	ctx := context.Background()
	created := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)

	svc := newInterleavedOrderService(t, e, func() {
		if _, err := e.orders.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{ModelID: &other.ID}); err != nil {
			t.Errorf("concurrent update: %v", err)
		}
	})
	quantity := 3
	order, err := svc.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{Quantity: &quantity})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if order.ModelID != other.ID || order.TotalUnits != 3 {
		t.Fatalf("expected 3 units of %s, got %d of %s", other.ID, order.TotalUnits, order.ModelID)
	}
	if order.SerialNumber != "1125F001WP200010003-10005" {
		t.Fatalf("expected serials under the concurrent model, got %s", order.SerialNumber)
	}
	items, err := e.orders.ListItemsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for _, item := range items {
		if item.ModelID != other.ID {
			t.Fatalf("item %s carries stale model %s", item.ID, item.ModelID)
		}
	}
}

func TestUpdateOrderMetadataMovesItemPeriod(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()
	created := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)

	month, year := 1, 2026
	if _, err := e.orders.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{Month: &month, Year: &year}); err != nil {
		t.Fatalf("update: %v", err)
	}
	items, err := e.orders.ListItemsByOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for i, item := range items {
		if item.Month != month || item.Year != year {
			t.Fatalf("item %d kept %d/%d", i, item.Month, item.Year)
		}
		if item.SerialNumber != created.Items[i].SerialNumber {
			t.Fatalf("item %d was reserialized", i)
		}
	}
}

func TestUpdateOrderRejectsEmptyPatchAndMissingOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.orders.UpdateOrder(ctx, "ORD00001", UpdateOrderPatch{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	month := 5
	if _, err := e.orders.UpdateOrder(ctx, "ORD00001", UpdateOrderPatch{Month: &month}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateOrderBlockedByTransferredItems(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	created := e.createOrder(t, factory, model, 2, domain.OrderTypeOneUnit)
	first := created.Items[0].ID
	if _, err := e.fulfillment.CompleteItems(ctx, []string{first}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.fulfillment.DispatchItems(ctx, []string{first}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := e.fulfillment.TransferItem(ctx, first); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	quantity := 4
	_, err := e.orders.UpdateOrder(ctx, created.Order.ID, UpdateOrderPatch{Quantity: &quantity})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || len(te.Failures) != 1 || te.Failures[0].ItemID != first {
		t.Fatalf("expected the transferred item reported, got %v", err)
	}
	agg, err := e.orders.GetOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(agg.Items) != 2 || agg.Order.TotalUnits != 2 {
		t.Fatalf("expected order untouched, got %d items", len(agg.Items))
	}
}

func TestDeleteOrderCascades(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	created := e.createOrder(t, factory, model, 2, domain.OrderTypeTwoUnits)
	result, err := e.orders.DeleteOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.ItemsRemoved != 4 {
		t.Fatalf("expected 4 items removed, got %d", result.ItemsRemoved)
	}
	if _, err := e.orders.GetOrder(ctx, created.Order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := e.orders.DeleteOrder(ctx, created.Order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to report not found, got %v", err)
	}
	if len(e.events.ofType(EventOrderDeleted)) != 1 {
		t.Fatalf("expected one order.deleted event")
	}
}

func TestBoxesAndBoxLookup(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	created := e.createOrder(t, factory, model, 3, domain.OrderTypeThreeUnits)
	boxes, err := e.orders.BoxesForOrder(ctx, created.Order.ID)
	if err != nil {
		t.Fatalf("boxes: %v", err)
	}
	if len(boxes) != 3 {
		t.Fatalf("expected 3 boxes, got %d", len(boxes))
	}
	for i, box := range boxes {
		if box.Number != i+1 || len(box.Items) != 3 {
			t.Fatalf("box %d: unexpected %d items under number %d", i, len(box.Items), box.Number)
		}
	}

	second, err := e.orders.ListItemsByBox(ctx, created.Order.ID, 2)
	if err != nil {
		t.Fatalf("list by box: %v", err)
	}
	if len(second) != 3 || second[0].SerialCounter != 10004 {
		t.Fatalf("unexpected box 2 contents %+v", second)
	}
	if _, err := e.orders.ListItemsByBox(ctx, created.Order.ID, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for box 0, got %v", err)
	}
	if _, err := e.orders.ListItemsByBox(ctx, "ORD09999", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestPublishFailureDoesNotFailCreate(t *testing.T) {
	e := newTestEngine(t)
	e.events.err = errors.New("bus unavailable")
	factory, model := e.register(t, "F001", "WP1000")

	e.createOrder(t, factory, model, 1, domain.OrderTypeOneUnit)
	if !e.logs.has("event.publish.failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestConcurrentCreateOrdersNeverOverlap(t *testing.T) {
	e := newTestEngine(t)
	factory, model := e.register(t, "F001", "WP1000")
	ctx := context.Background()

	const workers = 12
	var wg sync.WaitGroup
	results := make([]domain.OrderAggregate, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.orders.CreateOrder(ctx, CreateOrderRequest{
				Month: 11, Year: 2025, FactoryID: factory.ID, ModelID: model.ID,
				Quantity: i%4 + 1, OrderType: domain.OrderTypeTwoUnits,
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{})
	orderIDs := make(map[string]struct{})
	total := 0
	for i, agg := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if _, dup := orderIDs[agg.Order.ID]; dup {
			t.Fatalf("duplicate order id %s", agg.Order.ID)
		}
		orderIDs[agg.Order.ID] = struct{}{}
		if len(agg.Items) != agg.Order.TotalUnits {
			t.Fatalf("order %s has %d items for %d units", agg.Order.ID, len(agg.Items), agg.Order.TotalUnits)
		}
		for _, item := range agg.Items {
			if _, dup := seen[item.SerialNumber]; dup {
				t.Fatalf("serial %s allocated twice", item.SerialNumber)
			}
			seen[item.SerialNumber] = struct{}{}
		}
		total += agg.Order.TotalUnits
	}
	counter, err := e.counters.Current(ctx, factory.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if counter.Counter != domain.CounterSeed+int64(total) {
		t.Fatalf("expected counter %d, got %d", domain.CounterSeed+int64(total), counter.Counter)
	}
}
