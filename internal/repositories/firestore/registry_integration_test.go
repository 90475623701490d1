//go:build integration

package firestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

func buildOrder(orderID, factoryID string, units int) repositories.AggregateBuilder {
	return func(ctx context.Context, alloc repositories.Allocator) (domain.OrderAggregate, error) {
		prev, err := alloc.AllocateSerials(ctx, factoryID, int64(units))
		if err != nil {
			return domain.OrderAggregate{}, err
		}
		now := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
		code := strings.TrimPrefix(factoryID, "fac_")
		order := domain.Order{
			ID:           orderID,
			FactoryID:    factoryID,
			SerialNumber: domain.OrderRangeSerial(11, 2025, code, "WP1000", prev+1, prev+int64(units)),
			TotalUnits:   units,
			SerialStart:  prev + 1,
			SerialEnd:    prev + int64(units),
			Status:       domain.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		items := make([]domain.OrderItem, 0, units)
		for i := 0; i < units; i++ {
			counter := prev + 1 + int64(i)
			items = append(items, domain.OrderItem{
				ID:            fmt.Sprintf("%s-%d", orderID, i),
				OrderID:       orderID,
				FactoryID:     factoryID,
				SerialNumber:  domain.ItemSerial(11, 2025, code, "WP1000", counter),
				SerialCounter: counter,
				BoxNumber:     i + 1,
				Status:        domain.StatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
		return domain.OrderAggregate{Order: order, Items: items}, nil
	}
}

func TestRegistryIntegration(t *testing.T) {
	reg := newEmulatorRegistry(t, "serials-registry-test")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := reg.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	t.Run("concurrent allocations are disjoint", func(t *testing.T) {
		const workers = 16
		results := make([]int64, workers)
		var wg sync.WaitGroup
		wg.Add(workers)
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			go func(idx int) {
				defer wg.Done()
				prev, err := reg.Counters().Allocate(ctx, "fac_ALLOC", 3)
				if err != nil {
					errs <- err
					return
				}
				results[idx] = prev
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("allocate: %v", err)
		}
		sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
		for i, prev := range results {
			if want := domain.CounterSeed + int64(i*3); prev != want {
				t.Fatalf("allocation %d: expected previous %d, got %d", i, want, prev)
			}
		}
		counter, err := reg.Counters().Get(ctx, "fac_ALLOC")
		if err != nil {
			t.Fatalf("get counter: %v", err)
		}
		if counter.Counter != domain.CounterSeed+workers*3 {
			t.Fatalf("unexpected final counter %d", counter.Counter)
		}
	})

	t.Run("create claims serials and rolls back counters on duplicates", func(t *testing.T) {
		agg, err := reg.Orders().Create(ctx, buildOrder("ORD00001", "fac_F001", 3))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if agg.Order.SerialNumber != "1125F001WP100010001-10003" {
			t.Fatalf("unexpected serial %s", agg.Order.SerialNumber)
		}

		if err := reg.Counters().Reset(ctx, "fac_F001", domain.CounterSeed); err != nil {
			t.Fatalf("reset: %v", err)
		}
		_, err = reg.Orders().Create(ctx, buildOrder("ORD00002", "fac_F001", 1))
		if !repositories.IsRecordCode(err, repositories.RecordErrorDuplicate) {
			t.Fatalf("expected duplicate serial, got %v", err)
		}
		counter, err := reg.Counters().Get(ctx, "fac_F001")
		if err != nil {
			t.Fatalf("get counter: %v", err)
		}
		if counter.Counter != domain.CounterSeed {
			t.Fatalf("expected failed create to leave counter at %d, got %d", domain.CounterSeed, counter.Counter)
		}
		if err := reg.Counters().Reset(ctx, "fac_F001", 10003); err != nil {
			t.Fatalf("reset: %v", err)
		}
	})

	t.Run("mutate releases removed serials", func(t *testing.T) {
		next, err := reg.Orders().Mutate(ctx, "ORD00001", func(_ context.Context, current domain.OrderAggregate, _ repositories.Allocator) (domain.OrderAggregate, error) {
			current.Items = current.Items[:1]
			current.Order.TotalUnits = 1
			return current, nil
		})
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		if len(next.Items) != 1 {
			t.Fatalf("expected one item left, got %d", len(next.Items))
		}
		items, err := reg.Items().ListByOrder(ctx, "ORD00001")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].SerialCounter != 10001 {
			t.Fatalf("unexpected stored items %+v", items)
		}
		if _, err := reg.serials.Get(ctx, serialIndexID(serialKindItem, "1125F001WP100010002")); !isNotFound(err) {
			t.Fatalf("expected released claim, got %v", err)
		}
	})

	t.Run("apply refreshes order status", func(t *testing.T) {
		updated, err := reg.Items().Apply(ctx, []string{"ORD00001-0"}, func(_ context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
			now := time.Date(2025, 11, 4, 9, 0, 0, 0, time.UTC)
			for i := range items {
				items[i] = domain.ApplyTransition(items[i], domain.StatusCompleted, now)
			}
			return items, nil
		})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if updated[0].Status != domain.StatusCompleted {
			t.Fatalf("unexpected item status %s", updated[0].Status)
		}
		order, err := reg.Orders().FindByID(ctx, "ORD00001")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if order.Status != domain.StatusCompleted || order.CompletedAt == nil {
			t.Fatalf("expected completed order, got %+v", order)
		}

		_, err = reg.Items().Apply(ctx, []string{"ORD00001-0", "missing"}, func(_ context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
			return items, nil
		})
		if !repositories.IsRecordCode(err, repositories.RecordErrorNotFound) {
			t.Fatalf("expected not found for missing item, got %v", err)
		}
	})

	t.Run("transfer mints once", func(t *testing.T) {
		mint := func(ctx context.Context, item domain.OrderItem, alloc repositories.Allocator) (domain.Product, error) {
			n, err := alloc.NextSequence(ctx, domain.ProductIDPrefix)
			if err != nil {
				return domain.Product{}, err
			}
			return domain.Product{
				ID:           domain.FormatSequentialID(domain.ProductIDPrefix, domain.SequentialIDWidth, n),
				SerialNumber: item.SerialNumber,
				OrderID:      item.OrderID,
				FactoryID:    item.FactoryID,
			}, nil
		}
		first, err := reg.Items().Transfer(ctx, "ORD00001-0", mint)
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if first.Product.ID != "PRD00001" || !first.OrderTransferred || first.AlreadyTransferred {
			t.Fatalf("unexpected first transfer %+v", first)
		}
		again, err := reg.Items().Transfer(ctx, "ORD00001-0", mint)
		if err != nil {
			t.Fatalf("second transfer: %v", err)
		}
		if !again.AlreadyTransferred || again.Product.ID != "PRD00001" {
			t.Fatalf("expected idempotent transfer, got %+v", again)
		}
		products, err := reg.Products().ListByOrder(ctx, "ORD00001")
		if err != nil {
			t.Fatalf("list products: %v", err)
		}
		if len(products) != 1 || products[0].OrderItemID != "ORD00001-0" {
			t.Fatalf("unexpected products %+v", products)
		}
	})

	t.Run("directory codes are unique regardless of case", func(t *testing.T) {
		if _, err := reg.Directory().UpsertFactory(ctx, domain.Factory{ID: "fac_F001", Code: "F001", Name: "Lahore"}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		_, err := reg.Directory().UpsertFactory(ctx, domain.Factory{ID: "fac_other", Code: "f001"})
		if !repositories.IsRecordCode(err, repositories.RecordErrorDuplicate) {
			t.Fatalf("expected duplicate code, got %v", err)
		}
		renamed, err := reg.Directory().UpsertFactory(ctx, domain.Factory{ID: "fac_F001", Code: "F009", Name: "Lahore"})
		if err != nil {
			t.Fatalf("recode: %v", err)
		}
		if renamed.CreatedAt.IsZero() || renamed.Code != "F009" {
			t.Fatalf("unexpected factory %+v", renamed)
		}
		if _, err := reg.Directory().UpsertFactory(ctx, domain.Factory{ID: "fac_other", Code: "F001"}); err != nil {
			t.Fatalf("expected released code to be reusable: %v", err)
		}
		factories, err := reg.Directory().ListFactories(ctx)
		if err != nil || len(factories) != 2 {
			t.Fatalf("expected two factories, got %+v (%v)", factories, err)
		}
	})

	t.Run("bulk delete hands claims to surviving duplicates", func(t *testing.T) {
		client, err := reg.provider.Client(ctx)
		if err != nil {
			t.Fatalf("client: %v", err)
		}
		legacy := encodeOrder(domain.Order{SerialNumber: "1125F001WP100010001-10003", FactoryID: "fac_F001"})
		if _, err := client.Collection(ordersCollection).Doc("ORD00099").Set(ctx, legacy); err != nil {
			t.Fatalf("seed legacy order: %v", err)
		}
		removed, err := reg.Orders().DeleteByIDs(ctx, []string{"ORD00001", "ORD00404"})
		if err != nil {
			t.Fatalf("delete by ids: %v", err)
		}
		if removed != 1 {
			t.Fatalf("expected one order removed, got %d", removed)
		}
		claim, err := reg.serials.Get(ctx, serialIndexID(serialKindOrder, "1125F001WP100010001-10003"))
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if claim.Data.OwnerID != "ORD00099" {
			t.Fatalf("expected claim handed to ORD00099, got %s", claim.Data.OwnerID)
		}
	})

	t.Run("delete cascades to items and claims", func(t *testing.T) {
		if _, err := reg.Orders().Create(ctx, buildOrder("ORD00003", "fac_F002", 2)); err != nil {
			t.Fatalf("create: %v", err)
		}
		removed, err := reg.Orders().Delete(ctx, "ORD00003")
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected two items removed, got %d", removed)
		}
		if _, err := reg.Orders().FindByID(ctx, "ORD00003"); !repositories.IsRecordCode(err, repositories.RecordErrorNotFound) {
			t.Fatalf("expected order gone, got %v", err)
		}
		if _, err := reg.Orders().Delete(ctx, "ORD00003"); !repositories.IsRecordCode(err, repositories.RecordErrorNotFound) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
		if err := reg.Counters().Reset(ctx, "fac_F002", domain.CounterSeed); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if _, err := reg.Orders().Create(ctx, buildOrder("ORD00004", "fac_F002", 2)); err != nil {
			t.Fatalf("expected serials to be reusable after delete: %v", err)
		}
	})
}
