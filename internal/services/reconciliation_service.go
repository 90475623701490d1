package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

const (
	repairScopeOrderSerial = "order_serial"
	repairScopeItemSerial  = "item_serial"
	repairScopeOrphan      = "orphan_order"
	repairScopeCounter     = "counter"
	repairScopeSequence    = "sequence"
	repairScopeItem        = "item_counter"
)

// ReconciliationServiceDeps bundles collaborators for the repair service.
type ReconciliationServiceDeps struct {
	Counters  repositories.CounterRepository
	Orders    repositories.OrderRepository
	Items     repositories.ItemRepository
	Directory repositories.DirectoryRepository
	Clock     func() time.Time
	Events    EventPublisher
	Logger    LoggerFunc
	Metrics   EngineMetrics
}

type reconciliationService struct {
	counters  repositories.CounterRepository
	orders    repositories.OrderRepository
	items     repositories.ItemRepository
	directory repositories.DirectoryRepository
	clock     func() time.Time
	emit      emitter
	logger    LoggerFunc
	metrics   EngineMetrics
}

// NewReconciliationService constructs the administrative repair service.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	switch {
	case deps.Counters == nil:
		return nil, errors.New("reconciliation service: counter repository is required")
	case deps.Orders == nil:
		return nil, errors.New("reconciliation service: order repository is required")
	case deps.Items == nil:
		return nil, errors.New("reconciliation service: item repository is required")
	case deps.Directory == nil:
		return nil, errors.New("reconciliation service: directory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &reconciliationService{
		counters:  deps.Counters,
		orders:    deps.Orders,
		items:     deps.Items,
		directory: deps.Directory,
		clock: func() time.Time {
			return clock().UTC()
		},
		emit:    newEmitter(deps.Events, logger, clock),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Deduplicate keeps the oldest order and item of every serial number group and deletes the rest.
// Order documents go first, so item survivors can prefer items whose order still exists.
func (s *reconciliationService) Deduplicate(ctx context.Context) (DedupeReport, error) {
	var report DedupeReport

	orders, err := s.orders.List(ctx, repositories.OrderFilter{})
	if err != nil {
		return report, mapStoreError(err)
	}
	existing := make(map[string]struct{}, len(orders))
	for _, group := range groupOrdersBySerial(orders) {
		sortOldestOrders(group)
		existing[group[0].ID] = struct{}{}
		if len(group) == 1 {
			continue
		}
		report.OrderGroups++
		losers := make([]string, 0, len(group)-1)
		for _, order := range group[1:] {
			losers = append(losers, order.ID)
		}
		removed, err := s.orders.DeleteByIDs(ctx, losers)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failures = append(report.Failures, RepairFailure{Scope: repairScopeOrderSerial, Key: group[0].SerialNumber, Error: err.Error()})
			for _, id := range losers {
				existing[id] = struct{}{}
			}
			continue
		}
		report.OrdersRemoved += removed
	}

	items, err := s.items.ListAll(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}
	groups := make(map[string][]domain.OrderItem)
	var serials []string
	for _, item := range items {
		if _, ok := groups[item.SerialNumber]; !ok {
			serials = append(serials, item.SerialNumber)
		}
		groups[item.SerialNumber] = append(groups[item.SerialNumber], item)
	}
	sort.Strings(serials)
	for _, serial := range serials {
		group := groups[serial]
		if len(group) == 1 {
			continue
		}
		report.ItemGroups++
		sort.SliceStable(group, func(i, j int) bool {
			_, iLive := existing[group[i].OrderID]
			_, jLive := existing[group[j].OrderID]
			if iLive != jLive {
				return iLive
			}
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		losers := make([]string, 0, len(group)-1)
		for _, item := range group[1:] {
			losers = append(losers, item.ID)
		}
		removed, err := s.items.Delete(ctx, losers)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failures = append(report.Failures, RepairFailure{Scope: repairScopeItemSerial, Key: serial, Error: err.Error()})
			continue
		}
		report.ItemsRemoved += removed
	}

	s.metrics.RecordsRepaired(ctx, "duplicate_order", report.OrdersRemoved)
	s.metrics.RecordsRepaired(ctx, "duplicate_item", report.ItemsRemoved)
	s.logger(ctx, "reconcile.dedupe", map[string]any{
		"orderGroups":   report.OrderGroups,
		"ordersRemoved": report.OrdersRemoved,
		"itemGroups":    report.ItemGroups,
		"itemsRemoved":  report.ItemsRemoved,
		"failures":      len(report.Failures),
	})
	return report, nil
}

// ResyncCounters rewrites factory counters from the items that exist. With no factory IDs every
// registered or counted factory is resynced. Order and product sequences are only ever raised.
func (s *reconciliationService) ResyncCounters(ctx context.Context, factoryIDs ...string) (ResyncReport, error) {
	report := ResyncReport{Sequences: map[string]int64{}}

	factories, err := s.directory.ListFactories(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}
	models, err := s.directory.ListModels(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}
	counters, err := s.counters.List(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}
	items, err := s.items.ListAll(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}

	factoryCodes := make(map[string]string, len(factories))
	for _, f := range factories {
		factoryCodes[f.ID] = f.Code
	}
	modelCodes := make(map[string]string, len(models))
	for _, m := range models {
		modelCodes[m.ID] = m.Code
	}
	current := make(map[string]int64, len(counters))
	for _, c := range counters {
		current[c.FactoryID] = c.Counter
	}
	byFactory := make(map[string][]domain.OrderItem)
	for _, item := range items {
		byFactory[item.FactoryID] = append(byFactory[item.FactoryID], item)
	}

	targets := normalizeIDs(factoryIDs)
	if len(targets) == 0 {
		seen := make(map[string]struct{})
		for id := range factoryCodes {
			seen[id] = struct{}{}
		}
		for id := range current {
			seen[id] = struct{}{}
		}
		for id := range byFactory {
			if id != "" {
				seen[id] = struct{}{}
			}
		}
		for id := range seen {
			targets = append(targets, id)
		}
		sort.Strings(targets)
	}

	for _, factoryID := range targets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		factoryItems := byFactory[factoryID]
		value := int64(domain.CounterSeed)
		var observed int64
		var parsed bool
		for _, item := range factoryItems {
			n, ok := itemCounter(item, factoryCodes[factoryID], modelCodes[item.ModelID])
			if !ok {
				report.Failures = append(report.Failures, RepairFailure{
					Scope: repairScopeItem,
					Key:   item.ID,
					Error: fmt.Sprintf("serial %q carries no counter", item.SerialNumber),
				})
				continue
			}
			if !parsed || n > observed {
				observed = n
			}
			parsed = true
		}
		if parsed {
			value = observed
		}
		previous, exists := current[factoryID]
		entry := CounterResync{FactoryID: factoryID, Previous: previous, Value: value, Items: len(factoryItems)}
		if exists && previous == value {
			report.Factories = append(report.Factories, entry)
			continue
		}
		if err := s.counters.Reset(ctx, factoryID, value); err != nil {
			report.Failures = append(report.Failures, RepairFailure{Scope: repairScopeCounter, Key: factoryID, Error: err.Error()})
			continue
		}
		entry.Changed = true
		report.CountersReset++
		report.Factories = append(report.Factories, entry)
		s.logger(ctx, "reconcile.counter.reset", map[string]any{
			"factoryId": factoryID,
			"previous":  previous,
			"value":     value,
			"items":     len(factoryItems),
		})
	}

	orders, err := s.orders.List(ctx, repositories.OrderFilter{})
	if err != nil {
		return report, mapStoreError(err)
	}
	var maxOrder, maxProduct int64
	for _, order := range orders {
		if n, ok := domain.ParseSequentialID(domain.OrderIDPrefix, order.ID); ok && n > maxOrder {
			maxOrder = n
		}
	}
	for _, item := range items {
		if n, ok := domain.ParseSequentialID(domain.ProductIDPrefix, item.ProductID); ok && n > maxProduct {
			maxProduct = n
		}
	}
	for _, seq := range []struct {
		name  string
		floor int64
	}{{domain.OrderIDPrefix, maxOrder}, {domain.ProductIDPrefix, maxProduct}} {
		stored, err := s.counters.RaiseSequence(ctx, seq.name, seq.floor)
		if err != nil {
			report.Failures = append(report.Failures, RepairFailure{Scope: repairScopeSequence, Key: seq.name, Error: err.Error()})
			continue
		}
		report.Sequences[seq.name] = stored
	}

	s.metrics.RecordsRepaired(ctx, "counter", report.CountersReset)
	s.logger(ctx, "reconcile.resync", map[string]any{
		"factories":     len(report.Factories),
		"countersReset": report.CountersReset,
		"failures":      len(report.Failures),
	})
	return report, nil
}

// PurgeOrphans deletes items whose order no longer exists.
func (s *reconciliationService) PurgeOrphans(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport

	orders, err := s.orders.List(ctx, repositories.OrderFilter{})
	if err != nil {
		return report, mapStoreError(err)
	}
	live := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		live[order.ID] = struct{}{}
	}
	items, err := s.items.ListAll(ctx)
	if err != nil {
		return report, mapStoreError(err)
	}
	orphans := make(map[string][]string)
	for _, item := range items {
		if _, ok := live[item.OrderID]; !ok {
			orphans[item.OrderID] = append(orphans[item.OrderID], item.ID)
		}
	}
	orderIDs := make([]string, 0, len(orphans))
	for id := range orphans {
		orderIDs = append(orderIDs, id)
	}
	sort.Strings(orderIDs)

	for _, orderID := range orderIDs {
		removed, err := s.items.Delete(ctx, orphans[orderID])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failures = append(report.Failures, RepairFailure{Scope: repairScopeOrphan, Key: orderID, Error: err.Error()})
			continue
		}
		report.OrphanOrders = append(report.OrphanOrders, orderID)
		report.ItemsRemoved += removed
	}

	s.metrics.RecordsRepaired(ctx, "orphan_item", report.ItemsRemoved)
	s.logger(ctx, "reconcile.purge", map[string]any{
		"orphanOrders": len(report.OrphanOrders),
		"itemsRemoved": report.ItemsRemoved,
		"failures":     len(report.Failures),
	})
	return report, nil
}

// Reconcile runs deduplication, orphan purge and counter resync in that order.
func (s *reconciliationService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	var err error

	if report.Dedupe, err = s.Deduplicate(ctx); err != nil {
		return report, fmt.Errorf("deduplicate: %w", err)
	}
	if report.Purge, err = s.PurgeOrphans(ctx); err != nil {
		return report, fmt.Errorf("purge orphans: %w", err)
	}
	if report.Resync, err = s.ResyncCounters(ctx); err != nil {
		return report, fmt.Errorf("resync counters: %w", err)
	}
	report.FinishedAt = s.clock()

	s.emit.publish(ctx, Event{
		Type:       EventReconciliationCompleted,
		OccurredAt: report.FinishedAt,
		Metadata: map[string]any{
			"ordersRemoved": report.Dedupe.OrdersRemoved,
			"itemsRemoved":  report.Dedupe.ItemsRemoved + report.Purge.ItemsRemoved,
			"countersReset": report.Resync.CountersReset,
			"failures":      len(report.Dedupe.Failures) + len(report.Purge.Failures) + len(report.Resync.Failures),
		},
	})
	return report, nil
}

// itemCounter recovers the counter encoded in an item serial. The stored counter wins, then a
// prefix-aware parse, then the trailing digits of the serial.
func itemCounter(item domain.OrderItem, factoryCode, modelCode string) (int64, bool) {
	if item.SerialCounter > 0 {
		return item.SerialCounter, true
	}
	if factoryCode != "" && modelCode != "" {
		prefix := domain.SerialPrefix(item.Month, item.Year, factoryCode, modelCode)
		if n, ok := domain.ParseSerialCounter(item.SerialNumber, prefix); ok {
			return n, true
		}
	}
	return domain.ParseTrailingCounter(strings.TrimSpace(item.SerialNumber))
}

func groupOrdersBySerial(orders []domain.Order) [][]domain.Order {
	index := make(map[string]int)
	var groups [][]domain.Order
	for _, order := range orders {
		i, ok := index[order.SerialNumber]
		if !ok {
			i = len(groups)
			index[order.SerialNumber] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], order)
	}
	return groups
}

func sortOldestOrders(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}
