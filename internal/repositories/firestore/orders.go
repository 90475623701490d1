package firestore

import (
	"context"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type orderStore struct{ r *Registry }

func (s orderStore) Create(ctx context.Context, build repositories.AggregateBuilder) (domain.OrderAggregate, error) {
	if build == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "builder is required", nil)
	}

	var result domain.OrderAggregate
	var serial string
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		alloc := newAllocator(s.r, tx)
		agg, err := build(ctx, alloc)
		if err != nil {
			return err
		}
		if err := repositories.ValidateAggregate(agg); err != nil {
			return err
		}
		serial = agg.Order.SerialNumber

		if err := alloc.flush(ctx, s.r.now()); err != nil {
			return err
		}
		if err := tx.Create(ref(ctx, s.r.orders, agg.Order.ID), encodeOrder(agg.Order)); err != nil {
			return err
		}
		if err := s.claimSerial(ctx, tx, serialKindOrder, agg.Order.SerialNumber, agg.Order.ID); err != nil {
			return err
		}
		for _, item := range agg.Items {
			if err := tx.Create(ref(ctx, s.r.items, item.ID), encodeItem(item)); err != nil {
				return err
			}
			if err := s.claimSerial(ctx, tx, serialKindItem, item.SerialNumber, item.ID); err != nil {
				return err
			}
		}
		result = agg
		return nil
	})
	if err != nil {
		return domain.OrderAggregate{}, translate("orders.create", err, "order serial allocation", serial)
	}
	return result, nil
}

func (s orderStore) Mutate(ctx context.Context, orderID string, fn repositories.AggregateMutator) (domain.OrderAggregate, error) {
	if fn == nil {
		return domain.OrderAggregate{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderAggregate{}, repositories.NotFound("order", orderID)
	}

	var result domain.OrderAggregate
	var serial string
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := s.loadAggregate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		alloc := newAllocator(s.r, tx)
		next, err := fn(ctx, cloneAggregate(current), alloc)
		if err != nil {
			return err
		}
		serial = next.Order.SerialNumber
		diff, err := repositories.DiffAggregate(current, next)
		if err != nil {
			return err
		}

		// Remaining reads: the claims about to be released.
		owned, err := s.ownedItemClaims(ctx, tx, diff.Removed)
		if err != nil {
			return err
		}
		orderSerialChanged := next.Order.SerialNumber != current.Order.SerialNumber
		ownsOrderClaim := false
		if orderSerialChanged {
			ownsOrderClaim, err = s.ownsClaim(ctx, tx, serialKindOrder, current.Order.SerialNumber, orderID)
			if err != nil {
				return err
			}
		}

		if err := alloc.flush(ctx, s.r.now()); err != nil {
			return err
		}
		reused := make(map[string]struct{})
		for _, item := range diff.Added {
			if _, ok := owned[item.SerialNumber]; ok {
				// The serial moves from a removed item to its replacement in place.
				reused[item.SerialNumber] = struct{}{}
				if err := tx.Set(ref(ctx, s.r.serials, serialIndexID(serialKindItem, item.SerialNumber)), indexDocument{Kind: serialKindItem, Key: item.SerialNumber, OwnerID: item.ID}); err != nil {
					return err
				}
			} else if err := s.claimSerial(ctx, tx, serialKindItem, item.SerialNumber, item.ID); err != nil {
				return err
			}
			if err := tx.Create(ref(ctx, s.r.items, item.ID), encodeItem(item)); err != nil {
				return err
			}
		}
		for _, item := range diff.Removed {
			if err := tx.Delete(ref(ctx, s.r.items, item.ID)); err != nil {
				return err
			}
			if _, ok := owned[item.SerialNumber]; !ok {
				continue
			}
			if _, ok := reused[item.SerialNumber]; ok {
				continue
			}
			if err := tx.Delete(ref(ctx, s.r.serials, serialIndexID(serialKindItem, item.SerialNumber))); err != nil {
				return err
			}
		}
		for _, item := range diff.Kept {
			if err := tx.Set(ref(ctx, s.r.items, item.ID), encodeItem(item)); err != nil {
				return err
			}
		}
		if orderSerialChanged {
			if ownsOrderClaim {
				if err := tx.Delete(ref(ctx, s.r.serials, serialIndexID(serialKindOrder, current.Order.SerialNumber))); err != nil {
					return err
				}
			}
			if err := s.claimSerial(ctx, tx, serialKindOrder, next.Order.SerialNumber, orderID); err != nil {
				return err
			}
		}
		if err := tx.Set(ref(ctx, s.r.orders, orderID), encodeOrder(next.Order)); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return domain.OrderAggregate{}, translate("orders.mutate", err, "order serial allocation", serial)
	}
	return cloneAggregate(result), nil
}

func (s orderStore) Delete(ctx context.Context, orderID string) (int, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return 0, repositories.NotFound("order", orderID)
	}
	var removed int
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		agg, err := s.loadAggregate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		owned, err := s.ownedItemClaims(ctx, tx, agg.Items)
		if err != nil {
			return err
		}
		ownsOrderClaim, err := s.ownsClaim(ctx, tx, serialKindOrder, agg.Order.SerialNumber, orderID)
		if err != nil {
			return err
		}

		for _, item := range agg.Items {
			if err := tx.Delete(ref(ctx, s.r.items, item.ID)); err != nil {
				return err
			}
			if _, ok := owned[item.SerialNumber]; ok {
				if err := tx.Delete(ref(ctx, s.r.serials, serialIndexID(serialKindItem, item.SerialNumber))); err != nil {
					return err
				}
			}
		}
		if ownsOrderClaim {
			if err := tx.Delete(ref(ctx, s.r.serials, serialIndexID(serialKindOrder, agg.Order.SerialNumber))); err != nil {
				return err
			}
		}
		if err := tx.Delete(ref(ctx, s.r.orders, orderID)); err != nil {
			return err
		}
		removed = len(agg.Items)
		return nil
	})
	if err != nil {
		return 0, translate("orders.delete", err, "order", orderID)
	}
	return removed, nil
}

func (s orderStore) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NotFound("order", orderID)
	}
	doc, err := s.r.orders.Get(ctx, orderID)
	if isNotFound(err) {
		return domain.Order{}, repositories.NotFound("order", orderID)
	}
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (s orderStore) List(ctx context.Context, filter repositories.OrderFilter) ([]domain.Order, error) {
	docs, err := s.r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.FactoryID != "" {
			q = q.Where("factoryId", "==", filter.FactoryID)
		}
		if filter.Status != "" {
			q = q.Where("status", "==", string(filter.Status))
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeOrder(doc.ID, doc.Data))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteByIDs removes order documents in bulk. A serial claim held by a removed order is
// handed to a surviving order with the same serial, if any.
func (s orderStore) DeleteByIDs(ctx context.Context, orderIDs []string) (int, error) {
	ids := repositories.DedupeIDs(orderIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}

	var victims []domain.Order
	for _, id := range ids {
		order, err := s.FindByID(ctx, id)
		if repositories.IsRecordCode(err, repositories.RecordErrorNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		victims = append(victims, order)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	claims := make(map[string]claimUpdate)
	for _, order := range victims {
		if _, seen := claims[order.SerialNumber]; seen {
			continue
		}
		update, err := s.r.planClaimRelease(ctx, serialKindOrder, order.SerialNumber, doomed, func(ctx context.Context) ([]string, error) {
			peers, err := s.r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where("serialNumber", "==", order.SerialNumber)
			})
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(peers))
			for _, peer := range peers {
				out = append(out, peer.ID)
			}
			return out, nil
		})
		if err != nil {
			return 0, err
		}
		claims[order.SerialNumber] = update
	}

	docs := make([]*firestore.DocumentRef, 0, len(victims))
	for _, order := range victims {
		docs = append(docs, ref(ctx, s.r.orders, order.ID))
	}
	if err := s.r.bulkDelete(ctx, "orders.deleteByIDs", docs, claims); err != nil {
		return 0, err
	}
	return len(victims), nil
}

func (s orderStore) loadAggregate(ctx context.Context, tx *firestore.Transaction, orderID string) (domain.OrderAggregate, error) {
	snap, err := tx.Get(ref(ctx, s.r.orders, orderID))
	if isNotFound(err) {
		return domain.OrderAggregate{}, repositories.NotFound("order", orderID)
	}
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	orderDoc, err := s.r.orders.Decode(snap)
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	itemDocs, err := s.r.items.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return domain.OrderAggregate{}, err
	}
	items := make([]domain.OrderItem, 0, len(itemDocs))
	for _, doc := range itemDocs {
		items = append(items, decodeItem(doc.ID, doc.Data))
	}
	repositories.SortItems(items)
	return domain.OrderAggregate{Order: decodeOrder(orderDoc.ID, orderDoc.Data), Items: items}, nil
}

// claimSerial stages the creation of a serial claim. The commit fails with AlreadyExists
// when another record holds the serial.
func (s orderStore) claimSerial(ctx context.Context, tx *firestore.Transaction, kind, serial, ownerID string) error {
	return tx.Create(ref(ctx, s.r.serials, serialIndexID(kind, serial)), indexDocument{Kind: kind, Key: serial, OwnerID: ownerID})
}

func (s orderStore) ownsClaim(ctx context.Context, tx *firestore.Transaction, kind, serial, ownerID string) (bool, error) {
	snap, err := tx.Get(ref(ctx, s.r.serials, serialIndexID(kind, serial)))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	doc, err := s.r.serials.Decode(snap)
	if err != nil {
		return false, err
	}
	return doc.Data.OwnerID == ownerID, nil
}

// ownedItemClaims returns the serials whose claim document belongs to one of items.
func (s orderStore) ownedItemClaims(ctx context.Context, tx *firestore.Transaction, items []domain.OrderItem) (map[string]struct{}, error) {
	owned := make(map[string]struct{}, len(items))
	if len(items) == 0 {
		return owned, nil
	}
	ids := make([]string, 0, len(items))
	owners := make(map[string]string, len(items))
	for _, item := range items {
		ids = append(ids, serialIndexID(serialKindItem, item.SerialNumber))
		owners[item.SerialNumber] = item.ID
	}
	docRefs, err := refs(ctx, s.r.serials, ids)
	if err != nil {
		return nil, err
	}
	snaps, err := tx.GetAll(docRefs)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := s.r.serials.Decode(snap)
		if err != nil {
			return nil, err
		}
		if owners[doc.Data.Key] == doc.Data.OwnerID {
			owned[doc.Data.Key] = struct{}{}
		}
	}
	return owned, nil
}

func cloneAggregate(agg domain.OrderAggregate) domain.OrderAggregate {
	items := make([]domain.OrderItem, len(agg.Items))
	copy(items, agg.Items)
	return domain.OrderAggregate{Order: agg.Order, Items: items}
}
