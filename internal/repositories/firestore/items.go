package firestore

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ujala-development/serials/internal/domain"
	"github.com/ujala-development/serials/internal/repositories"
)

type itemStore struct{ r *Registry }

func (s itemStore) FindByIDs(ctx context.Context, itemIDs []string) ([]domain.OrderItem, error) {
	ids := repositories.DedupeIDs(itemIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	client, err := s.r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	docRefs, err := refs(ctx, s.r.items, ids)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, docRefs)
	if err != nil {
		return nil, translate("order_items.getAll", err, "", "")
	}
	return s.decodeSnapshots(ids, snaps)
}

func (s itemStore) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	repositories.SortItems(items)
	return items, nil
}

func (s itemStore) ListByBox(ctx context.Context, orderID string, boxNumber int) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).Where("boxNumber", "==", boxNumber)
	})
	if err != nil {
		return nil, err
	}
	repositories.SortItems(items)
	return items, nil
}

func (s itemStore) ListByFactory(ctx context.Context, factoryID string) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("factoryId", "==", factoryID)
	})
	if err != nil {
		return nil, err
	}
	repositories.SortItemsByCreation(items)
	return items, nil
}

func (s itemStore) ListAll(ctx context.Context) ([]domain.OrderItem, error) {
	items, err := s.query(ctx, nil)
	if err != nil {
		return nil, err
	}
	repositories.SortItemsByCreation(items)
	return items, nil
}

func (s itemStore) query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]domain.OrderItem, error) {
	docs, err := s.r.items.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderItem, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeItem(doc.ID, doc.Data))
	}
	return out, nil
}

func (s itemStore) Apply(ctx context.Context, itemIDs []string, fn repositories.ItemMutator) ([]domain.OrderItem, error) {
	if fn == nil {
		return nil, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "mutator is required", nil)
	}
	ids := repositories.DedupeIDs(itemIDs)

	var result []domain.OrderItem
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		items, err := s.loadItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		input := make([]domain.OrderItem, len(items))
		copy(input, items)
		updated, err := fn(ctx, input)
		if err != nil {
			return err
		}
		if err := repositories.CheckReplacements(items, updated); err != nil {
			return err
		}

		replaced := make(map[string]domain.OrderItem, len(updated))
		for _, item := range updated {
			replaced[item.ID] = item
		}
		now := s.r.now()
		orders := make(map[string]domain.Order)
		for _, item := range updated {
			if _, done := orders[item.OrderID]; done {
				continue
			}
			order, ok, err := s.refreshOrder(ctx, tx, item.OrderID, replaced, now)
			if err != nil {
				return err
			}
			if ok {
				orders[order.ID] = order
			}
		}

		for _, item := range updated {
			if err := tx.Set(ref(ctx, s.r.items, item.ID), encodeItem(item)); err != nil {
				return err
			}
		}
		for id, order := range orders {
			if err := tx.Set(ref(ctx, s.r.orders, id), encodeOrder(order)); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, translate("order_items.apply", err, "", "")
	}
	out := make([]domain.OrderItem, len(result))
	copy(out, result)
	return out, nil
}

func (s itemStore) Transfer(ctx context.Context, itemID string, mint repositories.TransferMinter) (domain.TransferResult, error) {
	if mint == nil {
		return domain.TransferResult{}, repositories.NewRecordError(repositories.RecordErrorInvalidInput, "minter is required", nil)
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return domain.TransferResult{}, repositories.NotFound("order item", itemID)
	}

	var result domain.TransferResult
	var productID string
	err := s.r.runTx(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		items, err := s.loadItems(ctx, tx, []string{itemID})
		if err != nil {
			return err
		}
		item := items[0]

		if item.IsTransferredToProduct {
			snap, err := tx.Get(ref(ctx, s.r.products, item.ProductID))
			if isNotFound(err) {
				return repositories.NotFound("product", item.ProductID)
			}
			if err != nil {
				return err
			}
			doc, err := s.r.products.Decode(snap)
			if err != nil {
				return err
			}
			orderTransferred, err := s.orderTransferred(ctx, tx, item.OrderID)
			if err != nil {
				return err
			}
			result = domain.TransferResult{
				Item:               item,
				Product:            decodeProduct(doc.ID, doc.Data),
				OrderTransferred:   orderTransferred,
				AlreadyTransferred: true,
			}
			return nil
		}

		alloc := newAllocator(s.r, tx)
		product, err := mint(ctx, item, alloc)
		if err != nil {
			return err
		}
		if strings.TrimSpace(product.ID) == "" {
			return repositories.NewRecordError(repositories.RecordErrorInvalidInput, "product id is required", nil)
		}
		productID = product.ID

		now := s.r.now()
		product.OrderItemID = item.ID
		item.IsTransferredToProduct = true
		item.ProductID = product.ID
		item.TransferredAt = &now
		item.UpdatedAt = now

		order, hasOrder, err := s.refreshOrder(ctx, tx, item.OrderID, map[string]domain.OrderItem{item.ID: item}, now)
		if err != nil {
			return err
		}

		if err := alloc.flush(ctx, now); err != nil {
			return err
		}
		if err := tx.Create(ref(ctx, s.r.products, product.ID), encodeProduct(product)); err != nil {
			return err
		}
		if err := tx.Set(ref(ctx, s.r.items, item.ID), encodeItem(item)); err != nil {
			return err
		}
		if hasOrder {
			if err := tx.Set(ref(ctx, s.r.orders, order.ID), encodeOrder(order)); err != nil {
				return err
			}
		}
		result = domain.TransferResult{Item: item, Product: product, OrderTransferred: hasOrder && order.IsTransferredToProduct}
		return nil
	})
	if err != nil {
		return domain.TransferResult{}, translate("order_items.transfer", err, "product", productID)
	}
	return result, nil
}

// Delete removes items in bulk. A serial claim held by a removed item is handed to a
// surviving item with the same serial, if any.
func (s itemStore) Delete(ctx context.Context, itemIDs []string) (int, error) {
	ids := repositories.DedupeIDs(itemIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	client, err := s.r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docRefs, err := refs(ctx, s.r.items, ids)
	if err != nil {
		return 0, err
	}
	snaps, err := client.GetAll(ctx, docRefs)
	if err != nil {
		return 0, translate("order_items.delete", err, "", "")
	}
	doomed := make(map[string]struct{}, len(ids))
	var victims []domain.OrderItem
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := s.r.items.Decode(snap)
		if err != nil {
			return 0, err
		}
		doomed[doc.ID] = struct{}{}
		victims = append(victims, decodeItem(doc.ID, doc.Data))
	}
	if len(victims) == 0 {
		return 0, nil
	}

	claims := make(map[string]claimUpdate)
	for _, item := range victims {
		serial := item.SerialNumber
		if _, seen := claims[serial]; seen {
			continue
		}
		update, err := s.r.planClaimRelease(ctx, serialKindItem, serial, doomed, func(ctx context.Context) ([]string, error) {
			peers, err := s.query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where("serialNumber", "==", serial)
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
		claims[serial] = update
	}

	docs := make([]*firestore.DocumentRef, 0, len(victims))
	for _, item := range victims {
		docs = append(docs, ref(ctx, s.r.items, item.ID))
	}
	if err := s.r.bulkDelete(ctx, "order_items.delete", docs, claims); err != nil {
		return 0, err
	}
	return len(victims), nil
}

func (s itemStore) loadItems(ctx context.Context, tx *firestore.Transaction, ids []string) ([]domain.OrderItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docRefs, err := refs(ctx, s.r.items, ids)
	if err != nil {
		return nil, err
	}
	snaps, err := tx.GetAll(docRefs)
	if err != nil {
		return nil, err
	}
	return s.decodeSnapshots(ids, snaps)
}

// decodeSnapshots keeps the requested order and fails on the first missing item.
func (s itemStore) decodeSnapshots(ids []string, snaps []*firestore.DocumentSnapshot) ([]domain.OrderItem, error) {
	out := make([]domain.OrderItem, 0, len(snaps))
	for i, snap := range snaps {
		if snap == nil || !snap.Exists() {
			return nil, repositories.NotFound("order item", ids[i])
		}
		doc, err := s.r.items.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, decodeItem(doc.ID, doc.Data))
	}
	return out, nil
}

// refreshOrder reads the order and its items inside tx, overlays replaced and derives the
// new order state. ok is false when the order no longer exists.
func (s itemStore) refreshOrder(ctx context.Context, tx *firestore.Transaction, orderID string, replaced map[string]domain.OrderItem, now time.Time) (domain.Order, bool, error) {
	snap, err := tx.Get(ref(ctx, s.r.orders, orderID))
	if isNotFound(err) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	orderDoc, err := s.r.orders.Decode(snap)
	if err != nil {
		return domain.Order{}, false, err
	}
	siblingDocs, err := s.r.items.QueryTx(ctx, tx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	siblings := make([]domain.OrderItem, 0, len(siblingDocs))
	for _, doc := range siblingDocs {
		item := decodeItem(doc.ID, doc.Data)
		if repl, ok := replaced[item.ID]; ok {
			item = repl
		}
		siblings = append(siblings, item)
	}
	order := domain.RefreshOrder(decodeOrder(orderDoc.ID, orderDoc.Data), siblings)
	order.UpdatedAt = now
	return order, true, nil
}

func (s itemStore) orderTransferred(ctx context.Context, tx *firestore.Transaction, orderID string) (bool, error) {
	snap, err := tx.Get(ref(ctx, s.r.orders, orderID))
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	doc, err := s.r.orders.Decode(snap)
	if err != nil {
		return false, err
	}
	return doc.Data.IsTransferredToProduct, nil
}
