package repositories

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ujala-development/serials/internal/domain"
)

// AggregateDiff lists the item changes a mutation implies.
type AggregateDiff struct {
	Added   []domain.OrderItem
	Kept    []domain.OrderItem
	Removed []domain.OrderItem
}

// RemovedIDs returns the IDs of removed items as a set.
func (d AggregateDiff) RemovedIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(d.Removed))
	for _, item := range d.Removed {
		out[item.ID] = struct{}{}
	}
	return out
}

// ValidateAggregate checks the identity fields every backend relies on before writing.
func ValidateAggregate(agg domain.OrderAggregate) error {
	if strings.TrimSpace(agg.Order.ID) == "" {
		return NewRecordError(RecordErrorInvalidInput, "order id is required", nil)
	}
	if strings.TrimSpace(agg.Order.SerialNumber) == "" {
		return NewRecordError(RecordErrorInvalidInput, "order serial is required", nil)
	}
	ids := make(map[string]struct{}, len(agg.Items))
	serials := make(map[string]struct{}, len(agg.Items))
	for _, item := range agg.Items {
		if item.ID == "" || item.SerialNumber == "" {
			return NewRecordError(RecordErrorInvalidInput, "item id and serial are required", nil)
		}
		if item.OrderID != agg.Order.ID {
			return NewRecordError(RecordErrorInvalidInput,
				fmt.Sprintf("item %s belongs to order %s, not %s", item.ID, item.OrderID, agg.Order.ID), nil)
		}
		if _, dup := ids[item.ID]; dup {
			return Duplicate("order item", item.ID, nil)
		}
		ids[item.ID] = struct{}{}
		if _, dup := serials[item.SerialNumber]; dup {
			return Duplicate("item serial", item.SerialNumber, nil)
		}
		serials[item.SerialNumber] = struct{}{}
	}
	return nil
}

// DiffAggregate compares the stored aggregate with the one a mutator returned.
// Existing items must keep their serial number.
func DiffAggregate(current, next domain.OrderAggregate) (AggregateDiff, error) {
	if next.Order.ID != current.Order.ID {
		return AggregateDiff{}, NewRecordError(RecordErrorInvalidInput, "order id cannot change", nil)
	}
	if err := ValidateAggregate(next); err != nil {
		return AggregateDiff{}, err
	}
	existing := make(map[string]domain.OrderItem, len(current.Items))
	for _, item := range current.Items {
		existing[item.ID] = item
	}
	var diff AggregateDiff
	kept := make(map[string]struct{}, len(next.Items))
	for _, item := range next.Items {
		prev, ok := existing[item.ID]
		if !ok {
			diff.Added = append(diff.Added, item)
			continue
		}
		if prev.SerialNumber != item.SerialNumber {
			return AggregateDiff{}, NewRecordError(RecordErrorInvalidInput,
				fmt.Sprintf("serial of existing item %s cannot change", item.ID), nil)
		}
		kept[item.ID] = struct{}{}
		diff.Kept = append(diff.Kept, item)
	}
	for _, item := range current.Items {
		if _, ok := kept[item.ID]; !ok {
			diff.Removed = append(diff.Removed, item)
		}
	}
	return diff, nil
}

// CheckReplacements ensures an ItemMutator returned the same items without touching identity fields.
func CheckReplacements(before, after []domain.OrderItem) error {
	if len(before) != len(after) {
		return NewRecordError(RecordErrorInvalidInput,
			fmt.Sprintf("mutator returned %d items for %d inputs", len(after), len(before)), nil)
	}
	index := make(map[string]domain.OrderItem, len(before))
	for _, item := range before {
		index[item.ID] = item
	}
	for _, item := range after {
		prev, ok := index[item.ID]
		if !ok {
			return NewRecordError(RecordErrorInvalidInput, fmt.Sprintf("mutator returned unknown item %s", item.ID), nil)
		}
		if prev.SerialNumber != item.SerialNumber || prev.OrderID != item.OrderID {
			return NewRecordError(RecordErrorInvalidInput, fmt.Sprintf("identity of item %s cannot change", item.ID), nil)
		}
	}
	return nil
}

// DedupeIDs trims IDs and drops blanks and repeats while keeping the first occurrence order.
func DedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SortItems orders items by box, then serial counter, then serial number and ID.
func SortItems(items []domain.OrderItem) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.BoxNumber != b.BoxNumber {
			return a.BoxNumber < b.BoxNumber
		}
		if a.SerialCounter != b.SerialCounter {
			return a.SerialCounter < b.SerialCounter
		}
		if a.SerialNumber != b.SerialNumber {
			return a.SerialNumber < b.SerialNumber
		}
		return a.ID < b.ID
	})
}

// SortItemsByCreation orders items oldest first with the ID as tie breaker.
func SortItemsByCreation(items []domain.OrderItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
