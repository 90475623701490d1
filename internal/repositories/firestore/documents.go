package firestore

import (
	"strings"
	"time"

	"github.com/ujala-development/serials/internal/domain"
)

const (
	factoriesCollection   = "factories"
	modelsCollection      = "models"
	countersCollection    = "factory_counters"
	sequencesCollection   = "sequences"
	ordersCollection      = "orders"
	itemsCollection       = "order_items"
	productsCollection    = "products"
	serialIndexCollection = "serial_index"
	codesCollection       = "directory_codes"
)

const (
	serialKindOrder = "order"
	serialKindItem  = "item"

	codeKindFactory = "factory"
	codeKindModel   = "model"
)

type directoryDocument struct {
	Code      string    `firestore:"code"`
	Name      string    `firestore:"name,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type counterDocument struct {
	Counter   int64     `firestore:"counter"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type sequenceDocument struct {
	Value     int64     `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderDocument struct {
	SerialNumber           string     `firestore:"serialNumber"`
	Month                  int        `firestore:"month"`
	Year                   int        `firestore:"year"`
	CategoryRef            string     `firestore:"categoryRef,omitempty"`
	ModelID                string     `firestore:"modelId"`
	FactoryID              string     `firestore:"factoryId"`
	Quantity               int        `firestore:"quantity"`
	OrderType              string     `firestore:"orderType"`
	UnitsPerBox            int        `firestore:"unitsPerBox"`
	TotalUnits             int        `firestore:"totalUnits"`
	SerialStart            int64      `firestore:"serialStart"`
	SerialEnd              int64      `firestore:"serialEnd"`
	Status                 string     `firestore:"status"`
	IsTransferredToProduct bool       `firestore:"isTransferredToProduct"`
	CompletedAt            *time.Time `firestore:"completedAt"`
	DispatchedAt           *time.Time `firestore:"dispatchedAt"`
	CreatedAt              time.Time  `firestore:"createdAt"`
	UpdatedAt              time.Time  `firestore:"updatedAt"`
}

type itemDocument struct {
	OrderID                string     `firestore:"orderId"`
	SerialNumber           string     `firestore:"serialNumber"`
	SerialCounter          int64      `firestore:"serialCounter"`
	Month                  int        `firestore:"month"`
	Year                   int        `firestore:"year"`
	CategoryRef            string     `firestore:"categoryRef,omitempty"`
	ModelID                string     `firestore:"modelId"`
	FactoryID              string     `firestore:"factoryId"`
	OrderType              string     `firestore:"orderType"`
	UnitsPerBox            int        `firestore:"unitsPerBox"`
	BoxNumber              int        `firestore:"boxNumber"`
	Status                 string     `firestore:"status"`
	CompletedAt            *time.Time `firestore:"completedAt"`
	DispatchedAt           *time.Time `firestore:"dispatchedAt"`
	IsTransferredToProduct bool       `firestore:"isTransferredToProduct"`
	ProductID              string     `firestore:"productId,omitempty"`
	TransferredAt          *time.Time `firestore:"transferredAt"`
	CreatedAt              time.Time  `firestore:"createdAt"`
	UpdatedAt              time.Time  `firestore:"updatedAt"`
}

type productDocument struct {
	SerialNumber string    `firestore:"serialNumber"`
	ModelID      string    `firestore:"modelId"`
	FactoryID    string    `firestore:"factoryId"`
	OrderID      string    `firestore:"orderId"`
	OrderItemID  string    `firestore:"orderItemId"`
	BoxNumber    int       `firestore:"boxNumber"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// indexDocument claims a unique key (serial number or directory code) for its owner.
type indexDocument struct {
	Kind    string `firestore:"kind"`
	Key     string `firestore:"key"`
	OwnerID string `firestore:"ownerId"`
}

func serialIndexID(kind, serial string) string {
	return kind + "_" + serial
}

func codeIndexID(kind, code string) string {
	return kind + "_" + strings.ToUpper(strings.TrimSpace(code))
}

func encodeOrder(o domain.Order) orderDocument {
	return orderDocument{
		SerialNumber:           o.SerialNumber,
		Month:                  o.Month,
		Year:                   o.Year,
		CategoryRef:            o.CategoryRef,
		ModelID:                o.ModelID,
		FactoryID:              o.FactoryID,
		Quantity:               o.Quantity,
		OrderType:              string(o.OrderType),
		UnitsPerBox:            o.UnitsPerBox,
		TotalUnits:             o.TotalUnits,
		SerialStart:            o.SerialStart,
		SerialEnd:              o.SerialEnd,
		Status:                 string(o.Status),
		IsTransferredToProduct: o.IsTransferredToProduct,
		CompletedAt:            utcPtr(o.CompletedAt),
		DispatchedAt:           utcPtr(o.DispatchedAt),
		CreatedAt:              o.CreatedAt.UTC(),
		UpdatedAt:              o.UpdatedAt.UTC(),
	}
}

func decodeOrder(id string, d orderDocument) domain.Order {
	return domain.Order{
		ID:                     id,
		SerialNumber:           d.SerialNumber,
		Month:                  d.Month,
		Year:                   d.Year,
		CategoryRef:            d.CategoryRef,
		ModelID:                d.ModelID,
		FactoryID:              d.FactoryID,
		Quantity:               d.Quantity,
		OrderType:              domain.OrderType(d.OrderType),
		UnitsPerBox:            d.UnitsPerBox,
		TotalUnits:             d.TotalUnits,
		SerialStart:            d.SerialStart,
		SerialEnd:              d.SerialEnd,
		Status:                 domain.Status(d.Status),
		IsTransferredToProduct: d.IsTransferredToProduct,
		CompletedAt:            utcPtr(d.CompletedAt),
		DispatchedAt:           utcPtr(d.DispatchedAt),
		CreatedAt:              d.CreatedAt.UTC(),
		UpdatedAt:              d.UpdatedAt.UTC(),
	}
}

func encodeItem(i domain.OrderItem) itemDocument {
	return itemDocument{
		OrderID:                i.OrderID,
		SerialNumber:           i.SerialNumber,
		SerialCounter:          i.SerialCounter,
		Month:                  i.Month,
		Year:                   i.Year,
		CategoryRef:            i.CategoryRef,
		ModelID:                i.ModelID,
		FactoryID:              i.FactoryID,
		OrderType:              string(i.OrderType),
		UnitsPerBox:            i.UnitsPerBox,
		BoxNumber:              i.BoxNumber,
		Status:                 string(i.Status),
		CompletedAt:            utcPtr(i.CompletedAt),
		DispatchedAt:           utcPtr(i.DispatchedAt),
		IsTransferredToProduct: i.IsTransferredToProduct,
		ProductID:              i.ProductID,
		TransferredAt:          utcPtr(i.TransferredAt),
		CreatedAt:              i.CreatedAt.UTC(),
		UpdatedAt:              i.UpdatedAt.UTC(),
	}
}

func decodeItem(id string, d itemDocument) domain.OrderItem {
	return domain.OrderItem{
		ID:                     id,
		OrderID:                d.OrderID,
		SerialNumber:           d.SerialNumber,
		SerialCounter:          d.SerialCounter,
		Month:                  d.Month,
		Year:                   d.Year,
		CategoryRef:            d.CategoryRef,
		ModelID:                d.ModelID,
		FactoryID:              d.FactoryID,
		OrderType:              domain.OrderType(d.OrderType),
		UnitsPerBox:            d.UnitsPerBox,
		BoxNumber:              d.BoxNumber,
		Status:                 domain.Status(d.Status),
		CompletedAt:            utcPtr(d.CompletedAt),
		DispatchedAt:           utcPtr(d.DispatchedAt),
		IsTransferredToProduct: d.IsTransferredToProduct,
		ProductID:              d.ProductID,
		TransferredAt:          utcPtr(d.TransferredAt),
		CreatedAt:              d.CreatedAt.UTC(),
		UpdatedAt:              d.UpdatedAt.UTC(),
	}
}

func encodeProduct(p domain.Product) productDocument {
	return productDocument{
		SerialNumber: p.SerialNumber,
		ModelID:      p.ModelID,
		FactoryID:    p.FactoryID,
		OrderID:      p.OrderID,
		OrderItemID:  p.OrderItemID,
		BoxNumber:    p.BoxNumber,
		CreatedAt:    p.CreatedAt.UTC(),
	}
}

func decodeProduct(id string, d productDocument) domain.Product {
	return domain.Product{
		ID:           id,
		SerialNumber: d.SerialNumber,
		ModelID:      d.ModelID,
		FactoryID:    d.FactoryID,
		OrderID:      d.OrderID,
		OrderItemID:  d.OrderItemID,
		BoxNumber:    d.BoxNumber,
		CreatedAt:    d.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
