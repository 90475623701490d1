package domain

import (
	"strings"
	"time"
)

// OrderType describes how many physical units are packed into one box.
type OrderType string

const (
	// OrderTypeOneUnit packs a single unit per box.
	OrderTypeOneUnit OrderType = "1_unit"
	// OrderTypeTwoUnits packs two units per box.
	OrderTypeTwoUnits OrderType = "2_units"
	// OrderTypeThreeUnits packs three units per box.
	OrderTypeThreeUnits OrderType = "3_units"
)

// UnitsPerBox returns the box size for the order type. ok is false for unknown types.
func (t OrderType) UnitsPerBox() (int, bool) {
	switch t {
	case OrderTypeOneUnit:
		return 1, true
	case OrderTypeTwoUnits:
		return 2, true
	case OrderTypeThreeUnits:
		return 3, true
	default:
		return 0, false
	}
}

// ParseOrderType normalises user input into an OrderType.
func ParseOrderType(raw string) (OrderType, bool) {
	t := OrderType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := t.UnitsPerBox(); !ok {
		return "", false
	}
	return t, true
}

// Status is the fulfillment state shared by orders and order items.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusCancelled  Status = "Cancelled"
	StatusDispatched Status = "Dispatched"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusDispatched:
		return true
	}
	return false
}

// ParseStatus accepts case-insensitive status names and the snake_case forms used by the CLI.
func ParseStatus(raw string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	for _, s := range []Status{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusDispatched} {
		if strings.ToLower(string(s)) == normalized {
			return s, true
		}
	}
	return "", false
}

// Factory is a production site. Its code is embedded in every serial it issues.
type Factory struct {
	ID        string
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Model is a product model whose code is embedded in serial numbers.
type Model struct {
	ID        string
	Code      string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FactoryCounter holds the highest serial suffix issued for a factory.
type FactoryCounter struct {
	FactoryID string
	Counter   int64
	UpdatedAt time.Time
}

// Order is a purchase order for Quantity boxes of a model produced by one factory.
type Order struct {
	ID                     string
	SerialNumber           string
	Month                  int
	Year                   int
	CategoryRef            string
	ModelID                string
	FactoryID              string
	Quantity               int
	OrderType              OrderType
	UnitsPerBox            int
	TotalUnits             int
	SerialStart            int64
	SerialEnd              int64
	Status                 Status
	IsTransferredToProduct bool
	CompletedAt            *time.Time
	DispatchedAt           *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// OrderItem is one physical serialized unit belonging to an order.
type OrderItem struct {
	ID                     string
	OrderID                string
	SerialNumber           string
	SerialCounter          int64
	Month                  int
	Year                   int
	CategoryRef            string
	ModelID                string
	FactoryID              string
	OrderType              OrderType
	UnitsPerBox            int
	BoxNumber              int
	Status                 Status
	CompletedAt            *time.Time
	DispatchedAt           *time.Time
	IsTransferredToProduct bool
	ProductID              string
	TransferredAt          *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// OrderAggregate is an order together with its complete item set.
type OrderAggregate struct {
	Order Order
	Items []OrderItem
}

// Product is the retail record minted when a dispatched item is transferred.
type Product struct {
	ID           string
	SerialNumber string
	ModelID      string
	FactoryID    string
	OrderID      string
	OrderItemID  string
	BoxNumber    int
	CreatedAt    time.Time
}

// TransferResult describes the outcome of converting an item into a product.
type TransferResult struct {
	Item               OrderItem
	Product            Product
	OrderTransferred   bool
	AlreadyTransferred bool
}
