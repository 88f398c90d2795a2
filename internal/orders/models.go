package orders

import "time"

type Product struct {
	Code       string
	Name       string
	PriceCents int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Order struct {
	ID            string
	OrderCode     string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Status        OrderStatus
	AmountTotal   int64
	ReservedUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderLine struct {
	ID          string
	OrderID     string
	ProductCode string
	Quantity    int
	PriceCents  int64
}

type StockUnit struct {
	ID              int64
	ProductCode     string
	Username        string
	SecretSealed    string
	Status          UnitStatus
	ReservedOrderID *string
	ReservedUntil   *time.Time
	SoldOrderID     *string
	CreatedAt       time.Time
}

type Allocation struct {
	ID            int64
	OrderLineID   string
	UnitID        int64
	Status        AllocationStatus
	ReservedUntil *time.Time
	CreatedAt     time.Time
}

type Payment struct {
	ID            int64
	OrderID       string
	Provider      string
	TransactionID string
	AmountCents   int64
	Status        string
	CreatedAt     time.Time
}

type Delivery struct {
	ID            int64
	OrderID       string
	UnitID        int64
	DeliveryToken string
	DeliveredAt   time.Time
}

type Invoice struct {
	ID            int64
	OrderID       string
	InvoiceNumber string
	Status        string
	CreatedAt     time.Time
}

type AuditEntry struct {
	EventType  string
	EntityType string
	EntityID   string
	Actor      string
	Payload    []byte
}
