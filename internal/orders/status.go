package orders

type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderFulfilled      OrderStatus = "fulfilled"
	OrderCancelled      OrderStatus = "cancelled"
	OrderExpired        OrderStatus = "expired"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPendingPayment: {OrderFulfilled: true, OrderCancelled: true, OrderExpired: true},
	OrderFulfilled:      {},
	OrderCancelled:      {},
	OrderExpired:        {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitReserved  UnitStatus = "reserved"
	UnitSold      UnitStatus = "sold"
	UnitInvalid   UnitStatus = "invalid"
)

type AllocationStatus string

const (
	AllocationReserved AllocationStatus = "reserved"
	AllocationSold     AllocationStatus = "sold"
	AllocationReleased AllocationStatus = "released"
)
