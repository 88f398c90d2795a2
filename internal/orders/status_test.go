package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(OrderPendingPayment, OrderFulfilled))
	assert.True(t, CanTransition(OrderPendingPayment, OrderCancelled))
	assert.True(t, CanTransition(OrderPendingPayment, OrderExpired))

	// terminal states stay terminal
	for _, from := range []OrderStatus{OrderFulfilled, OrderCancelled, OrderExpired} {
		for _, to := range []OrderStatus{OrderPendingPayment, OrderFulfilled, OrderCancelled, OrderExpired} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
