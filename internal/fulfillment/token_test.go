package fulfillment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryToken_Deterministic(t *testing.T) {
	tm := NewTokenMaker("k1")
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	a := tm.DeliveryToken("order-1", "a@example.com", at)
	b := tm.DeliveryToken("order-1", "a@example.com", at)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32) // 16 bytes hex
}

func TestDeliveryToken_SameDayBucket(t *testing.T) {
	tm := NewTokenMaker("k1")
	morning := time.Date(2026, 3, 14, 0, 5, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 14, 23, 55, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC)

	assert.Equal(t,
		tm.DeliveryToken("order-1", "a@example.com", morning),
		tm.DeliveryToken("order-1", "a@example.com", evening),
		"retries within a day regenerate the same token")
	assert.NotEqual(t,
		tm.DeliveryToken("order-1", "a@example.com", morning),
		tm.DeliveryToken("order-1", "a@example.com", nextDay))
}

func TestDeliveryToken_InputsMatter(t *testing.T) {
	tm := NewTokenMaker("k1")
	other := NewTokenMaker("k2")
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	base := tm.DeliveryToken("order-1", "a@example.com", at)
	assert.NotEqual(t, base, tm.DeliveryToken("order-2", "a@example.com", at))
	assert.NotEqual(t, base, tm.DeliveryToken("order-1", "b@example.com", at))
	assert.NotEqual(t, base, other.DeliveryToken("order-1", "a@example.com", at))
}
