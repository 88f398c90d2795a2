package fulfillment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TokenMaker derives delivery tokens with a keyed hash over
// (order id, customer email, UTC day). Deterministic on purpose: a retried
// fulfillment regenerates the same token instead of minting a new one.
type TokenMaker struct {
	key []byte
}

func NewTokenMaker(key string) *TokenMaker {
	return &TokenMaker{key: []byte(key)}
}

func (t *TokenMaker) DeliveryToken(orderID, customerEmail string, at time.Time) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(orderID))
	mac.Write([]byte{0})
	mac.Write([]byte(customerEmail))
	mac.Write([]byte{0})
	mac.Write([]byte(at.UTC().Format("2006-01-02")))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
