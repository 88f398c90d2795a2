package redisx

import "time"

const (
	// Rate-limit window counter: rl:{scope}:{identity}:{windowStart}
	KeyRateLimit = "rl:%s:%s:%d"

	// Cache order status by public code: order_status:{order_code}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
