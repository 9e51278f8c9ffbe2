package redisx

import "time"

const (
	// Order status cache: canteen:order_status:{order_id} -> "READY"
	KeyOrderStatus = "canteen:order_status:%s"

	// Session tokens: canteen:session:{token} -> {"user_id":"...","role":"..."}
	KeySession = "canteen:session:%s"

	// Dedup for event consumers: canteen:dedup:{service}:{event_id}
	KeyDedup = "canteen:dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLSession     = 12 * time.Hour
	TTLDedup       = 48 * time.Hour
)
