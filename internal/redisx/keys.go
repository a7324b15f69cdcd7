package redisx

import "time"

const (
	// HTTP idempotency: idem:{scope}:{Idempotency-Key} -> cached response body
	KeyIdempotency = "idem:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	// TTLInFlight bounds a claim whose holder died before finishing.
	TTLInFlight = 2 * time.Minute
)
