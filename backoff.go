package sseresume

import (
	"math/rand"
	"time"
)

// maxReconnectDelay caps the exponential backoff ceiling.
const maxReconnectDelay = 30 * time.Second

// backoffDelay computes the wait before reconnect attempt number attempt
// (1-based). The ceiling grows exponentially from base and is capped at
// maxReconnectDelay, the returned delay is drawn uniformly from
// [0, ceiling). Full jitter keeps reconnecting clients from synchronizing
// into retry storms.
func backoffDelay(attempt int, base time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = DefaultReconnectInterval
	}
	if attempt < 1 {
		attempt = 1
	}

	ceiling := base
	for i := 1; i < attempt; i++ {
		ceiling *= 2
		if ceiling >= maxReconnectDelay {
			ceiling = maxReconnectDelay
			break
		}
	}
	if ceiling > maxReconnectDelay {
		ceiling = maxReconnectDelay
	}
	return time.Duration(rng.Int63n(int64(ceiling)))
}
