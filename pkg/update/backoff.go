package update

import (
	"math"
	"time"
)

// exponentialSeconds implements backoff.BackOff with the delay curve spec
// §4.7 mandates: 2^attempt seconds, attempt starting at 1.
type exponentialSeconds struct {
	attempt int
}

func (b *exponentialSeconds) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(math.Pow(2, float64(b.attempt))) * time.Second
}

func (b *exponentialSeconds) Reset() {
	b.attempt = 0
}
