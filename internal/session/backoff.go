package session

import "time"

const (
	// ReconnectBase is the delay before the first retry.
	ReconnectBase = 500 * time.Millisecond
	// ReconnectCap bounds the retry cadence.
	ReconnectCap = 8 * time.Second

	reconnectFactor = 4
)

// ReconnectDelay returns the backoff delay before retry attempt+1. The
// schedule is 500ms, 2s, 8s, 8s, ... — exponential from the base, capped.
func ReconnectDelay(attempt uint) time.Duration {
	d := ReconnectBase
	for i := uint(0); i < attempt; i++ {
		d *= reconnectFactor
		if d >= ReconnectCap {
			return ReconnectCap
		}
	}
	return d
}
