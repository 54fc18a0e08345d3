package domain

import "time"

// Clock supplies the current time. It is injected into every component that
// computes batch windows, credential expiry or backoff timestamps so those
// decisions are deterministic under test.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// NewClock returns a Clock backed by the system time in UTC
func NewClock() Clock {
	return realClock{}
}
