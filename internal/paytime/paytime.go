// Package paytime provides the protocol clock. All protocol time is expressed
// in UNIX seconds (UTC); accrual and deadlines are computed on demand from
// timestamps, never advanced by a timer.
package paytime

import (
	"sync"
	"time"
)

// Clock yields the current protocol time in UNIX seconds.
type Clock interface {
	Now() uint64
}

type systemClock struct{}

func (systemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}

// Manual is a settable clock for tests and deterministic simulations.
type Manual struct {
	mu sync.Mutex
	t  uint64
}

// NewManual returns a manual clock positioned at t.
func NewManual(t uint64) *Manual {
	return &Manual{t: t}
}

func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *Manual) Set(t uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the clock forward by d seconds.
func (m *Manual) Advance(d uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t += d
}
