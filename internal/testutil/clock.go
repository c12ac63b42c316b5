package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock hands out a controllable time so tests can pin timestamps
// and step through retry windows. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock starting at t.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock pinned to 2025-03-01 09:00:00 UTC, the
// shared fixture instant for created_at assertions.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator yields deterministic sequential IDs ("id-1", "id-2")
// so entity identity is predictable in assertions.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
