package session

import (
	"sync"
	"time"
)

type Clock interface {
	NowMs() int64
}

type RealClock struct{}

func (RealClock) NowMs() int64 { return time.Now().UnixMilli() }

// FakeClock only moves when told to.
type FakeClock struct {
	mu sync.Mutex
	ms int64
}

func NewFakeClock(startMs int64) *FakeClock {
	return &FakeClock{ms: startMs}
}

func (c *FakeClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *FakeClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.ms += d.Milliseconds()
	c.mu.Unlock()
}
