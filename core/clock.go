package core

import "sync"

// HeightSource reports the block height the ledger accrues interest against.
type HeightSource interface {
	Height() uint64
}

// ManualClock is a HeightSource advanced explicitly, used by development
// deployments and tests.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
}

// NewManualClock starts the clock at height.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

// Height implements HeightSource.
func (c *ManualClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Advance moves the clock forward by blocks and returns the new height.
func (c *ManualClock) Advance(blocks uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += blocks
	return c.height
}

// Set moves the clock to height. Heights never decrease.
func (c *ManualClock) Set(height uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
	return c.height
}
