package engine

import (
	"math"
	"sync"
	"time"
)

// Clock is the monotonic game clock the simulation reads.
type Clock interface {
	NowMillis() int64
	TimeScale() float64
	IsPaused() bool
}

// GameClock is a Clock advanced explicitly by the simulation loop. Game time
// moves by real elapsed time multiplied by the time scale, and stands still
// while paused.
type GameClock struct {
	mu     sync.RWMutex
	now    int64
	frac   float64 // sub-millisecond remainder carried between advances
	scale  float64
	paused bool
}

// NewGameClock creates a clock starting at start game millis
func NewGameClock(start int64) *GameClock {
	return &GameClock{now: start, scale: 1}
}

// NowMillis returns the current game time
func (c *GameClock) NowMillis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// TimeScale returns the game speed multiplier
func (c *GameClock) TimeScale() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scale
}

// IsPaused reports whether the clock is paused
func (c *GameClock) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Advance moves game time forward by real elapsed time times the scale. The
// fractional millisecond is carried, so over many calls game time equals the
// scaled sum of real time, the same quantity trains move by.
func (c *GameClock) Advance(real time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || real <= 0 {
		return
	}
	total := c.frac + float64(real)/float64(time.Millisecond)*c.scale
	whole := math.Floor(total)
	c.now += int64(whole)
	c.frac = total - whole
}

// SetTimeScale changes the game speed; non-positive scales are ignored
func (c *GameClock) SetTimeScale(scale float64) {
	if scale <= 0 {
		return
	}
	c.mu.Lock()
	c.scale = scale
	c.mu.Unlock()
}

// Pause stops game time
func (c *GameClock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts game time
func (c *GameClock) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Set jumps the clock to an absolute game time. Used when restoring snapshots.
func (c *GameClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.frac = 0
	c.mu.Unlock()
}
