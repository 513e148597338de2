// Package clock provides the real-time tick source that drives the simulation.
// It pushes ticks to subscribers; subscribers never poll wall time.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// TickObserver receives clock pushes. The engine's Scheduler satisfies it.
type TickObserver interface {
	OnSimTick(ticksElapsed int)
	OnBigJump(hours float64)
}

// Default cadence: one tick per sim-minute.
const (
	TicksPerSimHour = 60
	TicksPerSimDay  = 1440
	MaxJumpTicks    = 100_000
)

// ErrJumpTooLong is returned for a jump spanning more than MaxJumpTicks.
var ErrJumpTooLong = errors.New("jump exceeds max ticks")

// Clock drives subscribers forward. All pushes are serialized, so observers
// see ticks strictly in order from one logical thread.
type Clock struct {
	Interval     time.Duration // Wall time per tick at speed 1
	TicksPerHour int
	MaxJumpTicks int // Longest span one Jump may replay

	// OnDay, if set, runs after every sim-day boundary (auto-save).
	OnDay func(tick uint64)

	mu        sync.Mutex
	tick      uint64
	speed     float64 // 1.0 = real-time, 0 = paused
	observers []TickObserver
	cancel    context.CancelFunc
}

// New creates a clock starting after tick start.
func New(start uint64) *Clock {
	return &Clock{
		Interval:     time.Second,
		TicksPerHour: TicksPerSimHour,
		MaxJumpTicks: MaxJumpTicks,
		tick:         start,
		speed:        1.0,
	}
}

// Subscribe registers an observer.
func (c *Clock) Subscribe(o TickObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Tick returns the current tick.
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Speed returns the speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if speed < 0 {
		speed = 0
	}
	c.speed = speed
}

// Run pushes ticks until ctx is done or Stop is called.
func (c *Clock) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	slog.Info("clock started", "tick", c.Tick(), "speed", c.Speed())
	defer func() { slog.Info("clock stopped", "tick", c.Tick()) }()

	for {
		speed := c.Speed()
		wait := 100 * time.Millisecond // paused: check again shortly
		if speed > 0 {
			start := time.Now()
			c.Step()
			wait = time.Duration(float64(c.Interval)/speed) - time.Since(start)
		}
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Stop halts a running clock.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Step advances one tick and notifies observers.
func (c *Clock) Step() {
	c.mu.Lock()
	c.tick++
	tick := c.tick
	for _, o := range c.observers {
		o.OnSimTick(1)
	}
	onDay := c.OnDay
	day := c.ticksPerDay()
	c.mu.Unlock()

	if onDay != nil && tick%day == 0 {
		onDay(tick)
	}
}

func (c *Clock) ticksPerDay() uint64 {
	if c.TicksPerHour < 1 {
		return TicksPerSimDay
	}
	return uint64(c.TicksPerHour) * 24
}

// Jump skips forward by hours of sim time. Observers replay the span and the
// clock advances by the same whole number of ticks. A span longer than
// MaxJumpTicks is refused untouched. OnDay runs once if the jump crossed a
// day boundary.
func (c *Clock) Jump(hours float64) (uint64, error) {
	if !(hours > 0) {
		return 0, nil
	}
	c.mu.Lock()
	span := math.Floor(hours * float64(c.TicksPerHour))
	if span > float64(c.MaxJumpTicks) {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %v hours is %v ticks, max %d", ErrJumpTooLong, hours, span, c.MaxJumpTicks)
	}
	ticks := uint64(span)
	before := c.tick
	for _, o := range c.observers {
		o.OnBigJump(hours)
	}
	c.tick += ticks
	after := c.tick
	onDay := c.OnDay
	day := c.ticksPerDay()
	c.mu.Unlock()

	if onDay != nil && after/day != before/day {
		onDay(after)
	}
	return ticks, nil
}

// MaxJumpHours is the longest jump Jump accepts.
func (c *Clock) MaxJumpHours() float64 {
	return float64(c.MaxJumpTicks) / float64(c.TicksPerHour)
}

// SimTime renders a tick as a calendar-style string.
func SimTime(tick uint64) string {
	minutes := tick % 60
	totalHours := tick / 60
	hours := totalHours % 24
	days := totalHours / 24
	return fmt.Sprintf("Day %d, %02d:%02d", days+1, hours, minutes)
}
