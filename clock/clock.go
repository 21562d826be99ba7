// Package clock holds the time sources shared by the capture engine: the
// audio clock, an explicitly owned resource with an acquire/resume/release
// lifecycle, and plain monotonic clocks for the visual side.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrClockReleased    = errors.New("audio clock released")
	ErrClockUnavailable = errors.New("audio clock unavailable")
)

// Clock is a monotonic time source in seconds.
type Clock interface {
	Now() float64
}

// Backend is the hardware behind an AudioClock.
type Backend interface {
	Clock
	Resume() error
	Suspend() error
	Close() error
}

// State of an AudioClock.
type State int

const (
	Suspended State = iota
	Running
	Released
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Released:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AudioClock wraps a Backend. The host acquires exactly one and passes it to
// every component that needs audio time; components read Now and may ask for
// Resume, but only the host releases it.
type AudioClock struct {
	mu      sync.Mutex
	backend Backend
	state   State
}

// Acquire takes ownership of b. The clock starts suspended.
func Acquire(b Backend) *AudioClock {
	return &AudioClock{backend: b, state: Suspended}
}

// Now returns the backend time in seconds.
func (c *AudioClock) Now() float64 {
	return c.backend.Now()
}

// State returns the lifecycle state.
func (c *AudioClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume starts the backend if it is not already running.
func (c *AudioClock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Released:
		return ErrClockReleased
	case Running:
		return nil
	}
	if err := c.backend.Resume(); err != nil {
		return fmt.Errorf("%w: %w", ErrClockUnavailable, err)
	}
	c.state = Running
	return nil
}

// Suspend pauses the backend.
func (c *AudioClock) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Released:
		return ErrClockReleased
	case Suspended:
		return nil
	}
	if err := c.backend.Suspend(); err != nil {
		return fmt.Errorf("suspend audio clock: %w", err)
	}
	c.state = Suspended
	return nil
}

// Release closes the backend. The clock is unusable afterwards.
func (c *AudioClock) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Released {
		return nil
	}
	c.state = Released
	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("release audio clock: %w", err)
	}
	return nil
}

// Wall is a monotonic clock measured from its creation.
type Wall struct {
	t0 time.Time
}

func NewWall() *Wall {
	return &Wall{t0: time.Now()}
}

func (w *Wall) Now() float64 {
	return time.Since(w.t0).Seconds()
}

// Resume, Suspend and Close let Wall stand in as a Backend when no audio
// device is present.
func (w *Wall) Resume() error  { return nil }
func (w *Wall) Suspend() error { return nil }
func (w *Wall) Close() error   { return nil }
