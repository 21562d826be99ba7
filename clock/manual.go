package clock

import "sync"

// Manual is a clock that only moves when told to. It implements Backend so
// tests can drive every component with synthetic time.
type Manual struct {
	mu  sync.Mutex
	now float64

	// ResumeErr, when set, is returned from Resume.
	ResumeErr error
	closed    bool
}

func NewManual(start float64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d seconds. Negative values are ignored.
func (m *Manual) Advance(d float64) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Set jumps to t if it is not in the past.
func (m *Manual) Set(t float64) {
	m.mu.Lock()
	if t > m.now {
		m.now = t
	}
	m.mu.Unlock()
}

func (m *Manual) Resume() error {
	return m.ResumeErr
}

func (m *Manual) Suspend() error {
	return nil
}

func (m *Manual) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Manual) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
