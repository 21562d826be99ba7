// Package gate drives guided playback of a note sequence.
//
// The score is cut into gates, one per distinct onset. The playhead runs
// until it reaches the next gate and then waits there until every required
// pitch is held. Timing inside a gate is lenient; repeated pitches must be
// struck again.
package gate

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"pianocapture/debug"
	"pianocapture/notes"
)

var ErrBadConfig = errors.New("bad gate config")

// snap is how far past a gate the playhead lands once the gate passes.
const snap = 0.001

type Config struct {
	Speed   float64
	Quantum time.Duration
}

func DefaultConfig() Config {
	return Config{Speed: 1, Quantum: 10 * time.Millisecond}
}

func (c Config) Validate() error {
	if c.Speed <= 0 {
		return fmt.Errorf("%w: speed %v", ErrBadConfig, c.Speed)
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("%w: quantum %v", ErrBadConfig, c.Quantum)
	}
	return nil
}

type State int

const (
	Stopped State = iota
	Running
	Waiting
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Matcher is the guided-playback state machine. Tick is driven by the
// visual frame loop; NoteOn and NoteOff by the input stream.
type Matcher struct {
	mu    sync.Mutex
	seq   *notes.Sequence
	gates []Gate
	speed float64
	end   float64

	playing bool
	waiting bool
	ended   bool
	t       float64
	idx     int

	// Presses are stamped with a running event count. A fresh-press pitch
	// counts only if its stamp is newer than waitEpoch.
	events    uint64
	waitEpoch uint64
	held      map[int]uint64

	sounding []int
}

// NewMatcher derives the gates of seq and returns a stopped matcher at 0.
func NewMatcher(seq *notes.Sequence, cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{
		seq:   seq,
		gates: Build(seq, cfg.Quantum.Seconds()),
		speed: cfg.Speed,
		end:   seq.TotalTime,
		held:  make(map[int]uint64),
	}
	m.updateSounding()
	debug.Log("gate", "%d gates over %.3fs", len(m.gates), m.end)
	return m, nil
}

// Play starts or resumes playback. Playing an ended matcher starts over.
func (m *Matcher) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		m.reset()
	}
	if m.playing {
		return
	}
	m.playing = true
	if m.waiting {
		m.tryPass()
	} else {
		m.advance(0)
	}
}

func (m *Matcher) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

// Stop rewinds to the start and forgets all satisfaction state.
func (m *Matcher) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// Seek moves the playhead for display. Gate progress is left alone.
func (m *Matcher) Seek(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = min(max(t, 0), m.end)
	m.updateSounding()
}

// SetSpeed changes the playback speed multiplier.
func (m *Matcher) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("%w: speed %v", ErrBadConfig, speed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = speed
	return nil
}

// Tick advances the playhead by elapsed seconds of wall time.
func (m *Matcher) Tick(elapsed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.playing || m.waiting || elapsed <= 0 {
		return
	}
	m.advance(elapsed * m.speed)
}

// NoteOn registers a key press. A repeated on for a key already down is
// not a new press.
func (m *Matcher) NoteOn(pitch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[pitch]; ok {
		debug.Log("gate", "repeat on for %d ignored", pitch)
		return
	}
	m.events++
	m.held[pitch] = m.events
	if m.playing && m.waiting && slices.Contains(m.gates[m.idx].Required, pitch) {
		m.tryPass()
	}
}

// NoteOff registers a key release. Releases of keys never pressed are
// ignored.
func (m *Matcher) NoteOff(pitch int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[pitch]; !ok {
		debug.Log("gate", "orphan off for %d ignored", pitch)
		return
	}
	m.events++
	delete(m.held, pitch)
}

func (m *Matcher) advance(dt float64) {
	target := m.t + dt
	if m.idx < len(m.gates) {
		g := m.gates[m.idx]
		if target >= g.Time {
			m.t = max(m.t, g.Time)
			m.updateSounding()
			m.wait()
			return
		}
	}
	if target >= m.end && m.idx >= len(m.gates) {
		m.t = m.end
		m.updateSounding()
		m.playing = false
		m.ended = true
		debug.Log("gate", "playback ended at %.3f", m.t)
		return
	}
	m.t = min(target, m.end)
	m.updateSounding()
}

func (m *Matcher) wait() {
	m.waiting = true
	m.waitEpoch = m.events
	debug.Log("gate", "waiting at gate %d (%.3f) for %v", m.idx, m.gates[m.idx].Time, m.gates[m.idx].Required)
	m.tryPass()
}

func (m *Matcher) satisfied(g Gate, pitch int) bool {
	stamp, ok := m.held[pitch]
	if !ok {
		return false
	}
	return !g.IsFresh(pitch) || stamp > m.waitEpoch
}

func (m *Matcher) tryPass() {
	g := m.gates[m.idx]
	for _, p := range g.Required {
		if !m.satisfied(g, p) {
			return
		}
	}
	m.waiting = false
	m.idx++
	m.t = max(m.t, g.Time+snap)
	m.updateSounding()
	debug.Log("gate", "gate %d passed", g.Index)
}

func (m *Matcher) reset() {
	m.playing = false
	m.waiting = false
	m.ended = false
	m.t = 0
	m.idx = 0
	// keys physically down stay down; waitEpoch alone marks them stale
	m.waitEpoch = m.events
	m.updateSounding()
}

func (m *Matcher) updateSounding() {
	m.sounding = m.sounding[:0]
	for i, n := range m.seq.Notes {
		if n.SoundingAt(m.t) {
			m.sounding = append(m.sounding, i)
		}
	}
}

func (m *Matcher) Time() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *Matcher) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.ended:
		return Ended
	case !m.playing && (m.waiting || m.idx > 0 || m.t > 0):
		return Paused
	case !m.playing:
		return Stopped
	case m.waiting:
		return Waiting
	}
	return Running
}

func (m *Matcher) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// GateIndex is the index of the next gate to be satisfied.
func (m *Matcher) GateIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx
}

func (m *Matcher) Gates() []Gate {
	return m.gates
}

// Sounding returns the ids of notes under the playhead.
func (m *Matcher) Sounding() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sounding)
}

// Pending returns the ids of the next gate's notes whose pitch is not yet
// satisfied.
func (m *Matcher) Pending() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx >= len(m.gates) {
		return nil
	}
	g := m.gates[m.idx]
	var ids []int
	for _, id := range g.NoteIDs {
		if !m.waiting || !m.satisfied(g, m.seq.Notes[id].Pitch) {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingPitches is Pending as pitches, ascending and without duplicates.
func (m *Matcher) PendingPitches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx >= len(m.gates) {
		return nil
	}
	g := m.gates[m.idx]
	var pitches []int
	for _, p := range g.Required {
		if !m.waiting || !m.satisfied(g, p) {
			pitches = append(pitches, p)
		}
	}
	sort.Ints(pitches)
	return pitches
}
