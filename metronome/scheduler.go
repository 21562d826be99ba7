// Package metronome schedules click events ahead of the audio clock.
//
// A coarse poll (every PollInterval) decides what to play; the audio sink
// gets each click with its exact audio-clock timestamp, so poll jitter never
// reaches the output. Visual beats trail the audio and are released by the
// poll once their timestamp has passed.
package metronome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pianocapture/clock"
	"pianocapture/debug"
	"pianocapture/notes"
)

var (
	ErrBadConfig = errors.New("bad metronome config")
	// ErrNoSink is returned by Start when there is no audio output to click on.
	ErrNoSink = errors.New("metronome has no audio output")
)

// Sink renders a click at an audio-clock time.
type Sink interface {
	ScheduleClick(at float64, accent bool)
}

// Canceller is implemented by sinks that can drop clicks they have not
// started playing. The scheduler uses it when a tempo change re-anchors the
// bar.
type Canceller interface {
	CancelPending()
}

// TempoChange selects how a live tempo or meter change is applied.
type TempoChange int

const (
	// Reanchor restarts the bar at the current time.
	Reanchor TempoChange = iota
	// PreserveBeat keeps the already computed next beat and bar position and
	// applies the new spacing from there.
	PreserveBeat
)

func ParseTempoChange(s string) (TempoChange, error) {
	switch s {
	case "", "reanchor":
		return Reanchor, nil
	case "preserve":
		return PreserveBeat, nil
	}
	return 0, fmt.Errorf("%w: tempo change %q", ErrBadConfig, s)
}

const (
	DefaultScheduleAhead = 100 * time.Millisecond
	DefaultPollInterval  = 25 * time.Millisecond
)

type Config struct {
	BPM           float64
	TimeSignature notes.TimeSignature
	ScheduleAhead time.Duration
	PollInterval  time.Duration
	TempoChange   TempoChange
}

func DefaultConfig() Config {
	return Config{
		BPM:           notes.DefaultTempo,
		TimeSignature: notes.CommonTime,
		ScheduleAhead: DefaultScheduleAhead,
		PollInterval:  DefaultPollInterval,
	}
}

func (c Config) Validate() error {
	if err := validateBPM(c.BPM); err != nil {
		return err
	}
	if err := c.TimeSignature.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	if c.ScheduleAhead <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: schedule ahead %v, poll %v", ErrBadConfig, c.ScheduleAhead, c.PollInterval)
	}
	return nil
}

func validateBPM(bpm float64) error {
	if bpm < notes.MinTempo || bpm > notes.MaxTempo {
		return fmt.Errorf("%w: bpm %.1f outside %.0f-%.0f", ErrBadConfig, bpm, notes.MinTempo, notes.MaxTempo)
	}
	return nil
}

type visualBeat struct {
	at   float64
	beat int
}

type pendingChange struct {
	bpm float64
	ts  notes.TimeSignature
}

// Scheduler is a lookahead click scheduler.
type Scheduler struct {
	mu    sync.Mutex
	clock *clock.AudioClock
	sink  Sink
	cfg   Config

	pending *pendingChange

	running       bool
	nextEventTime float64
	beat          int

	visual  []visualBeat
	current int // -1 when nothing has sounded yet
	beats   chan int
}

// New returns a stopped scheduler. The audio clock is owned by the caller.
func New(ac *clock.AudioClock, sink Sink, cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		clock:   ac,
		sink:    sink,
		cfg:     cfg,
		current: -1,
		beats:   make(chan int, 16),
	}, nil
}

// Start resumes the audio clock and anchors the first beat at its current
// time. If the clock cannot be resumed the scheduler stays stopped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.sink == nil {
		s.mu.Unlock()
		return ErrNoSink
	}
	if err := s.clock.Resume(); err != nil {
		s.mu.Unlock()
		return debug.Errorf("metronome", "start metronome: %w", err)
	}
	s.running = true
	s.nextEventTime = s.clock.Now()
	s.beat = 0
	s.current = -1
	s.visual = s.visual[:0]
	s.mu.Unlock()

	debug.Log("metronome", "started at %.1f bpm %s", s.cfg.BPM, s.cfg.TimeSignature)
	s.Poll()
	return nil
}

// Stop halts scheduling. Once Stop returns no further click or beat is
// emitted. Clicks already handed to the sink are the sink's business.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.visual = s.visual[:0]
	s.current = -1
drain:
	for {
		select {
		case <-s.beats:
		default:
			break drain
		}
	}
	debug.Log("metronome", "stopped")
}

// Run polls every PollInterval until ctx is done. The loop idles while the
// scheduler is stopped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.Poll()
		}
	}
}

// Poll schedules every beat that falls inside the lookahead window and
// releases visual beats whose time has come.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	now := s.clock.Now()
	s.applyPending(now)

	horizon := now + s.cfg.ScheduleAhead.Seconds()
	spb := 60 / s.cfg.BPM
	for s.nextEventTime < horizon {
		s.sink.ScheduleClick(s.nextEventTime, s.beat == 0)
		s.visual = append(s.visual, visualBeat{at: s.nextEventTime, beat: s.beat})
		s.nextEventTime += spb
		s.beat = (s.beat + 1) % s.cfg.TimeSignature.Numerator
	}

	released := 0
	for _, v := range s.visual {
		if v.at > now {
			break
		}
		s.current = v.beat
		released++
		select {
		case s.beats <- v.beat:
		default:
			debug.LogEvery(16, "metronome", "beat channel full, dropped beat %d", v.beat)
		}
	}
	s.visual = s.visual[released:]
}

// SetTempo queues a tempo change for the next poll.
func (s *Scheduler) SetTempo(bpm float64) error {
	if err := validateBPM(bpm); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingLocked()
	p.bpm = bpm
	if !s.running {
		s.applyPending(0)
	}
	return nil
}

// SetTimeSignature queues a meter change for the next poll.
func (s *Scheduler) SetTimeSignature(ts notes.TimeSignature) error {
	if err := ts.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingLocked()
	p.ts = ts
	if !s.running {
		s.applyPending(0)
	}
	return nil
}

func (s *Scheduler) pendingLocked() *pendingChange {
	if s.pending == nil {
		s.pending = &pendingChange{bpm: s.cfg.BPM, ts: s.cfg.TimeSignature}
	}
	return s.pending
}

func (s *Scheduler) applyPending(now float64) {
	p := s.pending
	if p == nil {
		return
	}
	s.pending = nil
	if p.bpm == s.cfg.BPM && p.ts == s.cfg.TimeSignature {
		return
	}
	s.cfg.BPM = p.bpm
	s.cfg.TimeSignature = p.ts
	if !s.running {
		return
	}
	switch s.cfg.TempoChange {
	case PreserveBeat:
		s.beat %= s.cfg.TimeSignature.Numerator
	default:
		if c, ok := s.sink.(Canceller); ok {
			c.CancelPending()
		}
		kept := s.visual[:0]
		for _, v := range s.visual {
			if v.at <= now {
				kept = append(kept, v)
			}
		}
		s.visual = kept
		s.nextEventTime = now
		s.beat = 0
	}
	debug.Log("metronome", "tempo now %.1f bpm %s", s.cfg.BPM, s.cfg.TimeSignature)
}

// Beats streams beat indices as they sound, for visual indicators.
func (s *Scheduler) Beats() <-chan int {
	return s.beats
}

// CurrentBeat is the index in the bar of the last beat that sounded, or -1.
func (s *Scheduler) CurrentBeat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) BPM() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return s.pending.bpm
	}
	return s.cfg.BPM
}

func (s *Scheduler) TimeSignature() notes.TimeSignature {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return s.pending.ts
	}
	return s.cfg.TimeSignature
}

// NextEventTime is the audio time of the next beat not yet handed to the sink.
func (s *Scheduler) NextEventTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextEventTime
}
