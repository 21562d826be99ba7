// Package recorder turns live key-down/key-up events into a normalized note
// sequence.
//
// Notes are stamped against a virtual timeline rather than the wall clock.
// After PauseTimeout of silence the timeline freezes; the next key press
// resumes it at lastNoteEnd+ResumeGap, so a page turn does not show up as a
// long gap. If nothing is played for a second PauseTimeout the recording
// completes.
//
// The recorder owns no timers. It keeps a single wake-up deadline which an
// external driver checks by calling Tick, so tests can run it on synthetic
// time.
package recorder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pianocapture/clock"
	"pianocapture/debug"
	"pianocapture/notes"
)

// Phase of a recording session.
type Phase int

const (
	Idle      Phase = iota
	Recording       // capturing, timeline running or about to resume
	Paused          // timeline frozen, completion countdown running
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Countdown identifies which deadline is armed.
type Countdown int

const (
	NoCountdown Countdown = iota
	PauseCountdown
	CompleteCountdown
)

// Progress is the state of the "recording ending" indicator.
type Progress struct {
	Phase     Phase
	Countdown Countdown
	Fraction  float64 // 0-1 through the armed countdown
}

type press struct {
	pitch    int
	start    float64
	velocity float64
}

// Recorder captures one performance at a time.
type Recorder struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg Config

	phase   Phase
	seq     *notes.Sequence
	pressed map[string]press

	// virtual timeline
	origin      float64 // clock time of virtual zero
	paused      bool
	pausedAt    float64
	lastNoteEnd float64
	lastVirtual float64

	wake    Countdown
	wakeAt  float64
	armedAt float64
}

// New returns an idle recorder reading time from clk.
func New(clk clock.Clock, cfg Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Recorder{
		clk:     clk,
		cfg:     cfg,
		pressed: make(map[string]press),
	}, nil
}

// NoteDown records a key press. It starts a new recording when idle and
// always cancels a pending pause or completion.
func (r *Recorder) NoteDown(key string, velocity float64) error {
	pitch, err := notes.DecodeKey(key)
	if err != nil {
		return fmt.Errorf("note down: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	if r.phase == Idle {
		r.start(now)
	} else {
		r.catchUp(now)
	}
	r.disarm()
	r.phase = Recording

	if _, held := r.pressed[key]; held {
		debug.Log("recorder", "repeat down for %s ignored", key)
		return nil
	}
	r.pressed[key] = press{
		pitch:    pitch,
		start:    r.virtualTime(now),
		velocity: notes.ClampVelocity(velocity),
	}
	return nil
}

// NoteUp completes the note started by the matching NoteDown. A release
// without a press is ignored.
func (r *Recorder) NoteUp(key string) error {
	if _, err := notes.DecodeKey(key); err != nil {
		return fmt.Errorf("note up: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pressed[key]; !ok {
		debug.Log("recorder", "orphan up for %s ignored", key)
		return nil
	}
	now := r.clk.Now()
	if err := r.release(key, now); err != nil {
		return fmt.Errorf("note up: %w", err)
	}
	if len(r.pressed) == 0 {
		r.arm(PauseCountdown, now, now+r.cfg.PauseTimeout.Seconds())
	}
	return nil
}

// release closes the held note for key at clock time now.
func (r *Recorder) release(key string, now float64) error {
	p := r.pressed[key]
	delete(r.pressed, key)
	end := r.virtualTime(now)
	n := notes.Note{Pitch: p.pitch, StartTime: p.start, EndTime: end, Velocity: p.velocity}.Clamp()
	if err := r.seq.Append(n); err != nil {
		// Clamp guarantees validity; reaching here is a bug.
		return err
	}
	if n.EndTime > r.lastNoteEnd {
		r.lastNoteEnd = n.EndTime
	}
	return nil
}

// Tick fires any deadline that has passed. It returns the finished
// sequence when the recording completes, otherwise nil.
func (r *Recorder) Tick() *notes.Sequence {
	r.mu.Lock()
	seq := r.fire(r.clk.Now())
	onComplete := r.cfg.OnComplete
	r.mu.Unlock()

	if seq != nil && onComplete != nil {
		onComplete(seq)
	}
	return seq
}

// Finish completes the recording in progress right away. Held notes end
// now. The sequence goes to OnComplete as usual; nil means nothing was
// captured.
func (r *Recorder) Finish() *notes.Sequence {
	r.mu.Lock()
	var seq *notes.Sequence
	if r.phase != Idle {
		now := r.clk.Now()
		r.catchUp(now)
		keys := make([]string, 0, len(r.pressed))
		for k := range r.pressed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := r.release(k, now); err != nil {
				debug.Warn("recorder", "finish: %v", err)
			}
		}
		seq = r.complete()
	}
	onComplete := r.cfg.OnComplete
	r.mu.Unlock()

	if seq != nil && onComplete != nil {
		onComplete(seq)
	}
	return seq
}

// Cancel discards the recording in progress without emitting it.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != Idle {
		debug.Log("recorder", "cancelled with %d notes", len(r.seq.Notes))
	}
	r.reset()
}

// SetMeta changes the tempo and meter stamped on recordings, including the
// one in progress.
func (r *Recorder) SetMeta(tempo float64, ts notes.TimeSignature) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.cfg
	cfg.Tempo = tempo
	cfg.TimeSignature = ts
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg = cfg
	if r.seq != nil {
		r.seq.Tempo = tempo
		r.seq.TimeSignature = ts
	}
	return nil
}

// WakeAt returns the armed deadline in clock seconds, and false if none.
func (r *Recorder) WakeAt() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wakeAt, r.wake != NoCountdown
}

// Progress reports how far the current countdown has run.
func (r *Recorder) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Progress{Phase: r.phase, Countdown: r.wake}
	if r.wake != NoCountdown && r.wakeAt > r.armedAt {
		f := (r.clk.Now() - r.armedAt) / (r.wakeAt - r.armedAt)
		p.Fraction = min(max(f, 0), 1)
	}
	return p
}

func (r *Recorder) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Recording reports whether a recording is in progress, paused or not.
func (r *Recorder) Recording() bool {
	return r.Phase() != Idle
}

// Captured returns the number of completed notes in the current recording.
func (r *Recorder) Captured() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seq == nil {
		return 0
	}
	return len(r.seq.Notes)
}

// Held returns the pitches currently down, ascending.
func (r *Recorder) Held() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := make([]int, 0, len(r.pressed))
	for _, p := range r.pressed {
		held = append(held, p.pitch)
	}
	sort.Ints(held)
	return held
}

func (r *Recorder) start(now float64) {
	r.seq = notes.NewSequence(r.cfg.Tempo, r.cfg.TimeSignature)
	r.origin = now
	r.paused = false
	r.pausedAt = 0
	r.lastNoteEnd = 0
	r.lastVirtual = 0
	r.phase = Recording
	debug.Log("recorder", "recording started")
}

// virtualTime reads the timeline. A paused timeline resumes here, at
// lastNoteEnd+ResumeGap. Results never decrease.
func (r *Recorder) virtualTime(now float64) float64 {
	var vt float64
	if r.paused {
		vt = r.lastNoteEnd + r.cfg.ResumeGap.Seconds()
		r.origin = now - vt
		r.paused = false
		debug.Log("recorder", "timeline resumed at %.3f (frozen at %.3f)", vt, r.pausedAt)
	} else {
		vt = now - r.origin
	}
	if vt < r.lastVirtual {
		vt = r.lastVirtual
	}
	r.lastVirtual = vt
	return vt
}

// catchUp applies an overdue pause before new input is stamped. An overdue
// completion is not applied: new input supersedes a pending stop.
func (r *Recorder) catchUp(now float64) {
	if r.wake == PauseCountdown && now >= r.wakeAt {
		r.pause()
	}
}

func (r *Recorder) fire(now float64) *notes.Sequence {
	if r.wake == PauseCountdown && now >= r.wakeAt {
		r.pause()
	}
	if r.wake == CompleteCountdown && now >= r.wakeAt {
		return r.complete()
	}
	return nil
}

func (r *Recorder) pause() {
	r.paused = true
	r.pausedAt = r.lastNoteEnd
	r.phase = Paused
	start := r.wakeAt
	r.arm(CompleteCountdown, start, start+r.cfg.PauseTimeout.Seconds())
	debug.Log("recorder", "timeline paused at %.3f", r.pausedAt)
}

func (r *Recorder) complete() *notes.Sequence {
	seq := r.seq
	r.reset()
	if seq == nil || seq.Empty() {
		return nil
	}
	seq.Normalize()
	seq.ID = uuid.NewString()
	debug.Log("recorder", "recording %s complete: %d notes, %.3fs", seq.ID, len(seq.Notes), seq.TotalTime)
	return seq
}

func (r *Recorder) arm(c Countdown, from, at float64) {
	r.wake = c
	r.armedAt = from
	r.wakeAt = at
}

func (r *Recorder) disarm() {
	r.wake = NoCountdown
	r.wakeAt = 0
	r.armedAt = 0
}

func (r *Recorder) reset() {
	r.phase = Idle
	r.seq = nil
	clear(r.pressed)
	r.paused = false
	r.pausedAt = 0
	r.lastNoteEnd = 0
	r.lastVirtual = 0
	r.disarm()
}
