// Package session wires the recorder, metronome and guided playback to a
// keyboard and an audio clock, and runs the loops that drive them.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"

	"pianocapture/clock"
	"pianocapture/config"
	"pianocapture/debug"
	"pianocapture/gate"
	"pianocapture/metronome"
	"pianocapture/midi"
	"pianocapture/notes"
	"pianocapture/recorder"
)

// Frame rate of the visual loop
const frameFPS = 30

const defaultSaveDelay = 500 * time.Millisecond

// ErrNoGuide is returned by guide controls before a piece is loaded.
var ErrNoGuide = errors.New("no guide loaded")

// Hand selects which part of a piece the guide follows.
type Hand string

const (
	BothHands Hand = ""
	RightHand Hand = "right"
	LeftHand  Hand = "left"
)

type volumeSetter interface {
	SetVolume(v float64)
}

type Options struct {
	Config *config.Config
	// ConfigPath is where tempo changes are persisted. Empty uses the
	// default path.
	ConfigPath string
	// SaveDelay debounces config writes. Zero uses 500ms.
	SaveDelay time.Duration

	// Clock is the audio clock backend, normally the audio engine.
	Clock clock.Backend
	// Sink renders metronome clicks.
	Sink metronome.Sink

	// OnRecording is called with every finished recording after export.
	OnRecording func(Recording)
}

// Recording is a finished take.
type Recording struct {
	Sequence *notes.Sequence
	// Paths of the exported files, empty when export is disabled.
	MIDIPath string
	JSONPath string
	Err      error
}

// Session is the running host
type Session struct {
	cfg        *config.Config
	configPath string
	saveConfig func(func())

	clock     *clock.AudioClock
	sink      metronome.Sink
	scheduler *metronome.Scheduler
	recorder  *recorder.Recorder

	mu         sync.RWMutex
	guide      *gate.Matcher
	guideSeq   *notes.Sequence
	guideName  string
	recordings []Recording
	lastFrame  float64
	lastErr    error

	onRecording func(Recording)

	inputChan chan midi.NoteEvent
	// closed once Run has returned
	stopped chan struct{}

	// Notify TUI of updates
	UpdateChan chan struct{}
}

// New builds a session. The audio clock is acquired here and released when
// Run returns.
func New(opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("session: %w", clock.ErrClockUnavailable)
	}
	delay := opts.SaveDelay
	if delay <= 0 {
		delay = defaultSaveDelay
	}

	s := &Session{
		cfg:         cfg,
		configPath:  opts.ConfigPath,
		saveConfig:  debounce.New(delay),
		clock:       clock.Acquire(opts.Clock),
		sink:        opts.Sink,
		onRecording: opts.OnRecording,
		inputChan:   make(chan midi.NoteEvent, 64),
		stopped:     make(chan struct{}),
		UpdateChan:  make(chan struct{}, 1),
	}

	mc, err := cfg.MetronomeConfig()
	if err != nil {
		return nil, err
	}
	if cfg.UI.LastTempo >= notes.MinTempo && cfg.UI.LastTempo <= notes.MaxTempo {
		mc.BPM = cfg.UI.LastTempo
	}
	s.scheduler, err = metronome.New(s.clock, opts.Sink, mc)
	if err != nil {
		return nil, err
	}
	if v, ok := opts.Sink.(volumeSetter); ok {
		v.SetVolume(cfg.Metronome.Volume)
	}

	rc, err := cfg.RecorderConfig()
	if err != nil {
		return nil, err
	}
	rc.Tempo = mc.BPM
	rc.OnComplete = s.finishRecording
	s.recorder, err = recorder.New(s.clock, rc)
	if err != nil {
		return nil, err
	}
	s.lastFrame = s.clock.Now()
	return s, nil
}

// Run resumes the audio clock and drives the session until ctx is done.
// All loops have exited when Run returns, and a take in progress has been
// finished and exported.
func (s *Session) Run(ctx context.Context) error {
	if err := s.clock.Resume(); err != nil {
		return debug.Errorf("session", "start session: %w", err)
	}
	s.mu.Lock()
	s.lastFrame = s.clock.Now()
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.frameLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.inputLoop(ctx)
	}()
	wg.Wait()
	close(s.stopped)

	s.recorder.Finish()
	if err := s.clock.Release(); err != nil {
		debug.Log("session", "release clock: %v", err)
	}
	return nil
}

// AttachKeyboard forwards a controller's notes into the session until the
// controller closes its channel. Keys still down when it closes are
// released.
func (s *Session) AttachKeyboard(ctrl midi.Controller) {
	go func() {
		held := make(map[uint8]midi.NoteEvent)
		for evt := range ctrl.NoteEvents() {
			if evt.On {
				held[evt.Note] = evt
			} else {
				delete(held, evt.Note)
			}
			s.forward(evt)
		}
		for _, evt := range held {
			evt.On = false
			evt.Velocity = 0
			s.forward(evt)
		}
		debug.Log("session", "keyboard %s detached, released %d keys", ctrl.ID(), len(held))
	}()
}

// forward queues a key event for the input loop. Note-ons may be dropped
// under load; note-offs wait, since a lost release holds a note forever.
func (s *Session) forward(evt midi.NoteEvent) {
	if !evt.On {
		select {
		case s.inputChan <- evt:
		case <-s.stopped:
		}
		return
	}
	select {
	case s.inputChan <- evt:
	default:
		debug.LogEvery(32, "session", "input full, dropped %s", evt.Key())
	}
}

// WatchDevices attaches every keyboard the device manager reports.
func (s *Session) WatchDevices(ctx context.Context, dm *midi.DeviceManager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-dm.Events():
			if !ok {
				return
			}
			if ev.Type == midi.DeviceConnected {
				s.AttachKeyboard(ev.Controller)
			}
			s.notify()
		}
	}
}

func (s *Session) inputLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.inputChan:
			s.HandleNote(evt)
		}
	}
}

func (s *Session) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second / frameFPS)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Frame()
		}
	}
}

// HandleNote routes one key event to the recorder and the guide.
func (s *Session) HandleNote(evt midi.NoteEvent) {
	key := evt.Key()
	var err error
	if evt.On {
		err = s.recorder.NoteDown(key, evt.Level())
	} else {
		err = s.recorder.NoteUp(key)
	}
	if err != nil {
		s.setErr(err)
	}

	s.mu.RLock()
	g := s.guide
	s.mu.RUnlock()
	if g != nil {
		if evt.On {
			g.NoteOn(int(evt.Note))
		} else {
			g.NoteOff(int(evt.Note))
		}
	}
	s.notify()
}

// Frame advances everything driven by the visual cadence: recorder
// deadlines and the guide playhead.
func (s *Session) Frame() {
	s.recorder.Tick()

	now := s.clock.Now()
	s.mu.Lock()
	elapsed := now - s.lastFrame
	s.lastFrame = now
	g := s.guide
	s.mu.Unlock()

	if g != nil {
		g.Tick(elapsed)
	}
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.UpdateChan <- struct{}{}:
	default:
	}
}

func (s *Session) setErr(err error) {
	debug.Warn("session", "%v", err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Metronome

func (s *Session) StartMetronome() error {
	if err := s.scheduler.Start(); err != nil {
		s.setErr(err)
		return err
	}
	s.notify()
	return nil
}

func (s *Session) StopMetronome() {
	s.scheduler.Stop()
	if c, ok := s.sink.(metronome.Canceller); ok {
		c.CancelPending()
	}
	s.notify()
}

func (s *Session) ToggleMetronome() error {
	if s.scheduler.Running() {
		s.StopMetronome()
		return nil
	}
	return s.StartMetronome()
}

// SetTempo changes the metronome tempo and persists it.
func (s *Session) SetTempo(bpm float64) error {
	if err := s.scheduler.SetTempo(bpm); err != nil {
		return err
	}
	s.stampRecorder()
	s.mu.Lock()
	s.cfg.UI.LastTempo = bpm
	s.mu.Unlock()
	s.saveConfig(s.persist)
	s.notify()
	return nil
}

// AdjustTempo nudges the tempo, clamped to the supported range.
func (s *Session) AdjustTempo(delta float64) error {
	bpm := min(max(s.scheduler.BPM()+delta, notes.MinTempo), notes.MaxTempo)
	return s.SetTempo(bpm)
}

func (s *Session) SetTimeSignature(ts notes.TimeSignature) error {
	if err := s.scheduler.SetTimeSignature(ts); err != nil {
		return err
	}
	s.stampRecorder()
	s.mu.Lock()
	s.cfg.Metronome.TimeSignature = ts.String()
	s.mu.Unlock()
	s.saveConfig(s.persist)
	s.notify()
	return nil
}

// stampRecorder keeps takes labelled with the metronome's tempo and meter.
func (s *Session) stampRecorder() {
	if err := s.recorder.SetMeta(s.scheduler.BPM(), s.scheduler.TimeSignature()); err != nil {
		s.setErr(err)
	}
}

func (s *Session) persist() {
	s.mu.RLock()
	cfg := *s.cfg
	path := s.configPath
	s.mu.RUnlock()

	var err error
	if path == "" {
		err = cfg.Save()
	} else {
		err = cfg.SaveFile(path)
	}
	if err != nil {
		s.setErr(fmt.Errorf("save config: %w", err))
		return
	}
	debug.Log("session", "config saved (tempo %.1f)", cfg.UI.LastTempo)
}

func (s *Session) Scheduler() *metronome.Scheduler {
	return s.scheduler
}

func (s *Session) Recorder() *recorder.Recorder {
	return s.recorder
}

// CancelRecording discards the take in progress.
func (s *Session) CancelRecording() {
	s.recorder.Cancel()
	s.notify()
}

// Guide

// LoadGuide prepares guided playback of seq, optionally one hand only.
func (s *Session) LoadGuide(name string, seq *notes.Sequence, hand Hand) error {
	part := seq
	switch hand {
	case RightHand, LeftHand:
		right, left := notes.SplitHands(seq)
		part = right
		if hand == LeftHand {
			part = left
		}
		if part == nil {
			return fmt.Errorf("%s hand of %s: %w", hand, name, ErrNoGuide)
		}
	case BothHands:
	default:
		return fmt.Errorf("%w: hand %q", config.ErrBadConfig, hand)
	}

	gc, err := s.cfg.GuideConfig()
	if err != nil {
		return err
	}
	m, err := gate.NewMatcher(part, gc)
	if err != nil {
		return err
	}
	// keys already down count as held, not as fresh presses
	for _, p := range s.recorder.Held() {
		m.NoteOn(p)
	}

	s.mu.Lock()
	s.guide = m
	s.guideSeq = part
	s.guideName = name
	s.mu.Unlock()
	debug.Log("session", "guide %s loaded: %d notes, %d gates", name, len(part.Notes), len(m.Gates()))
	s.notify()
	return nil
}

// Guide returns the loaded matcher, or nil.
func (s *Session) Guide() *gate.Matcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guide
}

// ToggleGuide plays or pauses guided playback.
func (s *Session) ToggleGuide() error {
	g := s.Guide()
	if g == nil {
		return ErrNoGuide
	}
	if g.Playing() {
		g.Pause()
	} else {
		g.Play()
	}
	s.notify()
	return nil
}

func (s *Session) StopGuide() error {
	g := s.Guide()
	if g == nil {
		return ErrNoGuide
	}
	g.Stop()
	s.notify()
	return nil
}

// Recordings returns finished takes, oldest first.
func (s *Session) Recordings() []Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

func (s *Session) finishRecording(seq *notes.Sequence) {
	rec := Recording{Sequence: seq}
	if dir := s.cfg.Recorder.SaveDir; dir != "" {
		rec.MIDIPath, rec.JSONPath, rec.Err = Export(dir, seq)
		if rec.Err != nil {
			s.setErr(rec.Err)
		}
	}

	s.mu.Lock()
	s.recordings = append(s.recordings, rec)
	s.mu.Unlock()

	debug.Log("session", "recording %s: %d notes", seq.ID, len(seq.Notes))
	if s.onRecording != nil {
		s.onRecording(rec)
	}
	s.notify()
}
