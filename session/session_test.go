package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pianocapture/clock"
	"pianocapture/config"
	"pianocapture/gate"
	"pianocapture/metronome"
	"pianocapture/midi"
	"pianocapture/notes"
	"pianocapture/recorder"
)

type clickSink struct {
	clicks   []float64
	canceled int
	volume   float64
}

func (c *clickSink) ScheduleClick(at float64, accent bool) { c.clicks = append(c.clicks, at) }
func (c *clickSink) CancelPending()                        { c.canceled++ }
func (c *clickSink) SetVolume(v float64)                   { c.volume = v }

type fixture struct {
	s     *Session
	clk   *clock.Manual
	sink  *clickSink
	cfg   *config.Config
	path  string
	takes chan Recording
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Recorder.SaveDir = filepath.Join(dir, "takes")
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{
		clk:   clock.NewManual(100),
		sink:  &clickSink{},
		cfg:   cfg,
		path:  filepath.Join(dir, "config.yaml"),
		takes: make(chan Recording, 4),
	}
	s, err := New(Options{
		Config:      cfg,
		ConfigPath:  f.path,
		SaveDelay:   10 * time.Millisecond,
		Clock:       f.clk,
		Sink:        f.sink,
		OnRecording: func(r Recording) { f.takes <- r },
	})
	require.NoError(t, err)
	f.s = s
	return f
}

type fakeController struct {
	events chan midi.NoteEvent
}

func (c *fakeController) ID() string                        { return "fake" }
func (c *fakeController) NoteEvents() <-chan midi.NoteEvent { return c.events }
func (c *fakeController) Close() error                      { close(c.events); return nil }

func on(note uint8) midi.NoteEvent  { return midi.NoteEvent{Note: note, Velocity: 100, On: true} }
func off(note uint8) midi.NoteEvent { return midi.NoteEvent{Note: note} }

func TestRecordingIsExported(t *testing.T) {
	f := newFixture(t, nil)

	f.s.HandleNote(on(60))
	f.clk.Advance(0.5)
	f.s.HandleNote(off(60))
	assert.Equal(t, 1, f.s.Snapshot().Captured)

	f.clk.Advance(3.5)
	f.s.Frame()
	assert.Equal(t, recorder.Paused, f.s.Snapshot().Recorder.Phase)

	f.clk.Advance(3.5)
	f.s.Frame()

	var rec Recording
	select {
	case rec = <-f.takes:
	default:
		t.Fatal("no recording")
	}
	require.NoError(t, rec.Err)
	require.Len(t, rec.Sequence.Notes, 1)
	assert.Equal(t, 60, rec.Sequence.Notes[0].Pitch)
	assert.InDelta(t, 100.0/127, rec.Sequence.Notes[0].Velocity, 1e-9)
	assert.FileExists(t, rec.MIDIPath)
	assert.FileExists(t, rec.JSONPath)
	assert.Equal(t, filepath.Join(f.cfg.Recorder.SaveDir, rec.Sequence.ID+".mid"), rec.MIDIPath)

	v := f.s.Snapshot()
	assert.Equal(t, 1, v.Takes)
	require.NotNil(t, v.LastTake)
	assert.Equal(t, rec.Sequence.ID, v.LastTake.Sequence.ID)

	back, err := LoadSequence(rec.JSONPath)
	require.NoError(t, err)
	assert.Equal(t, rec.Sequence.Notes, back.Notes)

	mid, err := LoadSequence(rec.MIDIPath)
	require.NoError(t, err)
	require.Len(t, mid.Notes, 1)
	assert.InDelta(t, 0.5, mid.Notes[0].EndTime, 1e-3)
}

func TestNoExportWithoutSaveDir(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Recorder.SaveDir = "" })
	f.s.HandleNote(on(62))
	f.clk.Advance(0.2)
	f.s.HandleNote(off(62))
	f.clk.Advance(10)
	f.s.Frame()

	rec := <-f.takes
	assert.Empty(t, rec.MIDIPath)
	assert.NoError(t, rec.Err)
}

func TestUnknownNoteIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.s.HandleNote(on(200))
	assert.ErrorIs(t, f.s.Snapshot().Err, notes.ErrUnknownKey)
}

func TestGuideFollowsInput(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.s.ToggleGuide(), ErrNoGuide)

	seq := notes.NewSequence(notes.DefaultTempo, notes.CommonTime)
	require.NoError(t, seq.Append(notes.Note{Pitch: 60, StartTime: 0, EndTime: 0.5, Velocity: 1}))
	require.NoError(t, seq.Append(notes.Note{Pitch: 64, StartTime: 1, EndTime: 1.5, Velocity: 1}))
	require.NoError(t, f.s.LoadGuide("scale", seq, BothHands))

	require.NoError(t, f.s.ToggleGuide())
	v := f.s.Snapshot()
	assert.Equal(t, gate.Waiting, v.GuideState)
	assert.Equal(t, []int{60}, v.Pending)

	f.s.HandleNote(on(60))
	f.clk.Advance(0.25)
	f.s.Frame()
	v = f.s.Snapshot()
	assert.Equal(t, gate.Running, v.GuideState)
	assert.InDelta(t, 0.251, v.GuideTime, 1e-9)
	assert.Equal(t, []int{60}, v.Sounding)

	f.clk.Advance(1)
	f.s.Frame()
	v = f.s.Snapshot()
	assert.Equal(t, gate.Waiting, v.GuideState)
	assert.Equal(t, []int{64}, v.Pending)
	assert.Equal(t, 1, v.GuideGate)
	assert.Equal(t, 2, v.GuideGates)

	require.NoError(t, f.s.StopGuide())
	assert.Equal(t, gate.Stopped, f.s.Snapshot().GuideState)
}

func TestGuideSeesKeysHeldBeforeLoad(t *testing.T) {
	f := newFixture(t, nil)
	f.s.HandleNote(on(60))

	seq := notes.NewSequence(notes.DefaultTempo, notes.CommonTime)
	require.NoError(t, seq.Append(notes.Note{Pitch: 60, StartTime: 0, EndTime: 0.5, Velocity: 1}))
	require.NoError(t, seq.Append(notes.Note{Pitch: 60, StartTime: 0.5, EndTime: 1, Velocity: 1}))
	require.NoError(t, f.s.LoadGuide("repeat", seq, BothHands))

	require.NoError(t, f.s.ToggleGuide())
	assert.Equal(t, 1, f.s.Snapshot().GuideGate)

	f.clk.Advance(0.6)
	f.s.Frame()
	require.Equal(t, gate.Waiting, f.s.Snapshot().GuideState)
	f.s.HandleNote(off(60))
	f.s.HandleNote(on(60))
	assert.Equal(t, 2, f.s.Snapshot().GuideGate)
}

func TestGuideOneHand(t *testing.T) {
	f := newFixture(t, nil)
	seq := notes.NewSequence(notes.DefaultTempo, notes.CommonTime)
	require.NoError(t, seq.Append(notes.Note{Pitch: 48, StartTime: 0, EndTime: 1, Velocity: 1}))
	require.NoError(t, seq.Append(notes.Note{Pitch: 72, StartTime: 0, EndTime: 1, Velocity: 1}))

	require.NoError(t, f.s.LoadGuide("duet", seq, LeftHand))
	require.NoError(t, f.s.ToggleGuide())
	assert.Equal(t, []int{48}, f.s.Snapshot().Pending)

	assert.ErrorIs(t, f.s.LoadGuide("duet", seq, Hand("feet")), config.ErrBadConfig)
}

func TestTempoIsPersisted(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetTempo(90))
	require.NoError(t, f.s.AdjustTempo(1000))
	assert.Equal(t, notes.MaxTempo, f.s.Snapshot().BPM)
	require.NoError(t, f.s.SetTempo(88))
	assert.ErrorIs(t, f.s.SetTempo(5), metronome.ErrBadConfig)

	assert.Eventually(t, func() bool {
		cfg, err := config.LoadFile(f.path)
		return err == nil && cfg.UI.LastTempo == 88
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLastTempoRestored(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.UI.LastTempo = 72 })
	assert.Equal(t, 72.0, f.s.Snapshot().BPM)
}

func TestMetronomeToggle(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.ToggleMetronome())
	assert.True(t, f.s.Snapshot().Metronome)
	assert.NotEmpty(t, f.sink.clicks)

	require.NoError(t, f.s.ToggleMetronome())
	assert.False(t, f.s.Snapshot().Metronome)
	assert.Equal(t, 1, f.sink.canceled)
}

func TestVolumeAppliedToSink(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Metronome.Volume = 0.25 })
	assert.Equal(t, 0.25, f.sink.volume)
}

func TestMetronomeFailsWithoutAudio(t *testing.T) {
	f := newFixture(t, nil)
	f.clk.ResumeErr = errors.New("no device")
	assert.ErrorIs(t, f.s.StartMetronome(), clock.ErrClockUnavailable)
	assert.False(t, f.s.Snapshot().Metronome)
	assert.ErrorIs(t, f.s.Snapshot().Err, clock.ErrClockUnavailable)
}

func TestRunStopsAndReleasesClock(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	kb, err := midi.NewKeyboard("virtual", nil)
	require.NoError(t, err)
	f.s.AttachKeyboard(kb)

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, f.clk.Closed())
	require.NoError(t, kb.Close())
}

func TestRunFinishesTakeInProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()

	f.s.HandleNote(on(60))
	f.clk.Advance(0.5)
	f.s.HandleNote(off(60))
	f.s.HandleNote(on(64))
	f.clk.Advance(0.5)
	cancel()
	require.NoError(t, <-done)

	var rec Recording
	select {
	case rec = <-f.takes:
	default:
		t.Fatal("take in progress was dropped on shutdown")
	}
	require.NoError(t, rec.Err)
	require.Len(t, rec.Sequence.Notes, 2)
	assert.InDelta(t, 1.0, rec.Sequence.Notes[1].EndTime, 1e-9)
	assert.FileExists(t, rec.MIDIPath)
	assert.Equal(t, recorder.Idle, f.s.Recorder().Phase())
}

func TestDetachedKeyboardReleasesHeldKeys(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ctrl := &fakeController{events: make(chan midi.NoteEvent, 4)}
	f.s.AttachKeyboard(ctrl)
	ctrl.events <- on(60)
	ctrl.events <- on(64)
	ctrl.events <- off(64)
	assert.Eventually(t, func() bool {
		return f.s.Recorder().Captured() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Close())
	assert.Eventually(t, func() bool {
		r := f.s.Recorder()
		return len(r.Held()) == 0 && r.Captured() == 2
	}, time.Second, 5*time.Millisecond)

	f.clk.Advance(10)
	f.s.Frame()
	select {
	case rec := <-f.takes:
		assert.Len(t, rec.Sequence.Notes, 2)
	case <-time.After(time.Second):
		t.Fatal("recording never completed after the keyboard went away")
	}
}

func TestTakesCarrySessionTempo(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.s.SetTempo(90))
	waltz := notes.TimeSignature{Numerator: 3, Denominator: 4}
	require.NoError(t, f.s.SetTimeSignature(waltz))

	f.s.HandleNote(on(60))
	f.clk.Advance(0.5)
	f.s.HandleNote(off(60))
	require.NoError(t, f.s.SetTempo(96))
	f.clk.Advance(3.5)
	f.s.Frame()
	f.clk.Advance(3.5)
	f.s.Frame()

	rec := <-f.takes
	assert.Equal(t, 96.0, rec.Sequence.Tempo)
	assert.Equal(t, waltz, rec.Sequence.TimeSignature)

	mid, err := LoadSequence(rec.MIDIPath)
	require.NoError(t, err)
	assert.InDelta(t, 96.0, mid.Tempo, 0.01)
}

func TestRunFailsWhenClockUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.clk.ResumeErr = errors.New("busy")
	assert.ErrorIs(t, f.s.Run(context.Background()), clock.ErrClockUnavailable)
}

func TestLoadSequenceJSONDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piece.json")
	data := `{"notes":[{"pitch":64,"startTime":1,"endTime":2,"velocity":0.5},{"pitch":60,"startTime":0,"endTime":1,"velocity":0.5}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	seq, err := LoadSequence(path)
	require.NoError(t, err)
	assert.Equal(t, notes.DefaultTempo, seq.Tempo)
	assert.Equal(t, notes.CommonTime, seq.TimeSignature)
	assert.Equal(t, 60, seq.Notes[0].Pitch)
	assert.Equal(t, 2.0, seq.TotalTime)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"notes":[{"pitch":60,"startTime":1,"endTime":1}]}`), 0644))
	_, err = LoadSequence(bad)
	assert.ErrorIs(t, err, notes.ErrInvalidNote)
}
