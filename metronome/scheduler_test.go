package metronome

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pianocapture/clock"
	"pianocapture/notes"
)

type click struct {
	at       float64
	accent   bool
	issuedAt float64
}

type recordingSink struct {
	clk    clock.Clock
	clicks []click
}

func (r *recordingSink) ScheduleClick(at float64, accent bool) {
	r.clicks = append(r.clicks, click{at: at, accent: accent, issuedAt: r.clk.Now()})
}

// CancelPending forgets clicks that have not sounded yet.
func (r *recordingSink) CancelPending() {
	now := r.clk.Now()
	kept := r.clicks[:0]
	for _, c := range r.clicks {
		if c.at <= now {
			kept = append(kept, c)
		}
	}
	r.clicks = kept
}

func setup(t *testing.T, cfg Config) (*Scheduler, *clock.Manual, *recordingSink) {
	t.Helper()
	m := clock.NewManual(5)
	sink := &recordingSink{clk: m}
	s, err := New(clock.Acquire(m), sink, cfg)
	require.NoError(t, err)
	return s, m, sink
}

// run polls at the configured interval for d seconds.
func run(s *Scheduler, m *clock.Manual, d float64) {
	step := s.cfg.PollInterval.Seconds()
	for elapsed := 0.0; elapsed < d; elapsed += step {
		m.Advance(step)
		s.Poll()
	}
}

func TestTenSecondsAt120(t *testing.T) {
	s, m, sink := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	run(s, m, 10)

	count := 0
	for i, c := range sink.clicks {
		if c.at < 5+10 {
			count++
		}
		if i > 0 {
			assert.InDelta(t, 0.5, c.at-sink.clicks[i-1].at, 1e-9)
		}
	}
	assert.Equal(t, 20, count)
}

func TestAccentOnFirstBeatOfBar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeSignature = notes.TimeSignature{Numerator: 3, Denominator: 4}
	s, m, sink := setup(t, cfg)
	require.NoError(t, s.Start())
	run(s, m, 4)

	require.GreaterOrEqual(t, len(sink.clicks), 7)
	for i, c := range sink.clicks {
		assert.Equal(t, i%3 == 0, c.accent, "click %d", i)
	}
}

func TestLookaheadBounds(t *testing.T) {
	s, m, sink := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	ahead := s.cfg.ScheduleAhead.Seconds()
	poll := s.cfg.PollInterval.Seconds()

	step := poll
	for i := 0; i < 400; i++ {
		m.Advance(step)
		s.Poll()
		now := m.Now()
		assert.GreaterOrEqual(t, s.NextEventTime(), now+ahead-1e-9)
	}
	for _, c := range sink.clicks[1:] {
		lead := c.at - c.issuedAt
		assert.LessOrEqual(t, lead, ahead+poll)
		assert.Greater(t, lead, 0.0)
	}
}

func TestStartFailsWhenClockCannotResume(t *testing.T) {
	m := clock.NewManual(0)
	m.ResumeErr = errors.New("no device")
	sink := &recordingSink{clk: m}
	s, err := New(clock.Acquire(m), sink, DefaultConfig())
	require.NoError(t, err)

	err = s.Start()
	assert.ErrorIs(t, err, clock.ErrClockUnavailable)
	assert.False(t, s.Running())
	s.Poll()
	assert.Empty(t, sink.clicks)
}

func TestStartWithoutSink(t *testing.T) {
	s, err := New(clock.Acquire(clock.NewManual(0)), nil, DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Start(), ErrNoSink)
	assert.False(t, s.Running())
	s.Poll()
}

func TestStopEmitsNothingLate(t *testing.T) {
	s, m, sink := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	run(s, m, 1)
	n := len(sink.clicks)

	s.Stop()
	assert.Equal(t, -1, s.CurrentBeat())
	run(s, m, 2)
	assert.Len(t, sink.clicks, n)
	select {
	case b := <-s.Beats():
		t.Fatalf("late beat %d", b)
	default:
	}
}

func TestVisualBeatsTrailAudio(t *testing.T) {
	s, m, _ := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	assert.Equal(t, 0, s.CurrentBeat(), "first beat sounds at start time")

	m.Advance(0.4)
	s.Poll()
	assert.Equal(t, 0, s.CurrentBeat())

	m.Advance(0.15)
	s.Poll()
	assert.Equal(t, 1, s.CurrentBeat())

	assert.Equal(t, 0, <-s.Beats())
	assert.Equal(t, 1, <-s.Beats())
}

func TestTempoChangeReanchors(t *testing.T) {
	s, m, sink := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	run(s, m, 0.8)

	require.NoError(t, s.SetTempo(60))
	assert.Equal(t, 60.0, s.BPM())
	m.Advance(0.025)
	s.Poll()

	last := sink.clicks[len(sink.clicks)-1]
	assert.True(t, last.accent)
	assert.InDelta(t, m.Now(), last.at, 1e-9)
	assert.InDelta(t, m.Now()+1, s.NextEventTime(), 1e-9)
}

func TestReanchorDropsBeatsAlreadyQueued(t *testing.T) {
	s, m, sink := setup(t, DefaultConfig())
	require.NoError(t, s.Start())
	run(s, m, 0.45)
	// the beat at +0.5 is inside the lookahead and already handed out
	require.Len(t, sink.clicks, 2)

	require.NoError(t, s.SetTempo(100))
	m.Advance(0.01)
	s.Poll()
	run(s, m, 2)

	for i := 1; i < len(sink.clicks); i++ {
		assert.Greater(t, sink.clicks[i].at-sink.clicks[i-1].at, 0.45, "click %d", i)
	}
	assert.True(t, sink.clicks[1].accent)

	var beats []int
	for len(s.Beats()) > 0 {
		beats = append(beats, <-s.Beats())
	}
	assert.Equal(t, []int{0, 0, 1, 2, 3}, beats)
}

func TestTempoChangePreservesBeat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TempoChange = PreserveBeat
	s, m, _ := setup(t, cfg)
	require.NoError(t, s.Start())
	run(s, m, 0.8)
	next := s.NextEventTime()

	require.NoError(t, s.SetTempo(60))
	m.Advance(0.2)
	s.Poll()
	// the pending beat at `next` is kept; spacing after it is one second
	assert.InDelta(t, next+1, s.NextEventTime(), 1e-9)
}

func TestRejectsBadTempo(t *testing.T) {
	s, _, _ := setup(t, DefaultConfig())
	assert.ErrorIs(t, s.SetTempo(10), ErrBadConfig)
	assert.ErrorIs(t, s.SetTempo(301), ErrBadConfig)
	assert.ErrorIs(t, s.SetTimeSignature(notes.TimeSignature{Numerator: 4, Denominator: 5}), ErrBadConfig)

	cfg := DefaultConfig()
	cfg.PollInterval = 0
	_, err := New(clock.Acquire(clock.NewManual(0)), &recordingSink{}, cfg)
	assert.ErrorIs(t, err, ErrBadConfig)
}

func TestSetTempoWhileStopped(t *testing.T) {
	s, _, _ := setup(t, DefaultConfig())
	require.NoError(t, s.SetTempo(90))
	require.NoError(t, s.SetTimeSignature(notes.TimeSignature{Numerator: 6, Denominator: 8}))
	assert.Equal(t, 90.0, s.BPM())
	assert.Equal(t, notes.TimeSignature{Numerator: 6, Denominator: 8}, s.TimeSignature())
}

func TestRunLoopPollsUntilCancelled(t *testing.T) {
	w := clock.NewWall()
	sink := &recordingSink{clk: w}
	s, err := New(clock.Acquire(w), sink, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done
	assert.False(t, s.Running())
	assert.NotEmpty(t, sink.clicks)
}
