package gate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pianocapture/notes"
)

func note(pitch int, start, end float64) notes.Note {
	return notes.Note{Pitch: pitch, StartTime: start, EndTime: end, Velocity: 0.8}
}

func sequence(t *testing.T, ns ...notes.Note) *notes.Sequence {
	t.Helper()
	s := notes.NewSequence(notes.DefaultTempo, notes.CommonTime)
	for _, n := range ns {
		require.NoError(t, s.Append(n))
	}
	return s
}

func newMatcher(t *testing.T, s *notes.Sequence) *Matcher {
	t.Helper()
	m, err := NewMatcher(s, DefaultConfig())
	require.NoError(t, err)
	return m
}

func TestBuild(t *testing.T) {
	s := sequence(t,
		note(64, 0.004, 0.5),
		note(60, 0, 0.5),
		note(67, 0.5, 1),
		note(60, 1, 1.5),
		note(60, 1.5, 2),
		note(64, 1.5, 2),
	)
	gates := Build(s, 0)
	require.Len(t, gates, 4)

	assert.Equal(t, 0.0, gates[0].Time)
	assert.Equal(t, []int{60, 64}, gates[0].Required)
	assert.ElementsMatch(t, []int{0, 1}, gates[0].NoteIDs)
	assert.Empty(t, gates[0].FreshPress)

	assert.Equal(t, []int{67}, gates[1].Required)
	assert.Empty(t, gates[2].FreshPress)
	assert.Equal(t, []int{60, 64}, gates[3].Required)
	assert.Equal(t, []int{60}, gates[3].FreshPress)
	assert.True(t, gates[3].IsFresh(60))
	assert.False(t, gates[3].IsFresh(64))

	for i, g := range gates {
		assert.Equal(t, i, g.Index)
	}
}

func TestBuildGroupsByGap(t *testing.T) {
	s := sequence(t,
		note(60, 0.0149, 0.5),
		note(64, 0.0151, 0.5),
		note(62, 1, 1.5),
		note(65, 1.009, 1.5),
		note(69, 1.018, 1.5),
	)
	gates := Build(s, 0.01)
	require.Len(t, gates, 3)
	assert.Equal(t, []int{60, 64}, gates[0].Required)
	assert.InDelta(t, 0.0149, gates[0].Time, 1e-12)
	assert.Equal(t, []int{62, 65}, gates[1].Required)
	assert.Equal(t, []int{69}, gates[2].Required, "groups do not chain past the quantum")
}

func TestBuildEmpty(t *testing.T) {
	assert.Empty(t, Build(notes.NewSequence(notes.DefaultTempo, notes.CommonTime), 0.01))
}

func TestChordPassesWithoutTimingWindow(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(64, 0, 1), note(67, 2, 3)))
	m.Play()
	assert.Equal(t, Waiting, m.State())

	m.NoteOn(60)
	for _i := 0; _i < 9; _i++ {
		m.Tick(1.0 / 30)
	}
	assert.Equal(t, Waiting, m.State(), "frozen while waiting")
	assert.Equal(t, 0.0, m.Time())
	assert.Equal(t, []int{64}, m.PendingPitches())
	assert.Equal(t, []int{1}, m.Pending())

	m.NoteOn(64)
	assert.Equal(t, Running, m.State())
	assert.Equal(t, 1, m.GateIndex())
	assert.Greater(t, m.Time(), 0.0)
	assert.Less(t, m.Time(), 0.01)
}

func TestHeldRepeatNeedsFreshPress(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 0.5), note(60, 0.5, 1)))

	m.NoteOn(60)
	m.Play()
	assert.Equal(t, 1, m.GateIndex(), "held key satisfies a gate without the fresh flag")

	m.Tick(0.6)
	assert.Equal(t, Waiting, m.State())
	assert.InDelta(t, 0.5, m.Time(), 1e-9)

	m.NoteOn(60)
	m.Tick(1)
	assert.Equal(t, 1, m.GateIndex(), "held through the transition")

	m.NoteOff(60)
	assert.Equal(t, 1, m.GateIndex())
	m.NoteOn(60)
	assert.Equal(t, 2, m.GateIndex())

	m.Tick(1)
	assert.Equal(t, Ended, m.State())
	assert.False(t, m.Playing())
	assert.Equal(t, 1.0, m.Time())
}

func TestEarlyRestrikeDoesNotCount(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 0.5), note(60, 1, 1.5)))
	m.Play()
	m.NoteOn(60)
	require.Equal(t, 1, m.GateIndex())

	// re-struck before the second gate opened
	m.NoteOff(60)
	m.NoteOn(60)
	m.Tick(2)
	assert.Equal(t, Waiting, m.State())

	m.NoteOff(60)
	m.NoteOn(60)
	assert.Equal(t, 2, m.GateIndex())
}

func TestFreshPressIgnoresKeyOrder(t *testing.T) {
	chord := func(start float64) []notes.Note {
		return []notes.Note{note(60, start, start+0.4), note(64, start, start+0.4)}
	}
	s := sequence(t, append(chord(0), chord(0.5)...)...)

	for _, order := range [][]int{{60, 64}, {64, 60}} {
		m := newMatcher(t, s)
		m.Play()
		m.NoteOn(60)
		m.NoteOn(64)
		require.Equal(t, 1, m.GateIndex())
		m.Tick(1)
		require.Equal(t, Waiting, m.State())

		for _, p := range order {
			m.NoteOff(p)
		}
		for _, p := range order {
			m.NoteOn(p)
		}
		assert.Equal(t, 2, m.GateIndex(), "order %v", order)
	}
}

func TestSpeedScalesTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Speed = 2
	m, err := NewMatcher(sequence(t, note(60, 0, 0.5), note(62, 1, 2)), cfg)
	require.NoError(t, err)
	m.Play()
	m.NoteOn(60)
	m.Tick(0.2)
	assert.InDelta(t, 0.401, m.Time(), 1e-9)

	m.Tick(1)
	assert.Equal(t, 1.0, m.Time(), "clamped at the next gate")
	assert.Equal(t, Waiting, m.State())

	require.NoError(t, m.SetSpeed(0.5))
	assert.ErrorIs(t, m.SetSpeed(0), ErrBadConfig)
}

func TestPauseFreezesAndDefersInput(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(62, 1, 2)))
	m.Play()
	m.NoteOn(60)
	m.Tick(0.5)
	m.Pause()
	assert.Equal(t, Paused, m.State())
	at := m.Time()
	m.Tick(5)
	assert.Equal(t, at, m.Time())

	m.Play()
	m.Tick(1)
	require.Equal(t, Waiting, m.State())
	m.Pause()
	m.NoteOn(62)
	assert.Equal(t, 1, m.GateIndex(), "no progress while paused")
	m.Play()
	assert.Equal(t, 2, m.GateIndex())
}

func TestSeekOnlyMovesPlayhead(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(64, 0.5, 2), note(67, 3, 4)))
	m.Play()
	m.NoteOn(60)
	idx := m.GateIndex()

	m.Seek(0.75)
	assert.Equal(t, []int{0, 1}, m.Sounding())
	assert.Equal(t, idx, m.GateIndex())

	m.Seek(-3)
	assert.Equal(t, 0.0, m.Time())
	m.Seek(100)
	assert.Equal(t, 4.0, m.Time())
	assert.Empty(t, m.Sounding())
}

func TestStopResets(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(62, 1, 2)))
	m.Play()
	m.NoteOn(60)
	m.Tick(2)
	require.Equal(t, 1, m.GateIndex())

	m.Stop()
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, 0, m.GateIndex())
	assert.Equal(t, 0.0, m.Time())

	// the key is still down and gate 0 needs no fresh press
	m.Play()
	assert.Equal(t, Running, m.State())
	assert.Equal(t, 1, m.GateIndex())
}

func TestStopKeepsHeldKeysStale(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(60, 1, 2)))
	m.Play()
	m.NoteOn(60)
	m.Stop()

	m.Play()
	require.Equal(t, 1, m.GateIndex())
	m.Tick(1.5)
	assert.Equal(t, Waiting, m.State(), "held key must be struck again")

	m.NoteOff(60)
	m.NoteOn(60)
	assert.Equal(t, 2, m.GateIndex())
}

func TestPendingWhileRunningShowsNextGate(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 1), note(62, 1, 2), note(65, 1, 2)))
	m.Play()
	m.NoteOn(60)
	assert.Equal(t, Running, m.State())
	assert.Equal(t, []int{1, 2}, m.Pending())
	assert.Equal(t, []int{62, 65}, m.PendingPitches())
}

func TestPlayAfterEndRestarts(t *testing.T) {
	m := newMatcher(t, sequence(t, note(60, 0, 0.5)))
	m.Play()
	m.NoteOn(60)
	m.Tick(1)
	require.Equal(t, Ended, m.State())
	assert.Nil(t, m.Pending())

	m.NoteOff(60)
	m.Play()
	assert.Equal(t, Waiting, m.State())
	assert.Equal(t, 0, m.GateIndex())
}

func TestEmptySequenceEndsAtOnce(t *testing.T) {
	m := newMatcher(t, notes.NewSequence(notes.DefaultTempo, notes.CommonTime))
	m.Play()
	assert.Equal(t, Ended, m.State())
}

func TestBadConfig(t *testing.T) {
	s := sequence(t, note(60, 0, 1))
	_, err := NewMatcher(s, Config{Speed: 0, Quantum: time.Millisecond})
	assert.ErrorIs(t, err, ErrBadConfig)
	_, err = NewMatcher(s, Config{Speed: 1})
	assert.ErrorIs(t, err, ErrBadConfig)
}

// Under random input the gate index never goes backwards and moves at most
// one gate per call.
func TestGateIndexMonotonic(t *testing.T) {
	var ns []notes.Note
	for i := 0; i < 12; i++ {
		start := float64(i) * 0.25
		ns = append(ns, note(60+i%3, start, start+0.2))
		if i%2 == 0 {
			ns = append(ns, note(67, start, start+0.2))
		}
	}
	s := sequence(t, ns...)

	for seed := int64(0); seed < 30; seed++ {
		rng := rand.New(rand.NewSource(seed))
		m := newMatcher(t, s)
		m.Play()
		last := m.GateIndex()
		for _i := 0; _i < 500; _i++ {
			ended := m.State() == Ended
			p := []int{60, 61, 62, 67}[rng.Intn(4)]
			switch rng.Intn(5) {
			case 0, 1:
				m.NoteOn(p)
			case 2:
				m.NoteOff(p)
			case 3:
				m.Tick(rng.Float64() * 0.1)
			case 4:
				if m.Playing() {
					m.Pause()
				} else {
					m.Play()
				}
			}
			idx := m.GateIndex()
			if ended {
				// Play after the end starts over
				last = idx
				continue
			}
			assert.GreaterOrEqual(t, idx, last, "seed %d", seed)
			assert.LessOrEqual(t, idx-last, 1, "seed %d", seed)
			last = idx
		}
	}
}
