package session

import (
	"pianocapture/gate"
	"pianocapture/notes"
	"pianocapture/recorder"
)

// View is a point-in-time snapshot for rendering.
type View struct {
	BPM           float64
	TimeSignature notes.TimeSignature
	Metronome     bool
	Beat          int // -1 when no beat has sounded

	Recorder recorder.Progress
	Held     []int
	Captured int
	Takes    int
	LastTake *Recording

	GuideName  string
	GuideState gate.State
	GuideTime  float64
	GuideEnd   float64
	GuideGate  int
	GuideGates int
	Pending    []int // pitches
	Sounding   []int // pitches

	Err error
}

// Snapshot gathers the current state of every component.
func (s *Session) Snapshot() View {
	v := View{
		BPM:           s.scheduler.BPM(),
		TimeSignature: s.scheduler.TimeSignature(),
		Metronome:     s.scheduler.Running(),
		Beat:          s.scheduler.CurrentBeat(),
		Recorder:      s.recorder.Progress(),
		Held:          s.recorder.Held(),
		Captured:      s.recorder.Captured(),
	}

	s.mu.RLock()
	g, seq := s.guide, s.guideSeq
	v.GuideName = s.guideName
	v.Takes = len(s.recordings)
	if v.Takes > 0 {
		last := s.recordings[v.Takes-1]
		v.LastTake = &last
	}
	v.Err = s.lastErr
	s.mu.RUnlock()

	if g != nil {
		v.GuideState = g.State()
		v.GuideTime = g.Time()
		v.GuideEnd = seq.TotalTime
		v.GuideGate = g.GateIndex()
		v.GuideGates = len(g.Gates())
		v.Pending = g.PendingPitches()
		for _, id := range g.Sounding() {
			v.Sounding = append(v.Sounding, seq.Notes[id].Pitch)
		}
	}
	return v
}
