package notes

import (
	"errors"
	"fmt"
)

// MinDuration is the shortest note a sequence will hold (seconds).
const MinDuration = 0.001

var ErrInvalidNote = errors.New("invalid note")

// Note is a single pitched event on a timeline measured in seconds.
type Note struct {
	Pitch     int     `json:"pitch" yaml:"pitch"`
	StartTime float64 `json:"startTime" yaml:"startTime"`
	EndTime   float64 `json:"endTime" yaml:"endTime"`
	Velocity  float64 `json:"velocity" yaml:"velocity"` // 0.0-1.0
}

// NewNote validates the fields and returns the note, or ErrInvalidNote.
func NewNote(pitch int, start, end, velocity float64) (Note, error) {
	n := Note{Pitch: pitch, StartTime: start, EndTime: end, Velocity: velocity}
	if err := n.Validate(); err != nil {
		return Note{}, err
	}
	return n, nil
}

// Validate checks the note invariants.
func (n Note) Validate() error {
	switch {
	case n.Pitch < 0 || n.Pitch > 127:
		return fmt.Errorf("%w: pitch %d out of range", ErrInvalidNote, n.Pitch)
	case n.StartTime < 0:
		return fmt.Errorf("%w: negative start %.3f", ErrInvalidNote, n.StartTime)
	case n.EndTime <= n.StartTime:
		return fmt.Errorf("%w: end %.3f not after start %.3f", ErrInvalidNote, n.EndTime, n.StartTime)
	case n.Velocity < 0 || n.Velocity > 1:
		return fmt.Errorf("%w: velocity %.3f out of range", ErrInvalidNote, n.Velocity)
	}
	return nil
}

// Clamp repairs a note so that it satisfies Validate. Pitch is clamped to
// 0-127, start to >= 0, velocity to 0-1, and end is pushed out to at least
// start+MinDuration.
func (n Note) Clamp() Note {
	n.Pitch = clampInt(n.Pitch, 0, 127)
	if n.StartTime < 0 {
		n.StartTime = 0
	}
	if n.EndTime < n.StartTime+MinDuration {
		n.EndTime = n.StartTime + MinDuration
	}
	n.Velocity = ClampVelocity(n.Velocity)
	return n
}

// Duration returns EndTime - StartTime.
func (n Note) Duration() float64 {
	return n.EndTime - n.StartTime
}

// SoundingAt reports whether the note is held at time t.
func (n Note) SoundingAt(t float64) bool {
	return n.StartTime <= t && t < n.EndTime
}

// ClampVelocity limits v to 0-1.
func ClampVelocity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
