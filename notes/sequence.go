package notes

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	DefaultTempo = 120.0
	MinTempo     = 20.0
	MaxTempo     = 300.0
)

var ErrBadTimeSignature = errors.New("bad time signature")

// TimeSignature is a meter such as 3/4.
type TimeSignature struct {
	Numerator   int `json:"numerator" yaml:"numerator"`
	Denominator int `json:"denominator" yaml:"denominator"`
}

// CommonTime is 4/4.
var CommonTime = TimeSignature{Numerator: 4, Denominator: 4}

// ParseTimeSignature parses "N/D".
func ParseTimeSignature(s string) (TimeSignature, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return TimeSignature{}, fmt.Errorf("%w: %q", ErrBadTimeSignature, s)
	}
	n, err1 := strconv.Atoi(strings.TrimSpace(num))
	d, err2 := strconv.Atoi(strings.TrimSpace(den))
	if err1 != nil || err2 != nil {
		return TimeSignature{}, fmt.Errorf("%w: %q", ErrBadTimeSignature, s)
	}
	ts := TimeSignature{Numerator: n, Denominator: d}
	if err := ts.Validate(); err != nil {
		return TimeSignature{}, err
	}
	return ts, nil
}

// Validate checks 1 <= numerator <= 32 and a power-of-two denominator <= 32.
func (ts TimeSignature) Validate() error {
	if ts.Numerator < 1 || ts.Numerator > 32 {
		return fmt.Errorf("%w: numerator %d", ErrBadTimeSignature, ts.Numerator)
	}
	if ts.Denominator < 1 || ts.Denominator > 32 || ts.Denominator&(ts.Denominator-1) != 0 {
		return fmt.Errorf("%w: denominator %d", ErrBadTimeSignature, ts.Denominator)
	}
	return nil
}

func (ts TimeSignature) String() string {
	return fmt.Sprintf("%d/%d", ts.Numerator, ts.Denominator)
}

// Sequence is an ordered-by-insertion list of notes plus timing metadata.
// TotalTime is always >= the latest EndTime. A sequence with no notes means
// nothing was captured.
type Sequence struct {
	ID            string        `json:"id,omitempty" yaml:"id,omitempty"`
	Notes         []Note        `json:"notes" yaml:"notes"`
	TotalTime     float64       `json:"totalTime" yaml:"totalTime"`
	Tempo         float64       `json:"tempo" yaml:"tempo"`
	TimeSignature TimeSignature `json:"timeSignature" yaml:"timeSignature"`
}

// NewSequence returns an empty sequence at the given tempo and meter.
func NewSequence(tempo float64, ts TimeSignature) *Sequence {
	return &Sequence{
		Notes:         []Note{},
		Tempo:         tempo,
		TimeSignature: ts,
	}
}

// Empty reports whether the sequence holds no notes.
func (s *Sequence) Empty() bool {
	return len(s.Notes) == 0
}

// Append validates n and adds it, extending TotalTime as needed.
func (s *Sequence) Append(n Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.Notes = append(s.Notes, n)
	if n.EndTime > s.TotalTime {
		s.TotalTime = n.EndTime
	}
	return nil
}

// Bounds returns the earliest start and latest end. Both are zero when the
// sequence is empty.
func (s *Sequence) Bounds() (minStart, maxEnd float64) {
	if len(s.Notes) == 0 {
		return 0, 0
	}
	minStart = math.Inf(1)
	for _, n := range s.Notes {
		minStart = math.Min(minStart, n.StartTime)
		maxEnd = math.Max(maxEnd, n.EndTime)
	}
	return minStart, maxEnd
}

// Normalize shifts every note so the earliest start is at 0. TotalTime is
// shifted by the same offset.
func (s *Sequence) Normalize() {
	if len(s.Notes) == 0 {
		return
	}
	offset, _ := s.Bounds()
	if offset == 0 {
		return
	}
	for i := range s.Notes {
		s.Notes[i].StartTime -= offset
		s.Notes[i].EndTime -= offset
	}
	s.TotalTime -= offset
	if s.TotalTime < 0 {
		s.TotalTime = 0
	}
}

// Sort orders notes by start, then pitch, then end.
func (s *Sequence) Sort() {
	sort.SliceStable(s.Notes, func(i, j int) bool {
		a, b := s.Notes[i], s.Notes[j]
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.Pitch != b.Pitch {
			return a.Pitch < b.Pitch
		}
		return a.EndTime < b.EndTime
	})
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	c := *s
	c.Notes = make([]Note, len(s.Notes))
	copy(c.Notes, s.Notes)
	return &c
}

// SecondsPerBeat returns the beat length at the sequence tempo.
func (s *Sequence) SecondsPerBeat() float64 {
	tempo := s.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	return 60 / tempo
}

// RemoveGhostNotes drops notes shorter than threshold seconds and returns how
// many were removed.
func RemoveGhostNotes(s *Sequence, threshold float64) int {
	kept := s.Notes[:0]
	removed := 0
	for _, n := range s.Notes {
		if n.Duration() < threshold {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	s.Notes = kept
	return removed
}

// SplitHands divides a sequence at its median pitch: notes at or above the
// median go to the right hand. Either result is nil when it has no notes.
func SplitHands(s *Sequence) (right, left *Sequence) {
	if len(s.Notes) == 0 {
		return nil, nil
	}
	pitches := make([]int, len(s.Notes))
	for i, n := range s.Notes {
		pitches[i] = n.Pitch
	}
	sort.Ints(pitches)
	median := pitches[len(pitches)/2]

	base := func() *Sequence {
		return &Sequence{Tempo: s.Tempo, TimeSignature: s.TimeSignature, TotalTime: s.TotalTime}
	}
	for _, n := range s.Notes {
		if n.Pitch >= median {
			if right == nil {
				right = base()
			}
			right.Notes = append(right.Notes, n)
		} else {
			if left == nil {
				left = base()
			}
			left.Notes = append(left.Notes, n)
		}
	}
	return right, left
}
