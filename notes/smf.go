package notes

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// Resolution is the ticks-per-quarter used when writing SMF files.
const Resolution = smf.MetricTicks(960)

// ReadSMF decodes a standard MIDI file into a sequence. Notes of every
// track and channel are merged and sorted by start, pitch and end.
// Velocities are normalized to 0-1; tempo and meter come from the first
// meta events found.
func ReadSMF(r io.Reader) (*Sequence, error) {
	f, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read smf: %w", err)
	}
	return FromSMF(f)
}

// FromSMF converts a parsed SMF into a sequence.
func FromSMF(f *smf.SMF) (*Sequence, error) {
	if _, ok := f.TimeFormat.(smf.MetricTicks); !ok {
		return nil, fmt.Errorf("unsupported smf time format %v", f.TimeFormat)
	}

	seq := NewSequence(DefaultTempo, CommonTime)
	tempoSeen, meterSeen := false, false

	type open struct {
		start    float64
		velocity float64
	}

	for _, track := range f.Tracks {
		var absTicks int64
		pending := map[[2]uint8][]open{}
		for _, ev := range track {
			absTicks += int64(ev.Delta)
			at := float64(f.TimeAt(absTicks)) / 1e6

			var ch, key, vel, num, den uint8
			var bpm float64
			switch {
			case ev.Message.GetNoteStart(&ch, &key, &vel):
				k := [2]uint8{ch, key}
				pending[k] = append(pending[k], open{start: at, velocity: ClampVelocity(float64(vel) / 127)})
			case ev.Message.GetNoteEnd(&ch, &key):
				k := [2]uint8{ch, key}
				starts := pending[k]
				if len(starts) == 0 {
					continue
				}
				o := starts[0]
				pending[k] = starts[1:]
				n := Note{Pitch: int(key), StartTime: o.start, EndTime: at, Velocity: o.velocity}.Clamp()
				if err := seq.Append(n); err != nil {
					return nil, err
				}
			case !tempoSeen && ev.Message.GetMetaTempo(&bpm):
				seq.Tempo = bpm
				tempoSeen = true
			case !meterSeen && ev.Message.GetMetaMeter(&num, &den):
				ts := TimeSignature{Numerator: int(num), Denominator: int(den)}
				if ts.Validate() == nil {
					seq.TimeSignature = ts
				}
				meterSeen = true
			}
		}
	}

	seq.Sort()
	return seq, nil
}

// ToSMF renders the sequence as a single-track SMF at the sequence tempo.
func (s *Sequence) ToSMF(instrument string) (*smf.SMF, error) {
	type event struct {
		at  float64
		on  bool
		msg midi.Message
	}
	events := make([]event, 0, len(s.Notes)*2)
	for _, n := range s.Notes {
		vel := uint8(n.Velocity*127 + 0.5)
		if vel == 0 {
			vel = 1
		}
		events = append(events,
			event{at: n.StartTime, on: true, msg: midi.NoteOn(0, uint8(n.Pitch), vel)},
			event{at: n.EndTime, on: false, msg: midi.NoteOff(0, uint8(n.Pitch))},
		)
	}
	// note-offs sort before note-ons at the same instant so repeated pitches
	// are not cut short
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return !events[i].on && events[j].on
	})

	tempo := s.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	ts := s.TimeSignature
	if ts.Validate() != nil {
		ts = CommonTime
	}

	var track smf.Track
	track.Add(0, smf.MetaMeter(uint8(ts.Numerator), uint8(ts.Denominator)))
	track.Add(0, smf.MetaTempo(tempo))
	if instrument != "" {
		track.Add(0, smf.MetaInstrument(instrument))
	}

	var last uint32
	for _, e := range events {
		abs := Resolution.Ticks(tempo, time.Duration(e.at*float64(time.Second)))
		track.Add(abs-last, e.msg)
		last = abs
	}
	track.Close(0)

	f := smf.New()
	f.TimeFormat = Resolution
	if err := f.Add(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}
	return f, nil
}

// WriteSMF writes the sequence as a standard MIDI file.
func (s *Sequence) WriteSMF(w io.Writer, instrument string) error {
	f, err := s.ToSMF(instrument)
	if err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write smf: %w", err)
	}
	return nil
}
