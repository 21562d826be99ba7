package midi

import "pianocapture/notes"

// NoteEvent is a key going down or up on a keyboard. A note-on with zero
// velocity arrives as On == false.
type NoteEvent struct {
	Note     uint8
	Velocity uint8
	Channel  uint8
	On       bool
}

// Key is the scientific pitch name of the note, e.g. "C4".
func (e NoteEvent) Key() string {
	return notes.KeyName(int(e.Note))
}

// Level is the velocity scaled to 0-1.
func (e NoteEvent) Level() float64 {
	return notes.ClampVelocity(float64(e.Velocity) / 127)
}

// Controller is a connected MIDI input device.
type Controller interface {
	ID() string
	NoteEvents() <-chan NoteEvent
	Close() error
}
