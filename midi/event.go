package midi

import gomidi "gitlab.com/gomidi/midi/v2"

// Decode extracts a note event from a raw message. Anything that is not a
// note-on or note-off is reported as false.
func Decode(msg gomidi.Message) (NoteEvent, bool) {
	var channel, key, velocity uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		return NoteEvent{Note: key, Velocity: velocity, Channel: channel, On: velocity > 0}, true
	case msg.GetNoteOff(&channel, &key, &velocity):
		return NoteEvent{Note: key, Velocity: velocity, Channel: channel}, true
	}
	return NoteEvent{}, false
}
