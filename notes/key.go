package notes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnknownKey = errors.New("unknown key")

var pitchClass = map[byte]int{
	'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11,
}

var sharpNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// DecodeKey turns a key identity into a MIDI pitch. Accepted forms are
// scientific pitch names with C4 = 60 ("C4", "F#3", "Bb2", "Cb4") and plain
// MIDI numbers ("60").
func DecodeKey(key string) (int, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownKey)
	}
	if k[0] >= '0' && k[0] <= '9' {
		p, err := strconv.Atoi(k)
		if err != nil || p > 127 {
			return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		return p, nil
	}

	pc, ok := pitchClass[upper(k[0])]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	rest := k[1:]
	for len(rest) > 0 && (rest[0] == '#' || rest[0] == 'b') {
		if rest[0] == '#' {
			pc++
		} else {
			pc--
		}
		rest = rest[1:]
	}
	octave, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	p := (octave+1)*12 + pc
	if p < 0 || p > 127 {
		return 0, fmt.Errorf("%w: %q out of range", ErrUnknownKey, key)
	}
	return p, nil
}

// KeyName returns the sharp-spelled name of a pitch, e.g. 61 -> "C#4".
func KeyName(pitch int) string {
	if pitch < 0 || pitch > 127 {
		return "?"
	}
	return sharpNames[pitch%12] + strconv.Itoa(pitch/12-1)
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}
