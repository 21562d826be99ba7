package recorder

import (
	"errors"
	"fmt"
	"time"

	"pianocapture/notes"
)

var ErrBadConfig = errors.New("bad recorder config")

const (
	DefaultPauseTimeout = 3 * time.Second
	DefaultResumeGap    = 1500 * time.Millisecond
)

// Config controls pause detection and the metadata stamped on finished
// recordings.
type Config struct {
	// PauseTimeout is how long the keyboard must be silent before the
	// timeline freezes. The same duration then runs again before the
	// recording completes.
	PauseTimeout time.Duration
	// ResumeGap is the virtual silence inserted when playing resumes after
	// a pause.
	ResumeGap time.Duration

	Tempo         float64
	TimeSignature notes.TimeSignature

	// OnComplete, if set, receives every finalized sequence.
	OnComplete func(*notes.Sequence)
}

func DefaultConfig() Config {
	return Config{
		PauseTimeout:  DefaultPauseTimeout,
		ResumeGap:     DefaultResumeGap,
		Tempo:         notes.DefaultTempo,
		TimeSignature: notes.CommonTime,
	}
}

func (c Config) Validate() error {
	if c.PauseTimeout <= 0 {
		return fmt.Errorf("%w: pause timeout %v", ErrBadConfig, c.PauseTimeout)
	}
	if c.ResumeGap < 0 {
		return fmt.Errorf("%w: resume gap %v", ErrBadConfig, c.ResumeGap)
	}
	if c.Tempo < notes.MinTempo || c.Tempo > notes.MaxTempo {
		return fmt.Errorf("%w: tempo %.1f", ErrBadConfig, c.Tempo)
	}
	if err := c.TimeSignature.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	return nil
}
