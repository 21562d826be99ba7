package midi

import (
	"fmt"
	"sync"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"pianocapture/debug"
)

// Keyboard is a MIDI keyboard input.
type Keyboard struct {
	id       string
	inPort   drivers.In
	stopFunc func()

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	noteChan chan NoteEvent
}

// NewKeyboard starts listening on inPort.
func NewKeyboard(id string, inPort drivers.In) (*Keyboard, error) {
	kb := &Keyboard{
		id:       id,
		inPort:   inPort,
		done:     make(chan struct{}),
		noteChan: make(chan NoteEvent, 64),
	}

	if inPort != nil {
		stop, err := gomidi.ListenTo(inPort, kb.handle)
		if err != nil {
			return nil, fmt.Errorf("open input %s: %w", id, err)
		}
		kb.stopFunc = stop
	}

	return kb, nil
}

func (kb *Keyboard) handle(msg gomidi.Message, timestampms int32) {
	ev, ok := Decode(msg)
	if !ok {
		return
	}
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if kb.closed {
		return
	}
	if !ev.On {
		// a lost release would leave the key held
		select {
		case kb.noteChan <- ev:
		case <-kb.done:
		}
		return
	}
	select {
	case kb.noteChan <- ev:
	default:
		debug.LogEvery(32, "midi", "%s: note channel full, dropped %s", kb.id, ev.Key())
	}
}

func (kb *Keyboard) ID() string {
	return kb.id
}

func (kb *Keyboard) NoteEvents() <-chan NoteEvent {
	return kb.noteChan
}

func (kb *Keyboard) Close() error {
	kb.closeOnce.Do(func() {
		close(kb.done)
		if kb.stopFunc != nil {
			kb.stopFunc()
		}
		kb.mu.Lock()
		kb.closed = true
		close(kb.noteChan)
		kb.mu.Unlock()
	})
	return nil
}
