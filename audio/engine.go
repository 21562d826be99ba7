// Package audio renders metronome clicks and provides the audio clock.
//
// Engine is pulled by the output device as an io.Reader of little-endian
// float32 stereo frames. Its frame counter is the clock: Now is the number
// of frames handed to the device divided by the sample rate, so a click
// scheduled at time t starts on frame round(t*rate) no matter when the
// scheduler got around to asking for it.
package audio

import (
	"encoding/binary"
	"math"
	"sort"
	"sync"
	"time"

	"pianocapture/debug"
)

const (
	DefaultSampleRate = 48000
	Channels          = 2
	frameSize         = Channels * 4

	// DeviceBuffer is the most audio rendered per Read, and so the largest
	// step the clock can take.
	DeviceBuffer = 20 * time.Millisecond
)

// Output is the device the engine drives.
type Output interface {
	Resume() error
	Suspend() error
	Close() error
}

type pendingClick struct {
	frame  int64
	accent bool
}

type voice struct {
	samples []float32
	pos     int
}

type Engine struct {
	mu      sync.Mutex
	rate    int
	chunk   int // frames per Read at most
	out     Output
	running bool
	closed  bool

	frames  int64
	pending []pendingClick
	voices  []voice
	played  int
	volume  float32

	accent  []float32
	regular []float32
}

// NewEngine returns a suspended engine. rate <= 0 selects
// DefaultSampleRate.
func NewEngine(rate int) *Engine {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	return &Engine{
		rate:    rate,
		chunk:   bufferFrames(rate),
		volume:  1,
		accent:  synthClick(rate, accentFreq, clickLength, 0.9),
		regular: synthClick(rate, regularFreq, clickLength, 0.6),
	}
}

func bufferFrames(rate int) int {
	return max(int(DeviceBuffer.Seconds()*float64(rate)), 1)
}

// Attach sets the device resumed and suspended along with the engine.
func (e *Engine) Attach(out Output) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = out
}

func (e *Engine) SampleRate() int {
	return e.rate
}

// Now is the audio time in seconds.
func (e *Engine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(e.frames) / float64(e.rate)
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	out := e.out
	e.running = true
	e.mu.Unlock()
	if out != nil {
		return out.Resume()
	}
	return nil
}

func (e *Engine) Suspend() error {
	e.mu.Lock()
	out := e.out
	e.running = false
	e.mu.Unlock()
	if out != nil {
		return out.Suspend()
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	out := e.out
	e.running = false
	e.closed = true
	e.pending = nil
	e.voices = nil
	e.mu.Unlock()
	if out != nil {
		return out.Close()
	}
	return nil
}

// ScheduleClick queues a click at audio time at. Clicks in the past start
// on the next rendered frame.
func (e *Engine) ScheduleClick(at float64, accent bool) {
	frame := int64(math.Round(at * float64(e.rate)))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if frame < e.frames {
		debug.LogEvery(8, "audio", "late click at %.4f (now %.4f)", at, float64(e.frames)/float64(e.rate))
	}
	i := sort.Search(len(e.pending), func(i int) bool { return e.pending[i].frame > frame })
	e.pending = append(e.pending, pendingClick{})
	copy(e.pending[i+1:], e.pending[i:])
	e.pending[i] = pendingClick{frame: frame, accent: accent}
}

// CancelPending drops clicks that have not started sounding.
func (e *Engine) CancelPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = e.pending[:0]
}

func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = float32(min(max(v, 0), 1))
}

// Played is the number of clicks that have started sounding.
func (e *Engine) Played() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.played
}

// Read renders whole frames into p, at most one DeviceBuffer per call. A
// suspended engine writes silence and its clock stands still.
func (e *Engine) Read(p []byte) (int, error) {
	n := min(len(p)/frameSize, e.chunk)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		clear(p[:n*frameSize])
		return n * frameSize, nil
	}

	for i := 0; i < n; i++ {
		abs := e.frames + int64(i)
		for len(e.pending) > 0 && e.pending[0].frame <= abs {
			samples := e.regular
			if e.pending[0].accent {
				samples = e.accent
			}
			e.voices = append(e.voices, voice{samples: samples})
			e.pending = e.pending[1:]
			e.played++
		}

		var s float32
		live := e.voices[:0]
		for _, v := range e.voices {
			s += v.samples[v.pos]
			v.pos++
			if v.pos < len(v.samples) {
				live = append(live, v)
			}
		}
		e.voices = live
		s = min(max(s*e.volume, -1), 1)

		bits := math.Float32bits(s)
		off := i * frameSize
		for c := 0; c < Channels; c++ {
			binary.LittleEndian.PutUint32(p[off+c*4:], bits)
		}
	}
	e.frames += int64(n)
	return n * frameSize, nil
}
