package audio

import (
	"fmt"
	"io"

	"github.com/ebitengine/oto/v3"
)

// Device plays a float32 stereo stream on the default output.
type Device struct {
	context *oto.Context
	player  *oto.Player
}

// OpenDevice creates the oto context and a player pulling from src. Only
// one context may exist per process.
func OpenDevice(src io.Reader, sampleRate int) (*Device, error) {
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   DeviceBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	player := context.NewPlayer(src)
	// read-ahead of one device buffer keeps the frame clock near the speaker
	player.SetBufferSize(bufferFrames(sampleRate) * frameSize)
	player.Play()
	return &Device{context: context, player: player}, nil
}

func (d *Device) Resume() error {
	if err := d.context.Resume(); err != nil {
		return fmt.Errorf("cannot resume oto context: %w", err)
	}
	if !d.player.IsPlaying() {
		d.player.Play()
	}
	return nil
}

func (d *Device) Suspend() error {
	if err := d.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

// Close stops playback. The oto context itself lives until the process
// exits.
func (d *Device) Close() error {
	d.player.Pause()
	if err := d.player.Err(); err != nil {
		return fmt.Errorf("oto player: %w", err)
	}
	return nil
}

// Open starts an engine on the default output device.
func Open(sampleRate int) (*Engine, error) {
	e := NewEngine(sampleRate)
	d, err := OpenDevice(e, e.SampleRate())
	if err != nil {
		return nil, err
	}
	e.Attach(d)
	return e, nil
}
