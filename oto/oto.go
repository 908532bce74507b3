// Package oto plays engine output through the platform audio device.
package oto

import (
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/vsariola/kantele"
)

// OtoContext implements kantele.AudioContext. Only one context can exist
// per process.
type OtoContext struct {
	context *oto.Context
}

type otoPlayback struct {
	player *oto.Player
}

var _ kantele.AudioContext = (*OtoContext)(nil)

const otoBufferSize = 50 * time.Millisecond

// NewContext creates the audio context and waits until the device is ready.
func NewContext(sampleRate int) (*OtoContext, error) {
	context, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   otoBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &OtoContext{context: context}, nil
}

// Play starts pulling interleaved float32 stereo frames from r, e.g. an
// engine.Reader or AudioBuffer.Source.
func (c *OtoContext) Play(r io.Reader) (kantele.CloserWaiter, error) {
	if err := c.context.Err(); err != nil {
		return nil, fmt.Errorf("oto context failed: %w", err)
	}
	player := c.context.NewPlayer(r)
	player.Play()
	return &otoPlayback{player: player}, nil
}

// Close suspends the device; oto contexts cannot be destroyed.
func (c *OtoContext) Close() error {
	if err := c.context.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

// Wait blocks until the reader is exhausted and the device played
// everything buffered.
func (o *otoPlayback) Wait() {
	for o.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (o *otoPlayback) Close() error {
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}
