//go:build !portaudio

package portaudio

import (
	"context"
	"errors"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
)

// Available reports whether the binary was built with PortAudio.
const Available = false

var errUnavailable = errors.New("portaudio: built without the portaudio tag")

// Stream is unusable without PortAudio.
type Stream struct{}

func Open(sampleRate, framesPerBuffer, inputs int) (*Stream, error) {
	return nil, errUnavailable
}

func (s *Stream) WriteAudio(buffer kantele.AudioBuffer) error {
	return errUnavailable
}

func (s *Stream) Run(ctx context.Context, r *engine.Reader) error {
	return errUnavailable
}

func (s *Stream) Close() error {
	return nil
}
