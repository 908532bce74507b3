//go:build portaudio

// Package portaudio plays engine output through PortAudio blocking
// streams, optionally feeding the default input device to the engine.
package portaudio

import (
	"context"
	"fmt"

	pa "github.com/gordonklaus/portaudio"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
)

// Available reports whether the binary was built with PortAudio.
const Available = true

// Stream is an open duplex or output-only PortAudio stream.
type Stream struct {
	stream *pa.Stream
	out    [][]float32
	in     [][]float32
}

var _ kantele.AudioSink = (*Stream)(nil)

// Open initializes PortAudio and starts a stereo output stream. With
// input, the first inputs channels of the default input device are read
// too.
func Open(sampleRate, framesPerBuffer, inputs int) (*Stream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("unable to setup portaudio: %w", err)
	}
	s := &Stream{out: [][]float32{make([]float32, framesPerBuffer), make([]float32, framesPerBuffer)}}
	args := []interface{}{&s.out}
	if inputs > 0 {
		s.in = make([][]float32, min(inputs, 2))
		for c := range s.in {
			s.in[c] = make([]float32, framesPerBuffer)
		}
		args = []interface{}{&s.in, &s.out}
	}
	stream, err := pa.OpenDefaultStream(len(s.in), 2, float64(sampleRate), framesPerBuffer, args...)
	if err != nil {
		pa.Terminate()
		return nil, fmt.Errorf("unable to open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		pa.Terminate()
		return nil, fmt.Errorf("unable to start portaudio stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// WriteAudio writes a rendered buffer, blocking until the device took it.
func (s *Stream) WriteAudio(buffer kantele.AudioBuffer) error {
	n := len(s.out[0])
	for len(buffer) > 0 {
		chunk := buffer[:min(n, len(buffer))]
		for i := range s.out[0] {
			var frame [2]float32
			if i < len(chunk) {
				frame = chunk[i]
			}
			s.out[0][i], s.out[1][i] = frame[0], frame[1]
		}
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write error: %w", err)
		}
		buffer = buffer[len(chunk):]
	}
	return nil
}

// Run pulls audio from r until the performance finishes or ctx is done.
func (s *Stream) Run(ctx context.Context, r *engine.Reader) error {
	for !r.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.in != nil {
			if err := s.stream.Read(); err != nil {
				return fmt.Errorf("portaudio read error: %w", err)
			}
		}
		r.Fill(s.out, s.in)
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("portaudio write error: %w", err)
		}
	}
	return r.Err()
}

func (s *Stream) Close() error {
	s.stream.Stop()
	s.stream.Close()
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio termination error: %w", err)
	}
	return nil
}
