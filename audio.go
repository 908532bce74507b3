package kantele

import (
	"encoding/binary"
	"io"
	"math"
)

// AudioBuffer is a buffer of stereo audio samples of variable length, each
// sample represented by [2]float32. [0] is left channel, [1] is right.
// Samples are normalized so that full scale is 1.
type AudioBuffer [][2]float32

// AudioSink is the destination of rendered blocks. Live sinks usually pull
// from an engine.Reader instead.
type AudioSink interface {
	WriteAudio(buffer AudioBuffer) error
	Close() error
}

// AudioContext is a platform audio output. Play starts pulling interleaved
// float32 little endian stereo frames from the reader; the returned closer
// stops playback.
type AudioContext interface {
	Play(r io.Reader) (CloserWaiter, error)
	Close() error
}

// CloserWaiter stops a playback and waits until the device drained.
type CloserWaiter interface {
	Close() error
	Wait()
}

// Fill fills the buffer with silence from index i onwards.
func (b AudioBuffer) Fill(i int) {
	for j := i; j < len(b); j++ {
		b[j] = [2]float32{}
	}
}

// Peak returns the largest absolute sample value of both channels.
func (b AudioBuffer) Peak() (peak [2]float32) {
	for _, s := range b {
		for c := 0; c < 2; c++ {
			v := s[c]
			if v < 0 {
				v = -v
			}
			if v > peak[c] {
				peak[c] = v
			}
		}
	}
	return
}

// Source returns a reader of the buffer as interleaved float32 little endian
// stereo frames, the format AudioContext.Play takes.
func (b AudioBuffer) Source() io.Reader {
	return &bufferSource{buffer: b}
}

type bufferSource struct {
	buffer AudioBuffer
	pos    int
}

func (s *bufferSource) Read(p []byte) (int, error) {
	n := 0
	for ; s.pos < len(s.buffer) && n+8 <= len(p); s.pos++ {
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(s.buffer[s.pos][0]))
		binary.LittleEndian.PutUint32(p[n+4:], math.Float32bits(s.buffer[s.pos][1]))
		n += 8
	}
	if n == 0 && s.pos >= len(s.buffer) {
		return 0, io.EOF
	}
	return n, nil
}
