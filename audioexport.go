package kantele

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ExportFormat describes how an AudioBuffer is written to a file. Mono
// exports keep only the left channel, which is what a one channel
// performance renders to both sides.
type ExportFormat struct {
	SampleRate int
	Channels   int
	PCM16      bool
}

type (
	riffHeader struct {
		RIFF   [4]byte
		Size   uint32
		WAVE   [4]byte
		Fmt    [4]byte
		FmtLen uint32
		Format uint16
		Chans  uint16
		Rate   uint32
		Bytes  uint32 // per second
		Align  uint16
		Bits   uint16
	}

	factChunk struct {
		Ext    uint16
		Fact   [4]byte
		Len    uint32
		Frames uint32
	}

	dataChunk struct {
		Data [4]byte
		Len  uint32
	}
)

// FormatFor returns the export format matching a performance header.
func FormatFor(h Header, pcm16 bool) ExportFormat {
	return ExportFormat{SampleRate: h.SampleRate, Channels: h.Nchnls, PCM16: pcm16}
}

func (f ExportFormat) bytesPerSample() int {
	if f.PCM16 {
		return 2
	}
	return 4
}

func (f ExportFormat) channels() int {
	if f.Channels == 1 {
		return 1
	}
	return 2
}

// Wav encodes the buffer as a .wav file: 16-bit PCM or 32-bit IEEE float.
func (b AudioBuffer) Wav(f ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteWav(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Raw encodes the buffer as interleaved little endian samples without a
// header.
func (b AudioBuffer) Raw(f ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.WriteRaw(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWav writes the wave header followed by the samples.
func (b AudioBuffer) WriteWav(w io.Writer, f ExportFormat) error {
	chans, size := f.channels(), f.bytesPerSample()
	dataLen := uint32(len(b) * chans * size)
	h := riffHeader{
		RIFF:   [4]byte{'R', 'I', 'F', 'F'},
		WAVE:   [4]byte{'W', 'A', 'V', 'E'},
		Fmt:    [4]byte{'f', 'm', 't', ' '},
		FmtLen: 16,
		Format: 1,
		Chans:  uint16(chans),
		Rate:   uint32(f.SampleRate),
		Bytes:  uint32(f.SampleRate * chans * size),
		Align:  uint16(chans * size),
		Bits:   uint16(8 * size),
	}
	chunks := []any{&h}
	if f.PCM16 {
		h.Size = 36 + dataLen
	} else {
		// float data needs the extended fmt chunk and a fact chunk
		h.FmtLen = 18
		h.Format = 3
		h.Size = 50 + dataLen
		chunks = append(chunks, &factChunk{Fact: [4]byte{'f', 'a', 'c', 't'}, Len: 4, Frames: uint32(len(b))})
	}
	chunks = append(chunks, &dataChunk{Data: [4]byte{'d', 'a', 't', 'a'}, Len: dataLen})
	for _, c := range chunks {
		if err := binary.Write(w, binary.LittleEndian, c); err != nil {
			return fmt.Errorf("writing wav header failed: %w", err)
		}
	}
	return b.WriteRaw(w, f)
}

// WriteRaw writes the samples, clamping them to full scale when converting
// to 16-bit PCM.
func (b AudioBuffer) WriteRaw(w io.Writer, f ExportFormat) error {
	chans := f.channels()
	var data any
	if f.PCM16 {
		pcm := make([]int16, 0, len(b)*chans)
		for _, frame := range b {
			for c := range chans {
				pcm = append(pcm, toPCM16(frame[c]))
			}
		}
		data = pcm
	} else if chans == 1 {
		mono := make([]float32, len(b))
		for i, frame := range b {
			mono[i] = frame[0]
		}
		data = mono
	} else {
		data = [][2]float32(b)
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("writing samples failed: %w", err)
	}
	return nil
}

func toPCM16(v float32) int16 {
	return int16(min(max(math.Round(float64(v)*math.MaxInt16), math.MinInt16), math.MaxInt16))
}
