package engine

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/vsariola/kantele"
)

// Reader pulls audio out of an engine in arbitrarily sized chunks, stepping
// the engine whenever a block is used up. It converts between the engine's
// channel count and the host's: mono is duplicated to stereo, stereo is
// averaged to mono. Samples are divided by 0dbfs. After the performance
// finishes, the reader outputs silence.
type Reader struct {
	engine *Engine
	pos    int
	status StepStatus
	err    error
	out    [2][]float32
	in     kantele.AudioBuffer
}

func NewReader(e *Engine) *Reader {
	h := e.Header()
	r := &Reader{engine: e, pos: h.Ksmps}
	for c := range r.out {
		r.out[c] = make([]float32, h.Ksmps)
	}
	r.in = make(kantele.AudioBuffer, 0, h.Ksmps)
	return r
}

// Err returns the error that stopped the engine, if any.
func (r *Reader) Err() error {
	return r.err
}

// Finished reports whether the engine has finished.
func (r *Reader) Finished() bool {
	return r.status == Finished
}

func (r *Reader) step() {
	r.pos = 0
	if r.status == Finished {
		return
	}
	if len(r.out[0]) != r.engine.Header().Ksmps {
		// the header is only final once the engine leaves the idle state
		for c := range r.out {
			r.out[c] = make([]float32, r.engine.Header().Ksmps)
		}
	}
	r.engine.SetInput(r.in)
	r.in = r.in[:0]
	r.status, r.err = r.engine.Step()
	if r.status == Finished {
		for c := range r.out {
			clear(r.out[c])
		}
	} else {
		out := r.engine.Output()
		for c := range r.out {
			r.engine.scaled(r.out[c], min(c, len(out)-1))
		}
	}
}

// Fill writes len(out[0]) frames into out, one slice per host output
// channel, and hands the host input in (may be nil) to the engine.
func (r *Reader) Fill(out, in [][]float32) {
	if len(out) == 0 {
		return
	}
	nchnls := r.engine.Header().Nchnls
	for i := range out[0] {
		if r.pos >= len(r.out[0]) {
			r.step()
		}
		var frame [2]float32
		switch len(in) {
		case 0:
		case 1:
			frame = [2]float32{in[0][i], in[0][i]}
		default:
			frame = [2]float32{in[0][i], in[1][i]}
		}
		if r.status != Finished {
			r.in = append(r.in, frame)
		}
		l, rt := r.out[0][r.pos], r.out[1][r.pos]
		if nchnls == 1 {
			rt = l
		}
		switch len(out) {
		case 1:
			if nchnls == 1 {
				out[0][i] = l
			} else {
				out[0][i] = (l + rt) / 2
			}
		default:
			out[0][i] = l
			out[1][i] = rt
		}
		r.pos++
	}
}

// Read implements io.Reader, producing interleaved stereo float32 little
// endian samples. It returns io.EOF once the performance has finished and
// the last block has been read.
func (r *Reader) Read(p []byte) (int, error) {
	n := 0
	for n+8 <= len(p) && r.status != Finished {
		if r.pos >= len(r.out[0]) {
			r.step()
			if r.status == Finished {
				break
			}
		}
		l, rt := r.out[0][r.pos], r.out[1][r.pos]
		if r.engine.Header().Nchnls == 1 {
			rt = l
		}
		binary.LittleEndian.PutUint32(p[n:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(p[n+4:], math.Float32bits(rt))
		n += 8
		r.pos++
	}
	if n == 0 && r.status == Finished {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	return n, nil
}
