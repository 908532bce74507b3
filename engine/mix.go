package engine

import (
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/kantele/vm"
)

// clearMix silences the output block.
func (e *Engine) clearMix() {
	for c := range e.mix {
		vek32.Zeros_Into(e.mix[c], len(e.mix[c]))
	}
}

// mixInstance adds the output of an instance to the block. Mono
// performances only take the first channel.
func (e *Engine) mixInstance(inst *vm.Instance) {
	vek32.Add_Inplace(e.mix[0], inst.Out[0])
	if e.header.Nchnls > 1 {
		vek32.Add_Inplace(e.mix[1], inst.Out[1])
	}
}

// peak returns the absolute peak of each output channel relative to 0dbfs.
func (e *Engine) peak() (ret [2]float32) {
	for c := range e.mix {
		if c >= e.header.Nchnls {
			ret[c] = ret[0]
			continue
		}
		copy(e.scratch, e.mix[c])
		vek32.Abs_Inplace(e.scratch)
		ret[c] = vek32.Max(e.scratch) / float32(e.header.ZeroDBFS)
	}
	return
}

// scaled writes channel c of the block, divided by 0dbfs, into dst.
func (e *Engine) scaled(dst []float32, c int) []float32 {
	return vek32.MulNumber_Into(dst, e.mix[c], float32(1/e.header.ZeroDBFS))
}
