package vm

import (
	"fmt"
	"math"

	"github.com/vsariola/kantele"
)

type (
	// Context is the environment instances are built and rendered in. One
	// Context is shared by all instances of a performance.
	Context struct {
		SampleRate int
		Ksmps      int
		Nchnls     int
		ZeroDBFS   float64
		// Input is the global audio input of the current block, one slice of
		// Ksmps samples per channel, full scale being 1. Nil channels read as
		// silence.
		Input [2][]float32
	}

	// Instance is one sounding note of an instrument. It shares its Template
	// read-only and exclusively owns the state of its unit generators.
	Instance struct {
		template *Template
		params   []float32
		units    []unit
		slots    [][]float32
		inputs   [][][]float32
		// Out holds what the out statements wrote during the last Render, in
		// 0dbfs units.
		Out [2][]float32
	}

	unit struct {
		state [4]float64
		seed  uint32
	}
)

func (c *Context) global(i int) float32 {
	switch i {
	case globalSampleRate:
		return float32(c.SampleRate)
	case globalControlRate:
		return float32(c.SampleRate) / float32(c.Ksmps)
	case globalKsmps:
		return float32(c.Ksmps)
	case globalNchnls:
		return float32(c.Nchnls)
	case globalZeroDBFS:
		return float32(c.ZeroDBFS)
	}
	return 0
}

// period returns the time in seconds between two consecutive values of a
// statement running at rate r.
func (c *Context) period(r kantele.Rate) float64 {
	if r == kantele.RateAudio {
		return 1 / float64(c.SampleRate)
	}
	return float64(c.Ksmps) / float64(c.SampleRate)
}

// Instantiate creates an instance of the template, binding params to p1, p2,
// ... in order. P-fields the template reads but params does not have are 0.
// The init pass runs immediately: init-rate statements are computed and
// unit generators set up their state. Errors from the init pass wrap
// kantele.ErrInvalidEvent.
func Instantiate(t *Template, ctx *Context, params []float64) (inst *Instance, initError error) {
	defer func() {
		if err := recover(); err != nil {
			inst = nil
			initError = fmt.Errorf("%w: instr %v init panicked: %v", kantele.ErrEngine, t.ID, err)
		}
	}()
	n := ctx.Ksmps
	inst = &Instance{
		template: t,
		params:   make([]float32, max(t.NumParams, len(params))+1),
		units:    make([]unit, len(t.Steps)),
		slots:    make([][]float32, len(t.SlotRates)),
		inputs:   make([][][]float32, len(t.Steps)),
	}
	for i, p := range params {
		inst.params[i+1] = float32(p)
	}
	backing := make([]float32, (len(t.SlotRates)+2)*n)
	for i := range inst.slots {
		inst.slots[i], backing = backing[:n:n], backing[n:]
	}
	inst.Out[0], inst.Out[1] = backing[:n:n], backing[n:]
	consts := map[float32][]float32{}
	for i, s := range t.Steps {
		ins := make([][]float32, len(s.Inputs))
		for j, in := range s.Inputs {
			if in.Kind == InputSlot {
				ins[j] = inst.slots[in.Index]
				continue
			}
			v := inst.value(ctx, in)
			buf, ok := consts[v]
			if !ok {
				buf = make([]float32, n)
				for k := range buf {
					buf[k] = v
				}
				consts[v] = buf
			}
			ins[j] = buf
		}
		inst.inputs[i] = ins
	}
	for i := range t.Steps {
		if err := inst.init(ctx, i); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Template returns the template the instance was built from.
func (inst *Instance) Template() *Template {
	return inst.template
}

// Param returns the value bound to p-field n.
func (inst *Instance) Param(n int) float32 {
	if n < 1 || n >= len(inst.params) {
		return 0
	}
	return inst.params[n]
}

func (inst *Instance) value(ctx *Context, in Input) float32 {
	switch in.Kind {
	case InputConst:
		return in.Value
	case InputParam:
		return inst.Param(in.Index)
	case InputGlobal:
		return ctx.global(in.Index)
	}
	return 0
}

func (inst *Instance) init(ctx *Context, i int) error {
	s := &inst.template.Steps[i]
	ins := inst.inputs[i]
	u := &inst.units[i]
	if s.Rate == kantele.RateInit {
		inst.compute(ctx, i, 1)
		broadcast(inst.slots[s.Outputs[0]])
		return nil
	}
	period := ctx.period(s.Rate)
	switch s.Opcode {
	case opOscil:
		u.state[0] = float64(ins[2][0])
	case opExpon:
		a, dur, b := float64(ins[0][0]), float64(ins[1][0]), float64(ins[2][0])
		if a*b <= 0 {
			return fmt.Errorf("%w: instr %v line %d: expon values must be nonzero and have the same sign", kantele.ErrInvalidEvent, inst.template.ID, s.Line)
		}
		u.state[0], u.state[1] = a, 1
		if dur > 0 {
			u.state[1] = math.Pow(b/a, period/dur)
		}
	case opLine:
		a, dur, b := float64(ins[0][0]), float64(ins[1][0]), float64(ins[2][0])
		u.state[0], u.state[1] = a, 0
		if dur > 0 {
			u.state[1] = (b - a) * period / dur
		}
	case opRand:
		u.seed = uint32(float64(ins[1][0])*2147483647) | 1
	}
	return nil
}

// Render runs one block: every statement in template order. Control-rate
// statements compute one value and hold it for the block.
func (inst *Instance) Render(ctx *Context) (renderError error) {
	defer func() {
		if err := recover(); err != nil {
			renderError = fmt.Errorf("%w: instr %v render panicked: %v", kantele.ErrEngine, inst.template.ID, err)
		}
	}()
	clear(inst.Out[0])
	clear(inst.Out[1])
	for i, s := range inst.template.Steps {
		switch s.Rate {
		case kantele.RateInit:
			continue
		case kantele.RateControl:
			inst.compute(ctx, i, 1)
			for _, o := range s.Outputs {
				broadcast(inst.slots[o])
			}
		default:
			inst.compute(ctx, i, ctx.Ksmps)
		}
	}
	return nil
}

func broadcast(slot []float32) {
	for k := 1; k < len(slot); k++ {
		slot[k] = slot[0]
	}
}

// compute runs statement i for n samples.
func (inst *Instance) compute(ctx *Context, i int, n int) {
	s := &inst.template.Steps[i]
	ins := inst.inputs[i]
	u := &inst.units[i]
	var out []float32
	if len(s.Outputs) > 0 {
		out = inst.slots[s.Outputs[0]][:n]
	}
	period := ctx.period(s.Rate)
	switch s.Opcode {
	case opAssign:
		copy(out, ins[0][:n])
	case opAdd:
		for k := range out {
			out[k] = ins[0][k] + ins[1][k]
		}
	case opSub:
		for k := range out {
			out[k] = ins[0][k] - ins[1][k]
		}
	case opMul:
		for k := range out {
			out[k] = ins[0][k] * ins[1][k]
		}
	case opDiv:
		for k := range out {
			out[k] = ins[0][k] / ins[1][k]
		}
	case opNeg:
		for k := range out {
			out[k] = -ins[0][k]
		}
	case opOscil:
		phase := u.state[0]
		for k := range out {
			out[k] = ins[0][k] * float32(math.Sin(2*math.Pi*phase))
			phase += float64(ins[1][k]) * period
			phase -= math.Floor(phase)
		}
		u.state[0] = phase
	case opVco2:
		phase := u.state[0]
		mode := int(ins[2][0])
		for k := range out {
			dt := math.Min(math.Abs(float64(ins[1][k])*period), 0.5)
			var v float64
			switch mode {
			case 2, 10:
				pw := 0.5
				if mode == 2 {
					pw = math.Min(math.Max(float64(ins[3][k]), 0.01), 0.99)
				}
				v = -1
				if phase < pw {
					v = 1
				}
				v += polyBLEP(phase, dt)
				p2 := phase + 1 - pw
				v -= polyBLEP(p2-math.Floor(p2), dt)
			case 12:
				v = 4*math.Abs(phase-0.5) - 1
			default:
				v = 2*phase - 1 - polyBLEP(phase, dt)
			}
			out[k] = ins[0][k] * float32(v)
			phase += float64(ins[1][k]) * period
			phase -= math.Floor(phase)
		}
		u.state[0] = phase
	case opExpon:
		v, mul := u.state[0], u.state[1]
		for k := range out {
			out[k] = float32(v)
			v *= mul
		}
		u.state[0] = v
	case opLine:
		v, inc := u.state[0], u.state[1]
		for k := range out {
			out[k] = float32(v)
			v += inc
		}
		u.state[0] = v
	case opLinen:
		t := u.state[0]
		for k := range out {
			rise, dur, decay := float64(ins[1][k]), float64(ins[2][k]), float64(ins[3][k])
			env := 1.0
			if t < rise {
				env = t / rise
			} else if decay > 0 && t > dur-decay {
				env = math.Max((dur-t)/decay, 0)
			}
			out[k] = ins[0][k] * float32(env)
			t += period
		}
		u.state[0] = t
	case opRand:
		for k := range out {
			u.seed *= 16007
			out[k] = ins[0][k] * float32(int32(u.seed)) / -2147483648.0
		}
	case opTone:
		y := u.state[0]
		for k := range out {
			b := 2 - math.Cos(2*math.Pi*float64(ins[1][k])*period)
			c2 := b - math.Sqrt(b*b-1)
			y = (1-c2)*float64(ins[0][k]) + c2*y
			out[k] = float32(y)
		}
		u.state[0] = y
	case opSvfilter:
		low, band := u.state[0], u.state[1]
		var high []float32
		var bandOut []float32
		if len(s.Outputs) > 1 {
			high = inst.slots[s.Outputs[1]][:n]
		}
		if len(s.Outputs) > 2 {
			bandOut = inst.slots[s.Outputs[2]][:n]
		}
		for k := range out {
			f := 2 * math.Sin(math.Pi*math.Min(float64(ins[1][k])*period, 0.25))
			damp := 1 / math.Max(float64(ins[2][k]), 0.5)
			low += f * band
			h := float64(ins[0][k]) - low - damp*band
			band += f * h
			out[k] = float32(low)
			if high != nil {
				high[k] = float32(h)
			}
			if bandOut != nil {
				bandOut[k] = float32(band)
			}
		}
		u.state[0], u.state[1] = low, band
	case opClip:
		for k := range out {
			limit := ins[1][k]
			v := ins[0][k]
			if v > limit {
				v = limit
			} else if v < -limit {
				v = -limit
			}
			out[k] = v
		}
	case opInch:
		ch := int(ins[0][0]) - 1
		var src []float32
		if ch >= 0 && ch < len(ctx.Input) {
			src = ctx.Input[ch]
		}
		for k := range out {
			var v float32
			if k < len(src) {
				v = src[k]
			}
			out[k] = v * float32(ctx.ZeroDBFS)
		}
	case opOut:
		right := ins[0]
		if s.Given > 1 {
			right = ins[1]
		}
		for k := 0; k < n; k++ {
			inst.Out[0][k] += ins[0][k]
			inst.Out[1][k] += right[k]
		}
	case opOuts:
		for k := 0; k < n; k++ {
			inst.Out[0][k] += ins[0][k]
			inst.Out[1][k] += ins[1][k]
		}
	default:
		panic(fmt.Sprintf("unknown opcode %d", s.Opcode))
	}
}

// polyBLEP is the polynomial band limited step correction for a phase t in
// [0, 1) advancing dt per sample.
func polyBLEP(t, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	if t < dt {
		t /= dt
		return t + t - t*t - 1
	}
	if t > 1-dt {
		t = (t - 1) / dt
		return t*t + t + t + 1
	}
	return 0
}
