package vm

import (
	"fmt"

	"github.com/vsariola/kantele"
)

type (
	// Template is the compiled, immutable form of an instrument: the ordered
	// unit generator steps with every input resolved to a slot, a p-field, a
	// global or a constant. Recompiling an instrument always creates a new
	// Template; instances keep pointing to the one they were built from.
	Template struct {
		ID    kantele.InstrumentID
		Steps []Step
		// SlotRates holds the rate of every variable slot; len(SlotRates) is
		// the number of slots an instance allocates.
		SlotRates []kantele.Rate
		// NumParams is the highest p-field any step reads.
		NumParams int
		// Vars maps the named variables of the instrument to their slots.
		Vars map[string]int
		// Source is the definition the template was compiled from.
		Source kantele.InstrumentDefinition
	}

	// Step is one unit generator instantiation step.
	Step struct {
		Opcode  int
		Name    string
		Rate    kantele.Rate
		Inputs  []Input // one per kantele.UnitType input, defaults filled in
		Given   int     // number of inputs present in the source
		Outputs []int
		Line    int
	}

	// Input tells where a step reads one of its inputs from.
	Input struct {
		Kind  InputKind
		Index int     // slot, p-field or global index
		Value float32 // InputConst
	}

	InputKind int
)

const (
	InputConst InputKind = iota
	InputSlot
	InputParam
	InputGlobal
)

const (
	globalSampleRate = iota
	globalControlRate
	globalKsmps
	globalNchnls
	globalZeroDBFS
)

type templateBuilder struct {
	featureSet FeatureSet
	line, col  int
	Template
}

// NewTemplate compiles an instrument definition. It fails with a
// *kantele.CompileError for unknown opcodes, bad argument counts or rates,
// and with a *kantele.WiringError if a statement reads a variable no earlier
// statement writes.
func NewTemplate(def kantele.InstrumentDefinition, featureSet FeatureSet) (*Template, error) {
	if def.ID == "" {
		return nil, kantele.Errorf(def.Line, 0, "instrument without an id")
	}
	b := templateBuilder{
		featureSet: featureSet,
		Template: Template{
			ID:     def.ID,
			Vars:   map[string]int{},
			Source: def.Copy(),
		},
	}
	for _, s := range def.Steps {
		if err := b.step(s); err != nil {
			return nil, err
		}
	}
	return &b.Template, nil
}

func (b *templateBuilder) errorf(format string, args ...any) error {
	return kantele.Errorf(b.line, b.col, "instr %v: "+format, append([]any{b.ID}, args...)...)
}

// step resolves the inputs of one statement and then binds its outputs, so a
// statement cannot read what it writes itself.
func (b *templateBuilder) step(s kantele.StepDef) error {
	b.line, b.col = s.Line, s.Col
	ut, ok := kantele.UnitTypes[s.Opcode]
	if !ok {
		return b.errorf("unknown opcode %q", s.Opcode)
	}
	opcode, ok := b.featureSet.Opcode(s.Opcode)
	if !ok {
		return b.errorf("opcode %q is not supported", s.Opcode)
	}
	if len(s.Outputs) < ut.MinOutputs || len(s.Outputs) > ut.MaxOutputs {
		if ut.MinOutputs == ut.MaxOutputs {
			return b.errorf("%v takes %d outputs, got %d", s.Opcode, ut.MinOutputs, len(s.Outputs))
		}
		return b.errorf("%v takes %d to %d outputs, got %d", s.Opcode, ut.MinOutputs, ut.MaxOutputs, len(s.Outputs))
	}
	if len(s.Args) < ut.MinInputs() || len(s.Args) > len(ut.Inputs) {
		return b.errorf("wrong number of arguments for %v, usage: %v", s.Opcode, ut.Signature(s.Opcode))
	}
	rate := kantele.RateAudio
	for i, name := range s.Outputs {
		r, ok := kantele.RateOf(name)
		if !ok {
			return b.errorf("variable %q should start with i, k or a", name)
		}
		if i == 0 {
			rate = r
		} else if r != rate {
			return b.errorf("outputs of %v should all have the same rate", s.Opcode)
		}
	}
	if !ut.AllowsRate(rate) {
		return b.errorf("%v cannot produce %v-rate output", s.Opcode, rate)
	}
	inputs := make([]Input, len(ut.Inputs))
	for i, in := range ut.Inputs {
		if i >= len(s.Args) {
			inputs[i] = Input{Kind: InputConst, Value: float32(in.Default)}
			continue
		}
		input, r, err := b.lower(s.Args[i])
		if err != nil {
			return err
		}
		if rate == kantele.RateInit && r != kantele.RateInit {
			return b.errorf("init-rate statement %v reads a %v-rate value", s.Opcode, r)
		}
		inputs[i] = input
	}
	outputs := make([]int, len(s.Outputs))
	for i, name := range s.Outputs {
		slot, ok := b.Vars[name]
		if !ok {
			slot = b.newSlot(rate)
			b.Vars[name] = slot
		}
		outputs[i] = slot
	}
	b.Steps = append(b.Steps, Step{Opcode: opcode, Name: s.Opcode, Rate: rate, Inputs: inputs, Given: len(s.Args), Outputs: outputs, Line: s.Line})
	return nil
}

func (b *templateBuilder) newSlot(rate kantele.Rate) int {
	b.SlotRates = append(b.SlotRates, rate)
	return len(b.SlotRates) - 1
}

// lower turns an argument expression into an input, emitting implicit
// arithmetic steps for operators. Constant subexpressions are folded.
func (b *templateBuilder) lower(a kantele.Arg) (Input, kantele.Rate, error) {
	switch a.Kind {
	case kantele.ArgConst:
		return Input{Kind: InputConst, Value: float32(a.Value)}, kantele.RateInit, nil
	case kantele.ArgPField:
		if a.PField < 1 {
			return Input{}, 0, b.errorf("invalid p-field p%d", a.PField)
		}
		b.NumParams = max(b.NumParams, a.PField)
		return Input{Kind: InputParam, Index: a.PField}, kantele.RateInit, nil
	case kantele.ArgGlobal:
		for i, g := range kantele.Globals {
			if g == a.Name {
				return Input{Kind: InputGlobal, Index: i}, kantele.RateInit, nil
			}
		}
		return Input{}, 0, b.errorf("unknown global %q", a.Name)
	case kantele.ArgVar:
		slot, ok := b.Vars[a.Name]
		if !ok {
			return Input{}, 0, &kantele.WiringError{Instrument: b.ID, Line: b.line, Name: a.Name}
		}
		return Input{Kind: InputSlot, Index: slot}, b.SlotRates[slot], nil
	case kantele.ArgNeg, kantele.ArgBinary:
		name := "neg"
		want := 1
		if a.Kind == kantele.ArgBinary {
			name = kantele.ArithmeticOpcodes[a.Op]
			want = 2
		}
		if name == "" || len(a.Operands) != want {
			return Input{}, 0, b.errorf("malformed expression %v", a)
		}
		ins := make([]Input, want)
		rate := kantele.RateInit
		consts := true
		for i, o := range a.Operands {
			in, r, err := b.lower(o)
			if err != nil {
				return Input{}, 0, err
			}
			ins[i] = in
			rate = max(rate, r)
			consts = consts && in.Kind == InputConst
		}
		if consts {
			return Input{Kind: InputConst, Value: fold(name, ins)}, kantele.RateInit, nil
		}
		opcode, ok := b.featureSet.Opcode(name)
		if !ok {
			return Input{}, 0, b.errorf("opcode %q is not supported", name)
		}
		slot := b.newSlot(rate)
		b.Steps = append(b.Steps, Step{Opcode: opcode, Name: name, Rate: rate, Inputs: ins, Given: want, Outputs: []int{slot}, Line: b.line})
		return Input{Kind: InputSlot, Index: slot}, rate, nil
	}
	return Input{}, 0, b.errorf("malformed argument %v", a)
}

func fold(name string, ins []Input) float32 {
	switch name {
	case "neg":
		return -ins[0].Value
	case "add":
		return ins[0].Value + ins[1].Value
	case "sub":
		return ins[0].Value - ins[1].Value
	case "mul":
		return ins[0].Value * ins[1].Value
	case "div":
		return ins[0].Value / ins[1].Value
	}
	return 0
}

// Listing returns a human readable form of one step, for example
// "k#2 expon p4, p3, i#1".
func (t *Template) Listing(i int) string {
	s := t.Steps[i]
	ret := ""
	for j, o := range s.Outputs {
		if j > 0 {
			ret += ", "
		}
		ret += fmt.Sprintf("%v#%d", t.SlotRates[o], o)
	}
	if ret != "" {
		ret += " "
	}
	ret += s.Name
	for j, in := range s.Inputs {
		if j == 0 {
			ret += " "
		} else {
			ret += ", "
		}
		switch in.Kind {
		case InputConst:
			ret += fmt.Sprintf("%g", in.Value)
		case InputParam:
			ret += fmt.Sprintf("p%d", in.Index)
		case InputGlobal:
			ret += kantele.Globals[in.Index]
		case InputSlot:
			ret += fmt.Sprintf("%v#%d", t.SlotRates[in.Index], in.Index)
		}
	}
	return ret
}
