package kantele

import (
	"fmt"
	"strconv"
	"strings"
)

type (
	// InstrumentID identifies an instrument. Numbered instruments are stored
	// in their decimal form ("2"), named instruments in their case folded form
	// ("bass").
	InstrumentID string

	// InstrumentDefinition is a parsed, not yet validated instrument: the
	// ordered list of statements between instr and endin. The vm package
	// turns it into an immutable template.
	InstrumentDefinition struct {
		ID    InstrumentID
		Steps []StepDef
		Line  int `yaml:"-"` // line of the instr statement, 0 if unknown
	}

	// StepDef is one statement of an instrument: an opcode, the variables it
	// writes to and the argument expressions it reads.
	StepDef struct {
		Opcode  string
		Outputs []string `yaml:",flow,omitempty"`
		Args    []Arg    `yaml:",flow,omitempty"`
		Line    int      `yaml:"-"`
		Col     int      `yaml:"-"`
	}

	// Arg is an argument expression tree. Leaves are constants, p-fields,
	// variables and globals; inner nodes are unary minus and the four
	// arithmetic operators.
	Arg struct {
		Kind     ArgKind
		Value    float64 // ArgConst
		Name     string  // ArgVar, ArgGlobal
		PField   int     // ArgPField
		Op       byte    // ArgBinary: one of + - * /
		Operands []Arg   // ArgBinary: two operands, ArgNeg: one
	}

	ArgKind int
)

const (
	ArgConst ArgKind = iota
	ArgPField
	ArgVar
	ArgGlobal
	ArgBinary
	ArgNeg
)

// NumberedInstrument returns the InstrumentID of instrument number n.
func NumberedInstrument(n int) InstrumentID {
	return InstrumentID(strconv.Itoa(n))
}

// Number returns the instrument number and true, if the id is a numbered
// instrument.
func (id InstrumentID) Number() (int, bool) {
	n, err := strconv.Atoi(string(id))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (id InstrumentID) String() string {
	return string(id)
}

// Copy makes a deep copy of the definition.
func (d *InstrumentDefinition) Copy() InstrumentDefinition {
	steps := make([]StepDef, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = s.Copy()
	}
	return InstrumentDefinition{ID: d.ID, Steps: steps, Line: d.Line}
}

func (s *StepDef) Copy() StepDef {
	outputs := make([]string, len(s.Outputs))
	copy(outputs, s.Outputs)
	args := make([]Arg, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.Copy()
	}
	return StepDef{Opcode: s.Opcode, Outputs: outputs, Args: args, Line: s.Line, Col: s.Col}
}

func (a Arg) Copy() Arg {
	if a.Operands == nil {
		return a
	}
	ops := make([]Arg, len(a.Operands))
	for i, o := range a.Operands {
		ops[i] = o.Copy()
	}
	a.Operands = ops
	return a
}

// Const returns a constant argument.
func Const(v float64) Arg { return Arg{Kind: ArgConst, Value: v} }

// PField returns an argument reading p-field n.
func PField(n int) Arg { return Arg{Kind: ArgPField, PField: n} }

// Var returns an argument reading the variable name.
func Var(name string) Arg { return Arg{Kind: ArgVar, Name: name} }

// Binary returns the arithmetic expression a op b.
func Binary(op byte, a, b Arg) Arg {
	return Arg{Kind: ArgBinary, Op: op, Operands: []Arg{a, b}}
}

// String prints the argument back in orchestra syntax.
func (a Arg) String() string {
	switch a.Kind {
	case ArgConst:
		return strconv.FormatFloat(a.Value, 'g', -1, 64)
	case ArgPField:
		return fmt.Sprintf("p%d", a.PField)
	case ArgVar, ArgGlobal:
		return a.Name
	case ArgNeg:
		if len(a.Operands) == 1 {
			return "-" + a.Operands[0].String()
		}
	case ArgBinary:
		if len(a.Operands) == 2 {
			return "(" + a.Operands[0].String() + string(a.Op) + a.Operands[1].String() + ")"
		}
	}
	return "?"
}

// String prints the statement back in orchestra syntax.
func (s StepDef) String() string {
	var b strings.Builder
	if len(s.Outputs) > 0 {
		b.WriteString(strings.Join(s.Outputs, ", "))
		b.WriteByte(' ')
	}
	b.WriteString(s.Opcode)
	for i, a := range s.Args {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	return b.String()
}

// MaxPField returns the highest p-field number the argument references.
func (a Arg) MaxPField() int {
	m := 0
	if a.Kind == ArgPField {
		m = a.PField
	}
	for _, o := range a.Operands {
		m = max(m, o.MaxPField())
	}
	return m
}
