package orc

import (
	"math"
	"regexp"
	"strconv"

	"github.com/vsariola/kantele"
	"golang.org/x/text/cases"
)

var pfieldRe = regexp.MustCompile(`^p([0-9]+)$`)

var folder = cases.Fold()

// InstrumentName returns the id of a named instrument. Names are matched
// case insensitively.
func InstrumentName(name string) kantele.InstrumentID {
	return kantele.InstrumentID(folder.String(name))
}

type parser struct {
	toks   []token
	pos    int
	header kantele.Header
	kr     float64
	instrs []kantele.InstrumentDefinition
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return unexpected(t, "expected "+strconv.Quote(s))
	}
	return nil
}

func (p *parser) endOfStatement() error {
	t := p.next()
	if t.kind != tokNewline && t.kind != tokEOF {
		return unexpected(t, "expected end of line")
	}
	return nil
}

func unexpected(t token, what string) error {
	switch t.kind {
	case tokEOF:
		return kantele.Errorf(t.line, t.col, "unexpected end of input, %s", what)
	case tokNewline:
		return kantele.Errorf(t.line, t.col, "unexpected end of line, %s", what)
	}
	return kantele.Errorf(t.line, t.col, "unexpected %q, %s", t.text, what)
}

// parseOrchestra parses header statements and instrument blocks.
func parseOrchestra(src string, firstLine int) (kantele.Header, []kantele.InstrumentDefinition, error) {
	toks, err := tokenize(src, firstLine)
	if err != nil {
		return kantele.Header{}, nil, err
	}
	p := &parser{toks: toks}
	for {
		t := p.next()
		switch t.kind {
		case tokEOF:
			if p.kr > 0 && p.header.Ksmps == 0 && p.header.SampleRate > 0 {
				p.header.Ksmps = int(math.Round(float64(p.header.SampleRate) / p.kr))
			}
			return p.header, p.instrs, nil
		case tokNewline:
			continue
		case tokIdent:
			if t.text == "instr" {
				if err := p.instrument(t); err != nil {
					return kantele.Header{}, nil, err
				}
				continue
			}
			if err := p.headerStatement(t); err != nil {
				return kantele.Header{}, nil, err
			}
		default:
			return kantele.Header{}, nil, unexpected(t, "expected instr or a header statement")
		}
	}
}

func (p *parser) headerStatement(name token) error {
	if err := p.expectPunct("="); err != nil {
		return err
	}
	arg, err := p.expr()
	if err != nil {
		return err
	}
	if err := p.endOfStatement(); err != nil {
		return err
	}
	v, ok := constValue(arg)
	if !ok {
		return kantele.Errorf(name.line, name.col, "%v should be a constant", name.text)
	}
	integer := func() (int, error) {
		if v != math.Trunc(v) || v <= 0 {
			return 0, kantele.Errorf(name.line, name.col, "%v should be a positive integer, got %v", name.text, v)
		}
		return int(v), nil
	}
	switch name.text {
	case "sr":
		p.header.SampleRate, err = integer()
	case "ksmps":
		p.header.Ksmps, err = integer()
	case "nchnls":
		p.header.Nchnls, err = integer()
		if err == nil && p.header.Nchnls > 2 {
			err = kantele.Errorf(name.line, name.col, "nchnls should be 1 or 2, got %v", v)
		}
	case "kr":
		if v <= 0 {
			err = kantele.Errorf(name.line, name.col, "kr should be positive, got %v", v)
		}
		p.kr = v
	case "0dbfs":
		if v <= 0 {
			err = kantele.Errorf(name.line, name.col, "0dbfs should be positive, got %v", v)
		}
		p.header.ZeroDBFS = v
	default:
		return kantele.Errorf(name.line, name.col, "unexpected %q outside of an instrument", name.text)
	}
	return err
}

func constValue(a kantele.Arg) (float64, bool) {
	switch a.Kind {
	case kantele.ArgConst:
		return a.Value, true
	case kantele.ArgNeg:
		v, ok := constValue(a.Operands[0])
		return -v, ok
	case kantele.ArgBinary:
		x, ok1 := constValue(a.Operands[0])
		y, ok2 := constValue(a.Operands[1])
		if !ok1 || !ok2 {
			return 0, false
		}
		switch a.Op {
		case '+':
			return x + y, true
		case '-':
			return x - y, true
		case '*':
			return x * y, true
		case '/':
			return x / y, true
		}
	}
	return 0, false
}

func (p *parser) instrument(start token) error {
	var ids []kantele.InstrumentID
	for {
		t := p.next()
		switch t.kind {
		case tokNumber:
			if t.num != math.Trunc(t.num) || t.num < 1 {
				return kantele.Errorf(t.line, t.col, "instrument number should be a positive integer, got %v", t.text)
			}
			ids = append(ids, kantele.NumberedInstrument(int(t.num)))
		case tokIdent:
			ids = append(ids, InstrumentName(t.text))
		default:
			return unexpected(t, "expected instrument number or name")
		}
		if !p.isPunct(",") {
			break
		}
		p.next()
	}
	if err := p.endOfStatement(); err != nil {
		return err
	}
	var steps []kantele.StepDef
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			return kantele.Errorf(start.line, start.col, "instr without endin")
		case t.kind == tokNewline:
			p.next()
			continue
		case t.kind == tokIdent && t.text == "endin":
			p.next()
			if err := p.endOfStatement(); err != nil {
				return err
			}
			for _, id := range ids {
				def := kantele.InstrumentDefinition{ID: id, Steps: steps, Line: start.line}
				p.instrs = append(p.instrs, def.Copy())
			}
			return nil
		case t.kind == tokIdent && t.text == "instr":
			return kantele.Errorf(t.line, t.col, "instr inside instr, missing endin")
		}
		s, err := p.statement()
		if err != nil {
			return err
		}
		steps = append(steps, s)
	}
}

// statement parses "[out1, out2, ...] opcode [arg1, arg2, ...]" or
// "out = expr".
func (p *parser) statement() (kantele.StepDef, error) {
	first := p.next()
	if first.kind != tokIdent {
		return kantele.StepDef{}, unexpected(first, "expected a statement")
	}
	s := kantele.StepDef{Line: first.line, Col: first.col}
	if p.isPunct("=") {
		p.next()
		arg, err := p.expr()
		if err != nil {
			return s, err
		}
		s.Opcode, s.Outputs, s.Args = "assign", []string{first.text}, []kantele.Arg{arg}
		if err := checkOutputs(first, s.Outputs); err != nil {
			return s, err
		}
		return s, p.endOfStatement()
	}
	if _, ok := kantele.UnitTypes[first.text]; ok {
		s.Opcode = first.text
	} else {
		s.Outputs = append(s.Outputs, first.text)
		for p.isPunct(",") {
			p.next()
			t := p.next()
			if t.kind != tokIdent {
				return s, unexpected(t, "expected an output variable")
			}
			s.Outputs = append(s.Outputs, t.text)
		}
		op := p.next()
		if op.kind != tokIdent {
			return s, unexpected(op, "expected an opcode")
		}
		if _, ok := kantele.UnitTypes[op.text]; !ok {
			return s, kantele.Errorf(op.line, op.col, "unknown opcode %q", op.text)
		}
		s.Opcode, s.Col = op.text, op.col
	}
	if err := checkOutputs(first, s.Outputs); err != nil {
		return s, err
	}
	if t := p.peek(); t.kind == tokNewline || t.kind == tokEOF {
		return s, p.endOfStatement()
	}
	for {
		arg, err := p.expr()
		if err != nil {
			return s, err
		}
		s.Args = append(s.Args, arg)
		if !p.isPunct(",") {
			break
		}
		p.next()
	}
	return s, p.endOfStatement()
}

func checkOutputs(first token, outputs []string) error {
	for _, o := range outputs {
		if _, ok := kantele.RateOf(o); !ok || pfieldRe.MatchString(o) || isGlobal(o) {
			return kantele.Errorf(first.line, first.col, "cannot write to %q; variables start with i, k or a", o)
		}
	}
	return nil
}

func isGlobal(name string) bool {
	for _, g := range kantele.Globals {
		if g == name {
			return true
		}
	}
	return false
}

// expr parses sums; term parses products; unary parses signs and primaries.
func (p *parser) expr() (kantele.Arg, error) {
	a, err := p.term()
	if err != nil {
		return a, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.next().text[0]
		b, err := p.term()
		if err != nil {
			return a, err
		}
		a = kantele.Binary(op, a, b)
	}
	return a, nil
}

func (p *parser) term() (kantele.Arg, error) {
	a, err := p.unary()
	if err != nil {
		return a, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := p.next().text[0]
		b, err := p.unary()
		if err != nil {
			return a, err
		}
		a = kantele.Binary(op, a, b)
	}
	return a, nil
}

func (p *parser) unary() (kantele.Arg, error) {
	if p.isPunct("-") {
		p.next()
		a, err := p.unary()
		if err != nil {
			return a, err
		}
		if a.Kind == kantele.ArgConst {
			return kantele.Const(-a.Value), nil
		}
		return kantele.Arg{Kind: kantele.ArgNeg, Operands: []kantele.Arg{a}}, nil
	}
	if p.isPunct("+") {
		p.next()
		return p.unary()
	}
	t := p.next()
	switch t.kind {
	case tokNumber:
		return kantele.Const(t.num), nil
	case tokIdent:
		if m := pfieldRe.FindStringSubmatch(t.text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 {
				return kantele.Arg{}, kantele.Errorf(t.line, t.col, "invalid p-field %q", t.text)
			}
			return kantele.PField(n), nil
		}
		if isGlobal(t.text) {
			return kantele.Arg{Kind: kantele.ArgGlobal, Name: t.text}, nil
		}
		if _, ok := kantele.UnitTypes[t.text]; ok {
			return kantele.Arg{}, kantele.Errorf(t.line, t.col, "opcode %q cannot be used as a value", t.text)
		}
		return kantele.Var(t.text), nil
	case tokPunct:
		if t.text == "(" {
			a, err := p.expr()
			if err != nil {
				return a, err
			}
			return a, p.expectPunct(")")
		}
	}
	return kantele.Arg{}, unexpected(t, "expected a value")
}
