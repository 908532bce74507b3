package orc

import (
	"math"
	"strconv"
	"strings"

	"github.com/vsariola/kantele"
)

type scoreField struct {
	text      string
	line, col int
}

// scoreFields splits one score line into whitespace separated fields,
// dropping comments. A statement letter glued to its first field ("i1") is
// split off.
func scoreFields(line string, lineNo int) []scoreField {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	var ret []scoreField
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t' || line[i] == '\r') {
			i++
		}
		if i >= len(line) {
			break
		}
		start := i
		if line[i] == '"' {
			i++
			for i < len(line) && line[i] != '"' {
				i++
			}
			i = min(i+1, len(line))
		} else {
			for i < len(line) && line[i] != ' ' && line[i] != '\t' && line[i] != '\r' && line[i] != '"' {
				i++
			}
		}
		ret = append(ret, scoreField{text: line[start:i], line: lineNo, col: start + 1})
	}
	if len(ret) > 0 && len(ret[0].text) > 1 && isLetter(ret[0].text[0]) {
		f := ret[0]
		rest := scoreField{text: f.text[1:], line: f.line, col: f.col + 1}
		ret = append([]scoreField{{text: f.text[:1], line: f.line, col: f.col}, rest}, ret[1:]...)
	}
	return ret
}

type scoreParser struct {
	events   []kantele.ScoreEvent
	prev     *kantele.ScoreEvent
	prevP    []string
	finished bool
}

// parseScore parses i, f and e statements. Times are in seconds relative to
// the moment the score is read.
func parseScore(src string, firstLine int) ([]kantele.ScoreEvent, error) {
	p := &scoreParser{}
	for n, line := range strings.Split(src, "\n") {
		if p.finished {
			break
		}
		fields := scoreFields(line, firstLine+n)
		if len(fields) == 0 {
			continue
		}
		if err := p.statement(fields); err != nil {
			return nil, err
		}
	}
	return p.events, nil
}

func (p *scoreParser) statement(fields []scoreField) error {
	f := fields[0]
	switch f.text {
	case "i":
		return p.instrument(fields)
	case "f":
		if len(fields) < 3 {
			return kantele.Errorf(f.line, f.col, "f statement needs a table number and a time")
		}
		table, err := number(fields[1])
		if err != nil {
			return err
		}
		if table != 0 {
			return nil // function tables are not used by any opcode
		}
		t, err := number(fields[2])
		if err != nil {
			return err
		}
		if t < 0 {
			return kantele.Errorf(fields[2].line, fields[2].col, "f 0 time should not be negative")
		}
		p.events = append(p.events, kantele.ScoreEvent{Kind: kantele.EventHold, Start: t})
		return nil
	case "e":
		p.finished = true
		return nil
	}
	return kantele.Errorf(f.line, f.col, "unsupported score statement %q", f.text)
}

func number(f scoreField) (float64, error) {
	v, err := strconv.ParseFloat(f.text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, kantele.Errorf(f.line, f.col, "malformed number %q", f.text)
	}
	return v, nil
}

// instrumentField parses p1: a positive number, optionally with a fraction
// tagging the instance, or a quoted name. A leading minus makes the
// statement a turnoff.
func instrumentField(f scoreField) (id kantele.InstrumentID, tag string, turnoff bool, err error) {
	text := f.text
	if strings.HasPrefix(text, "-") {
		turnoff = true
		text = text[1:]
	}
	if strings.HasPrefix(text, `"`) {
		if len(text) < 3 || !strings.HasSuffix(text, `"`) {
			return "", "", false, kantele.Errorf(f.line, f.col, "malformed instrument name %s", f.text)
		}
		return InstrumentName(text[1 : len(text)-1]), "", turnoff, nil
	}
	whole, frac, _ := strings.Cut(text, ".")
	n, err := strconv.Atoi(whole)
	if err != nil || n < 1 {
		return "", "", false, kantele.Errorf(f.line, f.col, "malformed instrument number %q", f.text)
	}
	if frac != "" {
		if _, err := strconv.Atoi(frac); err != nil {
			return "", "", false, kantele.Errorf(f.line, f.col, "malformed instrument number %q", f.text)
		}
	}
	return kantele.NumberedInstrument(n), frac, turnoff, nil
}

func (p *scoreParser) instrument(fields []scoreField) error {
	if len(fields) < 3 {
		return kantele.Errorf(fields[0].line, fields[0].col, "i statement needs at least p1 and p2")
	}
	id, tag, turnoff, err := instrumentField(fields[1])
	if err != nil {
		return err
	}
	pfields := make([]string, len(fields)-1)
	for i := range pfields {
		pfields[i] = fields[i+1].text
	}
	// carry: "." repeats the field of the previous i statement
	for i := 1; i < len(pfields); i++ {
		if pfields[i] != "." {
			continue
		}
		if p.prev == nil || i >= len(p.prevP) {
			f := fields[i+1]
			return kantele.Errorf(f.line, f.col, "nothing to carry for p%d", i+1)
		}
		pfields[i] = p.prevP[i]
	}
	ev := kantele.ScoreEvent{Instrument: id, Tag: tag}
	if pfields[1] == "+" {
		if p.prev == nil || p.prev.Kind != kantele.EventNote || p.prev.Hold {
			f := fields[2]
			return kantele.Errorf(f.line, f.col, "+ needs a previous note with a duration")
		}
		ev.Start = p.prev.Start + p.prev.Duration
		pfields[1] = strconv.FormatFloat(ev.Start, 'g', -1, 64)
	} else if ev.Start, err = number(fields[2].withText(pfields[1])); err != nil {
		return err
	}
	if ev.Start < 0 {
		return kantele.Errorf(fields[2].line, fields[2].col, "start time should not be negative")
	}
	if turnoff {
		ev.Kind = kantele.EventTurnoff
		p.events = append(p.events, ev)
		return nil
	}
	if len(pfields) < 3 {
		return kantele.Errorf(fields[0].line, fields[0].col, "i statement needs a duration")
	}
	if ev.Duration, err = number(fields[3].withText(pfields[2])); err != nil {
		return err
	}
	if ev.Duration < 0 {
		ev.Hold = true
	}
	for i := 3; i < len(pfields); i++ {
		v, err := number(fields[i+1].withText(pfields[i]))
		if err != nil {
			return err
		}
		ev.Params = append(ev.Params, v)
	}
	p.events = append(p.events, ev)
	p.prev = &ev
	p.prevP = pfields
	return nil
}

func (f scoreField) withText(text string) scoreField {
	f.text = text
	return f
}
