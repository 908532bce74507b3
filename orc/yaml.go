package orc

import (
	"fmt"
	"strings"

	"github.com/vsariola/kantele"
	"gopkg.in/yaml.v3"
)

// yamlProgram is the YAML program format. Instrument bodies are orchestra
// statements; the score can be given as events, as score text, or both.
//
//	header: {sr: 48000, ksmps: 32}
//	instruments:
//	  - id: 2
//	    body: |
//	      k1 expon p4, p3, p4*0.001
//	      a1 vco2 k1, p5
//	      out a1
//	score:
//	  - {instr: 2, start: 0, dur: 1, params: [10000, 110]}
type yamlProgram struct {
	Header      kantele.Header   `yaml:"header,omitempty"`
	Instruments []yamlInstrument `yaml:"instruments"`
	Score       []kantele.ScoreEvent
	Sco         string `yaml:"sco,omitempty"`
}

type yamlInstrument struct {
	ID   string `yaml:"id"`
	Body string `yaml:"body"`
}

// LoadYAML parses a YAML program.
func LoadYAML(data []byte) (kantele.Program, error) {
	var doc yamlProgram
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return kantele.Program{}, fmt.Errorf("%w: could not parse yaml: %v", kantele.ErrCompile, err)
	}
	ret := kantele.Program{Header: doc.Header}
	for i, in := range doc.Instruments {
		if in.ID == "" {
			return kantele.Program{}, fmt.Errorf("%w: instrument %d has no id", kantele.ErrCompile, i)
		}
		defs, err := Compiler{}.CompileOrchestra(fmt.Sprintf("instr %s\n%s\nendin\n", in.ID, in.Body))
		if err != nil {
			return kantele.Program{}, fmt.Errorf("instrument %v: %w", in.ID, err)
		}
		ret.Instruments = append(ret.Instruments, defs...)
	}
	for _, ev := range doc.Score {
		ev.Instrument = NormalizeID(ev.Instrument)
		ret.Score = append(ret.Score, ev)
	}
	if strings.TrimSpace(doc.Sco) != "" {
		events, err := parseScore(doc.Sco, 1)
		if err != nil {
			return kantele.Program{}, fmt.Errorf("sco: %w", err)
		}
		ret.Score = append(ret.Score, events...)
	}
	if err := ret.Validate(); err != nil {
		return kantele.Program{}, err
	}
	return ret, nil
}

// MarshalYAML encodes a program in the YAML program format.
func MarshalYAML(p kantele.Program) ([]byte, error) {
	doc := yamlProgram{Header: p.Header, Score: p.Score}
	for _, d := range p.Instruments {
		var body strings.Builder
		for _, s := range d.Steps {
			body.WriteString(s.String())
			body.WriteByte('\n')
		}
		doc.Instruments = append(doc.Instruments, yamlInstrument{ID: string(d.ID), Body: body.String()})
	}
	return yaml.Marshal(doc)
}

// NormalizeID folds named instruments the same way the orchestra parser
// does and writes numbers in decimal, so ids written by hand match their
// instruments.
func NormalizeID(id kantele.InstrumentID) kantele.InstrumentID {
	if n, ok := id.Number(); ok {
		return kantele.NumberedInstrument(n)
	}
	return InstrumentName(string(id))
}
