package orc_test

import (
	"errors"
	"testing"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/orc"
)

const yamlSource = `header: {sr: 22050, ksmps: 32}
instruments:
  - id: 2
    body: |
      k1 expon p4, p3, p4*0.001
      a1 vco2 k1, p5
      out a1
  - id: Lead
    body: |
      a1 oscil p4, p5
      outs a1, a1
score:
  - {instr: 2, start: 0, dur: 1, params: [10000, 110]}
  - {instr: LEAD, start: 0.5, dur: -1, hold: true}
sco: |
  i-2 2
`

func TestLoadYAML(t *testing.T) {
	p, err := orc.LoadYAML([]byte(yamlSource))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if p.Header.SampleRate != 22050 || p.Header.Ksmps != 32 || p.Header.Nchnls != 0 {
		t.Errorf("unexpected header %+v", p.Header)
	}
	if len(p.Instruments) != 2 || p.Instruments[0].ID != "2" || p.Instruments[1].ID != "lead" {
		t.Fatalf("expected instruments 2 and lead, got %v", p.Instruments)
	}
	if len(p.Score) != 3 {
		t.Fatalf("expected 3 events, got %v", p.Score)
	}
	if p.Score[1].Instrument != "lead" || !p.Score[1].Hold {
		t.Errorf("expected a held note of lead, got %+v", p.Score[1])
	}
	if p.Score[2].Kind != kantele.EventTurnoff || p.Score[2].Start != 2 {
		t.Errorf("expected a turnoff at 2 from the sco text, got %+v", p.Score[2])
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	p, err := orc.LoadYAML([]byte(yamlSource))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	data, err := orc.MarshalYAML(p)
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	q, err := orc.LoadYAML(data)
	if err != nil {
		t.Fatalf("could not load the marshaled program: %v\n%s", err, data)
	}
	if len(q.Instruments) != len(p.Instruments) || len(q.Score) != len(p.Score) {
		t.Fatalf("round trip lost data:\n%s", data)
	}
	for i := range p.Instruments {
		a, b := p.Instruments[i], q.Instruments[i]
		if len(a.Steps) != len(b.Steps) {
			t.Fatalf("instrument %v: step count changed", a.ID)
		}
		for j := range a.Steps {
			if a.Steps[j].String() != b.Steps[j].String() {
				t.Errorf("instrument %v step %d: %q became %q", a.ID, j, a.Steps[j], b.Steps[j])
			}
		}
	}
}

func TestLoadYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"not yaml":   "instruments: [",
		"missing id": "instruments:\n  - body: out 1\n",
		"bad body":   "instruments:\n  - id: 1\n    body: a1 nosuch 1\n",
		"bad sco":    "sco: x 1 2\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := orc.LoadYAML([]byte(src)); !errors.Is(err, kantele.ErrCompile) {
				t.Errorf("expected ErrCompile, got %v", err)
			}
		})
	}
}
