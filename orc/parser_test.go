package orc_test

import (
	"errors"
	"testing"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/orc"
)

const csd = `<CsoundSynthesizer>
<CsOptions>
-odac
</CsOptions>
<CsInstruments>
sr = 48000
kr = 1500
nchnls = 1
0dbfs = 1

/* a plucked
   envelope */
instr 1, Bass
k1 expon p4, p3, \
         p4*0.001 ; decays to -60 dB
a1 vco2 k1, p5
out a1
endin
</CsInstruments>
<CsScore>
i1 0 1 0.5 55
i "bass" + . . 110
</CsScore>
</CsoundSynthesizer>
`

func TestCompileProgramCSD(t *testing.T) {
	p, err := orc.Compiler{}.CompileProgram(csd)
	if err != nil {
		t.Fatalf("CompileProgram failed: %v", err)
	}
	want := kantele.Header{SampleRate: 48000, Ksmps: 32, Nchnls: 1, ZeroDBFS: 1}
	if p.Header != want {
		t.Errorf("expected header %+v, got %+v", want, p.Header)
	}
	if len(p.Instruments) != 2 || p.Instruments[0].ID != "1" || p.Instruments[1].ID != "bass" {
		t.Fatalf("expected instruments 1 and bass, got %v", p.Instruments)
	}
	steps := p.Instruments[1].Steps
	if len(steps) != 3 || steps[0].Opcode != "expon" || steps[0].Line != 14 {
		t.Errorf("expected expon on line 14 first, got %v", steps)
	}
	if got := steps[0].Args[2].String(); got != "(p4*0.001)" {
		t.Errorf("expected the continued line to be joined, got %q", got)
	}
	if len(p.Score) != 2 {
		t.Fatalf("expected 2 events, got %v", p.Score)
	}
	second := p.Score[1]
	if second.Instrument != "bass" || second.Start != 1 || second.Duration != 1 || second.Params[0] != 0.5 || second.Params[1] != 110 {
		t.Errorf("unexpected second event %+v", second)
	}
}

func TestCompileOrchestraIgnoresHeader(t *testing.T) {
	defs, err := orc.Compiler{}.CompileOrchestra("sr = 8000\ninstr 3\nouts 1, 1\nendin")
	if err != nil {
		t.Fatalf("CompileOrchestra failed: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "3" {
		t.Errorf("expected instrument 3, got %v", defs)
	}
}

func TestExpressionPrecedence(t *testing.T) {
	defs, err := orc.Compiler{}.CompileOrchestra("instr 1\nk1 = -p4 + 2*(p5 - sr/2)\nendin")
	if err != nil {
		t.Fatalf("CompileOrchestra failed: %v", err)
	}
	if got := defs[0].Steps[0].Args[0].String(); got != "(-p4+(2*(p5-(sr/2))))" {
		t.Errorf("unexpected expression %q", got)
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name      string
		src       string
		line, col int
	}{
		{"malformed number", "instr 1\nk1 expon p4*0.001anm, p3, 1\nendin", 2, 13},
		{"unknown opcode", "instr 1\na1 foo 1\nendin", 2, 4},
		{"missing endin", "instr 1\na1 oscil 1, 2\n", 1, 1},
		{"nested instr", "instr 1\ninstr 2\nendin", 2, 1},
		{"bad output", "instr 1\nx1 oscil 1, 2\nendin", 2, 1},
		{"write to pfield", "instr 1\np4 = 1\nendin", 2, 1},
		{"duplicate", "instr 1\nendin\ninstr 1\nendin", 3, 0},
		{"unterminated comment", "/* instr 1", 1, 1},
		{"header not constant", "sr = p4", 1, 1},
		{"bad instrument number", "instr 1.5\nendin", 1, 7},
		{"unexpected character", "instr 1\nk1 = 1 $ 2\nendin", 2, 8},
		{"opcode as value", "instr 1\nk1 = oscil\nendin", 2, 6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := orc.Compiler{}.CompileProgram(c.src)
			if !errors.Is(err, kantele.ErrCompile) {
				t.Fatalf("expected ErrCompile, got %v", err)
			}
			var ce *kantele.CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected a *CompileError, got %T", err)
			}
			if ce.Line != c.line || ce.Col != c.col {
				t.Errorf("expected error at %d:%d, got %v", c.line, c.col, err)
			}
		})
	}
}

func TestInstrumentNamesFoldCase(t *testing.T) {
	if orc.InstrumentName("Bass") != orc.InstrumentName("BASS") {
		t.Errorf("expected names to match case insensitively")
	}
}
