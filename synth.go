package kantele

import (
	"errors"
	"fmt"
)

type (
	// Header holds the orchestra header statements. Zero fields were not
	// given in the source and fall back to the engine configuration.
	Header struct {
		SampleRate int     `json:"sr" yaml:"sr,omitempty"`
		Ksmps      int     `json:"ksmps" yaml:"ksmps,omitempty"`
		Nchnls     int     `json:"nchnls" yaml:"nchnls,omitempty"`
		ZeroDBFS   float64 `json:"0dbfs" yaml:"0dbfs,omitempty"`
	}

	// Program is a whole compiled source: header, instruments in definition
	// order and the score.
	Program struct {
		Header      Header
		Instruments []InstrumentDefinition
		Score       []ScoreEvent
	}

	// Compiler parses orchestra and score text. CompileOrchestra accepts
	// instruments only (and ignores header statements, which can only be set
	// before the performance starts); CompileScore accepts score statements
	// only.
	Compiler interface {
		CompileProgram(text string) (Program, error)
		CompileOrchestra(text string) ([]InstrumentDefinition, error)
		CompileScore(text string) ([]ScoreEvent, error)
	}
)

// DefaultHeader matches the defaults of the original engine: 44.1 kHz,
// 64 sample blocks, stereo and 16-bit full scale.
var DefaultHeader = Header{SampleRate: 44100, Ksmps: 64, Nchnls: 2, ZeroDBFS: 32768}

// Merge returns h with every unset field taken from defaults.
func (h Header) Merge(defaults Header) Header {
	if h.SampleRate == 0 {
		h.SampleRate = defaults.SampleRate
	}
	if h.Ksmps == 0 {
		h.Ksmps = defaults.Ksmps
	}
	if h.Nchnls == 0 {
		h.Nchnls = defaults.Nchnls
	}
	if h.ZeroDBFS == 0 {
		h.ZeroDBFS = defaults.ZeroDBFS
	}
	return h
}

// Validate checks that a merged header is usable.
func (h Header) Validate() error {
	if h.SampleRate <= 0 {
		return fmt.Errorf("sample rate should be positive, was %v", h.SampleRate)
	}
	if h.Ksmps <= 0 || h.Ksmps > h.SampleRate {
		return fmt.Errorf("ksmps should be in the range 1..sr, was %v", h.Ksmps)
	}
	if h.Nchnls != 1 && h.Nchnls != 2 {
		return fmt.Errorf("nchnls should be 1 or 2, was %v", h.Nchnls)
	}
	if h.ZeroDBFS <= 0 {
		return fmt.Errorf("0dbfs should be positive, was %v", h.ZeroDBFS)
	}
	return nil
}

// ControlRate returns the number of blocks per second.
func (h Header) ControlRate() float64 {
	return float64(h.SampleRate) / float64(h.Ksmps)
}

// Validate checks that instrument ids are unique within the program and
// every event is well formed.
func (p *Program) Validate() error {
	seen := map[InstrumentID]bool{}
	for _, d := range p.Instruments {
		if d.ID == "" {
			return errors.New("instrument without an id")
		}
		if seen[d.ID] {
			return Errorf(d.Line, 0, "instr %v defined twice", d.ID)
		}
		seen[d.ID] = true
	}
	for i := range p.Score {
		if err := p.Score[i].Validate(); err != nil {
			return fmt.Errorf("score event %d: %w", i, err)
		}
	}
	return nil
}
