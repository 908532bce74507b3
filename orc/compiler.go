// Package orc is the orchestra and score text front-end. It parses a small
// Csound-like language into the kantele data model.
package orc

import (
	"strings"

	"github.com/vsariola/kantele"
)

// Compiler implements kantele.Compiler for orchestra, score and .csd text.
type Compiler struct{}

var _ kantele.Compiler = Compiler{}

// CompileProgram parses a whole program. Text with <CsInstruments> and
// <CsScore> sections is read as a .csd file; anything else is a bare
// orchestra without a score.
func (Compiler) CompileProgram(text string) (kantele.Program, error) {
	var ret kantele.Program
	orch, orchLine, hasOrch := section(text, "CsInstruments")
	sco, scoLine, hasScore := section(text, "CsScore")
	if !hasOrch && !hasScore {
		orch, orchLine, hasOrch = text, 1, true
	}
	var err error
	if hasOrch {
		if ret.Header, ret.Instruments, err = parseOrchestra(orch, orchLine); err != nil {
			return kantele.Program{}, err
		}
	}
	if hasScore {
		if ret.Score, err = parseScore(sco, scoLine); err != nil {
			return kantele.Program{}, err
		}
	}
	if err := ret.Validate(); err != nil {
		return kantele.Program{}, err
	}
	return ret, nil
}

// CompileOrchestra parses instrument definitions. Header statements are
// parsed but ignored: the audio format cannot change during a performance.
func (Compiler) CompileOrchestra(text string) ([]kantele.InstrumentDefinition, error) {
	_, instrs, err := parseOrchestra(text, 1)
	if err != nil {
		return nil, err
	}
	p := kantele.Program{Instruments: instrs}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return instrs, nil
}

// CompileScore parses score statements.
func (Compiler) CompileScore(text string) ([]kantele.ScoreEvent, error) {
	return parseScore(text, 1)
}

// section returns the text between <tag> and </tag>, and the line number
// the text starts on.
func section(text, tag string) (string, int, bool) {
	open, close := "<"+tag+">", "</"+tag+">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", 0, false
	}
	start += len(open)
	end := strings.Index(text[start:], close)
	if end < 0 {
		end = len(text) - start
	}
	line := strings.Count(text[:start], "\n") + 1
	return text[start : start+end], line, true
}
