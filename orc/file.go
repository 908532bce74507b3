package orc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsariola/kantele"
)

// ReadFile loads a program file. .yml and .yaml files are YAML programs;
// anything else is .csd or orchestra text. A bare orchestra picks up the
// score of a .sco file with the same base name, if there is one.
func ReadFile(path string) (kantele.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return kantele.Program{}, fmt.Errorf("could not read file %v: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return LoadYAML(data)
	}
	p, err := Compiler{}.CompileProgram(string(data))
	if err != nil {
		return kantele.Program{}, err
	}
	if _, _, isCSD := section(string(data), "CsInstruments"); isCSD {
		return p, nil
	}
	scoPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".sco"
	sco, err := os.ReadFile(scoPath)
	if os.IsNotExist(err) || scoPath == path {
		return p, nil
	}
	if err != nil {
		return kantele.Program{}, fmt.Errorf("could not read file %v: %w", scoPath, err)
	}
	if p.Score, err = parseScore(string(sco), 1); err != nil {
		return kantele.Program{}, fmt.Errorf("%v: %w", filepath.Base(scoPath), err)
	}
	return p, nil
}

// Split returns the orchestra and score sections of .csd text. Text
// without sections is all orchestra.
func Split(text string) (orchestra, score string) {
	orch, _, hasOrch := section(text, "CsInstruments")
	sco, _, hasScore := section(text, "CsScore")
	if !hasOrch && !hasScore {
		return text, ""
	}
	return orch, sco
}
