package vm

import (
	"sort"

	"github.com/vsariola/kantele"
)

// FeatureSet defines which opcodes are available to templates and how they
// are numbered.
type FeatureSet interface {
	Opcode(unitType string) (int, bool)
	Instructions() []string
}

// AllFeatures supports every unit generator in kantele.UnitTypes. Contrast
// this to NecessaryFeatures, which only lists what a set of instruments uses.
type AllFeatures struct {
}

func (_ AllFeatures) Opcode(unitType string) (int, bool) {
	code, ok := allOpcodes[unitType]
	return code, ok
}

func (_ AllFeatures) Instructions() []string {
	return allInstructions
}

var allOpcodes map[string]int
var allInstructions []string

func init() {
	allInstructions = make([]string, 0, len(kantele.UnitTypes))
	for k := range kantele.UnitTypes {
		allInstructions = append(allInstructions, k)
	}
	sort.Strings(allInstructions) // sort the opcodes to have predictable ordering, as maps don't guarantee the order the items
	allOpcodes = map[string]int{}
	for i, instruction := range allInstructions {
		allOpcodes[instruction] = i + 1 // opcode 0 is reserved as invalid
	}
}

// NecessaryFeatures lists only the opcodes a set of instruments uses, in
// order of first use.
type NecessaryFeatures struct {
	opcodes      map[string]int
	instructions []string
}

func NecessaryFeaturesFor(defs []kantele.InstrumentDefinition) NecessaryFeatures {
	features := NecessaryFeatures{opcodes: map[string]int{}}
	add := func(name string) {
		if _, ok := features.opcodes[name]; !ok {
			features.opcodes[name] = allOpcodes[name]
			features.instructions = append(features.instructions, name)
		}
	}
	var walk func(a kantele.Arg)
	walk = func(a kantele.Arg) {
		switch a.Kind {
		case kantele.ArgBinary:
			add(kantele.ArithmeticOpcodes[a.Op])
		case kantele.ArgNeg:
			add("neg")
		}
		for _, o := range a.Operands {
			walk(o)
		}
	}
	for _, d := range defs {
		for _, s := range d.Steps {
			for _, a := range s.Args {
				walk(a)
			}
			if _, ok := allOpcodes[s.Opcode]; ok {
				add(s.Opcode)
			}
		}
	}
	return features
}

func (n NecessaryFeatures) Opcode(unitType string) (int, bool) {
	code, ok := n.opcodes[unitType]
	return code, ok
}

func (n NecessaryFeatures) Instructions() []string {
	return n.instructions
}
