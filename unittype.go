package kantele

import (
	"fmt"
	"sort"
)

// Rate is the update rate of a variable or a statement: computed once when
// the instance starts, once per block, or once per sample.
type Rate int

const (
	RateInit Rate = iota
	RateControl
	RateAudio
)

func (r Rate) String() string {
	switch r {
	case RateInit:
		return "i"
	case RateControl:
		return "k"
	case RateAudio:
		return "a"
	}
	return "?"
}

// RateOf returns the rate a variable name implies by its first letter.
func RateOf(name string) (Rate, bool) {
	if len(name) < 2 {
		return 0, false
	}
	switch name[0] {
	case 'i':
		return RateInit, true
	case 'k':
		return RateControl, true
	case 'a':
		return RateAudio, true
	}
	return 0, false
}

// UnitInput documents one input that a unit generator takes
type UnitInput struct {
	Name     string
	Optional bool    // if the input can be omitted
	Default  float64 // value used when an optional input is omitted
}

// UnitType documents one unit generator: its inputs, how many outputs it
// writes and which rates its outputs may have.
type UnitType struct {
	Inputs     []UnitInput
	MinOutputs int
	MaxOutputs int
	Rates      []Rate // allowed output rates; empty means audio only
	Doc        string
}

var performance = []Rate{RateControl, RateAudio}
var anyRate = []Rate{RateInit, RateControl, RateAudio}

// UnitTypes documents all the available unit generators and the inputs they
// take.
var UnitTypes = map[string]UnitType{
	"oscil": {
		Inputs:     []UnitInput{{Name: "amp"}, {Name: "freq"}, {Name: "phase", Optional: true}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "sine oscillator",
	},
	"vco2": {
		Inputs: []UnitInput{{Name: "amp"}, {Name: "freq"},
			{Name: "mode", Optional: true}, {Name: "pw", Optional: true, Default: 0.5}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "band limited oscillator; mode 0 saw, 2 pulse, 10 square, 12 triangle",
	},
	"expon": {
		Inputs:     []UnitInput{{Name: "a"}, {Name: "dur"}, {Name: "b"}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "exponential segment from a to b in dur seconds",
	},
	"line": {
		Inputs:     []UnitInput{{Name: "a"}, {Name: "dur"}, {Name: "b"}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "linear segment from a to b in dur seconds",
	},
	"linen": {
		Inputs:     []UnitInput{{Name: "amp"}, {Name: "rise"}, {Name: "dur"}, {Name: "decay"}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "linear attack and decay envelope",
	},
	"rand": {
		Inputs:     []UnitInput{{Name: "amp"}, {Name: "seed", Optional: true, Default: 0.5}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "white noise in [-amp, amp]",
	},
	"tone": {
		Inputs:     []UnitInput{{Name: "sig"}, {Name: "hp"}},
		MinOutputs: 1, MaxOutputs: 1,
		Doc: "first order lowpass filter",
	},
	"svfilter": {
		Inputs:     []UnitInput{{Name: "sig"}, {Name: "freq"}, {Name: "q"}},
		MinOutputs: 1, MaxOutputs: 3,
		Doc: "state variable filter; outputs low, high and band",
	},
	"clip": {
		Inputs:     []UnitInput{{Name: "sig"}, {Name: "limit"}},
		MinOutputs: 1, MaxOutputs: 1, Rates: performance,
		Doc: "hard clip to [-limit, limit]",
	},
	"inch": {
		Inputs:     []UnitInput{{Name: "channel"}},
		MinOutputs: 1, MaxOutputs: 1,
		Doc: "reads the global audio input",
	},
	"out": {
		Inputs:     []UnitInput{{Name: "sig"}, {Name: "sig2", Optional: true}},
		MinOutputs: 0, MaxOutputs: 0,
		Doc: "adds to the output; mono signals go to every channel",
	},
	"outs": {
		Inputs:     []UnitInput{{Name: "left"}, {Name: "right"}},
		MinOutputs: 0, MaxOutputs: 0,
		Doc: "adds a stereo pair to the output",
	},
	"assign": {Inputs: []UnitInput{{Name: "a"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "copies its input"},
	"add":    {Inputs: []UnitInput{{Name: "a"}, {Name: "b"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "a + b"},
	"sub":    {Inputs: []UnitInput{{Name: "a"}, {Name: "b"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "a - b"},
	"mul":    {Inputs: []UnitInput{{Name: "a"}, {Name: "b"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "a * b"},
	"div":    {Inputs: []UnitInput{{Name: "a"}, {Name: "b"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "a / b"},
	"neg":    {Inputs: []UnitInput{{Name: "a"}}, MinOutputs: 1, MaxOutputs: 1, Rates: anyRate, Doc: "-a"},
}

// UnitNames is a list of all the names of units, sorted alphabetically.
var UnitNames []string

// Globals lists the read-only global variables instruments can read.
var Globals = []string{"sr", "kr", "ksmps", "nchnls", "0dbfs"}

// ArithmeticOpcodes maps expression operators to the opcodes they lower to.
var ArithmeticOpcodes = map[byte]string{'+': "add", '-': "sub", '*': "mul", '/': "div"}

// MinInputs returns the number of inputs that cannot be omitted.
func (u UnitType) MinInputs() int {
	n := 0
	for _, in := range u.Inputs {
		if !in.Optional {
			n++
		}
	}
	return n
}

// AllowsRate reports if the unit can produce outputs at rate r.
func (u UnitType) AllowsRate(r Rate) bool {
	if len(u.Rates) == 0 {
		return r == RateAudio
	}
	for _, a := range u.Rates {
		if a == r {
			return true
		}
	}
	return false
}

// Signature returns a one line usage string, e.g. "x oscil amp, freq[, phase]".
func (u UnitType) Signature(name string) string {
	ret := ""
	if u.MaxOutputs > 0 {
		ret = "x"
		if u.MaxOutputs > 1 {
			ret = fmt.Sprintf("x1..x%d", u.MaxOutputs)
		}
		ret += " "
	}
	ret += name
	for i, in := range u.Inputs {
		sep := ", "
		if i == 0 {
			sep = " "
		}
		if in.Optional {
			ret += "[" + sep + in.Name + "]"
		} else {
			ret += sep + in.Name
		}
	}
	return ret
}

func init() {
	UnitNames = make([]string, 0, len(UnitTypes))
	for k := range UnitTypes {
		UnitNames = append(UnitNames, k)
	}
	sort.Strings(UnitNames)
}
