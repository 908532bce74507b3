package kantele

import (
	"fmt"
	"math"
)

type (
	// ScoreEvent is a scheduled instruction to start, hold or stop instrument
	// instances. Start is in seconds: relative to the performance time at
	// which the event is admitted, or absolute when Absolute is set. A note
	// with Duration <= 0 is a grace note: it starts and stops within the same
	// block.
	ScoreEvent struct {
		Kind       EventKind    `json:"kind,omitempty" yaml:",omitempty"`
		Instrument InstrumentID `json:"instr" yaml:"instr"`
		Start      float64      `json:"start" yaml:"start"`
		Duration   float64      `json:"dur" yaml:"dur"`
		Params     []float64    `json:"params,omitempty" yaml:",flow,omitempty"`
		Hold       bool         `json:"hold,omitempty" yaml:",omitempty"`     // play until turned off
		Tag        string       `json:"tag,omitempty" yaml:",omitempty"`      // matched by turnoffs
		Absolute   bool         `json:"absolute,omitempty" yaml:",omitempty"` // Start is performance time
	}

	// EventKind tells what a ScoreEvent does.
	EventKind int
)

const (
	// EventNote starts one instance of an instrument.
	EventNote EventKind = iota
	// EventTurnoff stops every held or running instance of the instrument
	// (with a matching Tag, if the turnoff has one) at its start time.
	EventTurnoff
	// EventHold keeps the performance open until its start time, like an
	// empty function table statement "f 0 t".
	EventHold
)

func (k EventKind) String() string {
	switch k {
	case EventNote:
		return "note"
	case EventTurnoff:
		return "turnoff"
	case EventHold:
		return "hold"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalText lets event kinds travel as words in JSON and YAML.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "note":
		*k = EventNote
	case "turnoff":
		*k = EventTurnoff
	case "hold":
		*k = EventHold
	default:
		return fmt.Errorf("unknown event kind %q", string(b))
	}
	return nil
}

// Grace reports if the event is a note that starts and stops in the same
// block.
func (e *ScoreEvent) Grace() bool {
	return e.Kind == EventNote && !e.Hold && e.Duration <= 0
}

// Validate checks the event for malformed fields. It does not know about the
// current performance time; the scheduler checks that.
func (e *ScoreEvent) Validate() error {
	if math.IsNaN(e.Start) || math.IsInf(e.Start, 0) {
		return fmt.Errorf("%w: start time %v is not finite", ErrInvalidEvent, e.Start)
	}
	if math.IsNaN(e.Duration) || math.IsInf(e.Duration, 0) {
		return fmt.Errorf("%w: duration %v is not finite", ErrInvalidEvent, e.Duration)
	}
	if !e.Absolute && e.Start < 0 {
		return fmt.Errorf("%w: relative start time %v is negative", ErrInvalidEvent, e.Start)
	}
	if e.Kind != EventHold && e.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidEvent)
	}
	for i, p := range e.Params {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("%w: p%d = %v is not finite", ErrInvalidEvent, i+4, p)
		}
	}
	switch e.Kind {
	case EventNote, EventTurnoff, EventHold:
	default:
		return fmt.Errorf("%w: unknown kind %v", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// Copy makes a deep copy of the event.
func (e *ScoreEvent) Copy() ScoreEvent {
	ret := *e
	ret.Params = append([]float64(nil), e.Params...)
	return ret
}

func (e ScoreEvent) String() string {
	switch e.Kind {
	case EventTurnoff:
		return fmt.Sprintf("i -%v %g", e.Instrument, e.Start)
	case EventHold:
		return fmt.Sprintf("f 0 %g", e.Start)
	}
	dur := e.Duration
	if e.Hold {
		dur = -1
	}
	s := fmt.Sprintf("i %v %g %g", e.Instrument, e.Start, dur)
	for _, p := range e.Params {
		s += fmt.Sprintf(" %g", p)
	}
	return s
}
