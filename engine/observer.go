package engine

import (
	"time"

	"github.com/vsariola/kantele"
)

// Observer is told what the engine does. Methods are called from the render
// goroutine, except CompileFailed and ScoreRejected which are called from
// the submitting goroutine; implementations must not block.
type Observer interface {
	BlockRendered(elapsed time.Duration, active int, peak [2]float32)
	InstanceActivated(id kantele.InstrumentID)
	InstanceDeactivated(id kantele.InstrumentID)
	UpdateApplied(kind string)
	EventDropped(id kantele.InstrumentID, err error)
	CompileFailed(err error)
	ScoreRejected(err error)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) BlockRendered(time.Duration, int, [2]float32) {}
func (NopObserver) InstanceActivated(kantele.InstrumentID) {}
func (NopObserver) InstanceDeactivated(kantele.InstrumentID) {}
func (NopObserver) UpdateApplied(string) {}
func (NopObserver) EventDropped(kantele.InstrumentID, error) {}
func (NopObserver) CompileFailed(error) {}
func (NopObserver) ScoreRejected(error) {}

// Observers fans out every call to all of its members.
type Observers []Observer

func (o Observers) BlockRendered(elapsed time.Duration, active int, peak [2]float32) {
	for _, x := range o {
		x.BlockRendered(elapsed, active, peak)
	}
}

func (o Observers) InstanceActivated(id kantele.InstrumentID) {
	for _, x := range o {
		x.InstanceActivated(id)
	}
}

func (o Observers) InstanceDeactivated(id kantele.InstrumentID) {
	for _, x := range o {
		x.InstanceDeactivated(id)
	}
}

func (o Observers) UpdateApplied(kind string) {
	for _, x := range o {
		x.UpdateApplied(kind)
	}
}

func (o Observers) EventDropped(id kantele.InstrumentID, err error) {
	for _, x := range o {
		x.EventDropped(id, err)
	}
}

func (o Observers) CompileFailed(err error) {
	for _, x := range o {
		x.CompileFailed(err)
	}
}

func (o Observers) ScoreRejected(err error) {
	for _, x := range o {
		x.ScoreRejected(err)
	}
}
