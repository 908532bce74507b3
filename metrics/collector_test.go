package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.BlockRendered(time.Millisecond, 3, [2]float32{0.5, 0.25})
	c.BlockRendered(time.Millisecond, 2, [2]float32{0.1, 0.2})
	c.InstanceActivated("2")
	c.InstanceActivated("2")
	c.UpdateApplied("compile")
	c.EventDropped("9", fmt.Errorf("%w: instr 9", kantele.ErrUnknownInstrument))
	c.CompileFailed(kantele.ErrCompile)
	if got := testutil.ToFloat64(c.blocksRendered); got != 2 {
		t.Errorf("expected 2 blocks, got %v", got)
	}
	if got := testutil.ToFloat64(c.activeInstances); got != 2 {
		t.Errorf("expected 2 active instances, got %v", got)
	}
	if got := testutil.ToFloat64(c.peak.WithLabelValues("right")); got != float64(float32(0.2)) {
		t.Errorf("expected a right peak of 0.2, got %v", got)
	}
	if got := testutil.ToFloat64(c.activations.WithLabelValues("2")); got != 2 {
		t.Errorf("expected 2 activations, got %v", got)
	}
	if got := testutil.ToFloat64(c.eventsDropped.WithLabelValues("unknown_instrument")); got != 1 {
		t.Errorf("expected 1 dropped event, got %v", got)
	}
	if got := testutil.ToFloat64(c.compileFailures); got != 1 {
		t.Errorf("expected 1 compile failure, got %v", got)
	}
}

func TestCollectorObservesEngine(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	e := engine.New(engine.Options{Observer: c})
	if err := e.Compile("instr 1\nouts 1, 1\nendin"); err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if _, err := e.SubmitScoreText("i1 0 0.01"); err != nil {
		t.Fatalf("SubmitScoreText failed: %v", err)
	}
	for {
		status, err := e.Step()
		if err != nil {
			t.Fatalf("step failed: %v", err)
		}
		if status == engine.Finished {
			break
		}
	}
	if got := testutil.ToFloat64(c.updatesApplied.WithLabelValues("score")); got != 1 {
		t.Errorf("expected one applied score update, got %v", got)
	}
	if got := testutil.ToFloat64(c.deactivations.WithLabelValues("1")); got != 1 {
		t.Errorf("expected one deactivation, got %v", got)
	}
	// 0.01 s at 44.1 kHz ends in block 6
	if got := testutil.ToFloat64(c.blocksRendered); got != 6 {
		t.Errorf("expected 6 blocks, got %v", got)
	}
}
