package engine

import (
	"errors"
	"testing"

	"github.com/vsariola/kantele"
)

func kinds(actions []Action) []ActionKind {
	ret := make([]ActionKind, len(actions))
	for i, a := range actions {
		ret[i] = a.Kind
	}
	return ret
}

func TestSchedulerOrdersByFrameThenSubmission(t *testing.T) {
	s := NewScheduler(1000)
	s.Enqueue(kantele.ScoreEvent{Instrument: "2", Start: 0.01, Duration: 0.1}, 0)
	s.Enqueue(kantele.ScoreEvent{Instrument: "1", Start: 0.01, Duration: 0.1}, 0)
	s.Enqueue(kantele.ScoreEvent{Instrument: "3", Start: 0, Duration: 0.1}, 0)
	actions := s.NextActions(0, 20)
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %v", actions)
	}
	want := []kantele.InstrumentID{"3", "2", "1"}
	for i, a := range actions {
		if a.Kind != Activate || a.Event.Instrument != want[i] {
			t.Errorf("action %d: expected activation of %v, got %v of %v", i, want[i], a.Kind, a.Event.Instrument)
		}
	}
	if s.Len() != 3 || s.Work() != 0 {
		t.Errorf("expected 3 pending deactivations and no work, got %v and %v", s.Len(), s.Work())
	}
}

func TestSchedulerGraceNoteActivatesFirst(t *testing.T) {
	s := NewScheduler(1000)
	s.Enqueue(kantele.ScoreEvent{Instrument: "1", Start: 0.005}, 0)
	got := kinds(s.NextActions(0, 10))
	if len(got) != 2 || got[0] != Activate || got[1] != Deactivate {
		t.Errorf("expected activate then deactivate, got %v", got)
	}
}

func TestSchedulerHeldNoteHasNoDeactivation(t *testing.T) {
	s := NewScheduler(1000)
	s.Enqueue(kantele.ScoreEvent{Instrument: "1", Duration: -1, Hold: true}, 0)
	if s.Len() != 1 {
		t.Fatalf("expected only the activation, got %v actions", s.Len())
	}
	a := s.NextActions(0, 1)
	if len(a) != 1 || a[0].Instance == 0 {
		t.Errorf("expected an activation with an instance id, got %v", a)
	}
}

func TestSchedulerRelativeAndAbsoluteStarts(t *testing.T) {
	s := NewScheduler(1000)
	if err := s.Enqueue(kantele.ScoreEvent{Instrument: "1", Start: 0.5, Duration: 1}, 200); err != nil {
		t.Fatalf("relative enqueue failed: %v", err)
	}
	if err := s.Enqueue(kantele.ScoreEvent{Instrument: "1", Start: 0.5, Duration: 1, Absolute: true}, 200); err != nil {
		t.Fatalf("absolute enqueue failed: %v", err)
	}
	if err := s.Enqueue(kantele.ScoreEvent{Instrument: "1", Start: 0.1, Duration: 1, Absolute: true}, 200); !errors.Is(err, kantele.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for an absolute start in the past, got %v", err)
	}
	a := s.NextActions(200, 1000)
	if len(a) != 2 || a[0].Frame != 500 || a[1].Frame != 700 {
		t.Errorf("expected activations at frames 500 and 700, got %v", a)
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler(1000)
	s.Enqueue(kantele.ScoreEvent{Instrument: "1", Duration: 1}, 0)
	a := s.NextActions(0, 1)
	if !s.Cancel(a[0].Instance) {
		t.Fatalf("expected a pending deactivation")
	}
	if s.Len() != 0 {
		t.Errorf("expected an empty queue, got %v", s.Len())
	}
	if s.Cancel(a[0].Instance) {
		t.Errorf("expected nothing to cancel the second time")
	}
}

func TestSchedulerTurnoffAndHoldCountAsWork(t *testing.T) {
	s := NewScheduler(1000)
	s.Enqueue(kantele.ScoreEvent{Kind: kantele.EventHold, Start: 1}, 0)
	s.Enqueue(kantele.ScoreEvent{Kind: kantele.EventTurnoff, Instrument: "1", Start: 0.5}, 0)
	if s.Work() != 2 {
		t.Fatalf("expected 2 units of work, got %v", s.Work())
	}
	got := kinds(s.NextActions(0, 2000))
	if len(got) != 2 || got[0] != Turnoff || got[1] != Hold {
		t.Errorf("expected turnoff then hold, got %v", got)
	}
	s.Clear()
	if s.Len() != 0 || s.Work() != 0 {
		t.Errorf("expected an empty scheduler after Clear")
	}
}
