package engine

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/vsariola/kantele"
)

type (
	// Action is something the engine does at a frame: start an instance,
	// stop one, turn off matching instances, or nothing (a hold that only
	// keeps the performance open).
	Action struct {
		Kind     ActionKind
		Frame    int64
		Seq      uint64 // order of the event in submission order
		Instance uint64 // instance started or stopped by the action
		Event    kantele.ScoreEvent
	}

	ActionKind int

	// Scheduler orders pending actions by (frame, submission order). Every
	// note enqueued gets an instance id; its deactivation is scheduled
	// together with its activation unless it is held.
	Scheduler struct {
		queue      actionQueue
		sampleRate int
		nextSeq    uint64
		nextInst   uint64
		work       int
	}

	actionQueue []Action
)

const (
	Activate ActionKind = iota
	Deactivate
	Turnoff
	Hold
)

func (k ActionKind) String() string {
	switch k {
	case Activate:
		return "activate"
	case Deactivate:
		return "deactivate"
	case Turnoff:
		return "turnoff"
	case Hold:
		return "hold"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

func NewScheduler(sampleRate int) *Scheduler {
	return &Scheduler{sampleRate: sampleRate, nextInst: 1}
}

// Frame converts seconds to frames.
func (s *Scheduler) Frame(seconds float64) int64 {
	return int64(math.Round(seconds * float64(s.sampleRate)))
}

// StartFrame returns the frame an event starts at when admitted at frame
// now. Relative events are anchored at now.
func (s *Scheduler) StartFrame(ev *kantele.ScoreEvent, now int64) int64 {
	if ev.Absolute {
		return s.Frame(ev.Start)
	}
	return now + s.Frame(ev.Start)
}

// Check validates the event against the performance time now without
// enqueuing it.
func (s *Scheduler) Check(ev *kantele.ScoreEvent, now int64) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if start := s.StartFrame(ev, now); start < now {
		return fmt.Errorf("%w: start time %gs is before the current time %gs", kantele.ErrInvalidEvent, ev.Start, float64(now)/float64(s.sampleRate))
	}
	return nil
}

// Enqueue adds the event. It fails with kantele.ErrInvalidEvent if the
// event starts before now; backfilling is not allowed.
func (s *Scheduler) Enqueue(ev kantele.ScoreEvent, now int64) error {
	if err := s.Check(&ev, now); err != nil {
		return err
	}
	start := s.StartFrame(&ev, now)
	seq := s.nextSeq
	s.nextSeq++
	switch ev.Kind {
	case kantele.EventHold:
		heap.Push(&s.queue, Action{Kind: Hold, Frame: start, Seq: seq, Event: ev})
		s.work++
	case kantele.EventTurnoff:
		heap.Push(&s.queue, Action{Kind: Turnoff, Frame: start, Seq: seq, Event: ev})
		s.work++
	default:
		inst := s.nextInst
		s.nextInst++
		heap.Push(&s.queue, Action{Kind: Activate, Frame: start, Seq: seq, Instance: inst, Event: ev})
		s.work++
		if !ev.Hold {
			end := start + max(s.Frame(ev.Duration), 0)
			heap.Push(&s.queue, Action{Kind: Deactivate, Frame: end, Seq: seq, Instance: inst, Event: ev})
		}
	}
	return nil
}

// NextActions removes and returns every action with a frame in
// [now, now+blockFrames), ordered by frame, then submission order, then
// kind, so that a grace note is activated before it is deactivated.
func (s *Scheduler) NextActions(now int64, blockFrames int) []Action {
	var ret []Action
	end := now + int64(blockFrames)
	for len(s.queue) > 0 && s.queue[0].Frame < end {
		a := heap.Pop(&s.queue).(Action)
		if a.Kind != Deactivate {
			s.work--
		}
		ret = append(ret, a)
	}
	return ret
}

// Cancel removes the pending deactivation of an instance, returning true if
// there was one.
func (s *Scheduler) Cancel(instance uint64) bool {
	for i, a := range s.queue {
		if a.Kind == Deactivate && a.Instance == instance {
			heap.Remove(&s.queue, i)
			return true
		}
	}
	return false
}

// Len returns the number of pending actions.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Work returns the number of pending actions other than deactivations: once
// it is zero, only sounding notes keep the performance going.
func (s *Scheduler) Work() int {
	return s.work
}

// Clear drops every pending action.
func (s *Scheduler) Clear() {
	s.queue = s.queue[:0]
	s.work = 0
}

func (q actionQueue) Len() int { return len(q) }

func (q actionQueue) Less(i, j int) bool {
	a, b := &q[i], &q[j]
	if a.Frame != b.Frame {
		return a.Frame < b.Frame
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.Kind < b.Kind
}

func (q actionQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *actionQueue) Push(x any) { *q = append(*q, x.(Action)) }

func (q *actionQueue) Pop() any {
	old := *q
	n := len(old)
	ret := old[n-1]
	*q = old[:n-1]
	return ret
}
