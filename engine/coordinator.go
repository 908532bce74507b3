package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/vm"
)

type (
	// PendingUpdate is a queued live update: either compiled templates
	// (a compile request) or score events (a score append request).
	PendingUpdate struct {
		ID        uuid.UUID
		Seq       uint64
		Templates []*vm.Template
		Events    []kantele.ScoreEvent
	}

	// Coordinator queues live updates submitted from any goroutine. The
	// engine drains the whole queue once per block, between renders.
	// Orchestra text is compiled on the submitter's goroutine, so compile
	// errors are returned to the submitter and never reach the render loop.
	Coordinator struct {
		compiler   kantele.Compiler
		featureSet vm.FeatureSet
		clock      *Clock

		mu     sync.Mutex
		queue  []PendingUpdate
		seq    uint64
		closed bool
	}
)

// Kind returns "compile" or "score".
func (u *PendingUpdate) Kind() string {
	if u.Templates != nil {
		return "compile"
	}
	return "score"
}

func newCoordinator(compiler kantele.Compiler, featureSet vm.FeatureSet, clock *Clock) *Coordinator {
	return &Coordinator{compiler: compiler, featureSet: featureSet, clock: clock}
}

// SubmitCompile compiles orchestra text into templates and queues them for
// installation at the next sync point. It returns an error matching
// kantele.ErrCompile (and kantele.ErrUnresolvedWiring for wiring defects);
// in that case nothing is queued.
func (c *Coordinator) SubmitCompile(text string) (uuid.UUID, error) {
	defs, err := c.compiler.CompileOrchestra(text)
	if err != nil {
		return uuid.Nil, err
	}
	templates := make([]*vm.Template, 0, len(defs))
	for _, d := range defs {
		t, err := vm.NewTemplate(d, c.featureSet)
		if err != nil {
			return uuid.Nil, err
		}
		templates = append(templates, t)
	}
	return c.push(PendingUpdate{Templates: templates})
}

// SubmitScoreText parses score text and queues the events, like
// SubmitScoreAppend.
func (c *Coordinator) SubmitScoreText(text string) (uuid.UUID, error) {
	events, err := c.compiler.CompileScore(text)
	if err != nil {
		return uuid.Nil, err
	}
	return c.SubmitScoreAppend(events)
}

// SubmitScoreAppend validates the events against the current performance
// time and queues them. A single invalid event rejects the whole request
// with kantele.ErrInvalidEvent and leaves the queue unchanged.
func (c *Coordinator) SubmitScoreAppend(events []kantele.ScoreEvent) (uuid.UUID, error) {
	check := Scheduler{sampleRate: int(c.clock.rate.Load())}
	now := c.clock.Frame()
	copied := make([]kantele.ScoreEvent, len(events))
	for i := range events {
		if err := check.Check(&events[i], now); err != nil {
			return uuid.Nil, fmt.Errorf("event %d: %w", i, err)
		}
		copied[i] = events[i].Copy()
	}
	return c.push(PendingUpdate{Events: copied})
}

func (c *Coordinator) push(u PendingUpdate) (uuid.UUID, error) {
	u.ID = uuid.New()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return uuid.Nil, kantele.ErrAlreadyStopped
	}
	u.Seq = c.seq
	c.seq++
	c.queue = append(c.queue, u)
	return u.ID, nil
}

// drain takes every queued update in submission order. Updates submitted
// after drain returns wait for the next block.
func (c *Coordinator) drain() []PendingUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := c.queue
	c.queue = nil
	return ret
}

// Len returns the number of queued updates.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// close rejects all further submissions and drops the queue.
func (c *Coordinator) close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	n := len(c.queue)
	c.queue = nil
	return n
}
