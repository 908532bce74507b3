// Package engine runs performances: it owns the active instances, renders
// them block by block and admits live updates between blocks.
package engine

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/orc"
	"github.com/vsariola/kantele/vm"
	"go.uber.org/zap"
)

type (
	// Engine is one performance. Compile, Load, Step, SetInput and Output
	// must be called from a single goroutine, the render loop. Close may be
	// called from any goroutine, also with a deferred call on an error path:
	// it waits for a block in progress and then stops the performance. The
	// Submit methods, Shutdown, Status, Clock and Notifications are safe to
	// call from any goroutine.
	Engine struct {
		opts      Options
		log       *zap.Logger
		header    kantele.Header
		ctx       vm.Context
		registry  *Registry
		scheduler *Scheduler
		coord     *Coordinator
		clock     Clock
		active    []*activeInstance
		mix       [2][]float32
		input     [2][]float32
		scratch   []float32

		renderMu      sync.Mutex
		closeOnce     sync.Once
		state         atomic.Int32
		shutdown      atomic.Bool
		activeCount   atomic.Int64
		headerSnap    atomic.Pointer[kantele.Header]
		instruments   atomic.Pointer[[]InstrumentInfo]
		notifications chan Notification
	}

	// Options configure a new engine. The zero value is usable.
	Options struct {
		// Header holds the defaults for header statements the program does
		// not set. Zero fields use kantele.DefaultHeader.
		Header   kantele.Header
		Logger   *zap.Logger
		Observer Observer
		// FeatureSet limits the opcodes templates may use; nil means all.
		FeatureSet vm.FeatureSet
		// Compiler parses program, orchestra and score text; nil means the
		// orc front-end.
		Compiler kantele.Compiler
		// NotificationBuffer is the capacity of the notification channel.
		NotificationBuffer int
	}

	activeInstance struct {
		id    uint64
		inst  *vm.Instance
		event kantele.ScoreEvent
		start int64
	}

	// InstrumentInfo describes an installed instrument.
	InstrumentInfo struct {
		ID        kantele.InstrumentID `json:"id"`
		NumParams int                  `json:"params"`
		Listing   []string             `json:"listing"`
	}

	// Status is a snapshot of the performance, safe to take from any
	// goroutine.
	Status struct {
		State       State          `json:"state"`
		Block       int64          `json:"block"`
		Time        float64        `json:"time"`
		Active      int            `json:"active"`
		Pending     int            `json:"pending"`
		Header      kantele.Header `json:"header"`
		Instruments int            `json:"instruments"`
	}

	StepStatus int
	State      int32
)

const (
	Continue StepStatus = iota
	Finished
)

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s StepStatus) String() string {
	if s == Finished {
		return "finished"
	}
	return "continue"
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for c := StateIdle; c <= StateStopped; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// New creates an idle engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.FeatureSet == nil {
		opts.FeatureSet = vm.AllFeatures{}
	}
	if opts.Compiler == nil {
		opts.Compiler = orc.Compiler{}
	}
	if opts.NotificationBuffer <= 0 {
		opts.NotificationBuffer = 256
	}
	opts.Header = opts.Header.Merge(kantele.DefaultHeader)
	e := &Engine{
		opts:          opts,
		log:           opts.Logger,
		header:        opts.Header,
		registry:      NewRegistry(),
		notifications: make(chan Notification, opts.NotificationBuffer),
	}
	e.clock.ksmps.Store(int64(opts.Header.Ksmps))
	e.clock.rate.Store(int64(opts.Header.SampleRate))
	e.headerSnap.Store(&opts.Header)
	e.coord = newCoordinator(opts.Compiler, opts.FeatureSet, &e.clock)
	empty := []InstrumentInfo{}
	e.instruments.Store(&empty)
	return e
}

// State returns the current state of the performance.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Header returns the header of the performance. It is final once a program
// is loaded.
func (e *Engine) Header() kantele.Header {
	return e.header
}

// Clock returns the performance clock.
func (e *Engine) Clock() *Clock {
	return &e.clock
}

// Notifications returns the channel asynchronous notifications are sent to.
// It is closed when the performance stops.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// Compile parses a whole program and loads it. It can only be called once,
// before the first Step.
func (e *Engine) Compile(text string) error {
	p, err := e.opts.Compiler.CompileProgram(text)
	if err != nil {
		return err
	}
	return e.Load(p)
}

// Load installs the instruments of a compiled program and schedules its
// score at time 0. On error nothing is installed and the engine stays idle.
func (e *Engine) Load(p kantele.Program) error {
	switch e.State() {
	case StateIdle:
	case StateStopped:
		return kantele.ErrAlreadyStopped
	default:
		return errors.New("engine: a program is already loaded, use SubmitCompile to change instruments")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	header := p.Header.Merge(e.opts.Header)
	if err := header.Validate(); err != nil {
		return &kantele.CompileError{Msg: err.Error()}
	}
	templates := make([]*vm.Template, 0, len(p.Instruments))
	for _, d := range p.Instruments {
		t, err := vm.NewTemplate(d, e.opts.FeatureSet)
		if err != nil {
			return err
		}
		templates = append(templates, t)
	}
	scheduler := NewScheduler(header.SampleRate)
	for i := range p.Score {
		if err := scheduler.Check(&p.Score[i], 0); err != nil {
			return fmt.Errorf("score event %d: %w", i, err)
		}
	}
	e.setHeader(header)
	e.scheduler = scheduler
	for _, t := range templates {
		e.registry.Define(t.ID, t)
	}
	e.registry.Commit()
	e.publishInstruments()
	for _, ev := range p.Score {
		e.scheduler.Enqueue(ev, 0)
	}
	e.state.Store(int32(StateRunning))
	e.log.Info("program loaded",
		zap.Int("instruments", len(templates)),
		zap.Int("events", len(p.Score)),
		zap.Int("sr", header.SampleRate),
		zap.Int("ksmps", header.Ksmps),
		zap.Int("nchnls", header.Nchnls),
		zap.Float64("0dbfs", header.ZeroDBFS))
	return nil
}

func (e *Engine) setHeader(h kantele.Header) {
	e.header = h
	e.ctx = vm.Context{SampleRate: h.SampleRate, Ksmps: h.Ksmps, Nchnls: h.Nchnls, ZeroDBFS: h.ZeroDBFS}
	for c := range e.mix {
		e.mix[c] = make([]float32, h.Ksmps)
		e.input[c] = make([]float32, h.Ksmps)
		e.ctx.Input[c] = e.input[c]
	}
	e.scratch = make([]float32, h.Ksmps)
	e.clock.ksmps.Store(int64(h.Ksmps))
	e.clock.rate.Store(int64(h.SampleRate))
	e.headerSnap.Store(&h)
}

// SubmitCompile compiles orchestra text and queues the instruments for the
// next sync point. Compile errors are returned here and never affect the
// performance.
func (e *Engine) SubmitCompile(text string) (uuid.UUID, error) {
	id, err := e.coord.SubmitCompile(text)
	if err != nil {
		e.opts.Observer.CompileFailed(err)
		e.log.Warn("live compile rejected", zap.Error(err))
		return id, err
	}
	e.log.Debug("live compile queued", zap.Stringer("update", id))
	return id, nil
}

// SubmitScoreAppend queues score events for the next sync point. Start
// times are relative to the performance time at that sync point, unless an
// event is Absolute.
func (e *Engine) SubmitScoreAppend(events []kantele.ScoreEvent) (uuid.UUID, error) {
	id, err := e.coord.SubmitScoreAppend(events)
	if err != nil {
		e.opts.Observer.ScoreRejected(err)
		e.log.Warn("score rejected", zap.Error(err))
		return id, err
	}
	e.log.Debug("score queued", zap.Stringer("update", id), zap.Int("events", len(events)))
	return id, nil
}

// SubmitScoreText parses score text and queues it like SubmitScoreAppend.
func (e *Engine) SubmitScoreText(text string) (uuid.UUID, error) {
	id, err := e.coord.SubmitScoreText(text)
	if err != nil {
		e.opts.Observer.ScoreRejected(err)
		e.log.Warn("score rejected", zap.Error(err))
		return id, err
	}
	return id, nil
}

// Shutdown makes the next Step deactivate every instance in activation
// order, drop pending work and finish.
func (e *Engine) Shutdown() {
	e.shutdown.Store(true)
}

// SetInput sets the global audio input for the next block, in full scale
// units (1 is 0dbfs). Frames beyond
// the block size are ignored; missing frames are silent.
func (e *Engine) SetInput(in kantele.AudioBuffer) {
	for c := range e.input {
		for i := range e.input[c] {
			if i < len(in) {
				e.input[c][i] = in[i][c]
			} else {
				e.input[c][i] = 0
			}
		}
	}
}

// Output returns the last rendered block, one slice of Ksmps samples per
// output channel, in 0dbfs units. The slices are reused by the next Step.
func (e *Engine) Output() [][]float32 {
	return e.mix[:e.header.Nchnls]
}

// Step renders one block. A Step in the idle state starts an empty
// performance with the default header. After the performance finished,
// Step fails with kantele.ErrAlreadyStopped.
func (e *Engine) Step() (StepStatus, error) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	switch e.State() {
	case StateStopped:
		return Finished, kantele.ErrAlreadyStopped
	case StateIdle:
		if err := e.Load(kantele.Program{}); err != nil {
			return Continue, err
		}
	}
	started := time.Now()
	now := e.clock.Frame()
	if e.shutdown.Load() {
		e.clearMix()
		e.stop("shutdown")
		return Finished, nil
	}
	e.applyUpdates(now)
	for _, a := range e.scheduler.NextActions(now, e.header.Ksmps) {
		switch a.Kind {
		case Activate:
			e.activate(a)
		case Deactivate:
			e.deactivate(a.Instance)
		case Turnoff:
			e.turnoff(a)
		}
	}
	e.clearMix()
	if len(e.active) == 0 && e.scheduler.Len() == 0 && e.coord.Len() == 0 {
		e.stop("finished")
		return Finished, nil
	}
	for _, a := range e.active {
		if err := a.inst.Render(&e.ctx); err != nil {
			e.log.Error("render failed", zap.Uint64("instance", a.id), zap.Error(err))
			e.clearMix()
			e.stop("engine error")
			return Finished, err
		}
		e.mixInstance(a.inst)
	}
	e.clock.advance()
	if e.scheduler.Work() == 0 && e.coord.Len() == 0 {
		e.state.Store(int32(StateDraining))
	} else {
		e.state.Store(int32(StateRunning))
	}
	e.opts.Observer.BlockRendered(time.Since(started), len(e.active), e.peak())
	return Continue, nil
}

// applyUpdates is the sync point: every queued compile request is
// installed, then every queued score request scheduled.
func (e *Engine) applyUpdates(now int64) {
	updates := e.coord.drain()
	if len(updates) == 0 {
		return
	}
	block := e.clock.Blocks()
	for _, u := range updates {
		for _, t := range u.Templates {
			e.registry.Define(t.ID, t)
		}
	}
	if installed := e.registry.Commit(); len(installed) > 0 {
		e.publishInstruments()
	}
	for _, u := range updates {
		if u.Templates == nil {
			continue
		}
		ids := make([]string, len(u.Templates))
		for i, t := range u.Templates {
			ids[i] = string(t.ID)
		}
		e.log.Info("instruments installed", zap.Stringer("update", u.ID), zap.Strings("instruments", ids), zap.Int64("block", block))
		e.opts.Observer.UpdateApplied(u.Kind())
		e.notify(Notification{Kind: NoteCompileApplied, Update: u.ID, Block: block, Message: fmt.Sprintf("installed %d instruments", len(ids))})
	}
	for _, u := range updates {
		if u.Templates != nil {
			continue
		}
		scheduled := 0
		for _, ev := range u.Events {
			if ev.Absolute && e.scheduler.StartFrame(&ev, now) < now {
				// accepted while the previous block rendered; starts now
				ev.Absolute, ev.Start = false, 0
			}
			if err := e.scheduler.Enqueue(ev, now); err != nil {
				e.drop(u.ID, ev.Instrument, err)
				continue
			}
			scheduled++
		}
		e.log.Info("score appended", zap.Stringer("update", u.ID), zap.Int("events", scheduled), zap.Int64("block", block))
		e.opts.Observer.UpdateApplied(u.Kind())
		e.notify(Notification{Kind: NoteScoreApplied, Update: u.ID, Block: block, Message: fmt.Sprintf("scheduled %d events", scheduled)})
	}
}

func (e *Engine) activate(a Action) {
	t, err := e.registry.Lookup(a.Event.Instrument)
	if err == nil {
		var inst *vm.Instance
		if inst, err = vm.Instantiate(t, &e.ctx, e.pfields(a)); err == nil {
			e.active = append(e.active, &activeInstance{id: a.Instance, inst: inst, event: a.Event, start: a.Frame})
			e.activeCount.Store(int64(len(e.active)))
			e.opts.Observer.InstanceActivated(t.ID)
			return
		}
	}
	e.scheduler.Cancel(a.Instance)
	e.drop(uuid.Nil, a.Event.Instrument, err)
}

// pfields returns p1, p2, p3 and the event parameters: p1 is the instrument
// number (with the tag as a fraction) or 0 for named instruments, p2 the
// start time in seconds and p3 the duration, negative for held notes.
func (e *Engine) pfields(a Action) []float64 {
	ret := make([]float64, 3, 3+len(a.Event.Params))
	if n, ok := a.Event.Instrument.Number(); ok {
		ret[0] = float64(n)
		if a.Event.Tag != "" {
			if v, err := strconv.ParseFloat(strconv.Itoa(n)+"."+a.Event.Tag, 64); err == nil {
				ret[0] = v
			}
		}
	}
	ret[1] = float64(a.Frame) / float64(e.header.SampleRate)
	ret[2] = a.Event.Duration
	if a.Event.Hold && ret[2] >= 0 {
		ret[2] = -1
	}
	return append(ret, a.Event.Params...)
}

func (e *Engine) deactivate(instance uint64) {
	for i, a := range e.active {
		if a.id == instance {
			e.remove(i)
			return
		}
	}
}

func (e *Engine) remove(i int) {
	a := e.active[i]
	copy(e.active[i:], e.active[i+1:])
	e.active[len(e.active)-1] = nil
	e.active = e.active[:len(e.active)-1]
	e.activeCount.Store(int64(len(e.active)))
	e.opts.Observer.InstanceDeactivated(a.inst.Template().ID)
}

// turnoff stops every active instance of the instrument, or only those with
// a matching tag when the turnoff has one.
func (e *Engine) turnoff(a Action) {
	for i := 0; i < len(e.active); {
		x := e.active[i]
		if x.event.Instrument == a.Event.Instrument && (a.Event.Tag == "" || a.Event.Tag == x.event.Tag) {
			e.scheduler.Cancel(x.id)
			e.remove(i)
			continue
		}
		i++
	}
}

func (e *Engine) drop(update uuid.UUID, id kantele.InstrumentID, err error) {
	e.log.Warn("event dropped", zap.String("instrument", string(id)), zap.Error(err))
	e.opts.Observer.EventDropped(id, err)
	e.notify(Notification{Kind: NoteEventDropped, Update: update, Instrument: id, Block: e.clock.Blocks(), Message: err.Error(), Err: err})
}

func (e *Engine) notify(n Notification) {
	n.Time = time.Now()
	if !TrySend(e.notifications, n) {
		e.log.Debug("notification dropped, channel full", zap.Stringer("kind", n.Kind))
	}
}

// stop deactivates all instances in activation order, drops pending work
// and moves to the stopped state.
func (e *Engine) stop(reason string) {
	for len(e.active) > 0 {
		e.remove(0)
	}
	dropped := e.coord.close()
	if e.scheduler != nil {
		e.scheduler.Clear()
	}
	e.state.Store(int32(StateStopped))
	e.log.Info("performance stopped", zap.String("reason", reason), zap.Int64("blocks", e.clock.Blocks()), zap.Int("dropped_updates", dropped))
	e.closeOnce.Do(func() {
		e.notify(Notification{Kind: NoteFinished, Block: e.clock.Blocks(), Message: reason})
		close(e.notifications)
	})
}

// Close ends the performance, releasing every instance. It is safe to call
// more than once and on any state; later Steps fail with
// kantele.ErrAlreadyStopped.
func (e *Engine) Close() error {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if e.State() != StateStopped {
		e.stop("closed")
	}
	return nil
}

// Status returns a snapshot of the performance.
func (e *Engine) Status() Status {
	return Status{
		State:       e.State(),
		Block:       e.clock.Blocks(),
		Time:        e.clock.Seconds(),
		Active:      int(e.activeCount.Load()),
		Pending:     e.coord.Len(),
		Header:      e.HeaderSnapshot(),
		Instruments: len(*e.instruments.Load()),
	}
}

// HeaderSnapshot returns the header as seen from outside the render loop.
func (e *Engine) HeaderSnapshot() kantele.Header {
	return *e.headerSnap.Load()
}

// Instruments returns the installed instruments as of the last sync point.
func (e *Engine) Instruments() []InstrumentInfo {
	return *e.instruments.Load()
}

func (e *Engine) publishInstruments() {
	ids := e.registry.IDs()
	ret := make([]InstrumentInfo, 0, len(ids))
	for _, id := range ids {
		t, _ := e.registry.Lookup(id)
		info := InstrumentInfo{ID: id, NumParams: t.NumParams, Listing: make([]string, len(t.Steps))}
		for i := range t.Steps {
			info.Listing[i] = t.Listing(i)
		}
		ret = append(ret, info)
	}
	e.instruments.Store(&ret)
}

// Template returns the installed template of an instrument.
func (e *Engine) Template(id kantele.InstrumentID) (*vm.Template, error) {
	return e.registry.Lookup(id)
}
