package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
)

const envelopeProgram = `<CsoundSynthesizer>
<CsInstruments>
sr = 44100
ksmps = 64
nchnls = 2
0dbfs = 32768

instr 2
k1 expon p4, p3, 0.001
a1 oscil k1, p5
outs a1, a1
endin
</CsInstruments>
<CsScore>
i2 0 0.1 10000 440
e
</CsScore>
</CsoundSynthesizer>
`

const constantProgram = `<CsoundSynthesizer>
<CsInstruments>
sr = 44100
ksmps = 64
nchnls = 2
0dbfs = 32768

instr 1
outs 1000, 1000
endin

instr 2
outs 10, 10
endin

instr 3
outs 1, 1
endin
</CsInstruments>
<CsScore>
%s
</CsScore>
</CsoundSynthesizer>
`

type recorder struct {
	engine.NopObserver
	clock       *engine.Clock
	activated   []kantele.InstrumentID
	activatedAt []int64
	deactivated []kantele.InstrumentID
	dropped     []error
	onBlock     func()
	onActivate  func(id kantele.InstrumentID)
}

func (r *recorder) InstanceActivated(id kantele.InstrumentID) {
	r.activated = append(r.activated, id)
	if r.clock != nil {
		r.activatedAt = append(r.activatedAt, r.clock.Blocks())
	}
	if r.onActivate != nil {
		r.onActivate(id)
	}
}

func (r *recorder) InstanceDeactivated(id kantele.InstrumentID) {
	r.deactivated = append(r.deactivated, id)
}

func (r *recorder) EventDropped(id kantele.InstrumentID, err error) {
	r.dropped = append(r.dropped, err)
}

func (r *recorder) BlockRendered(time.Duration, int, [2]float32) {
	if r.onBlock != nil {
		r.onBlock()
	}
}

func newEngine(t *testing.T, program string) (*engine.Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := engine.New(engine.Options{Observer: rec})
	rec.clock = e.Clock()
	if program != "" {
		if err := e.Compile(program); err != nil {
			t.Fatalf("compile failed: %v", err)
		}
	}
	return e, rec
}

func withScore(score string) string {
	return fmt.Sprintf(constantProgram, score)
}

func step(t *testing.T, e *engine.Engine) engine.StepStatus {
	t.Helper()
	status, err := e.Step()
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	return status
}

func TestFinishesWhenScoreIsExhausted(t *testing.T) {
	e, rec := newEngine(t, envelopeProgram)
	blocks := 0
	var peak float32
	for step(t, e) == engine.Continue {
		blocks++
		for _, v := range e.Output()[0] {
			peak = max(peak, v)
		}
		if blocks > 1000 {
			t.Fatalf("performance did not finish")
		}
	}
	// the note ends at frame 4410, which falls in block 68
	if blocks != 68 {
		t.Errorf("expected 68 rendered blocks, got %v", blocks)
	}
	if peak < 5000 || peak > 10000 {
		t.Errorf("expected a peak between 5000 and 10000, got %v", peak)
	}
	if len(rec.activated) != 1 || len(rec.deactivated) != 1 {
		t.Errorf("expected one activation and one deactivation, got %v and %v", rec.activated, rec.deactivated)
	}
	if got := e.State(); got != engine.StateStopped {
		t.Errorf("expected state stopped, got %v", got)
	}
	if _, err := e.Step(); !errors.Is(err, kantele.ErrAlreadyStopped) {
		t.Errorf("expected ErrAlreadyStopped after finishing, got %v", err)
	}
}

func TestInstanceKeepsItsTemplateAfterRecompile(t *testing.T) {
	e, _ := newEngine(t, withScore("i1 0 -1"))
	step(t, e)
	if got := e.Output()[0][0]; got != 1000 {
		t.Fatalf("expected 1000 from the held note, got %v", got)
	}
	if _, err := e.SubmitCompile("instr 1\nouts 2000, 2000\nendin"); err != nil {
		t.Fatalf("SubmitCompile failed: %v", err)
	}
	if _, err := e.SubmitScoreText("i1 0 1"); err != nil {
		t.Fatalf("SubmitScoreText failed: %v", err)
	}
	step(t, e)
	if got := e.Output()[0][0]; got != 3000 {
		t.Fatalf("expected 1000 from the old instance and 2000 from the new one, got %v", got)
	}
	if _, err := e.SubmitScoreText("i-1 0"); err != nil {
		t.Fatalf("SubmitScoreText failed: %v", err)
	}
	if status := step(t, e); status != engine.Finished {
		t.Errorf("expected the turnoff to end the performance, got %v", status)
	}
}

func TestAppendedEventsActivateInOrder(t *testing.T) {
	e, rec := newEngine(t, withScore("f 0 0.1"))
	for i := 0; i < 10; i++ {
		if step(t, e) != engine.Continue {
			t.Fatalf("performance finished too early")
		}
	}
	if got := e.Status().Active; got != 0 {
		t.Fatalf("expected no active instances, got %v", got)
	}
	if _, err := e.SubmitCompile("instr 2\na1 oscil p4, p5\nouts a1, a1\nendin"); err != nil {
		t.Fatalf("SubmitCompile failed: %v", err)
	}
	_, err := e.SubmitScoreAppend([]kantele.ScoreEvent{
		{Instrument: "2", Start: 0, Duration: 1, Params: []float64{10000, 110}},
		{Instrument: "2", Start: 1, Duration: 1, Params: []float64{1000, 660}},
	})
	if err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	sawDraining := false
	for step(t, e) == engine.Continue {
		if e.State() == engine.StateDraining {
			sawDraining = true
		}
		if e.Clock().Blocks() > 2000 {
			t.Fatalf("performance did not finish")
		}
	}
	want := []int64{10, 699}
	if len(rec.activatedAt) != 2 || rec.activatedAt[0] != want[0] || rec.activatedAt[1] != want[1] {
		t.Errorf("expected activations at blocks %v, got %v", want, rec.activatedAt)
	}
	if got := e.Clock().Blocks(); got != 1388 {
		t.Errorf("expected the performance to end after block 1387, ended after %v blocks", got)
	}
	if !sawDraining {
		t.Errorf("expected the engine to drain once only sounding notes remained")
	}
}

func TestUnknownInstrumentIsDropped(t *testing.T) {
	e, rec := newEngine(t, withScore("i1 0 0.5"))
	step(t, e)
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Instrument: "99", Duration: 1}}); err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	if status := step(t, e); status != engine.Continue {
		t.Fatalf("expected the performance to continue, got %v", status)
	}
	if len(rec.dropped) != 1 || !errors.Is(rec.dropped[0], kantele.ErrUnknownInstrument) {
		t.Fatalf("expected one ErrUnknownInstrument drop, got %v", rec.dropped)
	}
	found := false
	for len(e.Notifications()) > 0 {
		n := <-e.Notifications()
		if n.Kind == engine.NoteEventDropped && n.Instrument == "99" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an event-dropped notification")
	}
	if got := e.Output()[0][0]; got != 1000 {
		t.Errorf("expected the existing note to keep sounding, got %v", got)
	}
}

func TestMalformedCompileDoesNotStopPerformance(t *testing.T) {
	e, _ := newEngine(t, withScore("i1 0 0.5"))
	step(t, e)
	_, err := e.SubmitCompile("instr 3\nk1 expon p4*0.001anm, p3, 0.001\na1 oscil k1, 440\nouts a1, a1\nendin")
	if !errors.Is(err, kantele.ErrCompile) {
		t.Fatalf("expected ErrCompile, got %v", err)
	}
	var ce *kantele.CompileError
	if !errors.As(err, &ce) || ce.Line != 2 {
		t.Errorf("expected a compile error on line 2, got %v", err)
	}
	if status := step(t, e); status != engine.Continue {
		t.Errorf("expected the performance to continue, got %v", status)
	}
	if got := e.Status().Pending; got != 0 {
		t.Errorf("expected nothing to be queued, got %v", got)
	}
}

func TestUpdateSubmittedDuringBlockWaitsForNextBlock(t *testing.T) {
	e, rec := newEngine(t, withScore("f 0 1"))
	rec.onBlock = func() {
		rec.onBlock = nil
		if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Instrument: "1", Duration: 1}}); err != nil {
			t.Errorf("SubmitScoreAppend failed: %v", err)
		}
	}
	step(t, e)
	if got := e.Status(); got.Active != 0 || got.Pending != 1 {
		t.Fatalf("expected no active instance and one pending update, got %+v", got)
	}
	step(t, e)
	if got := e.Status(); got.Active != 1 || got.Pending != 0 {
		t.Fatalf("expected the update to apply at the next block, got %+v", got)
	}
	e.Close()
}

func TestSimultaneousEventsKeepSubmissionOrder(t *testing.T) {
	e, rec := newEngine(t, withScore("i3 0 0.1\ni1 0 0.1\ni2 0 0.1"))
	step(t, e)
	want := []kantele.InstrumentID{"3", "1", "2"}
	if len(rec.activated) != len(want) {
		t.Fatalf("expected %v activations, got %v", want, rec.activated)
	}
	for i := range want {
		if rec.activated[i] != want[i] {
			t.Errorf("expected activation order %v, got %v", want, rec.activated)
			break
		}
	}
	if got := e.Output()[0][0]; got != 1011 {
		t.Errorf("expected the mix of all three instruments, got %v", got)
	}
}

func TestShutdownDeactivatesInActivationOrder(t *testing.T) {
	e, rec := newEngine(t, withScore("i2 0 -1\ni1 0 -1\ni3 0 -1"))
	step(t, e)
	step(t, e)
	e.Shutdown()
	if status := step(t, e); status != engine.Finished {
		t.Fatalf("expected shutdown to finish the performance, got %v", status)
	}
	want := []kantele.InstrumentID{"2", "1", "3"}
	for i := range want {
		if i >= len(rec.deactivated) || rec.deactivated[i] != want[i] {
			t.Fatalf("expected deactivation order %v, got %v", want, rec.deactivated)
		}
	}
	if _, err := e.SubmitCompile("instr 4\nouts 1, 1\nendin"); !errors.Is(err, kantele.ErrAlreadyStopped) {
		t.Errorf("expected ErrAlreadyStopped, got %v", err)
	}
	var last engine.Notification
	for n := range e.Notifications() {
		last = n
	}
	if last.Kind != engine.NoteFinished {
		t.Errorf("expected the last notification to be finished, got %v", last.Kind)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close after stop failed: %v", err)
	}
}

func TestHeldNoteKeepsPerformanceAlive(t *testing.T) {
	e, _ := newEngine(t, withScore("i1 0 -1"))
	for i := 0; i < 500; i++ {
		if step(t, e) != engine.Continue {
			t.Fatalf("held note finished after %v blocks", i)
		}
	}
	if got := e.State(); got != engine.StateDraining {
		t.Errorf("expected state draining, got %v", got)
	}
	e.Close()
}

func TestGraceNoteNeverRenders(t *testing.T) {
	e, rec := newEngine(t, withScore("i1 0 0"))
	if status := step(t, e); status != engine.Finished {
		t.Fatalf("expected the grace note to finish the performance, got %v", status)
	}
	if len(rec.activated) != 1 || len(rec.deactivated) != 1 {
		t.Errorf("expected one activation and one deactivation, got %v and %v", rec.activated, rec.deactivated)
	}
	if got := e.Clock().Blocks(); got != 0 {
		t.Errorf("expected no blocks rendered, got %v", got)
	}
}

func TestInitErrorDropsEvent(t *testing.T) {
	e, rec := newEngine(t, envelopeProgram)
	if _, err := e.SubmitScoreText("i2 0 1 0 440"); err != nil {
		t.Fatalf("SubmitScoreText failed: %v", err)
	}
	step(t, e)
	if len(rec.dropped) != 1 || !errors.Is(rec.dropped[0], kantele.ErrInvalidEvent) {
		t.Errorf("expected the expon with a zero start to be dropped, got %v", rec.dropped)
	}
	if got := e.Status().Active; got != 1 {
		t.Errorf("expected only the score note to be active, got %v", got)
	}
	e.Close()
}

func TestStepWhenIdleStartsEmptyPerformance(t *testing.T) {
	e := engine.New(engine.Options{})
	if status := step(t, e); status != engine.Finished {
		t.Errorf("expected an empty performance to finish at once, got %v", status)
	}
	if got := e.Header(); got != kantele.DefaultHeader {
		t.Errorf("expected the default header, got %+v", got)
	}
}

func TestEventsBeforeNowAreRejected(t *testing.T) {
	e, _ := newEngine(t, withScore("f 0 1"))
	for i := 0; i < 100; i++ {
		step(t, e)
	}
	_, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Instrument: "1", Start: 0.01, Duration: 1, Absolute: true}})
	if !errors.Is(err, kantele.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for an event in the past, got %v", err)
	}
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Instrument: "1", Start: -1, Duration: 1}}); !errors.Is(err, kantele.ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for a negative start, got %v", err)
	}
	e.Close()
}

func TestRenderAllShutsDownHeldNotes(t *testing.T) {
	e, _ := newEngine(t, withScore("i1 0 -1"))
	buffer, err := engine.RenderAll(context.Background(), e, 10)
	if err != nil {
		t.Fatalf("RenderAll failed: %v", err)
	}
	if len(buffer) != 640 {
		t.Fatalf("expected 640 frames, got %v", len(buffer))
	}
	want := float32(1000.0 / 32768.0)
	if buffer[100][0] != want || buffer[100][1] != want {
		t.Errorf("expected %v in both channels, got %v", want, buffer[100])
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	render := func() [][2]float32 {
		e, _ := newEngine(t, envelopeProgram)
		defer e.Close()
		var frames [][2]float32
		for blocks := 0; step(t, e) == engine.Continue; blocks++ {
			if blocks == 3 {
				if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{
					{Instrument: "2", Duration: 0.05, Params: []float64{1000, 660}},
				}); err != nil {
					t.Fatalf("SubmitScoreAppend failed: %v", err)
				}
			}
			out := e.Output()
			for i := range out[0] {
				frames = append(frames, [2]float32{out[0][i], out[1][i]})
			}
		}
		return frames
	}
	a, b := render(), render()
	if len(a) != len(b) {
		t.Fatalf("runs rendered %d and %d frames", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs differ at frame %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestRetriggerInOneRequestKeepsNewNote(t *testing.T) {
	e, rec := newEngine(t, withScore("f 0 1"))
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Instrument: "1", Hold: true, Tag: "060"}}); err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	step(t, e)
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{
		{Kind: kantele.EventTurnoff, Instrument: "1", Tag: "060"},
		{Instrument: "1", Hold: true, Tag: "060"},
	}); err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	step(t, e)
	if got := e.Status().Active; got != 1 {
		t.Fatalf("expected the new note to keep sounding, got %d active instances", got)
	}
	if got := e.Output()[0][0]; got != 1000 {
		t.Errorf("expected 1000 from the new note, got %v", got)
	}
	if len(rec.activated) != 2 || len(rec.deactivated) != 1 {
		t.Errorf("expected two activations and one deactivation, got %v and %v", rec.activated, rec.deactivated)
	}
}

func TestTurnoffOnlyStopsEarlierNotes(t *testing.T) {
	e, rec := newEngine(t, withScore("i1 0 -1\ni-1 0.0001\ni1 0.001 -1"))
	step(t, e)
	if got := e.Status().Active; got != 1 {
		t.Fatalf("expected the note after the turnoff to stay active, got %d active instances", got)
	}
	if len(rec.activated) != 2 || len(rec.deactivated) != 1 {
		t.Errorf("expected two activations and one deactivation, got %v and %v", rec.activated, rec.deactivated)
	}
}

func TestTaggedTurnoffLeavesOtherTags(t *testing.T) {
	e, _ := newEngine(t, withScore("f 0 1"))
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{
		{Instrument: "1", Hold: true, Tag: "060"},
		{Instrument: "1", Hold: true, Tag: "064"},
	}); err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	step(t, e)
	if _, err := e.SubmitScoreAppend([]kantele.ScoreEvent{{Kind: kantele.EventTurnoff, Instrument: "1", Tag: "064"}}); err != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", err)
	}
	step(t, e)
	if got := e.Output()[0][0]; got != 1000 {
		t.Errorf("expected only the 060 note to sound, got %v", got)
	}
}

func TestAbsoluteEventAcceptedMidBlockStartsNextBlock(t *testing.T) {
	e, rec := newEngine(t, withScore("i1 0 0.01"))
	var submitErr error
	rec.onActivate = func(id kantele.InstrumentID) {
		if id != "1" {
			return
		}
		// the clock still points at the start of the block being rendered
		_, submitErr = e.SubmitScoreAppend([]kantele.ScoreEvent{
			{Instrument: "2", Start: e.Clock().Seconds(), Duration: 0.01, Absolute: true},
		})
	}
	step(t, e)
	if submitErr != nil {
		t.Fatalf("SubmitScoreAppend failed: %v", submitErr)
	}
	step(t, e)
	if len(rec.dropped) != 0 {
		t.Errorf("expected no dropped events, got %v", rec.dropped)
	}
	if len(rec.activatedAt) != 2 || rec.activated[1] != "2" || rec.activatedAt[1] != 1 {
		t.Errorf("expected instr 2 to start in block 1, got %v at %v", rec.activated, rec.activatedAt)
	}
}

func TestCloseWhileStepping(t *testing.T) {
	e, _ := newEngine(t, withScore("i1 0 -1"))
	done := make(chan error)
	go func() {
		for {
			status, err := e.Step()
			if err != nil || status == engine.Finished {
				done <- err
				return
			}
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-done; err != nil && !errors.Is(err, kantele.ErrAlreadyStopped) {
		t.Errorf("expected the render loop to end with ErrAlreadyStopped, got %v", err)
	}
	if got := e.State(); got != engine.StateStopped {
		t.Errorf("expected state stopped, got %v", got)
	}
	if got := e.Status().Active; got != 0 {
		t.Errorf("expected no active instances, got %d", got)
	}
	e.Close()
	for range e.Notifications() {
	}
}
