package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
)

type (
	// Clock counts rendered blocks. The render loop is its only writer;
	// any goroutine may read it.
	Clock struct {
		blocks atomic.Int64
		ksmps  atomic.Int64
		rate   atomic.Int64
	}

	// Notification reports something that happened asynchronously at a sync
	// point: an update was applied, or an event could not be honored. They
	// are delivered on a buffered channel and dropped when nobody reads.
	Notification struct {
		Kind       NotificationKind     `json:"kind"`
		Update     uuid.UUID            `json:"update,omitempty"`
		Instrument kantele.InstrumentID `json:"instr,omitempty"`
		Block      int64                `json:"block"`
		Message    string               `json:"message,omitempty"`
		Time       time.Time            `json:"time"`
		Err        error                `json:"-"`
	}

	NotificationKind int
)

const (
	// NoteCompileApplied: templates of a compile request were installed.
	NoteCompileApplied NotificationKind = iota
	// NoteScoreApplied: events of a score request were scheduled.
	NoteScoreApplied
	// NoteEventDropped: an event could not be scheduled or activated, for
	// example because its instrument is unknown.
	NoteEventDropped
	// NoteFinished: the performance reached its end.
	NoteFinished
)

func (k NotificationKind) String() string {
	switch k {
	case NoteCompileApplied:
		return "compile-applied"
	case NoteScoreApplied:
		return "score-applied"
	case NoteEventDropped:
		return "event-dropped"
	case NoteFinished:
		return "finished"
	}
	return "unknown"
}

func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *NotificationKind) UnmarshalText(b []byte) error {
	for c := NoteCompileApplied; c <= NoteFinished; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	*k = NoteEventDropped
	return nil
}

// Blocks returns the number of blocks rendered so far.
func (c *Clock) Blocks() int64 {
	return c.blocks.Load()
}

// Frame returns the number of sample frames rendered so far.
func (c *Clock) Frame() int64 {
	return c.blocks.Load() * c.ksmps.Load()
}

// Seconds returns the performance time in seconds.
func (c *Clock) Seconds() float64 {
	r := c.rate.Load()
	if r == 0 {
		return 0
	}
	return float64(c.Frame()) / float64(r)
}

func (c *Clock) advance() {
	c.blocks.Add(1)
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
