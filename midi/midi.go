// Package midi turns MIDI keyboard input into live score events: every
// key held down is a held note of the instrument numbered after the
// channel, released by a turnoff when the key goes up.
package midi

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/vsariola/kantele"
	"gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

type (
	// Submitter receives the generated events. *engine.Engine implements it.
	Submitter interface {
		SubmitScoreAppend(events []kantele.ScoreEvent) (uuid.UUID, error)
	}

	// Mapper maps note messages to held notes. p4 is the amplitude,
	// velocity/127 of a quarter of 0dbfs, and p5 the frequency in Hz.
	Mapper struct {
		submitter Submitter
		zeroDBFS  float64
		logger    *zap.Logger

		mu   sync.Mutex
		held map[key]struct{}
	}

	key struct {
		channel, note uint8
	}
)

const allNotesOff = 123

func NewMapper(s Submitter, zeroDBFS float64, logger *zap.Logger) *Mapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{submitter: s, zeroDBFS: zeroDBFS, logger: logger, held: make(map[key]struct{})}
}

// NoteFrequency returns the equal tempered frequency of a MIDI note, A4
// (69) being 440 Hz.
func NoteFrequency(note uint8) float64 {
	return 440 * math.Pow(2, (float64(note)-69)/12)
}

func tag(note uint8) string {
	return fmt.Sprintf("%03d", note)
}

// HandleMessage has the signature of gomidi listeners, so it can be given
// directly to midi.ListenTo.
func (m *Mapper) HandleMessage(msg midi.Message, timestampms int32) {
	var channel, note, velocity, controller, value uint8
	switch {
	case msg.GetNoteOn(&channel, &note, &velocity):
		if velocity == 0 {
			m.noteOff(channel, note)
			return
		}
		m.noteOn(channel, note, velocity)
	case msg.GetNoteOff(&channel, &note, &velocity):
		m.noteOff(channel, note)
	case msg.GetControlChange(&channel, &controller, &value):
		if controller == allNotesOff {
			m.AllNotesOff()
		}
	}
}

func (m *Mapper) noteOn(channel, note, velocity uint8) {
	instr := kantele.NumberedInstrument(int(channel) + 1)
	var events []kantele.ScoreEvent
	m.mu.Lock()
	k := key{channel, note}
	if _, ok := m.held[k]; ok {
		events = append(events, kantele.ScoreEvent{Kind: kantele.EventTurnoff, Instrument: instr, Tag: tag(note)})
	}
	m.held[k] = struct{}{}
	m.mu.Unlock()
	events = append(events, kantele.ScoreEvent{
		Instrument: instr,
		Duration:   -1,
		Hold:       true,
		Tag:        tag(note),
		Params:     []float64{float64(velocity) / 127 * m.zeroDBFS / 4, NoteFrequency(note)},
	})
	m.submit(events)
}

func (m *Mapper) noteOff(channel, note uint8) {
	m.mu.Lock()
	k := key{channel, note}
	_, ok := m.held[k]
	delete(m.held, k)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.submit([]kantele.ScoreEvent{{Kind: kantele.EventTurnoff, Instrument: kantele.NumberedInstrument(int(channel) + 1), Tag: tag(note)}})
}

// AllNotesOff turns off every held note.
func (m *Mapper) AllNotesOff() {
	m.mu.Lock()
	events := make([]kantele.ScoreEvent, 0, len(m.held))
	for k := range m.held {
		events = append(events, kantele.ScoreEvent{Kind: kantele.EventTurnoff, Instrument: kantele.NumberedInstrument(int(k.channel) + 1), Tag: tag(k.note)})
	}
	clear(m.held)
	m.mu.Unlock()
	if len(events) > 0 {
		m.submit(events)
	}
}

// Held returns the number of keys currently down.
func (m *Mapper) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

func (m *Mapper) submit(events []kantele.ScoreEvent) {
	if _, err := m.submitter.SubmitScoreAppend(events); err != nil {
		m.logger.Warn("midi events rejected", zap.Error(err))
	}
}
