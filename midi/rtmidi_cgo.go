//go:build cgo

package midi

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

// Input is an open MIDI input port feeding a Mapper.
type Input struct {
	driver *rtmididrv.Driver
	in     drivers.In
	stop   func()
}

// Open opens the first input port whose name starts with namePrefix and
// forwards its messages to m.
func Open(namePrefix string, m *Mapper) (*Input, error) {
	driver, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	ins, err := driver.Ins()
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("listing MIDI inputs failed: %w", err)
	}
	for _, in := range ins {
		if !strings.HasPrefix(in.String(), namePrefix) {
			continue
		}
		if err := in.Open(); err != nil {
			driver.Close()
			return nil, fmt.Errorf("opening MIDI input %q failed: %w", in.String(), err)
		}
		stop, err := midi.ListenTo(in, m.HandleMessage, midi.HandleError(func(err error) {
			m.logger.Warn("midi listener error", zap.String("device", in.String()), zap.Error(err))
		}))
		if err != nil {
			in.Close()
			driver.Close()
			return nil, fmt.Errorf("listening to %q failed: %w", in.String(), err)
		}
		m.logger.Info("midi input connected", zap.String("device", in.String()))
		return &Input{driver: driver, in: in, stop: stop}, nil
	}
	driver.Close()
	return nil, fmt.Errorf("no MIDI input starting with %q", namePrefix)
}

func (i *Input) String() string {
	return i.in.String()
}

func (i *Input) Close() error {
	i.stop()
	err := i.in.Close()
	i.driver.Close()
	return err
}
