//go:build !cgo

package midi

import "errors"

// Input is unavailable without cgo.
type Input struct{}

// Open always fails: the rtmidi driver needs cgo.
func Open(namePrefix string, m *Mapper) (*Input, error) {
	return nil, errors.New("midi: built without cgo, no MIDI input available")
}

func (i *Input) String() string {
	return ""
}

func (i *Input) Close() error {
	return nil
}
