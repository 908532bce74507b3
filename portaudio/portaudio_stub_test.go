//go:build !portaudio

package portaudio

import "testing"

func TestOpenWithoutPortAudio(t *testing.T) {
	if Available {
		t.Fatalf("expected the stub build")
	}
	if _, err := Open(44100, 64, 0); err == nil {
		t.Errorf("expected Open to fail without portaudio")
	}
}
