// Package version reports which build of kantele is running.
package version

import "runtime/debug"

// Version can be set at build time:
// go build -ldflags "-X github.com/vsariola/kantele/version.Version=$(git describe --dirty)"
var Version string

// Build describes the running binary.
type Build struct {
	Version   string `json:"version,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go"`
}

// Current is the build of the running binary.
var Current = func() Build {
	b := Build{Version: Version}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	b.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}()

// String returns the version if one was set, else the short revision hash
// with a -dirty suffix for modified trees, else "devel".
func (b Build) String() string {
	if b.Version != "" {
		return b.Version
	}
	if len(b.Revision) >= 7 {
		if b.Modified {
			return b.Revision[:7] + "-dirty"
		}
		return b.Revision[:7]
	}
	return "devel"
}
