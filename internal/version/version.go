// Package version tracks build metadata for the binaries.
package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Info describes build metadata.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var (
	info      = fromBuildInfo(Info{})
	infoMutex sync.RWMutex
)

// Set records metadata injected through -ldflags. Empty fields are filled
// from the module build info when the toolchain recorded it.
func Set(v Info) {
	v = fromBuildInfo(v)

	infoMutex.Lock()
	defer infoMutex.Unlock()
	info = v
}

// Current returns the recorded build metadata.
func Current() Info {
	infoMutex.RLock()
	defer infoMutex.RUnlock()
	return info
}

func fromBuildInfo(v Info) Info {
	v.GoVersion = runtime.Version()
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v.Version = bi.Main.Version
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if v.Commit == "" {
					v.Commit = setting.Value
				}
			case "vcs.time":
				if v.BuildTime == "" {
					v.BuildTime = setting.Value
				}
			}
		}
	}
	if v.Version == "" {
		v.Version = "dev"
	}
	return v
}
