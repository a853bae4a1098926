package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildMu      sync.RWMutex
	current      = Build{Version: "dev", Commit: "none", GoVersion: runtime.Version()}
	buildRegOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Agora console build information.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo records the build identity and exports it as build_info.
func InitBuildInfo(version, commit string) Build {
	buildRegOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})

	buildMu.Lock()
	if version != "" {
		current.Version = version
	}
	if commit != "" {
		current.Commit = commit
	}
	b := current
	buildMu.Unlock()

	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	return b
}

// CurrentBuild returns what InitBuildInfo last recorded.
func CurrentBuild() Build {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return current
}
