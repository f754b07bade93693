// Package buildinfo reports the version a binary was built from.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Set at build time:
//
//	-X github.com/otherjamesbrown/dealmemo/pkg/buildinfo.Version=v0.3.0
//	-X github.com/otherjamesbrown/dealmemo/pkg/buildinfo.Commit=b806fe7
//	-X github.com/otherjamesbrown/dealmemo/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Service names reported on /version and in logs.
const (
	ServiceAPI    = "dealmemo-api"
	ServiceWorker = "dealmemo-worker"
	ServiceCLI    = "dealmemo"
)

var started = time.Now()

// Info holds build information for a service.
type Info struct {
	ServiceName   string `json:"service_name"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildTime     string `json:"build_time"`
	GoVersion     string `json:"go_version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Get returns build info for the named service.
func Get(serviceName string) Info {
	return Info{
		ServiceName:   serviceName,
		Version:       Version,
		Commit:        Commit,
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(started).Seconds()),
	}
}

// String returns a one-liner like "v0.3.0 (b806fe7, 2026-02-07T10:30:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// UserAgent identifies outbound requests, e.g. "dealmemo-api/v0.3.0".
func UserAgent(serviceName string) string {
	return serviceName + "/" + Version
}

// Handler responds with build info JSON.
func Handler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get(serviceName))
	}
}
