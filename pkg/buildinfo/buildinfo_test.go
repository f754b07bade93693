package buildinfo

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestGet_Defaults(t *testing.T) {
	info := Get(ServiceWorker)

	if info.ServiceName != ServiceWorker {
		t.Errorf("expected ServiceName=%q, got %q", ServiceWorker, info.ServiceName)
	}
	if info.Version != "dev" || info.Commit != "unknown" || info.BuildTime != "unknown" {
		t.Errorf("unexpected defaults: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected GoVersion=%q, got %q", runtime.Version(), info.GoVersion)
	}
	if info.UptimeSeconds < 0 {
		t.Errorf("expected non-negative uptime, got %d", info.UptimeSeconds)
	}
}

func TestString_CustomValues(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "v1.2.3"
	Commit = "abc123d"
	BuildTime = "2026-02-07T10:30:00Z"

	if got, want := String(), "v1.2.3 (abc123d, 2026-02-07T10:30:00Z)"; got != want {
		t.Errorf("expected String()=%q, got %q", want, got)
	}
	if got, want := UserAgent(ServiceAPI), "dealmemo-api/v1.2.3"; got != want {
		t.Errorf("expected UserAgent()=%q, got %q", want, got)
	}
}

func TestInfo_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Get(ServiceAPI))
	if err != nil {
		t.Fatalf("failed to marshal Info: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
	for _, key := range []string{"service_name", "version", "commit", "build_time", "go_version", "uptime_seconds"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in JSON output", key)
		}
	}
	if len(decoded) != 6 {
		t.Errorf("expected 6 keys in JSON, got %d", len(decoded))
	}
}
