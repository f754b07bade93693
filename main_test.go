package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/pkg/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}

	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}

	if versionCmd.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", versionCmd.Short)
	}
}

func TestVersionFlags(t *testing.T) {
	allFlag := versionCmd.Flags().Lookup("all")
	if allFlag == nil {
		t.Error("--all flag not found on version command")
	}

	outputJSONFlag := versionCmd.Flags().Lookup("output-json")
	if outputJSONFlag == nil {
		t.Error("--output-json flag not found on version command")
	}
}

// TestVersionJSONOutput verifies that --output-json emits the local build info.
func TestVersionJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	versionOutputJSON = true
	defer func() { versionOutputJSON = false }()

	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version --output-json failed: %v", err)
	}

	var infos []buildinfo.Info
	if err := json.Unmarshal(buf.Bytes(), &infos); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(infos))
	}
	if infos[0].ServiceName != buildinfo.ServiceCLI {
		t.Errorf("ServiceName = %q, want %q", infos[0].ServiceName, buildinfo.ServiceCLI)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{"ingest", "jobs", "serve", "worker", "db", "integration", "health", "auth", "config", "version", "completion"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c == nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
			continue
		}
		if c.GroupID == "" {
			t.Errorf("subcommand %q has no group", name)
		}
	}
}

func TestSetConfigValue(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := setConfigValue(cfg, "server_url", "https://memos.example.com"); err != nil {
		t.Fatalf("server_url: %v", err)
	}
	if cfg.ServerURL != "https://memos.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}

	if err := setConfigValue(cfg, "timeout", "45s"); err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if cfg.Timeout != 45*time.Second {
		t.Errorf("Timeout = %s", cfg.Timeout)
	}

	if err := setConfigValue(cfg, "output_format", "yaml"); err != nil {
		t.Fatalf("output_format: %v", err)
	}
	if cfg.OutputFormat != config.OutputFormatYAML {
		t.Errorf("OutputFormat = %q", cfg.OutputFormat)
	}

	if err := setConfigValue(cfg, "debug", "true"); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if !cfg.Debug {
		t.Error("Debug not set")
	}
}

func TestSetConfigValueRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"timeout", "soon"},
		{"output_format", "xml"},
		{"debug", "maybe"},
		{"color", "blue"},
	}
	for _, tt := range tests {
		if err := setConfigValue(config.DefaultConfig(), tt.key, tt.value); err == nil {
			t.Errorf("setConfigValue(%q, %q) expected error", tt.key, tt.value)
		}
	}
}

func TestOutputHealthHuman(t *testing.T) {
	var buf bytes.Buffer
	outputHealthHuman(&buf, "http://localhost:8080", &client.Health{
		Status: "degraded",
		Checks: map[string]string{"redis": "ok", "database": "connection refused"},
	})

	out := buf.String()
	if !strings.Contains(out, "Server: http://localhost:8080") {
		t.Errorf("missing server line:\n%s", out)
	}
	if strings.Index(out, "database") > strings.Index(out, "redis") {
		t.Errorf("checks not sorted by name:\n%s", out)
	}
	if !strings.Contains(out, "connection refused") {
		t.Errorf("missing failing check detail:\n%s", out)
	}
}
