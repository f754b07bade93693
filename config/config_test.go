package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %v, want %v", cfg.ServerURL, DefaultServerURL)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want %v", cfg.OutputFormat, DefaultOutputFormat)
	}
	if cfg.Debug {
		t.Error("Debug should be false by default")
	}
}

func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"", false},
		{"JSON", false},
		{"xml", false},
	}
	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.valid {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tt.format, got, tt.valid)
		}
	}
}

func TestCLIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"defaults", func(*CLIConfig) {}, ""},
		{"empty url", func(c *CLIConfig) { c.ServerURL = "" }, "server_url is required"},
		{"no scheme", func(c *CLIConfig) { c.ServerURL = "localhost:8080" }, "must start with http"},
		{"zero timeout", func(c *CLIConfig) { c.Timeout = 0 }, "timeout must be positive"},
		{"bad format", func(c *CLIConfig) { c.OutputFormat = "xml" }, "invalid output_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEALMEMO_CONFIG_DIR", dir)
	t.Setenv("DEALMEMO_SERVER_URL", "")
	t.Setenv("DEALMEMO_TIMEOUT", "")
	t.Setenv("DEALMEMO_OUTPUT_FORMAT", "json")
	t.Setenv("DEALMEMO_DEBUG", "")

	content := "server_url: https://memo.example.com\ntimeout: 30s\noutput_format: yaml\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ServerURL != "https://memo.example.com" {
		t.Errorf("ServerURL = %v", cfg.ServerURL)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want env override json", cfg.OutputFormat)
	}
}

func TestLoadConfig_BadTimeoutInFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEALMEMO_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("timeout: soon\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unparseable timeout")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DEALMEMO_CONFIG_DIR", filepath.Join(dir, "nested"))
	t.Setenv("DEALMEMO_SERVER_URL", "")
	t.Setenv("DEALMEMO_TIMEOUT", "")
	t.Setenv("DEALMEMO_OUTPUT_FORMAT", "")
	t.Setenv("DEALMEMO_DEBUG", "")

	want := &CLIConfig{ServerURL: "https://memo.example.com", Timeout: 45 * time.Second, OutputFormat: OutputFormatJSON, Debug: true}
	if err := SaveConfig(want); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "nested", DefaultConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if *got != *want {
		t.Errorf("LoadConfig() = %+v, want %+v", got, want)
	}
}
