// Package temporalx connects to Temporal for the workflow dispatch backend
// and runs the worker that executes memo job workflows.
package temporalx

import "time"

// Config holds the Temporal connection settings. An empty Address disables
// Temporal.
type Config struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	ClientCAPath   string `yaml:"client_ca_path"`

	// AutoRegisterNamespace creates the namespace when missing. Meant for
	// local and self-hosted clusters.
	AutoRegisterNamespace bool          `yaml:"auto_register_namespace"`
	NamespaceRetention    time.Duration `yaml:"namespace_retention"`

	DialMaxWait time.Duration `yaml:"dial_max_wait"`
}

// DefaultConfig returns the defaults. Address stays empty.
func DefaultConfig() Config {
	return Config{
		Namespace:          "dealmemo",
		TaskQueue:          "dealmemo-memos",
		NamespaceRetention: 7 * 24 * time.Hour,
		DialMaxWait:        60 * time.Second,
	}
}

// Enabled reports whether a Temporal address is configured.
func (c Config) Enabled() bool {
	return c.Address != ""
}

func (c Config) tlsEnabled() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
