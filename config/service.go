package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/dealmemo/pkg/db"
	"github.com/otherjamesbrown/dealmemo/pkg/llm"
	"github.com/otherjamesbrown/dealmemo/pkg/temporalx"
)

// ServiceConfigEnv names an optional YAML file for the service processes.
const ServiceConfigEnv = "DEALMEMO_CONFIG"

// Dispatch backends.
const (
	DispatchTemporal = "temporal"
	DispatchQueue    = "queue"
	DispatchDirect   = "direct"
)

// ServiceConfig configures the API server and the worker.
type ServiceConfig struct {
	Environment string `yaml:"environment"`
	ListenAddr  string `yaml:"listen_addr"`
	// HealthAddr serves the worker's gRPC health endpoint.
	HealthAddr string `yaml:"health_addr"`
	// PublicBaseURL is where /process/direct is reachable from dispatchers.
	PublicBaseURL string `yaml:"public_base_url"`

	WorkerSecret  string `yaml:"worker_secret"`
	JWTSecret     string `yaml:"jwt_secret"`
	EncryptionKey string `yaml:"encryption_key"`

	DatabaseURL string     `yaml:"database_url"`
	Database    *db.Config `yaml:"-"`
	RedisURL    string     `yaml:"redis_url"`

	Temporal temporalx.Config `yaml:"temporal"`
	LLM      LLMConfig        `yaml:"llm"`
	Google   GoogleConfig     `yaml:"google"`
	Worker   WorkerConfig     `yaml:"worker"`
	Log      LogConfig        `yaml:"log"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LLMConfig selects the generative provider.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`
	OllamaHost        string        `yaml:"ollama_host"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// GoogleConfig is the OAuth client used for Drive token refresh.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// FolderName is the Drive folder memos are filed into.
	FolderName string `yaml:"folder_name"`
}

// WorkerConfig tunes job execution.
type WorkerConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	JobLease       time.Duration `yaml:"job_lease"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ReaperSchedule string        `yaml:"reaper_schedule"`
	ContentMode    string        `yaml:"content_mode"`
	Dispatch       string        `yaml:"dispatch"`
	// TranscriptTokens caps the transcript sent in one prompt; 0 keeps the default.
	TranscriptTokens int `yaml:"transcript_tokens"`
	// DirectTimeout bounds one background call to /process/direct.
	DirectTimeout time.Duration `yaml:"direct_timeout"`
}

// LogConfig sets the log level and format ("json" or "console").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultServiceConfig returns defaults for local development.
func DefaultServiceConfig() *ServiceConfig {
	llmDefaults := llm.DefaultConfig()
	return &ServiceConfig{
		Environment:   "development",
		ListenAddr:    ":8080",
		HealthAddr:    ":8086",
		PublicBaseURL: "http://localhost:8080",
		Temporal:      temporalx.DefaultConfig(),
		LLM: LLMConfig{
			Provider:          string(llmDefaults.Provider),
			Model:             llmDefaults.Model,
			Timeout:           llmDefaults.Timeout,
			RequestsPerSecond: llmDefaults.RequestsPerSecond,
			Burst:             llmDefaults.Burst,
		},
		Worker: WorkerConfig{
			Concurrency:    3,
			JobLease:       10 * time.Minute,
			MaxAttempts:    3,
			ReaperSchedule: "@every 2m",
			ContentMode:    "auto",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadServiceConfig reads an optional .env file, then the YAML file named by
// DEALMEMO_CONFIG, then environment overrides, and validates the result.
func LoadServiceConfig() (*ServiceConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultServiceConfig()
	if path := os.Getenv(ServiceConfigEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *ServiceConfig) applyEnv() {
	setString(&c.Environment, "DEALMEMO_ENV")
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.HealthAddr, "HEALTH_ADDR")
	setString(&c.PublicBaseURL, "PUBLIC_BASE_URL")
	setString(&c.WorkerSecret, "WORKER_SECRET")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.EncryptionKey, "DEALMEMO_ENCRYPTION_KEY")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	c.Database = db.ConfigFromEnv()
	if c.Database.URL == "" && c.DatabaseURL != "" {
		c.Database.URL = c.DatabaseURL
	}

	setString(&c.Temporal.Address, "TEMPORAL_ADDRESS")
	setString(&c.Temporal.Namespace, "TEMPORAL_NAMESPACE")
	setString(&c.Temporal.TaskQueue, "TEMPORAL_TASK_QUEUE")
	setBool(&c.Temporal.AutoRegisterNamespace, "TEMPORAL_AUTO_REGISTER_NAMESPACE")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.OllamaHost, "OLLAMA_HOST")

	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.FolderName, "DRIVE_FOLDER_NAME")

	setInt(&c.Worker.Concurrency, "WORKER_CONCURRENCY")
	setDuration(&c.Worker.JobLease, "JOB_LEASE")
	setInt(&c.Worker.MaxAttempts, "JOB_MAX_ATTEMPTS")
	setString(&c.Worker.ReaperSchedule, "REAPER_SCHEDULE")
	setString(&c.Worker.ContentMode, "MEMO_CONTENT_MODE")
	setString(&c.Worker.Dispatch, "DISPATCH_BACKEND")
	setInt(&c.Worker.TranscriptTokens, "TRANSCRIPT_TOKEN_BUDGET")
	setDuration(&c.Worker.DirectTimeout, "DIRECT_TRIGGER_TIMEOUT")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
}

// Validate checks settings both processes depend on.
func (c *ServiceConfig) Validate() error {
	var errs []error
	if c.WorkerSecret == "" {
		errs = append(errs, fmt.Errorf("WORKER_SECRET is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, fmt.Errorf("DEALMEMO_ENCRYPTION_KEY is required"))
	}
	if c.Database != nil {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if !llm.Provider(strings.ToLower(c.LLM.Provider)).Valid() {
		errs = append(errs, fmt.Errorf("unknown LLM provider %q", c.LLM.Provider))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker concurrency must be positive"))
	}
	if c.Worker.JobLease < time.Minute {
		errs = append(errs, fmt.Errorf("job lease must be at least 1m, got %s", c.Worker.JobLease))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive"))
	}
	if c.Worker.TranscriptTokens < 0 {
		errs = append(errs, fmt.Errorf("transcript token budget must not be negative"))
	}
	switch c.Worker.Dispatch {
	case "", DispatchTemporal, DispatchQueue, DispatchDirect:
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch backend %q", c.Worker.Dispatch))
	}
	if c.Worker.Dispatch == DispatchTemporal && !c.Temporal.Enabled() {
		errs = append(errs, fmt.Errorf("dispatch backend temporal needs TEMPORAL_ADDRESS"))
	}
	if c.Worker.Dispatch == DispatchQueue && c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("dispatch backend queue needs REDIS_URL"))
	}
	return errors.Join(errs...)
}

// DispatchBackend resolves the configured backend. When unset, Temporal is
// preferred, then the Redis queue, then the direct trigger alone.
func (c *ServiceConfig) DispatchBackend() string {
	switch {
	case c.Worker.Dispatch != "":
		return c.Worker.Dispatch
	case c.Temporal.Enabled():
		return DispatchTemporal
	case c.RedisURL != "":
		return DispatchQueue
	default:
		return DispatchDirect
	}
}

// LLMClientConfig converts to the llm package configuration.
func (c *ServiceConfig) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:          llm.Provider(strings.ToLower(c.LLM.Provider)),
		Model:             c.LLM.Model,
		OpenAIAPIKey:      c.LLM.OpenAIAPIKey,
		AnthropicAPIKey:   c.LLM.AnthropicAPIKey,
		OllamaHost:        c.LLM.OllamaHost,
		Timeout:           c.LLM.Timeout,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
	}
}

// IsProduction reports whether logs should be JSON by default.
func (c *ServiceConfig) IsProduction() bool {
	return c.Environment == "production"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
