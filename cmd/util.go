package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/dealmemo/client"
	"github.com/otherjamesbrown/dealmemo/config"
	"github.com/otherjamesbrown/dealmemo/credentials"
	"github.com/otherjamesbrown/dealmemo/pkg/db"
)

// connectToDatabase opens a pool from DATABASE_URL or the DB_* variables,
// reading .env first when present.
func connectToDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg := db.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	return db.ConnectWithRetry(ctx, cfg, 3, dbConnectDelay)
}

// connectToRedis connects to a redis:// or rediss:// URL and pings it.
func connectToRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rc, nil
}

// newAPIClient builds a client for cfg.ServerURL using the stored or
// environment credentials. Missing credentials are not an error here; the
// server answers 401 and the command reports it.
func newAPIClient(cfg *config.CLIConfig) (*client.Client, error) {
	opts := client.DefaultOptions()
	opts.Timeout = cfg.Timeout

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}
	creds, err := store.GetActiveCredential()
	switch {
	case err == nil:
		opts.Token = creds.Token
		opts.WorkerSecret = creds.WorkerSecret
	case errors.Is(err, credentials.ErrExpiredToken):
		return nil, fmt.Errorf("%w; run 'dealmemo auth login' again", err)
	case !errors.Is(err, credentials.ErrNoCredentials):
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	return client.New(cfg.ServerURL, opts), nil
}

// writeOutput renders v as JSON or YAML, or calls text for the default format.
func writeOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		return yaml.NewEncoder(w).Encode(v)
	default:
		return text(w)
	}
}

// truncate shortens s to maxLen runes, adding "..." when cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
