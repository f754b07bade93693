package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/dealmemo/credentials"
	"github.com/otherjamesbrown/dealmemo/pkg/server"
)

// AuthCommandDeps holds the dependencies for auth commands.
type AuthCommandDeps struct {
	OpenStore func() (*credentials.Store, error)
	// ReadSecret prompts for a value without echoing it.
	ReadSecret func(prompt string) (string, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthCommandDeps {
	return &AuthCommandDeps{
		OpenStore:  credentials.NewStore,
		ReadSecret: readHiddenInput,
	}
}

// readHiddenInput reads from the terminal without echo, or a plain line
// when stdin is not a terminal.
func readHiddenInput(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long: `Manage the credentials the CLI sends to the dealmemo API.

Owner endpoints (/ingest, /jobs, /process/retry) take an HS256 bearer token
whose subject is the owner id. The /process endpoints take the shared worker
secret. Both are stored encrypted in ~/.dealmemo/credentials.yaml.

DEALMEMO_TOKEN and DEALMEMO_WORKER_SECRET take precedence over stored values.`,
	}

	cmd.AddCommand(newAuthLoginCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthTokenCommand(deps))
	return cmd
}

type authLoginOptions struct {
	token          string
	workerSecret   string
	server         string
	nonInteractive bool
}

func newAuthLoginCommand(deps *AuthCommandDeps) *cobra.Command {
	opts := &authLoginOptions{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an owner token and worker secret",
		Long: `Store an owner token, a worker secret, or both.

Without flags the token is prompted for with hidden input. Issue a token
with 'dealmemo auth token' on a host that has JWT_SECRET.`,
		Example: `  dealmemo auth login
  dealmemo auth login --token eyJhbGciOiJIUzI1NiIs...
  dealmemo auth login --worker-secret "$WORKER_SECRET"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(deps, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.token, "token", "", "Owner bearer token")
	cmd.Flags().StringVar(&opts.workerSecret, "worker-secret", "", "Worker secret for the /process endpoints")
	cmd.Flags().StringVar(&opts.server, "server", "", "Server URL to associate with the credentials")
	cmd.Flags().BoolVar(&opts.nonInteractive, "non-interactive", false, "Fail instead of prompting for input")
	return cmd
}

func runAuthLogin(deps *AuthCommandDeps, opts *authLoginOptions, out io.Writer) error {
	store, err := deps.OpenStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	// Keep whatever is already stored and replace what was given.
	creds, err := store.Load()
	if err != nil {
		if !errors.Is(err, credentials.ErrNoCredentials) {
			return fmt.Errorf("loading credentials: %w", err)
		}
		creds = &credentials.Credentials{}
	}

	if opts.token == "" && opts.workerSecret == "" {
		if opts.nonInteractive {
			return fmt.Errorf("no credentials provided and --non-interactive flag set")
		}
		if opts.token, err = deps.ReadSecret("Owner token: "); err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		if opts.token == "" {
			return fmt.Errorf("no credentials provided")
		}
	}

	if opts.token != "" {
		claims, err := inspectToken(opts.token)
		if err != nil {
			return fmt.Errorf("invalid token: %w", err)
		}
		creds.Token = opts.token
		creds.Subject = claims.Subject
		creds.ExpiresAt = time.Time{}
		if claims.ExpiresAt != nil {
			creds.ExpiresAt = claims.ExpiresAt.Time
		}
	}
	if opts.workerSecret != "" {
		creds.WorkerSecret = opts.workerSecret
	}
	if opts.server != "" {
		creds.ServerURL = opts.server
	}

	if err := store.Save(creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	fmt.Fprintln(out, "Login successful!")
	if opts.token != "" {
		fmt.Fprintf(out, "  Token:   %s\n", credentials.MaskToken(creds.Token))
		fmt.Fprintf(out, "  Owner:   %s\n", creds.Subject)
		fmt.Fprintf(out, "  Expires: %s\n", credentials.FormatExpiry(creds.ExpiresAt))
	}
	if opts.workerSecret != "" {
		fmt.Fprintf(out, "  Worker secret: %s\n", credentials.MaskToken(creds.WorkerSecret))
	}
	if creds.ServerURL != "" {
		fmt.Fprintf(out, "  Server:  %s\n", creds.ServerURL)
	}
	return nil
}

// inspectToken reads the claims without verifying the signature; the
// server verifies it on every request.
func inspectToken(token string) (*server.Claims, error) {
	claims := &server.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("subject %q is not an owner id", claims.Subject)
	}
	return claims, nil
}

func newAuthLogoutCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			fmt.Fprintln(out, "Logged out successfully.")
			for _, env := range []string{credentials.TokenEnv, credentials.WorkerSecretEnv} {
				if os.Getenv(env) != "" {
					fmt.Fprintf(out, "\nNote: %s is still set. Unset it with: unset %s\n", env, env)
				}
			}
			return nil
		},
	}
}

func newAuthStatusCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			fmt.Fprintln(out, "Authentication Status")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			for _, env := range []string{credentials.TokenEnv, credentials.WorkerSecretEnv} {
				if v := os.Getenv(env); v != "" {
					fmt.Fprintf(out, "  %s: %s (active)\n", env, credentials.MaskToken(v))
				}
			}

			creds, err := store.Load()
			if errors.Is(err, credentials.ErrNoCredentials) {
				fmt.Fprintln(out, "Stored Credentials: None")
				fmt.Fprintln(out, "\nRun 'dealmemo auth login' to authenticate.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			fmt.Fprintln(out, "Stored Credentials:")
			if creds.Token != "" {
				fmt.Fprintf(out, "  Token:   %s\n", credentials.MaskToken(creds.Token))
				fmt.Fprintf(out, "  Owner:   %s\n", creds.Subject)
				fmt.Fprintf(out, "  Expires: %s\n", credentials.FormatExpiry(creds.ExpiresAt))
			}
			if creds.WorkerSecret != "" {
				fmt.Fprintf(out, "  Worker secret: %s\n", credentials.MaskToken(creds.WorkerSecret))
			}
			if creds.ServerURL != "" {
				fmt.Fprintf(out, "  Server:  %s\n", creds.ServerURL)
			}
			fmt.Fprintf(out, "  Updated: %s\n", creds.LastUpdated.Local().Format(time.DateTime))
			fmt.Fprintf(out, "  Key:     %s\n", store.KeyDescription())
			return nil
		},
	}
}

type authTokenOptions struct {
	owner  string
	name   string
	email  string
	ttl    time.Duration
	secret string
	save   bool
}

func newAuthTokenCommand(deps *AuthCommandDeps) *cobra.Command {
	opts := &authTokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an owner token (needs JWT_SECRET)",
		Long: `Sign an owner bearer token with the server's JWT secret.

Run this where JWT_SECRET is available. Without --owner a new owner id is
generated. --save stores the token locally as if passed to 'auth login'.`,
		Example: `  dealmemo auth token --name "Dana Lee" --email dana@fund.vc --ttl 720h
  dealmemo auth token --owner 6b1f... --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := issueOwnerToken(opts)
			if err != nil {
				return err
			}
			if opts.save {
				return runAuthLogin(deps, &authLoginOptions{token: token}, cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner id (default: new uuid)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Owner display name")
	cmd.Flags().StringVar(&opts.email, "email", "", "Owner email")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 30*24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&opts.secret, "jwt-secret", "", "Signing secret (default: $JWT_SECRET)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store the token instead of printing it")
	return cmd
}

func issueOwnerToken(opts *authTokenOptions) (string, error) {
	secret := opts.secret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET is not set; pass --jwt-secret")
	}
	if opts.ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}

	id := uuid.New()
	if opts.owner != "" {
		var err error
		if id, err = uuid.Parse(opts.owner); err != nil {
			return "", fmt.Errorf("invalid --owner %q", opts.owner)
		}
	}
	return server.IssueToken(secret, server.Owner{ID: id, Name: opts.name, Email: opts.email}, opts.ttl)
}
