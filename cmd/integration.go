package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/dealmemo/credentials"
	dmerrors "github.com/otherjamesbrown/dealmemo/pkg/errors"
	"github.com/otherjamesbrown/dealmemo/pkg/integrations"
)

// IntegrationStore is the part of integrations.Store the admin commands use.
type IntegrationStore interface {
	Get(ctx context.Context, owner uuid.UUID, provider integrations.Provider) (*integrations.Integration, error)
	Upsert(ctx context.Context, owner uuid.UUID, provider integrations.Provider, creds integrations.Credentials, settings integrations.Settings) (*integrations.Integration, error)
	Disconnect(ctx context.Context, owner uuid.UUID, provider integrations.Provider) error
}

// IntegrationCommandDeps holds the dependencies for integration commands.
type IntegrationCommandDeps struct {
	// OpenStore returns the store and a function that releases it.
	OpenStore  func(context.Context) (IntegrationStore, func(), error)
	ReadSecret func(prompt string) (string, error)
}

// DefaultIntegrationDeps returns the default dependencies for production use.
func DefaultIntegrationDeps() *IntegrationCommandDeps {
	return &IntegrationCommandDeps{
		OpenStore:  openIntegrationStore,
		ReadSecret: readHiddenInput,
	}
}

func openIntegrationStore(ctx context.Context) (IntegrationStore, func(), error) {
	pool, err := connectToDatabase(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	sealer, err := credentials.NewSealer(credentials.NewEnvKeyProvider(credentials.EncryptionKeyEnv))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("loading %s: %w", credentials.EncryptionKeyEnv, err)
	}
	return integrations.NewStore(pool, sealer), pool.Close, nil
}

// NewIntegrationCommand creates the integration command group.
func NewIntegrationCommand(deps *IntegrationCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage owner integrations (database access required)",
		Long: `Connect, inspect and disconnect an owner's integrations.

Fireflies and Fathom integrations hold an API key used to pull transcripts
and a webhook secret used to verify their callbacks. The Google Drive
integration holds OAuth tokens for filing memos.

These commands write to the database directly. They need DATABASE_URL and
DEALMEMO_ENCRYPTION_KEY, the same values the server uses.`,
		Aliases: []string{"integrations"},
	}
	cmd.AddCommand(newIntegrationConnectCommand(deps))
	cmd.AddCommand(newIntegrationDisconnectCommand(deps))
	cmd.AddCommand(newIntegrationStatusCommand(deps))
	return cmd
}

type integrationConnectOptions struct {
	owner          string
	apiKey         string
	webhookSecret  string
	generateSecret bool
	accessToken    string
	refreshToken   string
	expiry         time.Duration
}

func newIntegrationConnectCommand(deps *IntegrationCommandDeps) *cobra.Command {
	opts := &integrationConnectOptions{}
	cmd := &cobra.Command{
		Use:   "connect <fireflies|fathom|google_drive>",
		Short: "Connect or reconnect a provider",
		Example: `  dealmemo integration connect fireflies --owner 6b1f... --generate-webhook-secret
  dealmemo integration connect drive --owner 6b1f... --refresh-token 1//0g...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := integrations.ParseProvider(args[0])
			if err != nil {
				return err
			}
			return runIntegrationConnect(cmd.Context(), deps, provider, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.owner, "owner", "", "Owner id (required)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Provider API key (prompted when omitted)")
	cmd.Flags().StringVar(&opts.webhookSecret, "webhook-secret", "", "Shared secret the provider signs webhooks with")
	cmd.Flags().BoolVar(&opts.generateSecret, "generate-webhook-secret", false, "Generate and print a webhook secret")
	cmd.Flags().StringVar(&opts.accessToken, "access-token", "", "Google OAuth access token")
	cmd.Flags().StringVar(&opts.refreshToken, "refresh-token", "", "Google OAuth refresh token (prompted when omitted)")
	cmd.Flags().DurationVar(&opts.expiry, "expires-in", 0, "Access token lifetime; 0 forces a refresh on first use")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func runIntegrationConnect(ctx context.Context, deps *IntegrationCommandDeps, provider integrations.Provider, opts *integrationConnectOptions, out io.Writer) error {
	owner, err := uuid.Parse(opts.owner)
	if err != nil {
		return fmt.Errorf("invalid --owner %q", opts.owner)
	}

	creds := integrations.Credentials{}
	if provider == integrations.ProviderGoogleDrive {
		creds.AccessToken = opts.accessToken
		creds.RefreshToken = opts.refreshToken
		if creds.RefreshToken == "" && creds.AccessToken == "" {
			if creds.RefreshToken, err = deps.ReadSecret("Google refresh token: "); err != nil {
				return fmt.Errorf("reading refresh token: %w", err)
			}
		}
		if opts.expiry > 0 && creds.AccessToken != "" {
			creds.Expiry = time.Now().Add(opts.expiry)
		}
	} else {
		creds.APIKey = opts.apiKey
		if creds.APIKey == "" {
			if creds.APIKey, err = deps.ReadSecret(provider.DisplayName() + " API key: "); err != nil {
				return fmt.Errorf("reading API key: %w", err)
			}
		}
		creds.WebhookSecret = opts.webhookSecret
		if opts.generateSecret {
			key, err := credentials.RandomKey()
			if err != nil {
				return err
			}
			creds.WebhookSecret = hex.EncodeToString(key)
		}
	}

	integ := &integrations.Integration{Provider: provider, Credentials: creds}
	if !integ.HasCredential() {
		return fmt.Errorf("%s needs a credential", provider.DisplayName())
	}

	store, release, err := deps.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	saved, err := store.Upsert(ctx, owner, provider, creds, integrations.Settings{})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s connected for owner %s (status %s).\n", provider.DisplayName(), owner, saved.Status)
	if opts.generateSecret {
		fmt.Fprintf(out, "\nWebhook secret (shown once, configure it in %s):\n  %s\n", provider.DisplayName(), creds.WebhookSecret)
	}
	return nil
}

func newIntegrationDisconnectCommand(deps *IntegrationCommandDeps) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Disconnect a provider and erase its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := integrations.ParseProvider(args[0])
			if err != nil {
				return err
			}
			id, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid --owner %q", owner)
			}
			store, release, err := deps.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			if err := store.Disconnect(cmd.Context(), id, provider); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s disconnected for owner %s.\n", provider.DisplayName(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newIntegrationStatusCommand(deps *IntegrationCommandDeps) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an owner's integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("invalid --owner %q", owner)
			}
			store, release, err := deps.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "PROVIDER       STATUS         WEBHOOK  UPDATED              LAST ERROR")
			for _, p := range []integrations.Provider{integrations.ProviderFireflies, integrations.ProviderFathom, integrations.ProviderGoogleDrive} {
				integ, err := store.Get(cmd.Context(), id, p)
				if errors.Is(err, dmerrors.ErrNotFound) {
					fmt.Fprintf(out, "%-14s %-14s %-8s %-20s %s\n", p, "not connected", "-", "-", "")
					continue
				}
				if err != nil {
					return err
				}
				webhook := "-"
				if integ.Credentials.WebhookSecret != "" {
					webhook = "yes"
				}
				fmt.Fprintf(out, "%-14s %-14s %-8s %-20s %s\n", p, integ.Status, webhook,
					integ.UpdatedAt.Local().Format(time.DateTime), truncate(integ.LastError, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (required)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
