package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/otherjamesbrown/dealmemo/pkg/logging"
)

const dialAttemptTimeout = 5 * time.Second

// Dial connects to Temporal, retrying with backoff for up to DialMaxWait. It
// returns a nil client and no error when Temporal is not configured.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (client.Client, error) {
	if !cfg.Enabled() {
		logger.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		return nil, nil
	}

	opts, err := clientOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts.Namespace = cfg.Namespace

	var c client.Client
	attempt := 0
	dial := func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, dialAttemptTimeout)
		defer cancel()
		var err error
		c, err = client.DialContext(dialCtx, opts)
		if err != nil {
			logger.Warn("Temporal not reachable; retrying",
				logging.F("address", cfg.Address),
				logging.F("attempt", attempt),
				logging.Err(err))
		}
		return err
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if cfg.DialMaxWait > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 250 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		exp.MaxElapsedTime = cfg.DialMaxWait
		bo = exp
	}
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
	}
	logger.Info("connected to Temporal",
		logging.F("address", cfg.Address),
		logging.F("namespace", cfg.Namespace),
		logging.F("attempts", attempt))

	if cfg.AutoRegisterNamespace {
		if err := EnsureNamespace(ctx, cfg, logger); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func clientOptions(cfg Config, logger logging.Logger) (client.Options, error) {
	opts := client.Options{
		HostPort: cfg.Address,
		Logger:   NewSDKLogger(logger),
	}
	if cfg.tlsEnabled() {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return opts, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}
	return opts, nil
}

// EnsureNamespace creates the configured namespace if it does not exist.
// Temporal Cloud namespaces should be pre-provisioned instead.
func EnsureNamespace(ctx context.Context, cfg Config, logger logging.Logger) error {
	if !cfg.Enabled() || cfg.Namespace == "" {
		return nil
	}

	// The namespace client sends no namespace header, so it can create one
	// that does not exist yet.
	opts, err := clientOptions(cfg, logger)
	if err != nil {
		return err
	}
	nsClient, err := client.NewNamespaceClient(opts)
	if err != nil {
		return fmt.Errorf("temporal namespace ensure: init namespace client: %w", err)
	}
	defer nsClient.Close()

	retention := cfg.NamespaceRetention
	if retention < 24*time.Hour {
		retention = 24 * time.Hour
	}

	ensure := func() error {
		_, err := nsClient.Describe(ctx, cfg.Namespace)
		if err == nil {
			return nil
		}
		var nfe *serviceerror.NamespaceNotFound
		if !errors.As(err, &nfe) {
			return retryableOrPermanent(fmt.Errorf("describe namespace: %w", err))
		}

		err = nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
			Namespace:                        cfg.Namespace,
			Description:                      "dealmemo auto-registered namespace",
			WorkflowExecutionRetentionPeriod: durationpb.New(retention),
		})
		var already *serviceerror.NamespaceAlreadyExists
		if err == nil || errors.As(err, &already) {
			logger.Info("registered Temporal namespace", logging.F("namespace", cfg.Namespace))
			return nil
		}
		return retryableOrPermanent(fmt.Errorf("register namespace: %w", err))
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(ensure, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("temporal namespace ensure (namespace=%s): %w", cfg.Namespace, err)
	}
	return nil
}

func retryableOrPermanent(err error) error {
	if isRetryableRPC(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal tls: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required when enabling mTLS")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporal tls: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporal tls: read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporal tls: invalid CA pem")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}
