package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcnelson/stack-manager/internal/api"
	"github.com/bcnelson/stack-manager/internal/auth"
	"github.com/bcnelson/stack-manager/internal/backend"
	"github.com/bcnelson/stack-manager/internal/backend/memory"
	"github.com/bcnelson/stack-manager/internal/config"
	"github.com/bcnelson/stack-manager/internal/log"
	"github.com/bcnelson/stack-manager/internal/platform"
	"github.com/bcnelson/stack-manager/internal/service"
	"github.com/bcnelson/stack-manager/internal/tracing"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stack-manager",
	Short:   "Multi-tenant manager of platform CloudFormation stacks",
	Version: Version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stack-manager %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"stack-manager version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Endpoint != "" {
		tp, err := tracing.NewProvider(ctx, tracing.Config{
			Endpoint:       cfg.Tracing.Endpoint,
			ServiceVersion: Version,
			Insecure:       cfg.Tracing.Insecure,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("failed to flush traces")
			}
		}()
	}

	clients, err := newClients(ctx, cfg)
	if err != nil {
		return err
	}

	account, arn, err := clients.Identity(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to resolve caller identity")
	} else {
		logger.Info().Str("account", account).Str("arn", arn).Msg("using AWS identity")
	}

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Options{
		Factory:       service.NewFactory(cfg, clients),
		Authenticator: authenticator,
		EnforceRoles:  cfg.Auth.EnforceRoles,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr()).Str("backend", cfg.AWS.Backend).Msg("starting stack manager")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}

// newClients builds the AWS clients, or the in-memory emulation seeded with
// the shared listener.
func newClients(ctx context.Context, cfg *config.Config) (*backend.Clients, error) {
	if !cfg.UseMemoryBackend() {
		clients, err := backend.NewClients(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS clients: %w", err)
		}
		return clients, nil
	}

	mem := memory.New(memory.Options{Region: cfg.Platform.Region})
	if cfg.Platform.ListenerExport == "" && cfg.Platform.ListenerParameter == "" {
		cfg.Platform.ListenerExport = cfg.Platform.Prefix + "-shared-lb-listener"
	}
	if cfg.Platform.ListenerExport != "" {
		mem.SetExport(cfg.Platform.ListenerExport, mem.ListenerARN())
	}
	if cfg.Platform.ListenerParameter != "" {
		mem.SetParameter(platform.ParameterName(cfg.Platform.Prefix, cfg.Platform.ListenerParameter), mem.ListenerARN())
	}
	return mem.Clients(), nil
}

func newAuthenticator(ctx context.Context, cfg config.AuthConfig) (auth.Authenticator, error) {
	if cfg.Mode == "header" {
		return auth.NewHeaderAuthenticator(), nil
	}
	a, err := auth.NewOIDCAuthenticator(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC: %w", err)
	}
	return a, nil
}
