package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/mcclellann/lendtrack/pkg/config"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	// Amounts go out as JSON numbers, as the web client expects.
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "api",
		Short:        "Personal lending tracker API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML, TOML or JSON)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(notificationsCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func notificationsCmd(configPath *string) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Print a lender's due-payment notifications as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer s.Close()

			l := ledger.NewLedger(s, ledger.WithLogger(logger))
			lender, err := l.LenderByEmail(cmd.Context(), email)
			if err != nil {
				return fmt.Errorf("lender %q: %w", email, err)
			}
			res, err := l.Notifications(cmd.Context(), lender.ID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "lender login email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// setup loads the config and installs the process logger.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Storage, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	s, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.Storage.Driver, err)
	}
	defer s.Close()

	l := ledger.NewLedger(s,
		ledger.WithLogger(logger),
		ledger.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	server := NewServer(l, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL()), logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", httpServer.Addr, "storage", cfg.Storage.Driver)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
