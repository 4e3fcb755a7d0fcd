// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/accountd/accountd/internal/account"
	"github.com/accountd/accountd/internal/account/postgres"
	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/httpapi"
	"github.com/accountd/accountd/internal/logging"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/observability"
	"github.com/accountd/accountd/internal/store"
)

// sessionSweepInterval is how often expired web sessions are purged.
const sessionSweepInterval = time.Hour

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the account service",
		Long: `Start the HTTP API for registration, email verification, login,
and password reset, plus the metrics/health endpoint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().String("http-addr", "", "HTTP API listen address")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("base-url", "", "externally reachable base URL, used in email links")
	cmd.Flags().String("log-format", "", "log format (json or text)")
	cmd.Flags().Duration("token-max-age", 0, "validity window for verification and reset links")
	cmd.Flags().String("smtp-host", "", "SMTP host (empty = log outbound mail instead of sending)")
	cmd.Flags().Int("smtp-port", 0, "SMTP port")
	cmd.Flags().String("smtp-username", "", "SMTP username")
	cmd.Flags().String("smtp-from", "", "sender address on outgoing mail")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("accountd", version, cfg.LogFormat)
	logger := slog.Default()

	logger.Info("starting account service",
		"http_addr", cfg.HTTPAddr,
		"log_format", cfg.LogFormat,
	)

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.Info("connected to database")

	codec, err := account.NewTokenCodec(account.TokenCodecConfig{
		Secret: []byte(cfg.SecretKey),
		MaxAge: cfg.TokenMaxAge,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured. Readiness follows the
	// database: an unreachable pool means the API cannot do anything useful.
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	var notifier account.Notifier
	if cfg.MailEnabled() {
		notifier, err = mail.New(mail.Config{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			BaseURL:     cfg.BaseURL,
			TokenMaxAge: codec.MaxAge(),
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no smtp host configured, outbound mail will be logged")
		notifier = mail.NewLogNotifier(logger)
	}
	notifier = mail.Instrument(notifier, metrics.MailDispatchTotal)

	accounts := postgres.NewAccountRepository(pool)
	sessions := postgres.NewWebSessionRepository(pool)

	svc, err := account.NewServiceWithLogger(accounts, sessions, account.NewArgon2idHasher(), codec, notifier, logger)
	if err != nil {
		return err
	}
	// Issuance is counted where tokens are actually minted, so reset tokens
	// are included without the HTTP layer having to know whether the
	// enumeration-safe acknowledgement hid a mint.
	svc.OnTokenIssued(func(p account.TokenPurpose) {
		metrics.TokensIssuedTotal.WithLabelValues(string(p)).Inc()
	})

	secureCookies := strings.HasPrefix(cfg.BaseURL, "https://")
	api, err := httpapi.NewServer(svc, metrics, logger, secureCookies)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepSessions(ctx, sessions, logger)

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Account service started")
	logger.Info("account service ready", "http_addr", cfg.HTTPAddr)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		logger.Error("http server error", "error", err)
		return err
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// sweepSessions purges expired web sessions until the context is cancelled.
func sweepSessions(ctx context.Context, sessions account.WebSessionRepository, logger *slog.Logger) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessions.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session sweep failed", "error", err.Error())
				continue
			}
			if deleted > 0 {
				logger.Info("expired sessions purged", "count", deleted)
			}
		}
	}
}

// monitorServerErrors monitors a server's error channel and cancels the
// context on error so a failed side server takes the process down cleanly.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
