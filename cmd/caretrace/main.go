package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	"github.com/clinicore/caretrace/internal/auth"
	"github.com/clinicore/caretrace/internal/compliance"
	"github.com/clinicore/caretrace/internal/config"
	"github.com/clinicore/caretrace/internal/ledger"
	"github.com/clinicore/caretrace/internal/notify"
	"github.com/clinicore/caretrace/internal/server"
	"github.com/clinicore/caretrace/internal/session"
	"github.com/clinicore/caretrace/internal/store/postgres"
	redisstore "github.com/clinicore/caretrace/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("CARETRACE_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("CARETRACE_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL and apply the schema.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	// Connect to Redis for the cluster-wide alert channel.
	bus, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.AlertChannel)
	if err != nil {
		return err
	}
	defer bus.Close()

	// Alert dispatcher: Redis always, Slack when a bot token is configured.
	sinks := []notify.Sink{bus}
	if cfg.Slack.BotToken != "" {
		slackClient := slacklib.New(cfg.Slack.BotToken)
		sinks = append(sinks, notify.NewSlackSink(slackClient, cfg.Slack.Channel))
		log.Info().Str("channel", cfg.Slack.Channel).Msg("Slack alerting enabled")
	}
	alerts := notify.NewDispatcher(64, sinks...)
	alerts.Start()
	defer alerts.Close()

	// Core services.
	credentials := auth.NewVerifier(store.Users())
	audit := ledger.NewService(store.Audit(), alerts, cfg.Ledger.RetryAttempts, cfg.Ledger.RetryBase)
	chain := ledger.NewVerifier(store.Audit(), alerts, cfg.Ledger.VerifyBatchSize)
	sessions := session.NewManager(
		store.Sessions(),
		store.Users(),
		audit,
		alerts,
		cfg.Session.InactivityWindow,
		cfg.Session.MaxLifetime,
	)
	aggregator := compliance.NewAggregator(audit, store.Compliance(), chain)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Background jobs: periodic chain verification, daily rollups, retention.
	go verifyLoop(ctx, chain, cfg.Ledger.VerifyInterval)
	go aggregateLoop(ctx, aggregator, cfg.Ledger.AggregateInterval)
	go retentionLoop(ctx, audit, cfg.Ledger.RetentionYears)

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, credentials, sessions, audit, chain, aggregator, bus)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

// verifyLoop re-verifies the full chain on a fixed interval. A divergence
// halts summary generation until an operator investigates and clears it.
func verifyLoop(ctx context.Context, chain *ledger.Verifier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := chain.VerifyRange(ctx, 1, 0)
			if err != nil {
				log.Error().Err(err).Msg("scheduled chain verification failed")
				continue
			}
			if !result.Valid {
				log.Error().
					Int64("divergence_sequence", *result.DivergenceSequence).
					Str("reason", result.Reason).
					Msg("chain divergence detected")
			}
		}
	}
}

// aggregateLoop rolls up the previous day's ledger activity on a fixed
// interval. Rollups are idempotent, so overlapping runs are harmless.
func aggregateLoop(ctx context.Context, aggregator *compliance.Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			yesterday := time.Now().UTC().AddDate(0, 0, -1)
			rows, err := aggregator.RunDaily(ctx, yesterday)
			if err != nil {
				log.Error().Err(err).Msg("scheduled compliance rollup failed")
				continue
			}
			log.Info().Int("rows", rows).Msg("scheduled compliance rollup complete")
		}
	}
}

// retentionLoop marks entries past the retention horizon as archived once a
// day. Archived entries stay on the chain; only their serving tier changes.
func retentionLoop(ctx context.Context, audit *ledger.Service, retentionYears int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(-retentionYears, 0, 0)
			archived, err := audit.ArchiveBefore(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("retention archival failed")
				continue
			}
			if archived > 0 {
				log.Info().Int64("entries", archived).Msg("retention archival complete")
			}
		}
	}
}
