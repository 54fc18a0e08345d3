package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jpereira/stocklens-backend/internal/adapter/feeds"
	"github.com/jpereira/stocklens-backend/internal/adapter/httpapi"
	"github.com/jpereira/stocklens-backend/internal/adapter/quotes/yahoo"
	"github.com/jpereira/stocklens-backend/internal/adapter/repository/postgres"
	"github.com/jpereira/stocklens-backend/internal/config"
	"github.com/jpereira/stocklens-backend/internal/domain"
	"github.com/jpereira/stocklens-backend/internal/httpx"
	"github.com/jpereira/stocklens-backend/internal/usecase/holdings"
	"github.com/jpereira/stocklens-backend/internal/usecase/metricsrecalc"
	"github.com/jpereira/stocklens-backend/internal/usecase/priceingest"
	"github.com/jpereira/stocklens-backend/internal/usecase/refsync"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// 1. Configuration (env with defaults; bounded settings are clamped)
	cfg := config.Load()

	// 2. Database
	db, err := postgres.NewDB(cfg.Database.ConnString())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 3. Repositories (Postgres)
	tickerRepo := postgres.NewTickerRepository(db)
	quoteRepo := postgres.NewQuoteRepository(db)
	holdingRepo := postgres.NewHoldingRepository(db)
	metricsRepo := postgres.NewMetricsRepository(db)
	referenceRepo := postgres.NewReferenceRepository(db)
	credentialStore := postgres.NewCredentialStore(db)

	// 4. External clients
	clock := domain.NewClock()
	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	quoteClient := yahoo.New(
		credentialStore,
		clock,
		time.Duration(cfg.Quotes.CredentialTTLMinutes)*time.Minute,
		yahoo.WithHTTPClient(httpClient),
		yahoo.WithEndpoints(cfg.Quotes.CookieURL, cfg.Quotes.CrumbURL, cfg.Quotes.QuoteURL),
		yahoo.WithLogger(log),
	)
	feedClient := feeds.NewClient(httpClient, cfg.Feeds.PrimaryURL, cfg.Feeds.SecondaryURL)

	// 5. Services (Use Cases)
	ingestService := priceingest.NewService(
		tickerRepo, quoteRepo, holdingRepo, metricsRepo,
		quoteClient, clock, log,
		cfg.Jobs.FetchBatchSize,
		time.Duration(cfg.Jobs.MinFetchIntervalMinutes)*time.Minute,
		time.Duration(cfg.Jobs.ErrorBackoffMinutes)*time.Minute,
	)
	recalcService := metricsrecalc.NewService(
		metricsRepo, holdingRepo, quoteRepo, clock, log,
		cfg.Jobs.MetricsBatchSize, cfg.Jobs.MetricsWorkers,
	)
	refSyncService := refsync.NewService(referenceRepo, feedClient, clock, log)
	holdingsService := holdings.NewService(holdingRepo, tickerRepo, metricsRepo, clock, log)

	// 6. HTTP server
	api := httpapi.NewServer(ingestService, recalcService, refSyncService, holdingsService, db, cfg.Server.JobToken, log)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutSec+5) * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to serve HTTP")
		}
	}()

	waitForShutdown(server, log)
}

// waitForShutdown waits for SIGTERM or SIGINT and gracefully shuts down the server
func waitForShutdown(server *http.Server, log zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}
