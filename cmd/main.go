package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"

	"github.com/Dosada05/tournament-engine/brackets"
	"github.com/Dosada05/tournament-engine/config"
	"github.com/Dosada05/tournament-engine/db"
	"github.com/Dosada05/tournament-engine/events"
	"github.com/Dosada05/tournament-engine/gameclient"
	"github.com/Dosada05/tournament-engine/handlers"
	"github.com/Dosada05/tournament-engine/repositories"
	api "github.com/Dosada05/tournament-engine/routes"
	"github.com/Dosada05/tournament-engine/scheduler"
	"github.com/Dosada05/tournament-engine/services"
	"github.com/Dosada05/tournament-engine/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// NATS JetStream
	natsClient, err := events.NewClient(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", slog.Any("error", err))
		os.Exit(1)
	}
	defer natsClient.Close()
	if err := natsClient.EnsureStreams(rootCtx); err != nil {
		logger.Error("failed to ensure JetStream streams", slog.Any("error", err))
		os.Exit(1)
	}
	publisher := events.NewPublisher(natsClient, logger)
	logger.Info("NATS connection established", slog.String("url", cfg.NATSURL))

	// Snapshot archiver (Cloudflare R2), optional
	var archiver storage.SnapshotArchiver = storage.NopArchiver{}
	if cfg.R2Configured() {
		archiver, err = storage.NewCloudflareR2Archiver(storage.CloudflareR2ArchiverConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize Cloudflare R2 archiver", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("Cloudflare R2 snapshot archiver initialized")
	} else {
		logger.Info("R2 not configured, snapshot archival disabled")
	}

	// WebSocket Hub
	wsHub := brackets.NewHub()
	go wsHub.Run()
	logger.Info("WebSocket Hub started")

	// Repositories
	txScope := repositories.NewSQLTransactionScope(dbConn)
	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	snapshotRepo := repositories.NewPostgresSnapshotRepository(dbConn)
	logger.Info("repositories initialized")

	// Services
	clock := clockwork.NewRealClock()
	generator := brackets.NewSingleEliminationGenerator()
	gameClient := gameclient.NewHTTPGameClient(cfg.GameServiceURL)

	tournamentService := services.NewTournamentService(
		txScope,
		tournamentRepo,
		participantRepo,
		matchRepo,
		snapshotRepo,
		generator,
		publisher,
		wsHub,
		archiver,
		clock,
		logger,
		cfg.AutoStartWindow,
	)
	matchService := services.NewMatchService(
		txScope,
		tournamentRepo,
		participantRepo,
		matchRepo,
		snapshotRepo,
		gameClient,
		publisher,
		wsHub,
		archiver,
		clock,
		logger,
	)
	logger.Info("services initialized")

	// game.finished consumer
	consumer := events.NewGameFinishedConsumer(
		natsClient,
		func(ctx context.Context, payload events.GameFinishedPayload) error {
			return matchService.CompleteMatch(ctx, services.MatchResultInput{
				TournamentID: payload.TournamentID,
				MatchID:      payload.MatchID,
				GameID:       payload.GameID,
				WinnerID:     payload.WinnerID,
				FinishedAt:   payload.FinishedAt,
			})
		},
		services.IsPermanentGameResultError,
		logger,
	)
	consumeCtx, err := consumer.Start(rootCtx)
	if err != nil {
		logger.Error("failed to start game.finished consumer", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumeCtx.Stop()
	logger.Info("game.finished consumer started")

	// Auto-start sweeper
	autoStart := scheduler.NewAutoStartScheduler(tournamentRepo, tournamentService, clock, logger, cfg.SweepInterval)
	go autoStart.Run(rootCtx)

	// HTTP
	tournamentHandler := handlers.NewTournamentHandler(tournamentService)
	matchHandler := handlers.NewMatchHandler(matchService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub)

	router := chi.NewRouter()
	api.SetupRoutes(router, []byte(cfg.JWTSecretKey), tournamentHandler, matchHandler, webSocketHandler)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancelRoot()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		logger.Info("shutting down server", slog.Duration("timeout", 15*time.Second))
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
		}
		logger.Info("server shut down")
	}
}
