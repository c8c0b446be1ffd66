package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stemsi/exstem-runner/internal/backend"
	"github.com/stemsi/exstem-runner/internal/config"
	"github.com/stemsi/exstem-runner/internal/database"
	"github.com/stemsi/exstem-runner/internal/handler"
	"github.com/stemsi/exstem-runner/internal/logger"
	"github.com/stemsi/exstem-runner/internal/repository"
	"github.com/stemsi/exstem-runner/internal/router"
	"github.com/stemsi/exstem-runner/internal/service"
	"github.com/stemsi/exstem-runner/internal/validator"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local bridge the exam UI talks to",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.BridgePort = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "bridge port (overrides BRIDGE_PORT)")
	return cmd
}

func serve(cfg *config.Config) error {
	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.BridgePort).
		Str("backend", cfg.BackendURL).
		Str("transport", string(cfg.SubmitTransport)).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Runner")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Authentication ────────────────────────────────────────────────
	tokens := backend.NewTokenSource(cfg.Token, cfg.TokenFile)
	if !tokens.IsAuthenticated() {
		log.Warn().Msg("No usable student token, run `exstem-runner login` or log in from the UI")
	}

	// ─── Backend Clients ───────────────────────────────────────────────
	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, tokens, log)

	var submitter service.AnswerSubmitter = client
	if cfg.SubmitTransport == config.SubmitTransportWebSocket {
		stream := backend.NewStreamSubmitter(cfg.BackendWSURL, tokens, cfg.HTTPTimeout, log)
		defer stream.Close()
		submitter = stream
	}

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Draft cache unavailable, continuing without it")
		rdb = nil
	}
	var drafts service.DraftStore
	if rdb != nil {
		defer rdb.Close()
		drafts = repository.NewDraftRepository(rdb, cfg.DraftTTL)
	}

	// ─── Initialize Services ──────────────────────────────────────────
	sessions := service.NewSessionManager(service.SessionDeps{
		Resolver:        service.NewExamStateResolver(client, tokens, log),
		Submitter:       submitter,
		Finisher:        client,
		Drafts:          drafts,
		SubmitDelay:     cfg.SubmitDelay,
		SubmitTimeout:   cfg.HTTPTimeout,
		FinalizeTimeout: cfg.FinalizeTimeout,
		Log:             log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(client, tokens, log),
		ExamSession: handler.NewExamSessionHandler(sessions, log),
		System:      handler.NewSystemHandler(rdb, tokens, sessions, log),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	stop := make(chan struct{})
	r := router.SetupRouter(handlers, tokens, cfg, stop)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.BridgePort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Bridge server error")
		sessions.CloseAll()
		close(stop)
		return err
	}

	// 1. Stop accepting new bridge requests (5s timeout). SSE streams are
	//    cut by closing the sessions below.
	sessions.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Bridge shutdown error")
	}

	// 2. Stop background goroutines.
	close(stop)

	log.Info().Msg("Shutdown complete")
	return nil
}
