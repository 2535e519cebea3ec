package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goodwinteam/avatarcall/internal/adapters/control"
	router "github.com/goodwinteam/avatarcall/internal/adapters/http"
	"github.com/goodwinteam/avatarcall/internal/adapters/rtc"
	"github.com/goodwinteam/avatarcall/internal/adapters/sink"
	"github.com/goodwinteam/avatarcall/internal/app"
	"github.com/goodwinteam/avatarcall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	hub := router.NewStateHub()

	session := app.NewSession(
		control.New(cfg.ControlBaseURL),
		&rtc.Factory{Opts: rtc.DefaultOptions()},
		sink.NewFactory(cfg.MediaDir),
		app.Options{
			Language: cfg.Language,
			Context:  cfg.Context,
			OnComplete: func(sessionID string, duration time.Duration) {
				log.Info().Str("session_id", sessionID).Dur("duration", duration).Msg("call completed")
			},
			OnUpdate: hub.Broadcast,
		},
	)

	r := router.SetupRouter(ctx, cfg, session, hub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Avatar call client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	// Tear down any live call before the process exits, so the remote
	// session is stopped and accounting fires.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	session.Stop(stopCtx, false)
	stopCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
