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

	router "github.com/wisplabs/wisp/internal/adapters/http"
	"github.com/wisplabs/wisp/internal/adapters/push"
	wssignal "github.com/wisplabs/wisp/internal/adapters/signal"
	"github.com/wisplabs/wisp/internal/app"
	"github.com/wisplabs/wisp/internal/config"
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

	rooms := app.NewRoomManager(cfg.RoomGrace, cfg.SweepInterval)
	rooms.StartSweeper(ctx)

	sender, err := push.NewWebPushSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init push sender")
	}
	notifier := app.NewNotifier(sender)

	registry := app.NewRegistry()
	limiter := wssignal.NewMessageRateLimiter(cfg.MsgRateLimit, cfg.MsgRateWindow)
	ctrl := wssignal.NewChatWSController(rooms, registry, notifier, limiter, cfg.ReadLimit, cfg.SendBuffer, cfg.PingPeriod)

	r := router.SetupRouter(ctx, cfg, rooms, ctrl, sender)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Wisp server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
