package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg := LoadConfig()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DurationFieldUnit = time.Second

	clock := clockwork.NewRealClock()
	issuer := NewLiveKitIssuer(cfg, clock)
	if !issuer.Configured() {
		logger.Warn().Msg("LiveKit credentials not set, token issuance disabled")
	}

	mgr := NewRoomManager(cfg, clock, logger)
	srv := NewServer(cfg, mgr, issuer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reaperDone := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(reaperDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutting down...")
		cancel()
		srv.Shutdown()
	}()

	logger.Info().Str("addr", cfg.Addr).Int("max_rooms", cfg.MaxRooms).Msg("focus room server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}

	// Stop the reaper first, then cancel every room timer and wait for the
	// loops to exit so no scheduled work outlives the process.
	<-reaperDone
	mgr.Shutdown()
	logger.Info().Msg("server stopped")
}
