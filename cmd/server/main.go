package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/handcricket-backend/internal/config"
	"github.com/DoyleJ11/handcricket-backend/internal/httpapi"
	"github.com/DoyleJ11/handcricket-backend/internal/hub"
	"github.com/DoyleJ11/handcricket-backend/internal/room"
	"github.com/DoyleJ11/handcricket-backend/internal/ws"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// signal‐aware context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	// The hub outlives ctx so rooms can say goodbye during shutdown.
	h := hub.NewHub(context.Background(), hub.Config{
		MinOvers: cfg.Game.MinOvers,
		MaxOvers: cfg.Game.MaxOvers,
		Room: room.Settings{
			CaptainTimeout:  cfg.Game.CaptainTimeout,
			DisconnectGrace: cfg.Game.DisconnectGrace,
		},
		IdleTTL:       cfg.Rooms.IdleTTL,
		EmptyTTL:      cfg.Rooms.EmptyTTL,
		SweepInterval: cfg.Rooms.SweepInterval,
	}, hub.WithClock(clock), hub.WithLogger(logger))

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: httpapi.SetupRoutes(h, httpapi.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			WS: ws.Config{
				SendBuffer: cfg.Rooms.SendBuffer,
				Clock:      clock,
			},
			Logger: logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		// Rooms broadcast roomClosed before their loops exit.
		return h.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
