package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/config"
	"github.com/DoyleJ11/syncwatch/internal/httpapi"
	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/logging"
	"github.com/DoyleJ11/syncwatch/internal/media"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, log.Named("hub"))
	sess := session.NewSession(ctx, h, session.Options{
		Interval: cfg.SyncInterval,
		Logger:   log.Named("session"),
	})

	m, err := media.NewServer(cfg.MediaPath, log.Named("media"))
	if err != nil {
		return err
	}
	if _, err := os.Stat(m.Path()); err != nil {
		// Not fatal: /video answers 404 until the file appears.
		log.Warn("media file not readable", zap.String("path", m.Path()), zap.Error(err))
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Session:        sess,
			Hub:            h,
			Media:          m,
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Addr),
			zap.String("media", m.Path()),
			zap.Duration("sync_interval", cfg.SyncInterval))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		// Shutdown does not track hijacked connections; stopping the hub
		// closes every outbox, which ends the open websockets.
		sess.Submit(context.Background(), session.Shutdown{})
		<-sess.Done()
		h.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
