package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/visitproof/internal/http"
	"github.com/tbourn/visitproof/internal/observability"
	"github.com/tbourn/visitproof/internal/services"
)

func newServeCmd() *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sync dispatcher and the scheduled sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, noSweep)
		},
	}
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the scheduled sync retry and purge; required when `visitproof sweep` runs from cron")
	return cmd
}

func serve(ctx context.Context, noSweep bool) error {
	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Background work outlives the signal context so it can be stopped
	// after the HTTP server has drained.
	bgCtx, bgClose := context.WithCancel(context.Background())
	defer bgClose()

	var (
		bg     sync.WaitGroup
		queue  services.SyncEnqueuer
		disp   *services.Dispatcher
		syncer = a.syncService()
	)

	if syncer != nil {
		d := services.NewDispatcher(cfg.Sync.QueueSize, cfg.Sync.Workers, 2*cfg.Archive.Timeout,
			func(ctx context.Context, id string) { syncer.SyncEntry(ctx, id) })
		queue, disp = d, d
		bg.Add(1)
		go func() { defer bg.Done(); d.Run(bgCtx) }()
	}
	if !noSweep {
		sw := a.sweeper(syncer, true)
		bg.Add(1)
		go func() { defer bg.Done(); sw.Run(bgCtx, cfg.Sync.SweepInterval) }()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:     a.db,
		Search: &services.SearchService{DB: a.db, Audit: true},
		Submit: &services.SubmitService{
			DB:            a.db,
			Schema:        a.schema,
			Store:         a.store,
			Queue:         queue,
			ObjectPrefix:  cfg.Storage.Prefix,
			MaxImageBytes: cfg.Storage.MaxImageBytes,
		},
		Photo: &services.PhotoService{DB: a.db, Store: a.store, ViewToken: cfg.Photo.ViewToken},
		Cache: a.cache,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Workers finish their in-flight attempt; queued ids are left for the
	// next sweep.
	bgClose()
	bg.Wait()
	if disp != nil && disp.Pending() > 0 {
		log.Info().Int("queued", disp.Pending()).Msg("unsent sync tasks left for the sweep")
	}
	log.Info().Msg("stopped")
	return nil
}
