package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/visitproof/internal/archive"
	"github.com/tbourn/visitproof/internal/cache"
	"github.com/tbourn/visitproof/internal/config"
	httpapi "github.com/tbourn/visitproof/internal/http"
	"github.com/tbourn/visitproof/internal/repo"
	"github.com/tbourn/visitproof/internal/services"
	"github.com/tbourn/visitproof/internal/storage"
)

// app holds the long-lived backends shared by the commands.
type app struct {
	cfg     config.Config
	db      *gorm.DB
	schema  repo.Schema
	store   storage.Store
	cache   cache.Cache
	archive *archive.Client // nil when ARCHIVE_SYNC_URL is unset

	closers []func() error
}

// openApp connects every backend. The caller must Close it.
func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	db, err := repo.OpenDB(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	if err := a.prepareSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	switch cfg.Storage.Driver {
	case "s3":
		s3, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			PathStyle: cfg.Storage.S3PathStyle,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open s3: %w", err)
		}
		a.store = s3
	default:
		log.Warn().Msg("STORAGE_DRIVER=memory: photos are lost on restart")
		a.store = storage.NewMemoryStore()
	}

	switch cfg.Cache.Driver {
	case "redis":
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, "visitproof:")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
	case "memory":
		a.cache = cache.NewMemory(0)
	}

	if cfg.Archive.SyncURL != "" {
		a.archive = archive.New(archive.Options{
			SyncURL:          cfg.Archive.SyncURL,
			DeleteURL:        cfg.Archive.DeleteURL,
			Token:            cfg.Archive.Token,
			Timeout:          cfg.Archive.Timeout,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		})
	} else {
		log.Warn().Msg("ARCHIVE_SYNC_URL not set: entries stay PENDING and proofs are never purged externally")
	}
	if !cfg.PhotoURLEnabled() {
		log.Warn().Msg("PUBLIC_BASE_URL or PHOTO_VIEW_TOKEN not set: photos are not offered to the archive")
	}
	return a, nil
}

// prepareSchema migrates (when enabled), detects the live column set and
// fills normalized keys on rows written before they existed.
func (a *app) prepareSchema(ctx context.Context) error {
	if a.cfg.DB.AutoMigrate {
		if err := repo.AutoMigrate(a.db); err != nil {
			return fmt.Errorf("automigrate: %w", err)
		}
	}
	schema, err := repo.DetectSchema(a.db)
	if err != nil {
		return fmt.Errorf("detect schema: %w", err)
	}
	if missing := schema.Missing(); len(missing) > 0 {
		log.Warn().Strs("missing_columns", missing).Msg("entries table is behind; writing a reduced column set")
	}
	a.schema = schema

	n, err := repo.BackfillNormKeys(ctx, a.db)
	if err != nil {
		return fmt.Errorf("backfill keys: %w", err)
	}
	if n > 0 {
		log.Info().Int("rows", n).Msg("normalized keys backfilled")
	}
	return nil
}

// syncService is nil when no archive is configured.
func (a *app) syncService() *services.SyncService {
	if a.archive == nil {
		return nil
	}
	return &services.SyncService{
		DB:            a.db,
		Schema:        a.schema,
		Archive:       a.archive,
		PublicBaseURL: a.cfg.Photo.PublicBaseURL,
		PhotoPath:     httpapi.PhotoPath(a.cfg.APIBasePath),
		ViewToken:     a.cfg.Photo.ViewToken,
	}
}

func (a *app) purgeService() *services.PurgeService {
	p := &services.PurgeService{
		DB:                a.db,
		Store:             a.store,
		Retention:         a.cfg.RetentionWindow(),
		VisitLogRetention: time.Duration(a.cfg.Retention.VisitLogDays) * 24 * time.Hour,
		Batch:             a.cfg.Retention.Batch,
		Concurrency:       a.cfg.Retention.PurgeParallel,
	}
	if a.archive != nil {
		p.Archive = a.archive
	}
	return p
}

// sweeper wires the retry sweep and the purge. The grace period keeps the
// sweep off entries the dispatcher is still working on.
func (a *app) sweeper(syncer *services.SyncService, withPurge bool) *services.Sweeper {
	sw := &services.Sweeper{
		DB:          a.db,
		MaxAttempts: a.cfg.Sync.MaxAttempts,
		Batch:       a.cfg.Sync.Batch,
		Concurrency: a.cfg.Sync.Concurrency,
		Grace:       max(time.Minute, 2*a.cfg.Archive.Timeout),
	}
	if syncer != nil {
		sw.Sync = syncer
	}
	if withPurge {
		sw.Purge = a.purgeService()
	}
	return sw
}

// Close releases backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}
