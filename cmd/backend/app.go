package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"media-uploader/internal/activity"
	"media-uploader/internal/chunkstore"
	"media-uploader/internal/config"
	"media-uploader/internal/db"
	"media-uploader/internal/janitor"
	"media-uploader/internal/logging"
	"media-uploader/internal/metrics"
	"media-uploader/internal/placement"
	"media-uploader/internal/server"
	"media-uploader/internal/upload"
	"media-uploader/internal/validation"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *chunkstore.Store
	tracker  activity.Tracker
	checks   []server.Check
	dbConn   *sql.DB
}

// newApp loads the configuration, builds the logger and opens the holding
// area and the activity ledger.
func newApp(ctx context.Context, cfgFile string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
		store:    chunkstore.New(cfg.TempChunksPath),
		tracker:  activity.NewMemory(),
	}

	if err := a.store.Ensure(); err != nil {
		return nil, err
	}
	a.checks = append(a.checks, server.WritableDirCheck("holding_area", cfg.TempChunksPath))

	if cfg.DatabaseURL != "" {
		conn, err := db.OpenDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open activity ledger: %w", err)
		}
		logger.Info().Msg("running migrations")
		if err := db.RunMigrations(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate activity ledger: %w", err)
		}
		pg := activity.NewPostgres(conn)
		a.dbConn = conn
		a.tracker = pg
		a.checks = append(a.checks, server.PingCheck("activity_ledger", false, pg))
	}

	return a, nil
}

// openPlacer builds the destination configured by DESTINATION_BACKEND.
func (a *app) openPlacer(ctx context.Context) (placement.Placer, error) {
	logger := a.logger.With().Str("service", "placement").Logger()

	switch a.cfg.Destination {
	case config.BackendMinio:
		obj, err := placement.NewObject(ctx, placement.ObjectConfig{
			Endpoint:  a.cfg.S3.Endpoint,
			AccessKey: a.cfg.S3.AccessKey,
			SecretKey: a.cfg.S3.SecretKey,
			Bucket:    a.cfg.S3.Bucket,
			Prefix:    a.cfg.S3.Prefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect object store: %w", err)
		}
		a.checks = append(a.checks, server.PingCheck("destination", true, obj))
		return obj, nil
	default:
		fs, err := placement.NewFS(a.cfg.DownloadsPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open downloads directory: %w", err)
		}
		a.checks = append(a.checks, server.DirCheck("destination", fs.Root()))
		return fs, nil
	}
}

func (a *app) coordinator(placer placement.Placer) *upload.Coordinator {
	return upload.NewCoordinator(upload.Options{
		Store:       a.store,
		Placer:      placer,
		Allowed:     validation.NewExtensionSet(a.cfg.AllowedExtensions...),
		MaxFileSize: a.cfg.MaxFileSize,
		Tracker:     a.tracker,
		Metrics:     a.metrics,
		Logger:      a.logger.With().Str("service", "upload").Logger(),
	})
}

func (a *app) janitor() *janitor.Janitor {
	return janitor.New(janitor.Options{
		Dir:       a.store.Dir(),
		Threshold: a.cfg.StaleFileThreshold,
		Tracker:   a.tracker,
		Metrics:   a.metrics,
		Logger:    a.logger,
	})
}

func (a *app) Close() error {
	if a.dbConn == nil {
		return nil
	}
	return a.dbConn.Close()
}
