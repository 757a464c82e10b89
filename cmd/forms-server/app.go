package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/emcare/forms/internal/config"
	"github.com/emcare/forms/internal/domain/bundlesync"
	"github.com/emcare/forms/internal/domain/forms"
	"github.com/emcare/forms/internal/domain/valueset"
	"github.com/emcare/forms/internal/platform/assets"
	"github.com/emcare/forms/internal/platform/db"
	"github.com/emcare/forms/internal/platform/fhir"
	"github.com/emcare/forms/internal/platform/messaging"
	"github.com/emcare/forms/internal/platform/transform"
)

// app holds the wired service components shared by the server and the CLI
// commands.
type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	defaultTopic forms.Topic

	store     assets.Store
	server    *transform.Client
	preparer  *forms.Preparer
	jobs      *forms.ExtractionJobs
	uploader  *bundlesync.Uploader
	valueSets *valueset.Service

	pool    *pgxpool.Pool
	amqp    *amqp.Connection
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	topic, err := selectTopic(nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TOPIC: %w", err)
	}
	a.defaultTopic = topic

	store, err := newAssetStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	level := transform.ParseLogLevel(cfg.ResolvedHTTPLogLevel())
	a.server = transform.NewClient(cfg.FHIRServerURL, transform.NewLoggingClient(logger, level, 60*time.Second), logger)
	a.preparer = forms.NewPreparer(store, a.server, forms.WithLogger(logger))
	a.uploader = bundlesync.NewUploader(a.server, logger)

	var repo valueset.ValueSetRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("connected to database")
		repo = valueset.NewValueSetRepoPG(pool)
	} else {
		repo = valueset.NewInMemoryRepo()
	}
	a.valueSets = valueset.NewService(repo, logger)

	var publisher bundlesync.Publisher
	if cfg.AMQPURL != "" {
		conn, err := messaging.Dial(cfg.AMQPURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.amqp = conn
		a.closers = append(a.closers, func() { _ = conn.Close() })

		p, err := messaging.NewPublisher(conn, cfg.SyncQueue, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = p.Close() })
		publisher = p
	}
	sink := bundlesync.NewDispatcher(publisher, a.uploader, logger)
	a.jobs = forms.NewExtractionJobs(a.preparer, fhir.NewInMemoryAsyncJobStore(), sink, logger)

	return a, nil
}

func newAssetStore(cfg *config.Config) (assets.Store, error) {
	switch cfg.AssetBackend {
	case "minio":
		client, err := assets.NewMinioClient(assets.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return assets.NewMinioStore(client, cfg.MinioBucket), nil
	case "fs", "":
		return assets.NewOSStore(cfg.AssetsDir), nil
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.AssetBackend)
	}
}

func (a *app) valueSetHandler() *valueset.Handler {
	return valueset.NewHandler(a.valueSets)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
