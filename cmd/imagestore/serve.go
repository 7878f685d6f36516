package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/aliskhannn/image-store/internal/api/handlers/image"
	"github.com/aliskhannn/image-store/internal/api/router"
	"github.com/aliskhannn/image-store/internal/api/server"
	"github.com/aliskhannn/image-store/internal/catalog"
	"github.com/aliskhannn/image-store/internal/config"
	"github.com/aliskhannn/image-store/internal/infra/kafka/consumer"
	"github.com/aliskhannn/image-store/internal/infra/kafka/producer"
	imagemsg "github.com/aliskhannn/image-store/internal/kafka/handlers/image"
	"github.com/aliskhannn/image-store/internal/model"
	"github.com/aliskhannn/image-store/internal/processor"
	imagerepo "github.com/aliskhannn/image-store/internal/repository/image"
	imagesvc "github.com/aliskhannn/image-store/internal/service/image"
	"github.com/aliskhannn/image-store/internal/storage/file"
	"github.com/aliskhannn/image-store/internal/storage/s3"
	"github.com/aliskhannn/image-store/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// blobStore is satisfied by every storage backend.
type blobStore interface {
	Put(ctx context.Context, key string, src io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) (bool, error)
	Exists(ctx context.Context, locator string) (bool, error)
}

type notifier interface {
	Publish(ctx context.Context, event model.Event) error
}

// closers are run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	var cleanup closers
	defer cleanup.run()

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	store, err := newCatalogStore(ctx, cfg, &cleanup)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	var events notifier = producer.Discard{}
	if cfg.Kafka.Enabled {
		p := producer.New(&cfg.Kafka, strategy)
		cleanup.add(func() {
			if err := p.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
			}
		})
		events = p
	}

	imageProcessor := processor.New(processor.Options{
		Quality:      cfg.Derivative.Quality,
		MaxDimension: cfg.Derivative.MaxDimension,
		Watermark:    cfg.Derivative.Watermark,
	})
	pool := worker.New(cfg.Derivative.Workers)

	service := imagesvc.NewService(blobs, catalog.New(store), imageProcessor, pool, events, imagesvc.Options{
		MaxUploadSize: cfg.Upload.MaxSize,
		DefaultWidth:  cfg.Derivative.DefaultWidth,
		PublicHost:    cfg.Server.PublicHost,
		TempDir:       cfg.Upload.TempDir,
	})

	r := router.Setup(image.NewHandler(service), cfg.Server.AllowedOrigins)
	s := server.New(cfg.Server.HTTPPort, r, server.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		// Kafka consumer for asynchronous resize commands.
		c := consumer.New(&cfg.Kafka, strategy, imagemsg.NewResizeHandler(service))
		cleanup.add(func() {
			if err := c.Close(); err != nil {
				zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
			}
		})

		g.Go(func() error {
			var wg sync.WaitGroup
			wg.Add(1)
			c.Consume(gctx, &wg)
			wg.Wait()
			return nil
		})
	}

	g.Go(func() error {
		zlog.Logger.Info().
			Str("addr", cfg.Server.HTTPPort).
			Int("workers", pool.Size()).
			Str("storage", cfg.Storage.Driver).
			Str("catalog", cfg.Catalog.Driver).
			Msg("starting server")

		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Block until context is canceled (SIGINT/SIGTERM) or the server failed.
		<-gctx.Done()
		zlog.Logger.Info().Msg("shutting down server")

		// Graceful shutdown with timeout for HTTP server.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
		}
		if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
			zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
		}
		return nil
	})

	return g.Wait()
}

func newBlobStore(ctx context.Context, cfg config.Storage) (blobStore, error) {
	switch cfg.Driver {
	case config.StorageS3:
		return s3.NewStorage(ctx, s3.Options{
			Endpoint:   cfg.S3.Endpoint,
			AccessKey:  cfg.S3.AccessKey,
			SecretKey:  cfg.S3.SecretKey,
			BucketName: cfg.S3.BucketName,
			Region:     cfg.S3.Region,
			UseSSL:     cfg.S3.UseSSL,
			PublicURL:  cfg.S3.PublicURL,
		})
	default:
		return file.NewStorage(cfg.Local.BaseDir)
	}
}

func newCatalogStore(ctx context.Context, cfg *config.Config, cleanup *closers) (catalog.Store, error) {
	if cfg.Catalog.Driver != config.CatalogPostgres {
		repo, err := imagerepo.NewBoltRepository(cfg.Catalog.Bolt.Path, cfg.Catalog.Bolt.Timeout)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() {
			if err := repo.Close(); err != nil {
				zlog.Logger.Printf("failed to close catalog: %v", err)
			}
		})
		return repo, nil
	}

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.add(func() {
		// Close master and slave databases.
		if err := db.Master.Close(); err != nil {
			zlog.Logger.Printf("failed to close master DB: %v", err)
		}
		for i, s := range db.Slaves {
			if err := s.Close(); err != nil {
				zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
			}
		}
	})

	repo := imagerepo.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}
