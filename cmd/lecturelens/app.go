package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/lecturelens/internal/aggregate"
	"github.com/kalambet/lecturelens/internal/blobstore"
	"github.com/kalambet/lecturelens/internal/config"
	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/insights"
	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/ollama"
	"github.com/kalambet/lecturelens/internal/resilience"
	"github.com/kalambet/lecturelens/internal/storage"
)

// app holds the wired services shared by serve, mcp and analyze --save.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	ledger     *storage.Store
	remote     *docstore.RemoteStore
	coord      *resilience.Coordinator
	lectures   *lecture.Service
	aggregates *aggregate.Service
	worker     *insights.Worker
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	dataDir := cfg.Storage.DataDir

	local, err := docstore.NewLocalStore(filepath.Join(dataDir, "store"))
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	a.ledger, err = storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage ledger: %w", err)
	}

	remoteTimeout := cfg.Storage.RemoteTimeoutDuration()
	a.remote = dialRemote(ctx, cfg, remoteTimeout, logger)

	// A nil *RemoteStore must not reach the coordinator as a non-nil interface.
	var remote docstore.Backend
	if a.remote != nil {
		remote = a.remote
	}
	a.coord = resilience.New(local, remote, a.ledger,
		resilience.WithTimeouts(remoteTimeout, cfg.Storage.LocalTimeoutDuration()),
		resilience.WithBreakerThreshold(cfg.Storage.BreakerThreshold),
		resilience.WithLogger(logger),
	)

	blobs, err := openBlobStore(ctx, cfg, a.remote, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("blob store ready", "backend", blobs.Name())

	repo := lecture.NewRepository(a.coord)
	opts := []lecture.ServiceOption{
		lecture.WithBlobStore(blobs),
		lecture.WithLogger(logger),
	}
	if cfg.Insights.Enabled {
		opts = append(opts, lecture.WithJobQueue(a.ledger))
		llm := ollama.New(cfg.Insights.OllamaURL)
		checkOllama(ctx, llm, cfg.Insights, logger)
		a.worker = insights.NewWorker(a.ledger, repo, llm, cfg.Insights.Model, 2*time.Second)
	}
	a.lectures = lecture.NewService(repo, lecture.NewBuilder(), opts...)
	a.aggregates = aggregate.NewService(repo)
	return a, nil
}

// dialRemote connects to the document database. Any failure leaves the
// process in local-only mode rather than aborting startup.
func dialRemote(ctx context.Context, cfg config.Config, timeout time.Duration, logger *slog.Logger) *docstore.RemoteStore {
	if cfg.Storage.DatabaseURL == "" {
		logger.Warn("no database url configured, running local-only")
		return nil
	}
	remote, err := docstore.DialRemote(ctx, cfg.Storage.DatabaseURL, cfg.Storage.DatabaseName, timeout)
	if err != nil {
		logger.Warn("remote store unavailable, running local-only", "error", err)
		return nil
	}
	idxCtx, cancel := context.WithTimeout(ctx, 2*timeout)
	defer cancel()
	if err := remote.EnsureIndexes(idxCtx, lecture.RemoteIndexes); err != nil {
		logger.Warn("could not create remote indexes", "error", err)
	}
	logger.Info("remote store connected", "database", cfg.Storage.DatabaseName)
	return remote
}

func openBlobStore(ctx context.Context, cfg config.Config, remote *docstore.RemoteStore, logger *slog.Logger) (blobstore.Store, error) {
	local, err := blobstore.NewLocal(filepath.Join(cfg.Storage.DataDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("opening local blob store: %w", err)
	}

	switch cfg.Blob.Backend {
	case config.BlobLocal:
		return local, nil
	case config.BlobS3:
		s3, err := blobstore.NewS3(ctx, blobstore.S3Config{
			Bucket:   cfg.Blob.S3Bucket,
			Region:   cfg.Blob.S3Region,
			Endpoint: cfg.Blob.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("opening s3 blob store: %w", err)
		}
		return &blobstore.Fallback{Primary: s3, Secondary: local, Logger: logger}, nil
	}

	// gridfs and auto both need a connected remote database.
	if remote == nil {
		if cfg.Blob.Backend == config.BlobGridFS {
			logger.Warn("gridfs blob store needs the remote database, using local blobs")
		}
		return local, nil
	}
	grid, err := blobstore.NewGridFS(remote.Database())
	if err != nil {
		return nil, fmt.Errorf("opening gridfs blob store: %w", err)
	}
	return &blobstore.Fallback{Primary: grid, Secondary: local, Logger: logger}, nil
}

func checkOllama(ctx context.Context, llm *ollama.Client, cfg config.InsightsConfig, logger *slog.Logger) {
	if !llm.IsRunning(ctx) {
		logger.Warn("ollama not reachable, insight jobs will retry", "url", cfg.OllamaURL)
		return
	}
	model := cfg.Model
	ok, err := llm.HasModel(ctx, model)
	switch {
	case err != nil:
		logger.Warn("could not list ollama models", "error", err)
	case !ok:
		logger.Warn("insights model not pulled", "model", model, "hint", "ollama pull "+model)
	}
}

// Close releases the ledger and the remote connection.
func (a *app) Close() {
	if a.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.remote.Disconnect(ctx); err != nil {
			a.logger.Warn("disconnecting remote store", "error", err)
		}
		cancel()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("closing storage ledger", "error", err)
		}
	}
}
