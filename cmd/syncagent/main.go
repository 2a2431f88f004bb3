package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"possync/internal/config"
	"possync/internal/localstore"
	"possync/internal/syncer"

	"go.uber.org/zap"
)

// sweepModels is the order a full cycle pushes unsynced records in:
// users and products before the sales that reference them, shrinking
// the placeholder window on the central side.
var sweepModels = []string{"users", "products", "sales"}

func main() {
	cfg, err := config.LoadTerminal()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("terminal_id", cfg.Terminal.TerminalID))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := localstore.Open(ctx, cfg.Terminal.LocalDBPath)
	if err != nil {
		log.Fatalf("local store error: %v", err)
	}
	defer store.Close()

	logger.Info("sync agent started",
		zap.String("db", cfg.Terminal.LocalDBPath),
		zap.Duration("interval", cfg.Sync.DispatchEvery),
	)

	ticker := time.NewTicker(cfg.Sync.DispatchEvery)
	defer ticker.Stop()

	runCycle(ctx, store, cfg, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync agent stopping")
			return
		case <-ticker.C:
			runCycle(ctx, store, cfg, logger)
		}
	}
}

// runCycle resolves the central endpoint, sweeps unsynced records per
// model and drains the retry queue. The endpoint is re-read from
// settings every cycle so an operator can repoint a terminal without
// restarting the agent.
func runCycle(ctx context.Context, store *localstore.Store, cfg config.Config, logger *zap.Logger) {
	centralURL, err := store.Setting(ctx, "central_url")
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			logger.Error("read central_url setting", zap.Error(err))
			return
		}
		centralURL = cfg.Terminal.CentralURL
	}
	if centralURL == "" {
		logger.Warn("no central endpoint configured, skipping cycle")
		return
	}

	client := syncer.NewClient(centralURL)
	batcher := syncer.NewBatcher(store, client, cfg.Sync.InterChunkDelay, logger)
	dispatcher := syncer.NewDispatcher(store, client, cfg.Sync.MaxRetries, cfg.Sync.BackoffBase, cfg.Sync.BackoffCap, logger)

	for _, model := range sweepModels {
		report, err := batcher.SyncModel(ctx, model, cfg.Sync.ChunkSize)
		if err != nil {
			logger.Error("sweep failed", zap.String("model", model), zap.Error(err))
			continue
		}
		if report.Records > 0 {
			logger.Info("sweep finished",
				zap.String("model", model),
				zap.Int("records", report.Records),
				zap.Int("chunks_sent", report.ChunksSent),
				zap.Int("chunks_failed", report.ChunksFailed),
			)
		}
	}

	report, err := dispatcher.DispatchOnce(ctx)
	if err != nil {
		logger.Error("queue dispatch failed", zap.Error(err))
		return
	}
	if report.Attempted > 0 {
		logger.Info("queue dispatch finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("delivered", report.Delivered),
			zap.Int("retried", report.Retried),
			zap.Int("dead_letter", report.DeadLetter),
		)
	}

	maintainQueue(ctx, store, cfg.Sync.PurgeAfter, logger)
}

// maintainQueue trims delivered entries past the retention window and
// reports the queue state so dead letters surface in the agent log.
func maintainQueue(ctx context.Context, store *localstore.Store, purgeAfter time.Duration, logger *zap.Logger) {
	purged, err := store.PurgeSynced(ctx, time.Now().UTC().Add(-purgeAfter))
	if err != nil {
		logger.Error("purge synced queue entries", zap.Error(err))
	} else if purged > 0 {
		logger.Info("purged synced queue entries", zap.Int64("purged", purged))
	}

	counts, err := store.QueueStatus(ctx)
	if err != nil {
		logger.Error("read queue status", zap.Error(err))
		return
	}
	if counts.Failed > 0 {
		logger.Warn("queue has dead-letter entries",
			zap.Int("pending", counts.Pending),
			zap.Int("failed", counts.Failed),
		)
	}
}
