package syncer

import (
	"context"
	"fmt"
	"time"

	"possync/internal/domain"

	"go.uber.org/zap"
)

const sweepFetchLimit = 10000

// LocalSource is the slice of the terminal store the batcher needs:
// unsynced-record sweeps and per-chunk acknowledgment.
type LocalSource interface {
	UnsyncedUsers(ctx context.Context, limit int) ([]domain.User, error)
	UnsyncedProducts(ctx context.Context, limit int) ([]domain.Product, error)
	UnsyncedSales(ctx context.Context, limit int) ([]domain.Sale, error)
	MarkUsersSynced(ctx context.Context, ids []int64) error
	MarkProductsSynced(ctx context.Context, ids []int64) error
	MarkSalesSynced(ctx context.Context, ids []int64) error
}

// SweepReport summarizes one SyncModel run.
type SweepReport struct {
	Model        string `json:"model"`
	Records      int    `json:"records"`
	ChunksSent   int    `json:"chunks_sent"`
	ChunksFailed int    `json:"chunks_failed"`
}

type Batcher struct {
	store  LocalSource
	client *Client
	delay  time.Duration
	log    *zap.Logger

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration)
}

func NewBatcher(store LocalSource, client *Client, interChunkDelay time.Duration, log *zap.Logger) *Batcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{
		store:  store,
		client: client,
		delay:  interChunkDelay,
		log:    log,
		sleep:  sleepCtx,
	}
}

// SyncModel sweeps all unsynced records of the model and delivers them
// in chunks of at most chunkSize, sequentially, pausing between chunks
// to bound load on the receiver. A failed chunk is logged and counted;
// the remaining chunks still attempt delivery. Zero unsynced records
// is a successful sweep of zero chunks.
func (b *Batcher) SyncModel(ctx context.Context, model string, chunkSize int) (SweepReport, error) {
	if chunkSize <= 0 {
		chunkSize = 50
	}

	var (
		ids  []int64
		push func(ctx context.Context, from, to int) error
		n    int
	)

	switch model {
	case "users":
		users, err := b.store.UnsyncedUsers(ctx, sweepFetchLimit)
		if err != nil {
			return SweepReport{Model: model}, err
		}
		n = len(users)
		ids = collectIDs(len(users), func(i int) int64 { return users[i].ID })
		push = func(ctx context.Context, from, to int) error {
			return b.client.PushUsers(ctx, users[from:to])
		}
	case "products", "inventory":
		products, err := b.store.UnsyncedProducts(ctx, sweepFetchLimit)
		if err != nil {
			return SweepReport{Model: model}, err
		}
		n = len(products)
		ids = collectIDs(len(products), func(i int) int64 { return products[i].ID })
		push = func(ctx context.Context, from, to int) error {
			return b.client.PushProducts(ctx, products[from:to])
		}
	case "sales":
		sales, err := b.store.UnsyncedSales(ctx, sweepFetchLimit)
		if err != nil {
			return SweepReport{Model: model}, err
		}
		n = len(sales)
		ids = collectIDs(len(sales), func(i int) int64 { return sales[i].ID })
		push = func(ctx context.Context, from, to int) error {
			return b.client.PushSales(ctx, sales[from:to])
		}
	default:
		return SweepReport{Model: model}, fmt.Errorf("unknown sync model %q", model)
	}

	report := SweepReport{Model: model, Records: n}
	for from := 0; from < n; from += chunkSize {
		to := from + chunkSize
		if to > n {
			to = n
		}
		if from > 0 && b.delay > 0 {
			b.sleep(ctx, b.delay)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := push(ctx, from, to); err != nil {
			report.ChunksFailed++
			b.log.Warn("chunk delivery failed",
				zap.String("model", model),
				zap.Int("from", from),
				zap.Int("size", to-from),
				zap.Error(err),
			)
			continue
		}
		if err := b.markSynced(ctx, model, ids[from:to]); err != nil {
			return report, err
		}
		report.ChunksSent++
	}

	b.log.Info("sweep finished",
		zap.String("model", model),
		zap.Int("records", report.Records),
		zap.Int("chunks_sent", report.ChunksSent),
		zap.Int("chunks_failed", report.ChunksFailed),
	)
	return report, nil
}

func (b *Batcher) markSynced(ctx context.Context, model string, ids []int64) error {
	var err error
	switch model {
	case "users":
		err = b.store.MarkUsersSynced(ctx, ids)
	case "products", "inventory":
		err = b.store.MarkProductsSynced(ctx, ids)
	case "sales":
		err = b.store.MarkSalesSynced(ctx, ids)
	}
	if err != nil {
		return fmt.Errorf("mark %s chunk synced: %w", model, err)
	}
	return nil
}

func collectIDs(n int, get func(int) int64) []int64 {
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		ids[i] = get(i)
	}
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
