package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"possync/internal/domain"

	"go.uber.org/zap"
)

// QueueSource is the slice of the terminal store the dispatcher needs.
type QueueSource interface {
	PendingEntries(ctx context.Context, now time.Time, limit int) ([]domain.SyncQueueEntry, error)
	MarkEntrySynced(ctx context.Context, id int64) error
	MarkEntryFailed(ctx context.Context, id int64, cause string, nextAttemptAt time.Time, deadLetter bool) error
}

// DispatchReport summarizes one queue drain cycle.
type DispatchReport struct {
	Attempted  int `json:"attempted"`
	Delivered  int `json:"delivered"`
	Retried    int `json:"retried"`
	DeadLetter int `json:"dead_letter"`
}

// Dispatcher drains the sync queue in creation order. One dispatcher
// per terminal: retry bookkeeping is not guarded by any cross-process
// lock, so concurrent dispatchers would race on it.
type Dispatcher struct {
	queue      QueueSource
	client     *Client
	maxRetries int
	base       time.Duration
	cap        time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewDispatcher(queue QueueSource, client *Client, maxRetries int, backoffBase, backoffCap time.Duration, log *zap.Logger) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	if backoffCap <= 0 {
		backoffCap = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		queue:      queue,
		client:     client,
		maxRetries: maxRetries,
		base:       backoffBase,
		cap:        backoffCap,
		log:        log,
		now:        time.Now,
	}
}

// DispatchOnce attempts delivery of every due PENDING entry, oldest
// first. Transport failures reschedule the entry with exponential
// backoff until the retry budget runs out, then dead-letter it.
// Receiver rejections (4xx) dead-letter immediately: the payload will
// never become valid by waiting.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchReport, error) {
	entries, err := d.queue.PendingEntries(ctx, d.now().UTC(), 200)
	if err != nil {
		return DispatchReport{}, fmt.Errorf("load pending entries: %w", err)
	}

	var report DispatchReport
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		deliverErr := d.deliver(ctx, entry)
		if deliverErr == nil {
			if err := d.queue.MarkEntrySynced(ctx, entry.ID); err != nil {
				return report, err
			}
			report.Delivered++
			continue
		}

		dead := errors.Is(deliverErr, ErrRejected) || entry.RetryCount+1 >= d.maxRetries
		next := d.now().UTC().Add(d.backoff(entry.RetryCount))
		if err := d.queue.MarkEntryFailed(ctx, entry.ID, deliverErr.Error(), next, dead); err != nil {
			return report, err
		}
		if dead {
			report.DeadLetter++
			d.log.Error("queue entry dead-lettered",
				zap.Int64("entry_id", entry.ID),
				zap.String("action", string(entry.Action)),
				zap.Int("retries", entry.RetryCount+1),
				zap.Error(deliverErr),
			)
		} else {
			report.Retried++
			d.log.Warn("queue entry delivery failed",
				zap.Int64("entry_id", entry.ID),
				zap.String("action", string(entry.Action)),
				zap.Int("retries", entry.RetryCount+1),
				zap.Time("next_attempt", next),
				zap.Error(deliverErr),
			)
		}
	}
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, entry domain.SyncQueueEntry) error {
	switch entry.TargetModel {
	case "sales":
		var sale domain.Sale
		if err := json.Unmarshal(entry.Payload, &sale); err != nil {
			return fmt.Errorf("%w: undecodable sale payload: %v", ErrRejected, err)
		}
		return d.client.PushSales(ctx, []domain.Sale{sale})
	case "users":
		var user domain.User
		if err := json.Unmarshal(entry.Payload, &user); err != nil {
			return fmt.Errorf("%w: undecodable user payload: %v", ErrRejected, err)
		}
		return d.client.PushUsers(ctx, []domain.User{user})
	case "products":
		var product domain.Product
		if err := json.Unmarshal(entry.Payload, &product); err != nil {
			return fmt.Errorf("%w: undecodable product payload: %v", ErrRejected, err)
		}
		return d.client.PushProducts(ctx, []domain.Product{product})
	default:
		return fmt.Errorf("%w: unknown target model %q", ErrRejected, entry.TargetModel)
	}
}

// backoff returns the wait before attempt retries+1: base doubled per
// prior attempt, bounded by cap.
func (d *Dispatcher) backoff(retries int) time.Duration {
	wait := d.base
	for i := 0; i < retries; i++ {
		wait *= 2
		if wait >= d.cap {
			return d.cap
		}
	}
	if wait > d.cap {
		return d.cap
	}
	return wait
}
