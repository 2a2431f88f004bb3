package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"possync/internal/domain"
)

// Enqueue durably records a pending outbound mutation. The entry is
// immediately due for delivery.
func (s *Store) Enqueue(ctx context.Context, action domain.QueueAction, targetModel string, payload json.RawMessage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	if err := enqueueTx(ctx, tx, action, targetModel, payload); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT last_insert_rowid()").Scan(&id); err != nil {
		return 0, fmt.Errorf("enqueue id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue tx: %w", err)
	}
	return id, nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, action domain.QueueAction, targetModel string, payload json.RawMessage) error {
	now := nowUTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (action, target_model, payload, status, retry_count, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, 'PENDING', 0, ?, ?, ?)
	`, string(action), targetModel, string(payload), now, now, now); err != nil {
		return fmt.Errorf("enqueue %s: %w", action, err)
	}
	return nil
}

// PendingEntries returns PENDING entries due at or before now, oldest
// first. Dead-lettered (FAILED) entries are excluded.
func (s *Store) PendingEntries(ctx context.Context, now time.Time, limit int) ([]domain.SyncQueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, target_model, payload, status, retry_count, last_error, next_attempt_at, created_at, updated_at
		FROM sync_queue
		WHERE status = 'PENDING' AND next_attempt_at <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

// DeadLetters returns entries that exhausted their retry budget.
func (s *Store) DeadLetters(ctx context.Context) ([]domain.SyncQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, target_model, payload, status, retry_count, last_error, next_attempt_at, created_at, updated_at
		FROM sync_queue
		WHERE status = 'FAILED'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	return scanQueueEntries(rows)
}

func scanQueueEntries(rows *sql.Rows) ([]domain.SyncQueueEntry, error) {
	entries := make([]domain.SyncQueueEntry, 0)
	for rows.Next() {
		var (
			entry   domain.SyncQueueEntry
			payload string
		)
		if err := rows.Scan(
			&entry.ID, &entry.Action, &entry.TargetModel, &payload, &entry.Status,
			&entry.RetryCount, &entry.LastError, &entry.NextAttemptAt, &entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", err)
	}
	return entries, nil
}

// MarkEntrySynced transitions an entry to SYNCED after the receiver
// acknowledged it.
func (s *Store) MarkEntrySynced(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'SYNCED', last_error = NULL, updated_at = ?
		WHERE id = ?
	`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("mark entry %d synced: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkEntryFailed records a failed delivery attempt. The entry stays
// PENDING with an incremented retry count and the given next attempt
// time, unless deadLetter is set, which flips it to FAILED for good.
func (s *Store) MarkEntryFailed(ctx context.Context, id int64, cause string, nextAttemptAt time.Time, deadLetter bool) error {
	status := domain.StatusPending
	if deadLetter {
		status = domain.StatusFailed
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = ?, retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`, string(status), cause, nextAttemptAt.UTC(), nowUTC(), id)
	if err != nil {
		return fmt.Errorf("mark entry %d failed: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("queue entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeSynced removes SYNCED entries older than the cutoff and returns
// how many were deleted.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE status = 'SYNCED' AND updated_at < ?",
		olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge synced entries: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// QueueCounts reports how many entries sit in each delivery state.
// This is the queue-status contract consumed by the terminal UI.
type QueueCounts struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

func (s *Store) QueueStatus(ctx context.Context) (QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return QueueCounts{}, fmt.Errorf("queue status: %w", err)
	}
	defer rows.Close()

	var counts QueueCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return QueueCounts{}, fmt.Errorf("scan queue status: %w", err)
		}
		switch domain.QueueStatus(status) {
		case domain.StatusPending:
			counts.Pending = n
		case domain.StatusSynced:
			counts.Synced = n
		case domain.StatusFailed:
			counts.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return QueueCounts{}, fmt.Errorf("iterate queue status: %w", err)
	}
	return counts, nil
}
