package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possync/internal/domain"
)

func TestQueue_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.ActionCheckout, "sales", json.RawMessage(`{"bill_no":"BILL-001"}`))
	require.NoError(t, err)
	assert.Positive(t, id)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusPending, entries[0].Status)
	assert.Zero(t, entries[0].RetryCount)

	require.NoError(t, store.MarkEntrySynced(ctx, id))

	entries, err = store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	counts, err := store.QueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueCounts{Synced: 1}, counts)
}

func TestQueue_FailedEntryWaitsForNextAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.ActionCheckout, "sales", json.RawMessage(`{}`))
	require.NoError(t, err)

	now := time.Now().UTC()
	next := now.Add(30 * time.Second)
	require.NoError(t, store.MarkEntryFailed(ctx, id, "connection refused", next, false))

	// Not due yet.
	entries, err := store.PendingEntries(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Due once the backoff elapses.
	entries, err = store.PendingEntries(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
	require.NotNil(t, entries[0].LastError)
	assert.Equal(t, "connection refused", *entries[0].LastError)
}

func TestQueue_DeadLetterLeavesPendingSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.ActionRefund, "sales", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, store.MarkEntryFailed(ctx, id, "rejected", time.Now().UTC(), true))

	entries, err := store.PendingEntries(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "dead letters are never retried automatically")

	dead, err := store.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, domain.StatusFailed, dead[0].Status)
	assert.Equal(t, 1, dead[0].RetryCount)
}

func TestQueue_OldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, domain.ActionCheckout, "sales", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)
	second, err := store.Enqueue(ctx, domain.ActionPaymentUpdate, "sales", json.RawMessage(`{"n":2}`))
	require.NoError(t, err)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first, entries[0].ID)
	assert.Equal(t, second, entries[1].ID)
}

func TestQueue_PurgeSynced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, domain.ActionCheckout, "sales", json.RawMessage(`{}`))
	require.NoError(t, err)
	keep, err := store.Enqueue(ctx, domain.ActionCheckout, "sales", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, store.MarkEntrySynced(ctx, id))

	deleted, err := store.PurgeSynced(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := store.PendingEntries(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keep, entries[0].ID)
}

func TestQueue_MarkUnknownEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.MarkEntrySynced(ctx, 42), ErrNotFound)
	assert.ErrorIs(t, store.MarkEntryFailed(ctx, 42, "x", time.Now(), false), ErrNotFound)
}
