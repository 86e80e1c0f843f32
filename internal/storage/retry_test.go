package storage_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/migrations"
)

// TestWithRetry_BusyThenSucceeds drives a real SQLITE_BUSY: one transaction
// holds the writer lock past the busy timeout while WithRetry attempts a
// second write, which must fail retriably and then succeed once the lock is
// released.
func TestWithRetry_BusyThenSucceeds(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A short busy timeout so the contending write fails fast instead of
	// queueing behind the held lock.
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "coordination.db"), 50*time.Millisecond, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = db.InTx(ctx, func(tx *storage.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	attempts := 0
	err = storage.WithRetry(ctx, 5, 10*time.Millisecond, func() error {
		attempts++
		err := db.InTx(ctx, func(tx *storage.Tx) error {
			return tx.AppendLog(ctx, model.CoordinationLogEntry{
				Operation:  model.LogOpSubmit,
				WorkItemID: "work_1",
				TraceID:    "trace_1",
				RecordedAt: time.Now().UTC(),
			})
		})
		if attempts == 1 {
			require.Error(t, err)
			require.True(t, storage.IsRetriable(err), "want busy/locked, got: %v", err)
			close(release)
			<-done
		}
		return err
	})
	require.NoError(t, err)
	assert.Greater(t, attempts, 1, "first attempt must hit the held writer lock")

	entries, err := db.ListLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWithRetry_NonRetriableFailsImmediately(t *testing.T) {
	sentinel := errors.New("constraint violated")
	assert.False(t, storage.IsRetriable(sentinel))

	calls := 0
	err := storage.WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls, "non-retriable errors must not be retried")
}

func TestWithRetry_Success(t *testing.T) {
	calls := 0
	err := storage.WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
