package fileledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.json")
	l, err := New(path)
	require.NoError(t, err)
	return l, path
}

func TestLedger_SurvivesReload(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, 1))
	require.NoError(t, l.MarkFailed(ctx, 2, "status 503", false))
	require.NoError(t, l.MarkFailed(ctx, 3, "corrupt image", true))
	require.NoError(t, l.Flush(ctx))

	reloaded, err := New(path)
	require.NoError(t, err)

	processed, err := reloaded.IsProcessed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, processed)

	stats, err := reloaded.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.FailedTransient)
	assert.Equal(t, 1, stats.FailedPermanent)
}

func TestLedger_NextBatchSkipsProcessedAndPermanent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, 1))
	require.NoError(t, l.MarkFailed(ctx, 2, "timeout", false))
	require.NoError(t, l.MarkFailed(ctx, 3, "bad dims", true))

	batch, err := l.NextBatch(ctx, []int64{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	// Временный сбой остаётся кандидатом, постоянный и обработанный — нет.
	assert.Equal(t, []int64{2, 4}, batch)
}

func TestLedger_NextBatchHonorsLimit(t *testing.T) {
	l, _ := newTestLedger(t)

	batch, err := l.NextBatch(context.Background(), []int64{5, 6, 7}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, batch)
}

func TestLedger_UnflushedMarksLostOnReload(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, 1))
	require.NoError(t, l.Flush(ctx))
	require.NoError(t, l.MarkProcessed(ctx, 2))
	// Отметка товара 2 не сброшена: после "падения" он снова кандидат.

	reloaded, err := New(path)
	require.NoError(t, err)

	batch, err := reloaded.NextBatch(ctx, []int64{1, 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, batch)
}

func TestLedger_FlushIsAtomic(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, 1))
	require.NoError(t, l.Flush(ctx))

	// tmp-файл не остаётся после успешного сброса.
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// Повторный Flush без новых отметок не трогает диск.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, l.Flush(ctx))
	again, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime())
}

func TestLedger_RetryIncrementsAttempts(t *testing.T) {
	l, path := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.MarkFailed(ctx, 1, "timeout", false))
	require.NoError(t, l.MarkFailed(ctx, 1, "timeout", false))
	require.NoError(t, l.MarkProcessed(ctx, 1))
	require.NoError(t, l.Flush(ctx))

	reloaded, err := New(path)
	require.NoError(t, err)
	reloaded.mu.Lock()
	defer reloaded.mu.Unlock()
	assert.Equal(t, 3, reloaded.entries[1].Attempts)
	assert.Equal(t, statusProcessed, reloaded.entries[1].Status)
}

func TestLedger_CorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(path)
	require.Error(t, err)
}
