package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/pkg/requestctx"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRecordFillsFromContext(t *testing.T) {
	sink := NewMemorySink()
	al := NewLogger(quietLogger(), sink)

	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	ctx = requestctx.WithClient(ctx, "203.0.113.9", "Mozilla/5.0")
	al.LogAuthFailure(ctx, "invalid_token")

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, ActionAuthFailure, recs[0].Action)
	assert.Equal(t, "invalid_token", recs[0].Reason)
	assert.Equal(t, "req-1", recs[0].RequestID)
	assert.Equal(t, "203.0.113.9", recs[0].ClientIP)
	assert.Equal(t, "Mozilla/5.0", recs[0].UserAgent)
	assert.NotEmpty(t, recs[0].ID)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestSubscribeReceivesRecords(t *testing.T) {
	al := NewLogger(quietLogger(), nil)
	ch, cancel := al.Subscribe(4)
	defer cancel()

	al.LogIPBlocked(context.Background(), "198.51.100.7", "manual")

	select {
	case rec := <-ch:
		assert.Equal(t, ActionIPBlocked, rec.Action)
		assert.Equal(t, "198.51.100.7", rec.Details["blocked_ip"])
	case <-time.After(time.Second):
		t.Fatal("no record delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	// second cancel is a no-op
	cancel()
}

func TestRecentFromMemorySinkNewestFirst(t *testing.T) {
	al := NewLogger(quietLogger(), NewMemorySink())
	ctx := context.Background()
	al.LogAttempt(ctx, "acme", "a@b.co", "default")
	al.LogSiteCreated(ctx, 7, "acme", "a@b.co", "default", nil)
	al.LogRateLimitHit(ctx, 11)

	recs, err := al.Recent(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ActionRateLimitHit, recs[0].Action)
	assert.Equal(t, ActionSiteCreated, recs[1].Action)
}

func TestRecentUnsupportedWithoutReader(t *testing.T) {
	al := NewLogger(quietLogger(), nil)
	_, err := al.Recent(10)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFileSinkWritesMonthlyFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 0)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, sink.Write(Record{ID: "1", Action: ActionSiteCreated}))
	require.NoError(t, sink.Write(Record{ID: "2", Action: ActionAuthFailure}))

	_, err = os.Stat(filepath.Join(dir, "2026-03", "site-factory.log"))
	require.NoError(t, err)

	recs, err := sink.Recent(100)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[0].ID)
	assert.Equal(t, "1", recs[1].ID)
}

func TestFileSinkRotatesPastMaxBytes(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 10)
	require.NoError(t, err)
	sink.now = func() time.Time { return time.Date(2026, 3, 14, 10, 30, 5, 0, time.UTC) }

	require.NoError(t, sink.Write(Record{ID: "first", Action: ActionSiteCreated}))
	require.NoError(t, sink.Write(Record{ID: "second", Action: ActionSiteCreated}))

	backup := filepath.Join(dir, "2026-03", "site-factory.log.2026-03-14-10-30-05.backup")
	_, err = os.Stat(backup)
	require.NoError(t, err)

	recs, err := sink.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "second", recs[0].ID)

	// rotations within the same second keep every backup
	require.NoError(t, sink.Write(Record{ID: "third", Action: ActionSiteCreated}))
	require.NoError(t, sink.Write(Record{ID: "fourth", Action: ActionSiteCreated}))
	assert.FileExists(t, backup)
	assert.FileExists(t, filepath.Join(dir, "2026-03", "site-factory.log.2026-03-14-10-30-05-1.backup"))
	assert.FileExists(t, filepath.Join(dir, "2026-03", "site-factory.log.2026-03-14-10-30-05-2.backup"))
}

func TestCompressAndClear(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, 0)
	require.NoError(t, err)

	month := filepath.Join(dir, "2025-01")
	require.NoError(t, os.MkdirAll(month, 0o750))
	backup := filepath.Join(month, "site-factory.log.2025-01-02-03-04-05.backup")
	require.NoError(t, os.WriteFile(backup, []byte(`{"id":"x"}`+"\n"), 0o640))
	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(backup, old, old))

	n, err := sink.CompressBackups(time.Now().AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(backup + ".gz")
	require.NoError(t, err)
	_, err = os.Stat(backup)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.Chtimes(backup+".gz", old, old))
	al := NewLogger(quietLogger(), sink)
	removed, err := al.ClearOldLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(month)
	assert.True(t, os.IsNotExist(err))

	recs, err := al.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionLogsCleaned, recs[0].Action)
}
