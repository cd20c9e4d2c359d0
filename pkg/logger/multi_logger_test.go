package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMultiLogger_WritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	ml.LogDaemonCommand("start_new", "download00000001", zap.String("url", "http://host/a.mp4"))
	ml.LogDaemonStatus("download00000001", "downloading")
	ml.LogAppError("boom", zap.String("op", "probe"))
	require.NoError(t, ml.Close())

	reader := NewLogReader(dir)
	entries, err := reader.ReadLogs(CategoryDaemon, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "command", entries[0].Message)
	assert.Equal(t, "start_new", entries[0].Fields["kind"])
	assert.Equal(t, "status", entries[1].Message)

	errs, err := reader.ReadLogs(CategoryError, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "error", errs[0].Level)
}

func TestMultiLogger_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	tomorrow := time.Now().Add(24 * time.Hour)
	ml.now = func() time.Time { return tomorrow }
	ml.LogDaemonStatus("download00000002", "paused")
	require.NoError(t, ml.Sync())

	_, err = os.Stat(filepath.Join(dir, "daemon-"+tomorrow.Format("20060102")+".log"))
	assert.NoError(t, err)
}

func TestNewMultiLogger_RequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{})
	assert.Error(t, err)
}

func TestLogReader_LimitAndSearch(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	for _, dlid := range []string{"download00000001", "download00000002", "download00000003"} {
		ml.LogDaemonStatus(dlid, "downloading")
	}
	require.NoError(t, ml.Close())

	reader := NewLogReader(dir)
	last, err := reader.ReadLogs(CategoryDaemon, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "download00000003", last[0].Fields["dlid"])

	found, err := reader.SearchLogs(CategoryDaemon, time.Now(), "DOWNLOAD00000002", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)

	missing, err := reader.ReadLogs(CategoryDaemon, time.Now().Add(-48*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLogReader_TailLogs(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	reader := NewLogReader(dir)
	reader.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- reader.TailLogs(ctx, CategoryDaemon, out) }()

	// Give the tailer time to seek to the end of the file.
	time.Sleep(50 * time.Millisecond)
	ml.LogDaemonCommand("pause", "download00000009")
	require.NoError(t, ml.Sync())

	select {
	case entry := <-out:
		assert.Equal(t, "command", entry.Message)
		assert.Equal(t, "download00000009", entry.Fields["dlid"])
	case <-time.After(2 * time.Second):
		t.Fatal("no entry tailed")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestNew_Discard(t *testing.T) {
	l, err := New(Config{Level: "debug", OutputPath: "discard"})
	require.NoError(t, err)
	assert.NotNil(t, l)
}
