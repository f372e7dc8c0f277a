package store

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	s := newMemoryStore(t)
	assert.NotNil(t, s.db)
	assert.Equal(t, ":memory:", s.Path())
}

func TestFindingsKey(t *testing.T) {
	assert.Equal(t, "findings_r1", FindingsKey("r1"))
	assert.True(t, IsFindingsKey(FindingsKey("17.42")))
	assert.False(t, IsFindingsKey(QueueSizeKey))
}

func TestSQLiteStore_PutAndGet(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	findings := []map[string]any{
		{"DetectorName": "AWS", "Raw": "AKIA...", "Verified": true, "url": "http://x", "timestamp": 1700000000000},
	}
	require.NoError(t, s.Put(ctx, FindingsKey("r1"), findings))

	var got []map[string]any
	ok, err := s.Get(ctx, FindingsKey("r1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "AWS", got[0]["DetectorName"])
	assert.Equal(t, true, got[0]["Verified"])
	assert.Equal(t, float64(1700000000000), got[0]["timestamp"])
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, QueueSizeKey, 5))
	require.NoError(t, s.Put(ctx, QueueSizeKey, 0))

	var size int
	ok, err := s.Get(ctx, QueueSizeKey, &size)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, size)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert must not duplicate the key")
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	s := newMemoryStore(t)

	var v any
	ok, err := s.Get(context.Background(), "missing", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_ListByPrefix(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, FindingsKey("b"), []int{2}))
	require.NoError(t, s.Put(ctx, FindingsKey("a"), []int{1}))
	require.NoError(t, s.Put(ctx, QueueSizeKey, 3))
	// '_' must be matched literally, not as a LIKE wildcard.
	require.NoError(t, s.Put(ctx, "findingsXc", []int{9}))

	entries, err := s.List(ctx, FindingsPrefix)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "findings_a", entries[0].Key)
	assert.Equal(t, "findings_b", entries[1].Key)
	assert.JSONEq(t, `[1]`, string(entries[0].Value))
	assert.False(t, entries[0].UpdatedAt.IsZero())

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSQLiteStore_FileBackedSharedBetweenHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wth.db")
	ctx := context.Background()

	writer, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Put(ctx, QueueSizeKey, 12))

	var size int
	ok, err := reader.Get(ctx, QueueSizeKey, &size)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12, size)
}

func TestSQLiteStore_PutUnmarshalable(t *testing.T) {
	s := newMemoryStore(t)
	err := s.Put(context.Background(), "bad", make(chan int))
	assert.Error(t, err)
}

func TestSQLiteStore_Close(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestWatch_NotifiesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wth.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		calls atomic.Int32
		logs  syncBuffer
	)
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, logger, func() { calls.Add(1) })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Put(context.Background(), QueueSizeKey, 1))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Contains(t, logs.String(), `"message":"Store changed"`, "the injected logger is used")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "wth.db"), 0, zerolog.Nop(), func() {})
	assert.Error(t, err)
}

// syncBuffer is a bytes.Buffer safe for a logger writing from another
// goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
