package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Utterance string
	Kind      string
	Params    map[string]string
	At        time.Time
}

func sample() record {
	return record{
		Utterance: "open github",
		Kind:      "open_url",
		Params:    map[string]string{"target": "github"},
		At:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var got record
	assert.ErrorIs(t, s.Get(ctx, "last_command", &got), ErrNotFound)

	require.NoError(t, s.Put(ctx, "last_command", sample()))
	require.NoError(t, s.Get(ctx, "last_command", &got))
	assert.Equal(t, sample().Utterance, got.Utterance)
	assert.Equal(t, sample().Params, got.Params)
	assert.True(t, sample().At.Equal(got.At))

	next := sample()
	next.Kind = "tell_time"
	require.NoError(t, s.Put(ctx, "last_command", next))
	require.NoError(t, s.Get(ctx, "last_command", &got))
	assert.Equal(t, "tell_time", got.Kind)
}

func TestMemStore(t *testing.T) {
	exercise(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	exercise(t, fs)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	var got record
	require.NoError(t, reopened.Get(context.Background(), "last_command", &got))
	assert.Equal(t, "tell_time", got.Kind)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path)
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test:", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exercise(t, s)

	assert.True(t, mr.Exists("test:last_command"))
	mr.FastForward(2 * time.Hour)

	var got record
	assert.ErrorIs(t, s.Get(context.Background(), "last_command", &got), ErrNotFound)
}

func TestRedisStore_Unreachable(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "redis://127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	var got record
	assert.ErrorIs(t, s.Get(ctx, "k", &got), ErrNotFound)
	assert.NoError(t, s.Put(ctx, "k", sample()))

	s, err = Open(ctx, Config{Backend: BackendMem})
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	s, err = Open(ctx, Config{Path: filepath.Join(t.TempDir(), "m.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)
}
