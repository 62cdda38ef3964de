package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func setupRedisKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKV(client)
}

func TestRedisKV_GetSet(t *testing.T) {
	mr, kv := setupRedisKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFileKV_GetSet(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = kv.Get(ctx, KeyQTable)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, KeyQTable, `{"a":1}`, 0))
	require.NoError(t, kv.Set(ctx, KeyQTable, `{"a":2}`, 0))

	got, err := kv.Get(ctx, KeyQTable)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "q_table.json", entries[0].Name())
}

func TestFileKV_SanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	require.NoError(t, kv.Set(context.Background(), "../escape/key", "x", 0))
	_, err = os.Stat(filepath.Join(dir, ".._escape_key.json"))
	assert.NoError(t, err)
}

func TestJSONHelpers(t *testing.T) {
	for name, kv := range map[string]KV{
		"redis": func() KV { _, kv := setupRedisKV(t); return kv }(),
		"file": func() KV {
			kv, err := NewFileKV(t.TempDir())
			require.NoError(t, err)
			return kv
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, SetJSON(ctx, kv, "sample", sample{Name: "a", Value: 1.5}))

			var got sample
			require.NoError(t, GetJSON(ctx, kv, "sample", &got))
			assert.Equal(t, sample{Name: "a", Value: 1.5}, got)

			require.NoError(t, kv.Set(ctx, "broken", "{not json", 0))
			assert.Error(t, GetJSON(ctx, kv, "broken", &got))
		})
	}
}

func TestMemoryKV_TTL(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "keep", "1", 0))
	require.NoError(t, kv.Set(ctx, "gone", "2", time.Nanosecond))
	time.Sleep(time.Millisecond)

	got, err := kv.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	_, err = kv.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrMiss)
}
