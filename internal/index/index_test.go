package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Index {
	return map[string]func(t *testing.T) Index{
		"redis": func(t *testing.T) Index {
			server := miniredis.RunT(t)
			idx := NewRedis(server.Addr())
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
		"bolt": func(t *testing.T) Index {
			idx, err := OpenBolt(filepath.Join(t.TempDir(), "index", "backpack.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
	}
}

func TestIndex(t *testing.T) {
	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Run("keys", func(t *testing.T) { testKeys(t, open(t)) })
			t.Run("counter", func(t *testing.T) { testCounter(t, open(t)) })
			t.Run("hashes", func(t *testing.T) { testHashes(t, open(t)) })
			t.Run("concurrent incr", func(t *testing.T) { testConcurrentIncr(t, open(t)) })
		})
	}
}

func testKeys(t *testing.T, idx Index) {
	ctx := context.Background()

	_, err := idx.Get(ctx, "one")
	assert.ErrorIs(t, err, ErrNil)

	require.NoError(t, idx.Set(ctx, "one", []byte("1:0:6")))
	value, err := idx.Get(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []byte("1:0:6"), value)

	// Binary values survive untouched.
	raw := []byte{0, 0xff, ':', 0x80}
	require.NoError(t, idx.Set(ctx, "one", raw))
	value, err = idx.Get(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, raw, value)
}

func testCounter(t *testing.T, idx Index) {
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := idx.Incr(ctx, "files_counter")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func testHashes(t *testing.T, idx Index) {
	ctx := context.Background()

	hash, err := idx.HGetAll(ctx, "files")
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, idx.HSet(ctx, "files", "1", []byte(`{"readOnly":false}`)))
	require.NoError(t, idx.HSet(ctx, "files", "2", []byte(`{"readOnly":true}`)))
	require.NoError(t, idx.HSet(ctx, "files", "1", []byte(`{"readOnly":true}`)))

	hash, err = idx.HGetAll(ctx, "files")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"1": []byte(`{"readOnly":true}`),
		"2": []byte(`{"readOnly":true}`),
	}, hash)

	n, err := idx.HIncrBy(ctx, "files_size", "1", 6)
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)
	n, err = idx.HIncrBy(ctx, "files_size", "1", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)

	sizes, err := idx.HGetAll(ctx, "files_size")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"1": []byte("9")}, sizes)
}

func testConcurrentIncr(t *testing.T, idx Index) {
	ctx := context.Background()

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := idx.Incr(ctx, "files_counter")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], fmt.Sprintf("id %d not issued", i))
	}
}

func TestRedisCanceled(t *testing.T) {
	server := miniredis.RunT(t)
	idx := NewRedis(server.Addr())
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Get(ctx, "one")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	idx := NewRedis(server.Addr())
	defer idx.Close()

	server.Close()
	err := idx.Set(context.Background(), "one", []byte("x"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNil)
}

func TestBoltReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "backpack.db")

	idx, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, idx.Set(ctx, "one", []byte("1:0:6")))
	_, err = idx.Incr(ctx, "files_counter")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	idx, err = OpenBolt(path)
	require.NoError(t, err)
	defer idx.Close()

	value, err := idx.Get(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, []byte("1:0:6"), value)

	n, err := idx.Incr(ctx, "files_counter")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
