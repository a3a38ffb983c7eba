package pkg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack/pkg/config"
)

func boltConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SyncWrites = false
	cfg.Index.Backend = config.BackendBolt
	return cfg
}

func roundTrip(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	w, err := s.Write(ctx, "one", 6)
	require.NoError(t, err)
	_, err = w.Write([]byte("pewpew"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.Read(ctx, "one")
	require.NoError(t, err)
	data, err := r.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pewpew"), data)
}

func TestStoreBolt(t *testing.T) {
	ctx := context.Background()
	cfg := boltConfig(t)

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = s.Manager().AddStorageFile(ctx)
	require.NoError(t, err)
	roundTrip(t, s)
	require.NoError(t, s.Close())

	assert.FileExists(t, filepath.Join(cfg.DataDir, DefaultIndexFile))

	s, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/one", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pewpew", rec.Body.String())
}

func TestStoreRedis(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)

	cfg := boltConfig(t)
	cfg.Index.Backend = config.BackendRedis
	cfg.Index.RedisAddress = server.Addr()
	cfg.Index.ValueEncoding = "decimal"

	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Manager().AddStorageFile(ctx)
	require.NoError(t, err)
	roundTrip(t, s)

	value, err := server.Get("one")
	require.NoError(t, err)
	assert.Equal(t, "1:0:6", value)
	assert.Equal(t, "6", server.HGet("files_size", "1"))
}

func TestStoreHTTP(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, boltConfig(t))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Manager().AddStorageFile(ctx)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/greeting", strings.NewReader("hello")))
	assert.Equal(t, http.StatusCreated, rec.Code)

	r, err := s.Read(ctx, "greeting")
	require.NoError(t, err)
	data, err := r.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStoreInvalidConfig(t *testing.T) {
	cfg := boltConfig(t)
	cfg.Index.Backend = "memcached"

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}
