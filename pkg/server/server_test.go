package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backpack/internal/index"
	"backpack/internal/storage"
	"backpack/pkg/manager"
)

func newManager(t *testing.T, files int) *manager.Manager {
	t.Helper()
	ctx := context.Background()

	idx, err := index.OpenBolt(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	m, err := manager.Open(ctx, t.TempDir(), idx, manager.WithFileOptions(storage.WithSync(false)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	for i := 0; i < files; i++ {
		_, err := m.AddStorageFile(ctx)
		require.NoError(t, err)
	}
	return m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func TestPutGet(t *testing.T) {
	s := New(newManager(t, 1))

	rec := do(t, s, http.MethodPut, "/one", "pewpew")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = do(t, s, http.MethodGet, "/one", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "6", rec.Header().Get("Content-Length"))
	assert.Equal(t, "pewpew", rec.Body.String())
}

func TestGetMissing(t *testing.T) {
	s := New(newManager(t, 1))

	rec := do(t, s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPutWithoutLength(t *testing.T) {
	s := New(newManager(t, 1))

	rec := do(t, s, http.MethodPut, "/empty", "")
	assert.Equal(t, http.StatusLengthRequired, rec.Code)
}

func TestPutWithoutFiles(t *testing.T) {
	s := New(newManager(t, 0))

	rec := do(t, s, http.MethodPut, "/one", "pewpew")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPutReservedName(t *testing.T) {
	s := New(newManager(t, 1))

	rec := do(t, s, http.MethodPut, "/"+manager.FilesKey, "x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPutTruncatedBody(t *testing.T) {
	s := New(newManager(t, 1))

	req := httptest.NewRequest(http.MethodPut, "/short", strings.NewReader("abc"))
	req.ContentLength = 10
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, s, http.MethodGet, "/short", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotImplemented(t *testing.T) {
	s := New(newManager(t, 1))

	for _, method := range []string{http.MethodDelete, http.MethodPost, http.MethodHead} {
		rec := do(t, s, method, "/one", "")
		assert.Equal(t, http.StatusNotImplemented, rec.Code, method)
	}
}

func TestServe(t *testing.T) {
	s := New(newManager(t, 1))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/blob"
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader("over the wire"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "over the wire", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
