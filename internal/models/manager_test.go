package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"sightline/internal/domain"
)

func newAssetServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stateRecorder struct {
	mu     sync.Mutex
	states []domain.DownloadState
}

func (r *stateRecorder) record(s domain.DownloadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func testAsset(url string) Asset {
	return Asset{Name: "test", Dir: "whisper-models", Filename: "ggml-test.bin", URL: url}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager("", WhisperBaseEn)
	require.Error(t, err)
	_, err = NewManager(t.TempDir(), Asset{Filename: "x"})
	require.Error(t, err)
}

func TestEnsure_DownloadsOnceWithMonotonicProgress(t *testing.T) {
	var hits int32
	body := strings.Repeat("w", 256*1024)
	srv := newAssetServer(t, body, &hits)
	rec := &stateRecorder{}

	m, err := NewManager(t.TempDir(), testAsset(srv.URL), WithProgress(rec.record))
	require.NoError(t, err)
	require.False(t, m.IsDownloaded())

	path, err := m.Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, m.Path(), path)
	require.True(t, m.Ready())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, len(body))
	require.NoFileExists(t, path+".tmp")

	require.NotEmpty(t, rec.states)
	for i := 1; i < len(rec.states); i++ {
		require.GreaterOrEqual(t, rec.states[i].Progress, rec.states[i-1].Progress)
	}
	require.Equal(t, domain.DownloadState{Progress: 1, Initialized: true}, rec.states[len(rec.states)-1])

	_, err = m.Ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestEnsure_SkipsDownloadWhenPresent(t *testing.T) {
	var hits int32
	srv := newAssetServer(t, "model", &hits)
	root := t.TempDir()
	asset := testAsset(srv.URL)
	require.NoError(t, os.MkdirAll(filepath.Join(root, asset.Dir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, asset.Dir, asset.Filename), []byte("cached"), 0o600))

	m, err := NewManager(root, asset)
	require.NoError(t, err)
	_, err = m.Ensure(context.Background())
	require.NoError(t, err)
	require.True(t, m.Ready())
	require.Zero(t, atomic.LoadInt32(&hits))
}

func TestEnsure_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	m, err := NewManager(t.TempDir(), testAsset(srv.URL))
	require.NoError(t, err)
	_, err = m.Ensure(context.Background())
	require.ErrorContains(t, err, "404")
	require.False(t, m.Ready())
	require.False(t, m.IsDownloaded())
}

func TestReinitialize_ResetsState(t *testing.T) {
	var hits int32
	srv := newAssetServer(t, "model-bytes", &hits)
	rec := &stateRecorder{}

	m, err := NewManager(t.TempDir(), testAsset(srv.URL), WithProgress(rec.record))
	require.NoError(t, err)
	_, err = m.Ensure(context.Background())
	require.NoError(t, err)

	before := len(rec.states)
	_, err = m.Reinitialize(context.Background())
	require.NoError(t, err)
	require.True(t, m.Ready())
	require.Equal(t, domain.DownloadState{}, rec.states[before], "reinitialize publishes a reset first")
	require.Equal(t, int32(1), atomic.LoadInt32(&hits), "file on disk is reused")
}

func TestPath_UnderAssetDir(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, WhisperBaseEn)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "whisper-models", "ggml-base.en.bin"), m.Path())
	require.False(t, m.IsDownloaded())
}
