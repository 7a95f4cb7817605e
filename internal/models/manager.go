// Package models downloads and caches on-device model files.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"sightline/internal/domain"
)

// Asset is a model file cached under a fixed name.
type Asset struct {
	Name     string
	Dir      string
	Filename string
	URL      string
}

// WhisperBaseEn is the English whisper.cpp model used for on-device transcription.
var WhisperBaseEn = Asset{
	Name:     "whisper-base.en",
	Dir:      "whisper-models",
	Filename: "ggml-base.en.bin",
	URL:      "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
}

// Manager keeps one asset present on disk and publishes its DownloadState.
type Manager struct {
	root       string
	asset      Asset
	httpClient *http.Client
	logger     *slog.Logger
	onProgress func(domain.DownloadState)

	ensureMu sync.Mutex

	mu    sync.RWMutex
	state domain.DownloadState
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithProgress registers a callback that receives every state change.
func WithProgress(fn func(domain.DownloadState)) Option {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

func NewManager(root string, asset Asset, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("models: root directory must not be empty")
	}
	if asset.Filename == "" || asset.URL == "" {
		return nil, errors.New("models: asset filename and url are required")
	}
	m := &Manager{
		root:       root,
		asset:      asset,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Path returns where the asset lives once downloaded.
func (m *Manager) Path() string {
	return filepath.Join(m.root, m.asset.Dir, m.asset.Filename)
}

// IsDownloaded reports whether a non-empty file is already in place.
func (m *Manager) IsDownloaded() bool {
	info, err := os.Stat(m.Path())
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

func (m *Manager) State() domain.DownloadState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Ready() bool {
	return m.State().Initialized
}

// Ensure makes the asset available, downloading it only when missing.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()

	if m.State().Initialized {
		return m.Path(), nil
	}
	if m.IsDownloaded() {
		m.logger.Info("model already present", "model", m.asset.Name, "path", m.Path())
		m.update(func(s *domain.DownloadState) { s.MarkInitialized() })
		return m.Path(), nil
	}

	m.logger.Info("downloading model", "model", m.asset.Name, "url", m.asset.URL)
	if err := m.download(ctx); err != nil {
		return "", fmt.Errorf("models: download %s: %w", m.asset.Name, err)
	}
	m.update(func(s *domain.DownloadState) { s.MarkInitialized() })
	m.logger.Info("model ready", "model", m.asset.Name, "path", m.Path())
	return m.Path(), nil
}

// Reinitialize resets the published state and runs Ensure again.
func (m *Manager) Reinitialize(ctx context.Context) (string, error) {
	m.ensureMu.Lock()
	m.update(func(s *domain.DownloadState) { s.Reset() })
	m.ensureMu.Unlock()
	return m.Ensure(ctx)
}

func (m *Manager) update(fn func(*domain.DownloadState)) {
	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	if m.onProgress != nil {
		m.onProgress(snapshot)
	}
}

func (m *Manager) download(ctx context.Context) error {
	dest := m.Path()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	defer func() { _ = os.Remove(tmp) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.asset.URL, nil)
	if err != nil {
		return err
	}
	res, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", res.Status)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	pw := &progressWriter{total: res.ContentLength, report: func(p float64) {
		m.update(func(s *domain.DownloadState) { s.Advance(p) })
	}}
	_, copyErr := io.Copy(io.MultiWriter(f, pw), res.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if pw.written == 0 {
		return errors.New("empty response body")
	}
	return os.Rename(tmp, dest)
}

// progressWriter reports the downloaded fraction in whole-percent steps.
type progressWriter struct {
	total   int64
	written int64
	lastPct int64
	report  func(float64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		pct := p.written * 100 / p.total
		if pct > p.lastPct {
			p.lastPct = pct
			p.report(float64(p.written) / float64(p.total))
		}
	}
	return len(b), nil
}
