package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var ErrNotFound = errors.New("file not found on server")

type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 {
		log.Printf("[FETCH] %s: %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

// Fetcher downloads remote data files, optionally keeping a copy in CacheDir.
type Fetcher struct {
	Client *http.Client
	// CacheDir is where downloads are kept. Empty disables the cache.
	CacheDir string
	// MaxAge forces a re-download of cached files older than this. Zero keeps
	// cached files forever.
	MaxAge time.Duration
}

func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 5 * time.Minute}, CacheDir: cacheDir}
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// CacheFileName is the local name used for url: its last path segment.
func CacheFileName(url string) string {
	url, _, _ = strings.Cut(url, "?")
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	return parts[len(parts)-1]
}

// Open returns a reader for url. With a cache directory the file is
// downloaded once and read from disk afterwards.
func (f *Fetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.CacheDir == "" {
		log.Printf("[FETCH] Streaming %s", url)
		resp, err := f.get(ctx, url)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}

	path, err := f.Path(ctx, url)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return file, nil
}

// Path makes sure url is in the cache and returns the local path.
func (f *Fetcher) Path(ctx context.Context, url string) (string, error) {
	if f.CacheDir == "" {
		return "", fmt.Errorf("no cache directory configured")
	}
	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}
	path := filepath.Join(f.CacheDir, CacheFileName(url))
	if info, err := os.Stat(path); err == nil && (f.MaxAge == 0 || time.Since(info.ModTime()) < f.MaxAge) {
		log.Printf("[FETCH] Using cached file: %s", path)
		return path, nil
	}
	log.Printf("[FETCH] Downloading %s", url)
	if err := f.Download(ctx, url, path); err != nil {
		return "", err
	}
	return path, nil
}

// Download writes url to path through a temp file and an atomic rename.
func (f *Fetcher) Download(ctx context.Context, url, path string) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[FETCH] Error closing response body: %v", err)
		}
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			log.Printf("[FETCH] Error removing temp file %s: %v", tmpName, err)
		}
	}()

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path)}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return resp, nil
}
