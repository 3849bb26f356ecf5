package audio

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// Fetcher opens a remote asset by URL.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

type pendingFetch struct {
	done chan struct{}
	err  error
}

// CacheManager keeps downloaded cue assets on local disk so decoders can
// seek them. Concurrent requests for the same URL share one download.
type CacheManager struct {
	fetcher Fetcher
	baseDir string
	mu      sync.Mutex
	pending map[string]*pendingFetch
}

func NewCacheManager(fetcher Fetcher, tmpDir string) *CacheManager {
	cacheDir := filepath.Join(tmpDir, "cue_cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		log.Printf("⚠️ Failed to create cache dir: %v", err)
	}

	return &CacheManager{
		fetcher: fetcher,
		baseDir: cacheDir,
		pending: make(map[string]*pendingFetch),
	}
}

func (c *CacheManager) Dir() string { return c.baseDir }

// GetLocalPath returns the cached file for url, downloading it first when
// needed.
func (c *CacheManager) GetLocalPath(ctx context.Context, url string) (string, error) {
	localPath := c.filePath(url)

	if c.exists(localPath) {
		now := time.Now()
		os.Chtimes(localPath, now, now)
		return localPath, nil
	}

	c.mu.Lock()
	if p, ok := c.pending[url]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if p.err != nil {
			return "", p.err
		}
		return localPath, nil
	}

	p := &pendingFetch{done: make(chan struct{})}
	c.pending[url] = p
	c.mu.Unlock()

	log.Printf("📥 Cache Miss: Downloading %s", url)
	p.err = c.download(ctx, url, localPath)

	c.mu.Lock()
	delete(c.pending, url)
	c.mu.Unlock()
	close(p.done)

	if p.err != nil {
		return "", p.err
	}
	return localPath, nil
}

func (c *CacheManager) Prefetch(ctx context.Context, urls []string) {
	for _, u := range urls {
		go func(u string) {
			if _, err := c.GetLocalPath(ctx, u); err != nil {
				log.Printf("❌ Prefetch failed for %s: %v", u, err)
			}
		}(u)
	}
}

// Cleanup removes cached files not belonging to keepURLs.
func (c *CacheManager) Cleanup(keepURLs []string) int {
	keep := make(map[string]bool, len(keepURLs))
	for _, u := range keepURLs {
		keep[c.filePath(u)] = true
	}

	files, err := os.ReadDir(c.baseDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, file := range files {
		fullPath := filepath.Join(c.baseDir, file.Name())
		if keep[fullPath] {
			continue
		}
		if os.Remove(fullPath) == nil {
			removed++
		}
	}
	return removed
}

// filePath hashes the URL and keeps its extension, which the decoder
// falls back on.
func (c *CacheManager) filePath(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	name := hex.EncodeToString(sum[:])
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return filepath.Join(c.baseDir, name+path.Ext(p))
}

func (c *CacheManager) exists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Size() > 0
}

func (c *CacheManager) download(ctx context.Context, url, dest string) error {
	tmp := dest + ".tmp"

	reader, err := c.fetcher.Open(ctx, url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer reader.Close()

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
