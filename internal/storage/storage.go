package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"marai-studio/internal/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Client resolves asset URLs (s3://, file://, http(s):// or plain paths)
// and stores timeline exports.
type Client struct {
	backend      StorageProvider
	bucketExport string
	http         *http.Client

	cache      map[string][]string
	cacheTime  map[string]time.Time
	cacheMutex sync.RWMutex
}

const CacheTTL = 5 * time.Minute

func New(cfg *config.Config) *Client {
	var backend StorageProvider

	if cfg.Storage.Provider == "s3" {
		s3Config := &aws.Config{
			Credentials:      credentials.NewStaticCredentials(cfg.Storage.KeyID, cfg.Storage.AppKey, ""),
			Endpoint:         aws.String(cfg.Storage.Endpoint),
			Region:           aws.String(cfg.Storage.Region),
			S3ForcePathStyle: aws.Bool(true),
		}
		sess := session.Must(session.NewSession(s3Config))
		backend = &S3Provider{api: s3.New(sess)}
	} else {
		backend = NewLocalProvider(cfg.Storage.LocalStorage)
	}

	return NewWithProvider(backend, cfg.Storage.BucketExport, &http.Client{Timeout: 2 * time.Minute})
}

func NewWithProvider(backend StorageProvider, bucketExport string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		backend:      backend,
		bucketExport: bucketExport,
		http:         hc,
		cache:        make(map[string][]string),
		cacheTime:    make(map[string]time.Time),
	}
}

// Open streams the asset behind rawURL. The caller closes the body.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "s3":
		obj, err := c.backend.Get(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, err
		}
		return obj.Body, nil
	case "http", "https":
		return c.openHTTP(ctx, rawURL)
	case "file":
		return openFile(u.Path)
	case "":
		return openFile(rawURL)
	}
	return nil, fmt.Errorf("%s: %w", u.Scheme, ErrUnsupportedScheme)
}

func (c *Client) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("GET %s: %w", rawURL, ErrNotFound)
		}
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}

func openFile(p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return f, err
}

func exportPrefix(slug string) string { return path.Join("exports", SafeKey(slug, "untitled")) + "/" }

// PutExport stores an edited payload under the task's export prefix and
// returns its s3:// URL.
func (c *Client) PutExport(ctx context.Context, slug string, data []byte, at time.Time) (string, error) {
	key := exportPrefix(slug) + at.UTC().Format("20060102T150405.000") + ".json"
	if err := c.backend.Put(ctx, c.bucketExport, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("put export %s: %w", key, err)
	}

	c.cacheMutex.Lock()
	delete(c.cache, slug)
	delete(c.cacheTime, slug)
	c.cacheMutex.Unlock()

	return "s3://" + c.bucketExport + "/" + key, nil
}

// ListExports returns the export URLs of a task, oldest first.
func (c *Client) ListExports(ctx context.Context, slug string) ([]string, error) {
	c.cacheMutex.RLock()
	urls, ok := c.cache[slug]
	ts := c.cacheTime[slug]
	c.cacheMutex.RUnlock()

	if ok && time.Since(ts) < CacheTTL {
		return urls, nil
	}

	keys, err := c.backend.List(ctx, c.bucketExport, exportPrefix(slug))
	if err != nil {
		return nil, err
	}

	urls = make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, ".json") {
			urls = append(urls, "s3://"+c.bucketExport+"/"+key)
		}
	}

	c.cacheMutex.Lock()
	c.cache[slug] = urls
	c.cacheTime[slug] = time.Now()
	c.cacheMutex.Unlock()

	return urls, nil
}
