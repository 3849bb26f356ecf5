package marai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNoToken        = errors.New("not signed in")
)

// DefaultTimeout bounds a whole request, uploads included.
const DefaultTimeout = time.Hour

const apiPrefix = "/marai/api"

// Client talks to the Marai backend.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	tokens  TokenStore
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
		tokens:  NewMemoryTokenStore(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Tokens() TokenStore { return c.tokens }

// WithToken returns a client that shares everything with c but sends
// token. Servers use it to act for the caller.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.tokens = NewMemoryTokenStore(token)
	return &cp
}

// cancelBody releases the request's timeout once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *Client) buildURL(method, path string, params url.Values) string {
	u := c.baseURL + path
	if (method == http.MethodGet || method == http.MethodDelete) && len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// Request sends a JSON request. Params go in the query string of GET and
// DELETE requests. The caller closes the response body.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return c.do(ctx, method, c.buildURL(method, path, params), header, reader)
}

// FormFile is a file field of a multipart request.
type FormFile struct {
	Field string
	Path  string
}

// Form is the body of a multipart request.
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

// RequestForm sends a multipart/form-data request, streaming files from
// disk.
func (c *Client) RequestForm(ctx context.Context, method, path string, form Form) (*http.Response, error) {
	for _, f := range form.Files {
		if _, err := os.Stat(f.Path); err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Field, err)
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, form))
	}()

	header := http.Header{}
	header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(ctx, method, c.buildURL(method, path, nil), header, pr)
	if err != nil {
		pr.CloseWithError(err)
	}
	return resp, err
}

func writeForm(mw *multipart.Writer, form Form) error {
	for name, value := range form.Fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	for _, ff := range form.Files {
		f, err := os.Open(ff.Path)
		if err != nil {
			return err
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, ff.Field, filepath.Base(ff.Path)))
		h.Set("Content-Type", mimeFromExt(filepath.Ext(ff.Path)))
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return err
		}
	}
	return mw.Close()
}

func (c *Client) do(ctx context.Context, method, u string, header http.Header, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(tctx, method, u, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: %w", method, u, ErrRequestTimeout)
		}
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	resp.Body = cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// mimeFromExt returns the MIME type for common audio/video extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/m4a"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
