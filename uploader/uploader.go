// Package uploader pushes review screenshots to the external object
// store over HTTP. Objects are content-addressed, so re-uploading the
// same screenshot is a no-op on the store side and safe to retry.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrUploadFailed wraps any upload failure. Callers treat it as a
// warning: the review phase records local paths instead of URLs.
var ErrUploadFailed = errors.New("upload failed")

// Uploader PUTs files to baseURL/<content-hash><ext> and returns the
// public URL.
type Uploader struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) {
		if c != nil {
			u.client = c
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// New creates an Uploader for the given store base URL.
func New(baseURL string, opts ...Option) *Uploader {
	u := &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ObjectKey derives the content-addressed key for a file: blake3 hash
// plus the original extension.
func ObjectKey(localPath string, content []byte) string {
	sum := blake3.Sum256(content)
	return fmt.Sprintf("%x%s", sum[:16], strings.ToLower(filepath.Ext(localPath)))
}

// Upload pushes localPath and returns its public URL. Any failure is
// reported as ErrUploadFailed; the file is never modified.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrUploadFailed, localPath, err)
	}

	key := ObjectKey(localPath, content)
	target, err := url.JoinPath(u.baseURL, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, strings.NewReader(string(content)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	req.ContentLength = int64(len(content))

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	u.logger.Debug("artifact uploaded", "path", localPath, "url", target)
	return target, nil
}
