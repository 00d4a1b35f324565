// Package media downloads and stores media resources on the local
// filesystem.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/collector"
)

// extensions maps known media content types to file extensions. Unknown
// types fall back to the URL's own extension, then ".bin".
var extensions = map[string]string{
	"image/jpeg":             ".jpg",
	"image/png":              ".png",
	"image/gif":              ".gif",
	"image/webp":             ".webp",
	"image/avif":             ".avif",
	"image/svg+xml":          ".svg",
	"image/x-icon":           ".ico",
	"text/css":               ".css",
	"text/javascript":        ".js",
	"application/javascript": ".js",
	"application/pdf":        ".pdf",
	"video/mp4":              ".mp4",
	"video/webm":             ".webm",
	"audio/mpeg":             ".mp3",
	"audio/ogg":              ".ogg",
	"font/woff":              ".woff",
	"font/woff2":             ".woff2",
}

// Downloader streams media to disk under a root directory. Bytes go
// through a temporary file in the destination directory and are renamed
// into place only once complete, so a crash never leaves a partial file
// at the final path.
type Downloader struct {
	client *http.Client
	root   string
	logger *zap.Logger
}

// NewDownloader creates a Downloader storing files under root.
func NewDownloader(root string, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		client: &http.Client{},
		root:   root,
		logger: logger,
	}
}

// Download fetches one resource and writes it to root/basePath plus the
// content-type extension. HTML responses are reported as skipped, not
// stored: a URL that serves a document is not media.
func (d *Downloader) Download(
	ctx context.Context,
	rawURL, basePath string,
	req collector.FetchRequest,
) (collector.StoredMedia, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return collector.StoredMedia{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	client := d.client
	if req.Proxy != "" {
		client, err = proxyClient(req.Proxy)
		if err != nil {
			return collector.StoredMedia{}, err
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return collector.StoredMedia{}, fmt.Errorf("fetch media: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return collector.StoredMedia{}, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if isDocumentContentType(contentType) {
		return collector.StoredMedia{
			HTTPStatus:  resp.StatusCode,
			ContentType: contentType,
			Skipped:     true,
			SkipReason:  "non_media_content",
		}, nil
	}

	ext := extensionFor(contentType, rawURL)
	finalPath := filepath.Join(d.root, filepath.FromSlash(basePath)+ext)
	size, hash, err := d.writeAtomic(finalPath, resp.Body)
	if err != nil {
		return collector.StoredMedia{}, err
	}

	d.logger.Debug("media stored",
		zap.String("url", rawURL),
		zap.String("path", finalPath),
		zap.Int64("bytes", size),
	)

	return collector.StoredMedia{
		Path:        finalPath,
		Bytes:       size,
		Hash:        hash,
		HTTPStatus:  resp.StatusCode,
		ContentType: contentType,
		Extension:   ext,
	}, nil
}

// writeAtomic streams the body into a temp file next to the final path,
// hashing as it goes, then renames into place.
func (d *Downloader) writeAtomic(finalPath string, body io.Reader) (int64, string, error) {
	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	digest := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, digest), body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", fmt.Errorf("write media body: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return 0, "", fmt.Errorf("rename media file: %w", err)
	}
	return size, hex.EncodeToString(digest.Sum(nil)), nil
}

func isDocumentContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return ct == "text/html" || ct == "application/xhtml+xml"
}

func extensionFor(contentType, rawURL string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, ok := extensions[ct]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	return ".bin"
}

func proxyClient(proxy string) (*http.Client, error) {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
	}, nil
}
