package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/entrhq/claimbridge/pkg/messaging"
)

// extensionTypes is the fallback MIME table used when the server sends no
// usable Content-Type.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".heic": "image/heic",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

const defaultMIMEType = "application/octet-stream"

// ErrFileTooLarge is returned when a remote file exceeds the fetch limit.
var ErrFileTooLarge = errors.New("remote file exceeds size limit")

// Fetcher downloads files on behalf of contexts that cannot make
// cross-origin requests themselves.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher with the given per-request timeout and size cap.
func NewFetcher(timeout time.Duration, maxBytes int) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: int64(maxBytes),
	}
}

// Fetch downloads rawURL fully into memory. filename, when empty, is taken
// from the last path segment of the URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, filename string) (*messaging.File, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrFileTooLarge, f.maxBytes)
	}

	if filename == "" {
		filename = path.Base(u.Path)
		if filename == "." || filename == "/" {
			filename = "download"
		}
	}

	return &messaging.File{
		Name: filename,
		Type: InferMIMEType(resp.Header.Get("Content-Type"), filename, u.Path),
		Data: data,
		Size: len(data),
	}, nil
}

// InferMIMEType picks a MIME type from the response header, then the
// filename extension, then the URL path extension.
func InferMIMEType(contentType, filename, urlPath string) string {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != defaultMIMEType {
			return mediaType
		}
	}

	for _, name := range []string{filename, urlPath} {
		ext := strings.ToLower(path.Ext(name))
		if t, ok := extensionTypes[ext]; ok {
			return t
		}
	}

	return defaultMIMEType
}
