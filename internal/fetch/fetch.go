package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// chunkSize is the buffer the body is streamed through.
const chunkSize = 1024

// DefaultTimeout bounds a single image download.
const DefaultTimeout = 10 * time.Second

// StatusError is returned when the image host answers with anything but 200.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Downloader saves remote images into a staging directory.
type Downloader struct {
	dir       string
	client    *http.Client
	userAgent string
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(dir string, timeout time.Duration) *Downloader {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Downloader{
		dir: dir,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: "legitcheck/1.0 (dataset collector)",
	}
}

// SetUserAgent overrides the User-Agent header sent with each request.
func (d *Downloader) SetUserAgent(ua string) {
	if ua != "" {
		d.userAgent = ua
	}
}

// Dir returns the staging directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Download fetches imageURL with a single GET and writes it to
// <dir>/<postID>_img<seq>.<ext>. It returns the written path.
func (d *Downloader) Download(ctx context.Context, imageURL, postID string, seq int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: imageURL, Code: resp.StatusCode}
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating staging directory: %w", err)
	}

	dest := filepath.Join(d.dir, FileName(postID, seq, Extension(imageURL)))
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dest, err)
	}

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(f, resp.Body, buf); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("closing %s: %w", dest, err)
	}
	return dest, nil
}

// Fetch is Download with failures logged and reported as an empty path.
func (d *Downloader) Fetch(ctx context.Context, imageURL, postID string, seq int) string {
	p, err := d.Download(ctx, imageURL, postID, seq)
	if err != nil {
		log.Printf("[ERROR] Failed to download %s: %v", imageURL, err)
		return ""
	}
	return p
}

// Extension returns the file extension of the URL path without the dot,
// ignoring the query string. URLs without one default to "jpg".
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return "jpg"
	}
	return ext
}

// FileName builds the on-disk name of the seq-th image of a post.
func FileName(postID string, seq int, ext string) string {
	return fmt.Sprintf("%s_img%d.%s", postID, seq, ext)
}
