package vault

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// httpDownloader is the default URLDownloader, backed by net/http.
type httpDownloader struct {
	client *http.Client
}

// NewHTTPDownloader returns the default URLDownloader with the given
// per-request timeout.
func NewHTTPDownloader(timeout time.Duration) URLDownloader {
	return &httpDownloader{client: &http.Client{Timeout: timeout}}
}

func (d *httpDownloader) DownloadTo(ctx context.Context, url, dst string, expectedSize int64, phase string, monitor ProgressMonitor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrDownloadFailed, url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create download destination: %w", err)
	}
	defer out.Close()

	total := resp.ContentLength
	if total <= 0 {
		total = expectedSize
	}

	r := io.Reader(resp.Body)
	if monitor != nil {
		r = &progressReader{r: resp.Body, total: total, phase: phase, monitor: monitor}
	}

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

func (d *httpDownloader) LastModified(ctx context.Context, url string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return "", false, nil
	}
	return lm, true, nil
}

// progressReader wraps an io.Reader, reporting percent-complete to a
// ProgressMonitor as bytes are read.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	phase   string
	monitor ProgressMonitor
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 {
		p.monitor(p.phase, int(p.read*100/p.total))
	} else {
		p.monitor(p.phase, -1)
	}
	return n, err
}
