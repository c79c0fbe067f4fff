// Package images holds the shared plumbing the five image tools
// (flux_create, flux_edit, gpt_image, gemini_image, analyze_image) all
// need: SSRF-checked downloads, upload into the artifact store, and
// dimension/aspect-ratio handling for edits (spec.md §4.4's "preserve input
// aspect ratio by padding when editing (no cropping)").
package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haasonsaas/nexus-core/internal/net/ssrf"
)

// MaxDownloadBytes bounds how much of a remote image this process will
// read into memory, independent of analyze_image's 50MB format-specific cap.
const MaxDownloadBytes = 50 * 1024 * 1024

// Downloader fetches images the tools are handed URLs for (input images to
// edit, analyze_image sources), rejecting requests into private address
// space the same way fetch_url does.
type Downloader struct {
	Client *http.Client
}

// NewDownloader builds a Downloader with a hardened client matching
// fetch_url's redirect policy (internal/tools/fetch).
func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return ssrf.ValidatePublicHostname(req.URL.Hostname())
			},
		},
	}
}

// Download retrieves url's body and its declared content type.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if err := ssrf.ValidatePublicHostname(req.URL.Hostname()); err != nil {
		return nil, "", err
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxDownloadBytes {
		return nil, "", fmt.Errorf("download exceeds %d byte limit", MaxDownloadBytes)
	}

	return body, resp.Header.Get("Content-Type"), nil
}
