package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// Максимальный размер скачиваемого изображения.
const maxImageBytes = 20 << 20

// Downloader скачивает исходные изображения с CDN магазинов.
// CDN отдают заглушки и 403 без браузерных заголовков, поэтому запрос
// маскируется под обычный браузер.
type Downloader struct {
	client *http.Client
	cfg    *cfg.StagingCfg
}

func NewDownloader(cfg *cfg.StagingCfg) *Downloader {
	return &Downloader{
		client: &http.Client{Timeout: cfg.DownloadTimeout},
		cfg:    cfg,
	}
}

// Fetch возвращает байты изображения и его MIME-тип.
// Любой сбой скачивания — *e.DownloadError.
func (d *Downloader) Fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: err}
	}
	// ftp:// и file:// не станут рабочими от повторов: сразу в постоянные сбои.
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: e.ErrUnsupportedURLScheme}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: err}
	}

	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,*/*;q=0.8")
	if d.cfg.Referer != "" {
		req.Header.Set("Referer", d.cfg.Referer)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: err}
	}
	if len(data) > maxImageBytes {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: fmt.Errorf("image exceeds %d bytes", maxImageBytes)}
	}

	// Слишком маленькое тело — почти всегда HTML-заглушка вместо картинки.
	if int64(len(data)) < d.cfg.MinImageBytes {
		return nil, "", &e.DownloadError{URL: sourceURL, Err: fmt.Errorf("body too small: %d bytes", len(data))}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(data)
	}
	if idx := strings.IndexByte(contentType, ';'); idx > 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}

	return data, contentType, nil
}
