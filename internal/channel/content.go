package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Content downloads are capped; the platform serves chat images well below
// this.
const maxContentBytes = 10 << 20

// Fetcher downloads binary message content from the platform's
// content-delivery endpoint. Single attempt, bounded wait; the platform's
// webhook redelivery is the only retry mechanism.
type Fetcher struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type FetcherConfig struct {
	BaseURL string // content-delivery API base, e.g. https://api-data.line.me
	Token   string // channel access token
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

var _ domain.ContentFetcher = (*Fetcher)(nil)

// Fetch retrieves the raw bytes behind contentID and sniffs their MIME
// type. Failures come back as *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, contentID string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v2/bot/message/%s/content", f.baseURL, contentID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ContentFetchFails.Inc()
		if isTimeout(err) {
			f.logger.Warn("content fetch timed out", "content_id", contentID, "timeout", f.timeout)
			return nil, "", &domain.FetchError{Code: domain.FetchTimeout}
		}
		f.logger.Warn("content fetch failed", "content_id", contentID, "err", err)
		return nil, "", &domain.FetchError{Code: domain.FetchBadStatus}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ContentFetchFails.Inc()
		f.logger.Warn("content fetch bad status", "content_id", contentID, "status", resp.StatusCode)
		return nil, "", &domain.FetchError{Code: domain.FetchBadStatus, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		metrics.ContentFetchFails.Inc()
		if isTimeout(err) {
			return nil, "", &domain.FetchError{Code: domain.FetchTimeout}
		}
		return nil, "", &domain.FetchError{Code: domain.FetchBadStatus}
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	f.logger.Debug("content fetched", "content_id", contentID, "bytes", len(data), "mime", mime)
	return data, mime, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
