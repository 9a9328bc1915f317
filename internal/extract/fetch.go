package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

// FetchResult is a fetched remote document.
type FetchResult struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves a remote document for URL import.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// FetcherConfig configures the HTTP fetcher.
type FetcherConfig struct {
	Timeout      time.Duration
	MaxBytes     int64
	UserAgent    string
	MaxRedirects int
}

// HTTPFetcher is the resty-backed Fetcher.
type HTTPFetcher struct {
	client   *resty.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTPFetcher(cfg FetcherConfig, logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "evidence-pipeline/1.0"
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "text/html,application/xhtml+xml,text/csv,application/pdf,image/*;q=0.9,*/*;q=0.5")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(cfg.MaxRedirects))
	return &HTTPFetcher{client: client, maxBytes: cfg.MaxBytes, logger: logger}
}

// ValidateURL accepts only absolute http(s) URLs.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, common.NewValidationError("url", "malformed url: "+err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, common.NewValidationError("url", fmt.Sprintf("unsupported protocol %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, common.NewValidationError("url", "missing host")
	}
	return u, nil
}

// Fetch GETs rawURL. Non-2xx answers become *common.RequestError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return FetchResult{}, err
	}

	start := time.Now()
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return FetchResult{}, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
		return FetchResult{}, &common.RequestError{URL: u.Redacted(), StatusCode: resp.StatusCode()}
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return FetchResult{}, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	if int64(len(data)) > f.maxBytes {
		return FetchResult{}, common.NewValidationError("url", fmt.Sprintf("response exceeds %d bytes", f.maxBytes))
	}

	final := u.String()
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL.String()
	}
	f.logger.Debug("fetched url",
		"url", u.Redacted(),
		"status", resp.StatusCode(),
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())
	return FetchResult{
		URL:         final,
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        data,
	}, nil
}
