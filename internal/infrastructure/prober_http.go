package infrastructure

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// HTTPProber resolves the content type of a URL with a HEAD request,
// following redirects
type HTTPProber struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewHTTPProber creates a prober from the resolver configuration
func NewHTTPProber(config domain.ResolverConfig, logger *zap.Logger) *HTTPProber {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProber{
		client:    &http.Client{Timeout: timeout},
		userAgent: config.UserAgent,
		logger:    logger,
	}
}

// ResolveContentType returns the final URL and the media type, without
// parameters, of rawURL
func (p *HTTPProber) ResolveContentType(ctx context.Context, rawURL string) (domain.ProbeResult, error) {
	resp, err := p.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp.Body.Close()
		p.logger.Debug("HEAD not supported, probing with GET", zap.String("url", rawURL))
		resp, err = p.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return domain.ProbeResult{}, err
		}
	}
	defer resp.Body.Close()
	// Drain a little so the connection can be reused; the body is never needed.
	io.CopyN(io.Discard, resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ProbeResult{}, &domain.UnexpectedStatusCodeError{Code: resp.StatusCode}
	}

	result := domain.ProbeResult{URL: resp.Request.URL.String()}
	if header := resp.Header.Get("Content-Type"); header != "" {
		mediaType, _, err := mime.ParseMediaType(header)
		if err != nil {
			mediaType = strings.TrimSpace(strings.SplitN(header, ";", 2)[0])
		}
		result.ContentType = strings.ToLower(mediaType)
	}
	return result, nil
}

func (p *HTTPProber) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	return resp, nil
}
