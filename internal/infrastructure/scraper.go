package infrastructure

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/yourusername/remotedl-go/internal/domain"
)

// PageScraper resolves HTML pages with embedded players to the media URL
// they reference. Other content passes through unchanged.
type PageScraper struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	logger    *zap.Logger
}

// NewPageScraper creates a scraper from the resolver configuration
func NewPageScraper(config domain.ResolverConfig, logger *zap.Logger) *PageScraper {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := config.MaxPageBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	return &PageScraper{
		client:    &http.Client{Timeout: timeout},
		userAgent: config.UserAgent,
		maxBytes:  maxBytes,
		logger:    logger,
	}
}

// metaPriority lists the meta properties that name a media URL, best first
var metaPriority = []string{
	"og:video:secure_url",
	"og:video:url",
	"og:video",
	"twitter:player:stream",
}

// ResolveSource implements domain.SourceResolver
func (s *PageScraper) ResolveSource(ctx context.Context, rawURL, contentType string) (domain.Source, bool, error) {
	if !isHTML(contentType) {
		return domain.Source{URL: rawURL}, true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Source{}, false, &domain.UnexpectedStatusCodeError{Code: resp.StatusCode}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	ref, declaredType := findMedia(doc)
	if ref == "" {
		s.logger.Debug("No embedded media found", zap.String("url", rawURL))
		return domain.Source{}, false, nil
	}

	media, err := resp.Request.URL.Parse(ref)
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("bad media reference %q: %w", ref, err)
	}
	if declaredType == "" {
		declaredType = typeByExtension(media)
	}

	s.logger.Debug("Scraped media URL",
		zap.String("page", rawURL),
		zap.String("media", media.String()),
		zap.String("content_type", declaredType))
	return domain.Source{URL: media.String(), ContentType: declaredType}, true, nil
}

func isHTML(contentType string) bool {
	return contentType == domain.ContentTypeHTML || contentType == "application/xhtml+xml"
}

// findMedia walks doc and returns the best media reference with its
// declared type, if any
func findMedia(doc *html.Node) (ref, contentType string) {
	meta := make(map[string]string)
	var metaType, tagRef, tagType string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				prop := attr(n, "property")
				if prop == "" {
					prop = attr(n, "name")
				}
				content := attr(n, "content")
				if prop == "og:video:type" {
					metaType = content
				} else if content != "" {
					if _, seen := meta[prop]; !seen {
						meta[prop] = content
					}
				}
			case "video", "source", "embed":
				if src := attr(n, "src"); src != "" && tagRef == "" {
					tagRef = src
					tagType = attr(n, "type")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, prop := range metaPriority {
		if v := meta[prop]; v != "" {
			return v, cleanMediaType(metaType)
		}
	}
	return tagRef, cleanMediaType(tagType)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func cleanMediaType(t string) string {
	if t == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return mediaType
}

func typeByExtension(u *url.URL) string {
	if t := cleanMediaType(mime.TypeByExtension(path.Ext(u.Path))); t != "" {
		return t
	}
	return "application/octet-stream"
}
