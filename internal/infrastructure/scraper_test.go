package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/remotedl-go/internal/domain"
)

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestScraper() *PageScraper {
	return NewPageScraper(domain.ResolverConfig{}, zap.NewNop())
}

func TestPageScraper_PassesThroughMedia(t *testing.T) {
	source, found, err := newTestScraper().ResolveSource(context.Background(), "http://example.com/a.mp4", "video/mp4")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "http://example.com/a.mp4", source.URL)
	assert.Empty(t, source.ContentType)
}

func TestPageScraper_PrefersOpenGraphVideo(t *testing.T) {
	server := servePage(t, `<html><head>
		<meta property="og:video" content="http://cdn.example.com/clip.webm">
		<meta property="og:video:type" content="video/webm">
	</head><body><video src="/fallback.mp4"></video></body></html>`)

	source, found, err := newTestScraper().ResolveSource(context.Background(), server.URL+"/watch", domain.ContentTypeHTML)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "http://cdn.example.com/clip.webm", source.URL)
	assert.Equal(t, "video/webm", source.ContentType)
}

func TestPageScraper_ResolvesRelativeSourceTag(t *testing.T) {
	server := servePage(t, `<html><body>
		<video><source src="media/clip.mp4" type="video/mp4; codecs=avc1"></video>
	</body></html>`)

	source, found, err := newTestScraper().ResolveSource(context.Background(), server.URL+"/shows/page.html", domain.ContentTypeHTML)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, server.URL+"/shows/media/clip.mp4", source.URL)
	assert.Equal(t, "video/mp4", source.ContentType)
}

func TestPageScraper_GuessesTypeFromExtension(t *testing.T) {
	server := servePage(t, `<html><body><embed src="/a/b/episode.unknownext"></body></html>`)

	source, found, err := newTestScraper().ResolveSource(context.Background(), server.URL, domain.ContentTypeHTML)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, server.URL+"/a/b/episode.unknownext", source.URL)
	assert.Equal(t, "application/octet-stream", source.ContentType)
}

func TestPageScraper_NoMedia(t *testing.T) {
	server := servePage(t, `<html><body><p>Nothing to see</p></body></html>`)

	_, found, err := newTestScraper().ResolveSource(context.Background(), server.URL, domain.ContentTypeHTML)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPageScraper_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, found, err := newTestScraper().ResolveSource(context.Background(), server.URL, domain.ContentTypeHTML)
	assert.False(t, found)
	var statusErr *domain.UnexpectedStatusCodeError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}
