package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLFetchesHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><main>hello</main></body></html>"))
	}))
	defer srv.Close()

	result, err := URL(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.HTML, "hello")
	assert.Contains(t, result.ContentType, "text/html")
}

func TestURLInvalid(t *testing.T) {
	_, err := URL(context.Background(), "not-a-url", nil)
	require.Error(t, err)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "not-a-url", fetchErr.URL)
}

func TestURLNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	result, err := URL(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestExtractMainText(t *testing.T) {
	html := `<html><body>
		<nav>menu</nav>
		<main><h1>Title</h1><p>Body   text here.</p></main>
		<footer>legal</footer>
	</body></html>`

	text, err := ExtractMainText(html, DefaultTextSelectors())
	require.NoError(t, err)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Body   text here.")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "legal")
}

func TestExtractMainTextFallsBackToBody(t *testing.T) {
	html := `<html><body><div>just a div</div></body></html>`
	text, err := ExtractMainText(html, DefaultTextSelectors())
	require.NoError(t, err)
	assert.Contains(t, text, "just a div")
}

func TestShouldUseBrowser(t *testing.T) {
	assert.True(t, ShouldUseBrowser("short"))
	long := make([]byte, MinContentLength)
	for i := range long {
		long[i] = 'x'
	}
	assert.False(t, ShouldUseBrowser(string(long)))
}

func TestCachedFetcherReusesFreshEntries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<html><body>cached</body></html>"))
	}))
	defer srv.Close()

	fetcher := NewCachedFetcher(nil)

	first, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.HTML, second.HTML)
	assert.Equal(t, int32(1), hits.Load())
}

func richHTML() string {
	body := make([]byte, MinContentLength*2)
	for i := range body {
		body[i] = 'x'
	}
	return "<html><body><main>" + string(body) + "</main></body></html>"
}

func TestCachedFetcherBrowserFallbackOnThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="app"></div></body></html>`))
	}))
	defer srv.Close()

	rendered := richHTML()
	var browsed atomic.Int32
	fetcher := NewCachedFetcher(&CachedFetcherConfig{BrowserFallback: true})
	fetcher.browse = func(_ context.Context, url string, _ time.Duration) (string, error) {
		browsed.Add(1)
		assert.Equal(t, srv.URL, url)
		return rendered, nil
	}

	result, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), browsed.Load())
	assert.Equal(t, rendered, result.HTML)

	// The rendered HTML is what gets cached.
	cached, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Equal(t, rendered, cached.HTML)
	assert.Equal(t, int32(1), browsed.Load())
}

func TestCachedFetcherSkipsBrowserForRichPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(richHTML()))
	}))
	defer srv.Close()

	var browsed atomic.Int32
	fetcher := NewCachedFetcher(&CachedFetcherConfig{BrowserFallback: true})
	fetcher.browse = func(_ context.Context, _ string, _ time.Duration) (string, error) {
		browsed.Add(1)
		return "", nil
	}

	result, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Zero(t, browsed.Load())
	assert.Contains(t, result.HTML, "xxx")
}

func TestCachedFetcherBrowserFailureKeepsHTTPResult(t *testing.T) {
	thin := `<html><body><div id="app">spa</div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(thin))
	}))
	defer srv.Close()

	fetcher := NewCachedFetcher(&CachedFetcherConfig{BrowserFallback: true})
	fetcher.browse = func(_ context.Context, _ string, _ time.Duration) (string, error) {
		return "", assert.AnError
	}

	result, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, thin, result.HTML)
}

func TestCachedFetcherExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	fetcher := NewCachedFetcher(&CachedFetcherConfig{CacheTTL: time.Minute})
	current := time.Now()
	fetcher.now = func() time.Time { return current }

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	result, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, result.FromCache)
	assert.Equal(t, int32(2), hits.Load())
}
