// Package fetch - cached.go wraps URL fetching with a process-local TTL cache
// so repeated research queries within a run do not refetch the same pages.
package fetch

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a fetched page is reused.
const DefaultCacheTTL = 15 * time.Minute

// CachedFetcher wraps URL fetching with in-memory caching and an optional
// headless-browser fallback for JavaScript-rendered pages.
type CachedFetcher struct {
	mu             sync.Mutex
	entries        map[string]cacheEntry
	options        *Options
	cacheTTL       time.Duration
	skipCache      bool
	browserTimeout time.Duration
	now            func() time.Time
	// browse renders a page in a headless browser. Nil disables the
	// fallback; tests substitute a stub.
	browse func(ctx context.Context, url string, timeout time.Duration) (string, error)
}

type cacheEntry struct {
	result    *Result
	fetchedAt time.Time
}

// CachedFetcherConfig holds configuration for the cached fetcher.
type CachedFetcherConfig struct {
	CacheTTL  time.Duration
	SkipCache bool
	Options   *Options
	// BrowserFallback re-fetches pages whose plain-HTTP body yields too
	// little extractable text through a headless browser.
	BrowserFallback bool
	BrowserTimeout  time.Duration
}

// NewCachedFetcher creates a new cached fetcher.
func NewCachedFetcher(config *CachedFetcherConfig) *CachedFetcher {
	if config == nil {
		config = &CachedFetcherConfig{}
	}
	if config.Options == nil {
		config.Options = DefaultOptions()
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}
	if config.BrowserTimeout == 0 {
		config.BrowserTimeout = DefaultBrowserTimeout
	}
	f := &CachedFetcher{
		entries:        make(map[string]cacheEntry),
		options:        config.Options,
		cacheTTL:       config.CacheTTL,
		skipCache:      config.SkipCache,
		browserTimeout: config.BrowserTimeout,
		now:            time.Now,
	}
	if config.BrowserFallback {
		f.browse = WithBrowser
	}
	return f
}

// CachedResult extends Result with cache metadata.
type CachedResult struct {
	*Result
	FromCache bool
}

// Fetch retrieves a URL, returning the cached copy when it is still fresh.
func (f *CachedFetcher) Fetch(ctx context.Context, urlStr string) (*CachedResult, error) {
	if !f.skipCache {
		if cached, ok := f.lookup(urlStr); ok {
			return &CachedResult{Result: cached, FromCache: true}, nil
		}
	}

	result, err := URL(ctx, urlStr, f.options)
	if err != nil {
		return nil, err
	}
	f.maybeRenderInBrowser(ctx, urlStr, result)

	f.store(urlStr, result)
	return &CachedResult{Result: result}, nil
}

// maybeRenderInBrowser swaps in browser-rendered HTML when the plain fetch
// looks like an unrendered JavaScript page. Render failures keep the HTTP
// result; the fallback only ever improves the content.
func (f *CachedFetcher) maybeRenderInBrowser(ctx context.Context, urlStr string, result *Result) {
	if f.browse == nil {
		return
	}
	text, err := ExtractMainText(result.HTML, DefaultTextSelectors())
	if err != nil || !ShouldUseBrowser(text) {
		return
	}
	if html, err := f.browse(ctx, urlStr, f.browserTimeout); err == nil {
		result.HTML = html
	}
}

func (f *CachedFetcher) lookup(urlStr string) (*Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[urlStr]
	if !ok || f.now().Sub(entry.fetchedAt) > f.cacheTTL {
		return nil, false
	}
	return entry.result, true
}

func (f *CachedFetcher) store(urlStr string, result *Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[urlStr] = cacheEntry{result: result, fetchedAt: f.now()}
}
