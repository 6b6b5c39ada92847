package client

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// cachingTransport caches public responses that carry Cache-Control headers,
// such as the JWKS document. Requests with credentials go straight to next,
// so one user's answers are never served to another.
type cachingTransport struct {
	cache *httpcache.Transport
	next  http.RoundTripper
}

// newCachingTransport keeps the cache in memory when cacheDir is empty;
// otherwise it persists across restarts.
func newCachingTransport(cacheDir string, next http.RoundTripper) *cachingTransport {
	var cache httpcache.Cache
	if cacheDir == "" {
		cache = httpcache.NewMemoryCache()
	} else {
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = next

	return &cachingTransport{cache: transport, next: next}
}

func (t *cachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" || req.Header.Get("Cookie") != "" {
		return t.next.RoundTrip(req)
	}
	return t.cache.RoundTrip(req)
}
