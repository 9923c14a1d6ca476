package edge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/reverseproxy"
	"github.com/cbltio/cblt/internal/upstream"
)

// proxyCache memoizes one reverseproxy.Proxy per upstream.Pool so the
// httputil.ReverseProxy and its buffer pool aren't rebuilt on every
// request. Pool identity is stable across reconfiguration when origins
// are unchanged (routing.Compile's reuse rule), so the cache stays warm
// across reloads for pools that didn't change.
type proxyCache struct {
	mu    sync.Mutex
	byPtr map[*upstream.Pool]*reverseproxy.Proxy
	log   *zap.Logger
}

func newProxyCache(log *zap.Logger) *proxyCache {
	return &proxyCache{byPtr: make(map[*upstream.Pool]*reverseproxy.Proxy), log: log}
}

func (c *proxyCache) get(pool *upstream.Pool, log *zap.Logger) *reverseproxy.Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byPtr[pool]; ok {
		return p
	}
	p := reverseproxy.New(pool, log)
	c.byPtr[pool] = p
	return p
}
