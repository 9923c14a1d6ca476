package edge

import (
	"testing"
	"time"

	"github.com/cbltio/cblt/internal/upstream"
)

func TestProxyCacheMemoizesPerPool(t *testing.T) {
	cache := newProxyCache(nil)
	pool := upstream.NewPool("test", nil, upstream.Settings{ProbeTimeout: time.Second, RetriesPerReq: 1}, nil)

	p1 := cache.get(pool, nil)
	p2 := cache.get(pool, nil)
	if p1 != p2 {
		t.Error("expected the same *reverseproxy.Proxy to be returned for the same pool")
	}

	otherPool := upstream.NewPool("other", nil, upstream.Settings{ProbeTimeout: time.Second, RetriesPerReq: 1}, nil)
	p3 := cache.get(otherPool, nil)
	if p3 == p1 {
		t.Error("expected a distinct Proxy for a distinct pool")
	}
}
