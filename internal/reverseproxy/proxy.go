// Package reverseproxy implements C5 (spec.md §4.5): picks an origin from
// an upstream.Pool, forwards the request, streams the response back
// verbatim, retries before the first response byte, and upgrades
// WebSocket connections into a bidirectional byte-pump.
//
// Grounded in the teacher's internal/proxy/reverse_proxy.go (Director,
// hop-by-hop stripping, X-Forwarded-* headers, buffer pool) built on
// net/http/httputil.ReverseProxy, and internal/proxy/websocket.go for the
// hijack-and-pump upgrade path.
package reverseproxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/cblterr"
	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/upstream"
)

// hopByHopHeaders are stripped before forwarding in both directions, per
// spec.md §4.5 step 3. Upgrade is intentionally excluded here; it is
// handled specially by the WebSocket path.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// bufferPool adapts httputil.ReverseProxy's BufferPool interface onto a
// sync.Pool, same idiom as the teacher's internal/proxy/reverse_proxy.go.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{pool: sync.Pool{New: func() any { return make([]byte, 32*1024) }}}
}

func (b *bufferPool) Get() []byte  { return b.pool.Get().([]byte) }
func (b *bufferPool) Put(p []byte) { b.pool.Put(p) }

// Proxy forwards requests matched to a ReverseProxy directive against a
// single upstream.Pool.
type Proxy struct {
	pool    *upstream.Pool
	log     *zap.Logger
	metrics *cbltmetrics.Registry

	rp *httputil.ReverseProxy
}

// SetMetrics attaches the Prometheus collector retry attempts are reported
// to. Left unset (nil), retries go unreported, which is how this package's
// tests exercise the proxy.
func (p *Proxy) SetMetrics(m *cbltmetrics.Registry) {
	p.metrics = m
}

func New(pool *upstream.Pool, log *zap.Logger) *Proxy {
	p := &Proxy{pool: pool, log: log}
	p.rp = &httputil.ReverseProxy{
		Director:       p.director,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.errorHandler,
		BufferPool:     newBufferPool(),
	}
	return p
}

type pickedOriginKey struct{}

func withOrigin(ctx context.Context, o *upstream.Origin) context.Context {
	return context.WithValue(ctx, pickedOriginKey{}, o)
}

func originFrom(ctx context.Context) (*upstream.Origin, bool) {
	o, ok := ctx.Value(pickedOriginKey{}).(*upstream.Origin)
	return o, ok
}

func (p *Proxy) director(r *http.Request) {
	origin, ok := originFrom(r.Context())
	if !ok {
		return
	}
	r.URL.Scheme = origin.Scheme
	r.URL.Host = origin.Authority()
	r.Host = origin.Authority()

	stripHopByHop(r.Header)
	r.Header.Set("X-Forwarded-Proto", forwardedProto(r))
	appendForwardedFor(r)
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func appendForwardedFor(r *http.Request) {
	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		r.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		r.Header.Set("X-Forwarded-For", clientIP)
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	stripHopByHop(resp.Header)
	return nil
}

// proxyAttemptResult (stored under attemptResultKey) carries whether an
// attempt failed back out of httputil.ReverseProxy's ErrorHandler callback,
// so ServeHTTP's retry loop can report the picked origin as failed.
type proxyAttemptResult struct {
	failed bool
}

func (p *Proxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	// Real status is decided by ServeHTTP's retry loop; this only fires
	// when httputil.ReverseProxy itself can't complete the round trip
	// after Director/RoundTrip, which ServeHTTP detects via the context.
	if result, ok := r.Context().Value(attemptResultKey{}).(*proxyAttemptResult); ok {
		result.failed = true
		return
	}
	w.WriteHeader(http.StatusBadGateway)
}

type attemptResultKey struct{}

// ServeHTTP implements spec.md §4.5: pick an origin, forward, and on
// connection failure before any response bytes reach the client, retry
// with the next pick up to Settings.RetriesPerReq total attempts.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		p.serveWebSocket(w, r)
		return
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	retries := p.pool.Settings.RetriesPerReq
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		origin, err := p.pool.Pick(r.Context(), clientIP)
		if err != nil {
			lastErr = err
			break
		}

		result := &proxyAttemptResult{}
		ctx := context.WithValue(withOrigin(r.Context(), origin), attemptResultKey{}, result)
		req := r.Clone(ctx)

		rec := newResponseRecorder(w)
		p.rp.ServeHTTP(rec, req)

		if !result.failed {
			p.pool.ReportSuccess(origin)
			return
		}
		p.pool.ReportFailure(origin)
		if rec.wroteHeader {
			// Bytes may already be on the wire; spec.md §4.5 step 5
			// forbids retrying once any response has been forwarded.
			return
		}
		if attempt+1 < retries && p.metrics != nil {
			p.metrics.ProxyRetries.Inc()
		}
	}

	if lastErr != nil {
		// upstream.Pick's only failure is ErrExhausted, a plain sentinel
		// (upstream has no cblterr dependency); spec.md §4.5 step 1 and §7
		// both pin pool exhaustion to 502, same as the post-loop fallback.
		status := http.StatusBadGateway
		if e := (*cblterr.Error)(nil); errors.As(lastErr, &e) {
			status = cblterr.StatusFor(lastErr)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// responseRecorder tracks whether the wrapped ResponseWriter has started
// writing, so the retry loop in ServeHTTP can honor spec.md §4.5 step 5's
// "never retry after response bytes have been forwarded".
type responseRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w}
}

func (r *responseRecorder) WriteHeader(status int) {
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
