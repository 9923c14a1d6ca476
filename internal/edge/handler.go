package edge

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http/httpguts"

	"github.com/cbltio/cblt/internal/cblterr"
	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/fileserver"
	"github.com/cbltio/cblt/internal/reverseproxy"
	"github.com/cbltio/cblt/internal/routing"
)

// Handler implements C6's request dispatch (spec.md §4.6): invoke the
// matcher, dispatch to file responder / reverse proxy / redirect, and
// fall through to 404. It is the http.Handler installed on every listener's
// http.Server, so keep-alive and framing are handled by net/http and only
// the directive-dispatch semantics live here.
type Handler struct {
	publisher *routing.Publisher
	proxies   *proxyCache
	log       *zap.Logger
	metrics   *cbltmetrics.Registry
}

func NewHandler(publisher *routing.Publisher, log *zap.Logger) *Handler {
	return &Handler{publisher: publisher, proxies: newProxyCache(log), log: log}
}

// SetMetrics attaches the Prometheus collectors requests are reported to.
// Left unset (nil), the handler runs metrics-free, which is how this
// package's tests exercise it.
func (h *Handler) SetMetrics(m *cbltmetrics.Registry) {
	h.metrics = m
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status, directive := h.serve(w, r)
	dur := time.Since(start)
	h.accessLog(r, status, dur)
	if h.metrics != nil {
		h.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
		h.metrics.RequestDuration.WithLabelValues(directive).Observe(dur.Seconds())
	}
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) (int, string) {
	w.Header().Set("Server", "Cblt")

	if !httpguts.ValidHostHeader(r.Host) {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return http.StatusBadRequest, "unmatched"
	}

	table := h.publisher.Load()
	if table == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return http.StatusServiceUnavailable, "unmatched"
	}

	listenerAddr := listenerAddrFrom(r.Context())
	match, ok := table.Match(listenerAddr, hostOnly(r.Host), r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return http.StatusNotFound, "unmatched"
	}

	switch match.Directive.Kind {
	case routing.DirectiveFileServer:
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		err := fileserver.Serve(rec, r, match.RootPath, rootFallback(match), h.log)
		return h.writeFileServerResult(w, rec, err), "file_server"

	case routing.DirectiveReverseProxy:
		proxy := h.proxies.get(match.Directive.Upstream, h.log)
		proxy.SetMetrics(h.metrics)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		proxy.ServeHTTP(rec, r)
		return rec.status, "reverse_proxy"

	case routing.DirectiveRedirect:
		return h.serveRedirect(w, r, match.Directive.Target), "redirect"

	default:
		http.NotFound(w, r)
		return http.StatusNotFound, "unmatched"
	}
}

// rootFallback finds the fallback path belonging to the Root that backs
// this FileServer match. Table.Match only threads RootPath through, so we
// look the fallback up from the HostBlock directly for the same Root.
func rootFallback(match routing.MatchResult) string {
	for i := range match.HostBlock.Directives {
		d := &match.HostBlock.Directives[i]
		if d.Kind == routing.DirectiveRoot && d.FilesystemRoot == match.RootPath {
			return d.FallbackPath
		}
	}
	return ""
}

func (h *Handler) writeFileServerResult(w http.ResponseWriter, rec *statusRecorder, err error) int {
	if err == nil {
		return rec.status
	}
	if rec.wroteHeader {
		// The status line (and possibly some body bytes) already went out
		// before the error happened, e.g. a client disconnect or read error
		// partway through streaming a file. spec.md §7: "errors discovered
		// mid-response... close the connection without trying to 'fix' the
		// response" — calling http.Error here would write a second status
		// line (a no-op) followed by an error body appended after whatever
		// was already streamed, corrupting the response.
		return rec.status
	}
	status := cblterr.StatusFor(err)
	http.Error(w, http.StatusText(status), status)
	return status
}

// serveRedirect implements the Redirect directive (spec.md §3/§4): expand
// {uri} and {host} placeholders and answer 301, per spec.md §8 scenario 5
// (original_source/src/main.rs uses StatusCode::FOUND, but the spec's
// literal end-to-end scenario pins this to 301 Moved Permanently).
func (h *Handler) serveRedirect(w http.ResponseWriter, r *http.Request, template string) int {
	target := strings.ReplaceAll(template, "{uri}", r.URL.RequestURI())
	target = strings.ReplaceAll(target, "{host}", hostOnly(r.Host))
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusMovedPermanently)
	return http.StatusMovedPermanently
}

func hostOnly(hostHeader string) string {
	host, _, err := net.SplitHostPort(hostHeader)
	if err != nil {
		return hostHeader
	}
	return host
}

func (h *Handler) accessLog(r *http.Request, status int, dur time.Duration) {
	if h.log == nil {
		return
	}
	h.log.Info("request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", dur),
		zap.String("remote", r.RemoteAddr),
	)
}

// statusRecorder captures the status code written and whether a response
// has already started, for access logging and so writeFileServerResult
// can tell whether it's still safe to write an error response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}
