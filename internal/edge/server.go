package edge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/routing"
)

// Timeouts applied per spec.md §5's "Timeouts apply to... request head
// read... idle keep-alive" and §4.6's "Hard per-request read/write
// timeouts". Request head read maps to net/http.Server's ReadHeaderTimeout;
// the idle keep-alive timeout maps to IdleTimeout.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
	writeTimeout      = 5 * time.Minute // generous: covers large proxied/streamed bodies

	// maxHeaderBytes caps request head size per spec.md §4.6 ("cap head size
	// (e.g. 16 KiB) ⇒ 431 on overflow") and §5's "no operation accumulates an
	// unbounded vector from the network". net/http answers 431 Request
	// Header Fields Too Large once this is exceeded.
	maxHeaderBytes = 16 << 10
)

// Manager owns one http.Server per listener address in the current
// RoutingTable, implementing C7 (spec.md §4.7): bind, optional TLS
// wrapping with SNI cert selection, and the connection-ceiling
// semaphore from listener.go.
type Manager struct {
	publisher *routing.Publisher
	handler   *Handler
	maxConns  int
	log       *zap.Logger
	metrics   *cbltmetrics.Registry

	mu      sync.Mutex
	servers map[string]*http.Server
	wg      sync.WaitGroup
}

func NewManager(publisher *routing.Publisher, maxConns int, log *zap.Logger, metrics *cbltmetrics.Registry) *Manager {
	h := NewHandler(publisher, log)
	h.SetMetrics(metrics)
	return &Manager{
		publisher: publisher,
		handler:   h,
		maxConns:  maxConns,
		log:       log,
		metrics:   metrics,
		servers:   make(map[string]*http.Server),
	}
}

// Start binds one listener per address in the current table and serves
// until Shutdown is called; ctx becomes the base context of every request
// and does not by itself stop the listeners. It returns once all
// listeners have bound, surfacing the first bind error (a fatal
// misconfiguration per spec.md §7).
func (m *Manager) Start(ctx context.Context) error {
	table := m.publisher.Load()
	if table == nil {
		return fmt.Errorf("edge: no routing table published")
	}

	for addr, listener := range table.Listeners {
		if err := m.startListener(ctx, addr, listener); err != nil {
			return fmt.Errorf("edge: bind %s: %w", addr, err)
		}
	}
	return nil
}

func (m *Manager) startListener(ctx context.Context, addr string, listener *routing.Listener) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	wrapped := newSemaphoreListener(ln, m.maxConns, m.metrics)

	srv := &http.Server{
		Addr:              addr,
		Handler:           addListenerAddr(m.handler, addr),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		WriteTimeout:      writeTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	tlsBlocks := tlsHostBlocks(listener)
	var serveFn func() error
	if len(tlsBlocks) > 0 {
		srv.TLSConfig = &tls.Config{
			GetCertificate: sniSelector(tlsBlocks, m.log),
		}
		serveFn = func() error { return srv.ServeTLS(wrapped, "", "") }
	} else {
		serveFn = func() error { return srv.Serve(wrapped) }
	}

	m.mu.Lock()
	m.servers[addr] = srv
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := serveFn(); err != nil && err != http.ErrServerClosed {
			if m.log != nil {
				m.log.Error("listener stopped", zap.String("addr", addr), zap.Error(err))
			}
		}
	}()

	if m.log != nil {
		m.log.Info("listener started", zap.String("addr", addr), zap.Bool("tls", len(tlsBlocks) > 0))
	}
	return nil
}

func tlsHostBlocks(l *routing.Listener) []routing.HostBlock {
	var out []routing.HostBlock
	for _, hb := range l.HostBlocks {
		if hb.HasTLS() {
			out = append(out, hb)
		}
	}
	return out
}

// sniSelector implements C7's "using SNI to pick the appropriate cert/key
// pair among blocks on that listener": loads the X.509 key pair for the
// HostBlock whose pattern matches the handshake's requested server name,
// falling back to the first TLS block (the RoutingTable's first-wins
// invariant applied to certs as well).
func sniSelector(blocks []routing.HostBlock, log *zap.Logger) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cache := make(map[string]*tls.Certificate)
	var mu sync.Mutex

	load := func(hb routing.HostBlock) (*tls.Certificate, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[hb.TLSCertPath]; ok {
			return c, nil
		}
		cert, err := tls.LoadX509KeyPair(hb.TLSCertPath, hb.TLSKeyPath)
		if err != nil {
			return nil, err
		}
		cache[hb.TLSCertPath] = &cert
		return &cert, nil
	}

	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		for _, hb := range blocks {
			if hb.MatchesHost(hello.ServerName) {
				return load(hb)
			}
		}
		if len(blocks) > 0 {
			return load(blocks[0])
		}
		return nil, fmt.Errorf("edge: no TLS certificate configured")
	}
}

// addListenerAddr stamps the listener address into each request's context
// so Handler.serve can look up the right RoutingTable entry.
func addListenerAddr(next http.Handler, addr string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withListenerAddr(r.Context(), addr)))
	})
}

// Shutdown gracefully drains all listeners, per spec.md §5's "closes all
// listeners, waits for in-flight tasks to drain (with a deadline), then
// exits".
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	servers := make([]*http.Server, 0, len(m.servers))
	for _, s := range m.servers {
		servers = append(servers, s)
	}
	m.mu.Unlock()

	var firstErr error
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}(s)
	}
	wg.Wait()
	m.wg.Wait()
	return firstErr
}
