// Package edge wires C6 (connection loop) and C7 (listener/acceptor) from
// spec.md §4.6/§4.7 on top of net/http.Server, matching the teacher's
// internal/proxy/server.go choice of building the HTTP transport layer on
// the standard library rather than a hand-rolled socket/parser loop (the
// approach original_source/src/server.rs takes, but not idiomatic Go).
package edge

import (
	"context"
	"net"

	"github.com/cbltio/cblt/internal/cbltmetrics"
)

// semaphoreListener wraps a net.Listener so that Accept blocks until a
// slot is available on sem, implementing spec.md §4.7's "global
// concurrent-connection ceiling... when at capacity, new accepts are
// delayed (backpressure) rather than refused". The slot is released when
// the accepted connection is closed.
type semaphoreListener struct {
	net.Listener
	sem     chan struct{}
	metrics *cbltmetrics.Registry
}

func newSemaphoreListener(l net.Listener, maxConns int, metrics *cbltmetrics.Registry) *semaphoreListener {
	return &semaphoreListener{Listener: l, sem: make(chan struct{}, maxConns), metrics: metrics}
}

func (sl *semaphoreListener) Accept() (net.Conn, error) {
	sl.sem <- struct{}{} // blocks when at capacity: backpressure, not rejection
	conn, err := sl.Listener.Accept()
	if err != nil {
		<-sl.sem
		return nil, err
	}
	if sl.metrics != nil {
		sl.metrics.ConnectionsInFlight.Inc()
	}
	metrics := sl.metrics
	return &releasingConn{Conn: conn, release: func() {
		<-sl.sem
		if metrics != nil {
			metrics.ConnectionsInFlight.Dec()
		}
	}}, nil
}

// releasingConn releases its semaphore slot exactly once, on the first
// Close call.
type releasingConn struct {
	net.Conn
	release func()
	done    bool
}

func (c *releasingConn) Close() error {
	err := c.Conn.Close()
	if !c.done {
		c.done = true
		c.release()
	}
	return err
}

// listenerAddrKey carries the listener address into request context so handler
// code can look up the RoutingTable entry for C2's match() without
// threading it through every call.
type listenerAddrKey struct{}

func withListenerAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, listenerAddrKey{}, addr)
}

func listenerAddrFrom(ctx context.Context) string {
	addr, _ := ctx.Value(listenerAddrKey{}).(string)
	return addr
}
