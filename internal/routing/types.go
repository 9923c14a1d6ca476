// Package routing holds the RoutingTable data model (spec.md §3): the
// immutable snapshot of HostBlocks keyed by listener address, the Directive
// tagged variants, and the atomic publish/swap mechanism that lets readers
// on the hot path dereference a table once per request without locking.
//
// Grounded in the teacher's internal/router package for the "compile then
// atomically swap a routing structure" shape, generalized to cblt's
// HostBlock/Directive model which has no counterpart in the teacher (the
// teacher routes on a flat rule table, not per-listener host blocks).
package routing

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/cbltio/cblt/internal/upstream"
)

// DirectiveKind tags the variant carried by a Directive.
type DirectiveKind int

const (
	DirectiveRoot DirectiveKind = iota
	DirectiveFileServer
	DirectiveReverseProxy
	DirectiveRedirect
)

// Directive is the tagged-variant type from spec.md §3. Only the fields
// relevant to Kind are populated.
type Directive struct {
	Kind DirectiveKind

	// DirectiveRoot
	PathPattern     string
	FilesystemRoot  string
	FallbackPath    string // optional, empty means none

	// DirectiveReverseProxy (PathPattern above is reused)
	Upstream *upstream.Pool

	// DirectiveRedirect
	Target string
}

// HostBlock is one `"host" { ... }` block (spec.md §3).
type HostBlock struct {
	HostPattern string // exact, "*:PORT", or "*"
	Directives  []Directive

	TLSCertPath string // empty if this block is plaintext
	TLSKeyPath  string
}

// HasTLS reports whether this block carries a cert/key pair.
func (h *HostBlock) HasTLS() bool {
	return h.TLSCertPath != "" && h.TLSKeyPath != ""
}

// MatchesHost implements the exact -> *:PORT -> * precedence from spec.md
// §4.1/4.2. The caller is expected to have already sorted candidate blocks
// by specificity; MatchesHost itself only tests one pattern against one
// header value.
func (h *HostBlock) MatchesHost(hostHeader string) bool {
	return hostPatternMatches(h.HostPattern, hostHeader)
}

func hostPatternMatches(pattern, host string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*:") {
		wantPort := pattern[1:] // ":PORT"
		// A host without a port (the handler strips it) has nothing to
		// compare; the request already arrived on this block's listener,
		// which is bound to PORT.
		if _, _, err := net.SplitHostPort(host); err != nil {
			return true
		}
		return strings.HasSuffix(host, wantPort)
	}
	return pattern == host
}

// MatchesPath implements the trailing-`*`-wildcard path pattern rule from
// spec.md §4.1 ("`*` alone matches everything").
func MatchesPath(pattern, path string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, pattern[:len(pattern)-1])
	}
	return pattern == path
}

// Listener is one bound address with its ordered HostBlocks. Compile orders
// them exact, then "*:PORT", then "*", keeping declaration order within each
// tier; Match takes the first block whose pattern matches.
type Listener struct {
	Address    string // resolved bind address, e.g. "0.0.0.0:8080"
	HostBlocks []HostBlock
}

// Table is the immutable RoutingTable snapshot (spec.md §3). Once
// published, a Table and everything it transitively points to (HostBlocks,
// Directives) is never mutated; reconfiguration always builds a new Table.
type Table struct {
	Listeners map[string]*Listener
}

// host/path match result, returned by Match.
type MatchResult struct {
	HostBlock *HostBlock
	Directive *Directive
	RootPath  string // set from the last matching Root directive, if any
}

// Match implements C2 (spec.md §4.2): locate the HostBlocks for
// listenerAddr, pick the first whose pattern matches hostHeader, then scan
// its directives for the first whose path pattern matches path. Root
// directives update RootPath as context but never terminate the scan.
func (t *Table) Match(listenerAddr, hostHeader, path string) (MatchResult, bool) {
	listener, ok := t.Listeners[listenerAddr]
	if !ok {
		return MatchResult{}, false
	}

	for i := range listener.HostBlocks {
		block := &listener.HostBlocks[i]
		if !block.MatchesHost(hostHeader) {
			continue
		}

		var rootPath string
		for j := range block.Directives {
			d := &block.Directives[j]
			switch d.Kind {
			case DirectiveRoot:
				if MatchesPath(d.PathPattern, path) {
					rootPath = d.FilesystemRoot
				}
			case DirectiveFileServer, DirectiveReverseProxy:
				if d.Kind == DirectiveFileServer || MatchesPath(d.PathPattern, path) {
					return MatchResult{HostBlock: block, Directive: d, RootPath: rootPath}, true
				}
			case DirectiveRedirect:
				return MatchResult{HostBlock: block, Directive: d, RootPath: rootPath}, true
			}
		}
		return MatchResult{}, false
	}
	return MatchResult{}, false
}

// Publisher holds an atomically-swappable *Table, implementing the
// "atomic pointer swap, readers dereference once" publication model from
// spec.md §5.
type Publisher struct {
	ptr atomic.Pointer[Table]
}

func NewPublisher(initial *Table) *Publisher {
	p := &Publisher{}
	p.ptr.Store(initial)
	return p
}

// Load returns the currently published Table. Callers should call this
// once per request and hold the returned reference for the request's
// duration, per spec.md §5.
func (p *Publisher) Load() *Table {
	return p.ptr.Load()
}

// Publish atomically swaps in a new Table. In-flight requests that already
// loaded the previous Table keep using it; only new Load calls observe the
// new one.
func (p *Publisher) Publish(t *Table) {
	p.ptr.Store(t)
}
