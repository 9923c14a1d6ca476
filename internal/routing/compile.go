package routing

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/cbltfile"
	"github.com/cbltio/cblt/internal/upstream"
)

// defaultInterval/Timeout/Retries are applied when a reverse_proxy block
// omits the corresponding lb_* option (spec.md §6 grammar marks them
// optional).
const (
	defaultLBInterval = "5s"
	defaultLBTimeout  = "2s"
	defaultLBRetries  = 3
)

// poolKey identifies a pool's logical identity for reuse across reloads,
// per spec.md §4.1's "UpstreamPools with the same (listener, directive-index)
// identity and unchanged origin set reuse the existing pool object".
type poolKey struct {
	listener       string
	directiveIndex int
}

// Compile implements C1 (spec.md §4.1): turn a parsed cbltfile.Document
// into a Table plus the Pools backing its ReverseProxy directives.
// existingPools carries pools from the previous compile so unchanged ones
// are reused rather than rebuilt, preserving health state and cursor
// position across a reload.
func Compile(doc *cbltfile.Document, existingPools map[poolKey]*upstream.Pool, log *zap.Logger) (*Table, map[poolKey]*upstream.Pool, error) {
	listeners := make(map[string]*Listener)
	newPools := make(map[poolKey]*upstream.Pool)
	seenListenerHosts := make(map[string]bool)

	for _, block := range doc.Blocks {
		addr, hostPattern, err := splitListenerSpec(block.HostSpec)
		if err != nil {
			return nil, nil, fmt.Errorf("routing: block at line %d: %w", block.Line, err)
		}

		hostBlock, addr2, err := compileBlock(block, addr, hostPattern, existingPools, newPools, log)
		if err != nil {
			return nil, nil, err
		}
		addr = addr2

		key := addr + "|" + hostBlock.HostPattern
		if seenListenerHosts[key] {
			return nil, nil, fmt.Errorf("routing: duplicate host block %q on listener %q", hostBlock.HostPattern, addr)
		}
		seenListenerHosts[key] = true

		l, ok := listeners[addr]
		if !ok {
			l = &Listener{Address: addr}
			listeners[addr] = l
		}
		l.HostBlocks = append(l.HostBlocks, *hostBlock)
	}

	for _, l := range listeners {
		sortHostBlocksBySpecificity(l.HostBlocks)
	}

	return &Table{Listeners: listeners}, newPools, nil
}

// sortHostBlocksBySpecificity enforces spec.md §4.1's "exact match first,
// then *:PORT, then *" precedence regardless of declaration order, via a
// stable sort that preserves declaration order as the tie-break within a
// tier (the only ordering §4.2 actually specifies).
func sortHostBlocksBySpecificity(blocks []HostBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		return hostPatternSpecificity(blocks[i].HostPattern) < hostPatternSpecificity(blocks[j].HostPattern)
	})
}

func hostPatternSpecificity(pattern string) int {
	switch {
	case pattern == "*":
		return 2
	case strings.HasPrefix(pattern, "*:"):
		return 1
	default:
		return 0
	}
}

// splitListenerSpec implements spec.md §4.1's listener-address rules:
// "*:PORT" binds all interfaces on PORT; "HOST:PORT" binds the resolved
// address; "HOST" alone defaults to port 80 (443 is only implied once we
// know the block carries TLS, resolved in compileBlock). Grounded in
// original_source/src/main.rs's ParsedHost::from_str.
func splitListenerSpec(spec string) (addr, hostPattern string, err error) {
	if spec == "*" {
		return "", "*", nil // port resolved once we see (or don't see) tls
	}
	if i := strings.LastIndexByte(spec, ':'); i >= 0 {
		host, port := spec[:i], spec[i+1:]
		if _, perr := strconv.Atoi(port); perr == nil {
			if host == "*" || host == "" {
				return "0.0.0.0:" + port, "*:" + port, nil
			}
			return host + ":" + port, host, nil
		}
	}
	return "", spec, nil // port resolved once we see (or don't see) tls
}

func compileBlock(block cbltfile.Block, addr, hostPattern string, existingPools, newPools map[poolKey]*upstream.Pool, log *zap.Logger) (*HostBlock, string, error) {
	hb := &HostBlock{HostPattern: hostPattern}

	for _, d := range block.Directives {
		if d.Kind == cbltfile.DirTLS {
			hb.TLSCertPath = d.TLSCertPath
			hb.TLSKeyPath = d.TLSKeyPath
		}
	}
	if addr == "" {
		port := "80"
		if hb.HasTLS() {
			port = "443"
		}
		if hostPattern == "*" {
			addr = "0.0.0.0:" + port
		} else {
			addr = hostPattern + ":" + port
		}
	}

	for i, d := range block.Directives {
		directive, err := compileDirective(d, addr, i, existingPools, newPools, log)
		if err != nil {
			return nil, "", fmt.Errorf("routing: block %q: %w", block.HostSpec, err)
		}
		if directive == nil {
			continue // tls directive: consumed above, carries no routing.Directive
		}
		hb.Directives = append(hb.Directives, *directive)
	}

	return hb, addr, nil
}

func compileDirective(d cbltfile.AnyDirective, addr string, index int, existingPools, newPools map[poolKey]*upstream.Pool, log *zap.Logger) (*Directive, error) {
	switch d.Kind {
	case cbltfile.DirRoot:
		return &Directive{
			Kind:           DirectiveRoot,
			PathPattern:    d.RootPattern,
			FilesystemRoot: d.RootFSPath,
			FallbackPath:   d.RootFallback,
		}, nil

	case cbltfile.DirFileServer:
		return &Directive{Kind: DirectiveFileServer}, nil

	case cbltfile.DirReverseProxy:
		pool, err := compilePool(d, addr, index, existingPools, newPools, log)
		if err != nil {
			return nil, err
		}
		return &Directive{Kind: DirectiveReverseProxy, PathPattern: d.ProxyPattern, Upstream: pool}, nil

	case cbltfile.DirRedirect:
		return &Directive{Kind: DirectiveRedirect, Target: d.RedirectTarget}, nil

	case cbltfile.DirTLS:
		return nil, nil

	default:
		return nil, fmt.Errorf("unrecognized directive kind %d", d.Kind)
	}
}

func compilePool(d cbltfile.AnyDirective, addr string, index int, existingPools, newPools map[poolKey]*upstream.Pool, log *zap.Logger) (*upstream.Pool, error) {
	settings, err := resolveLBSettings(d)
	if err != nil {
		return nil, err
	}

	origins := make([]*upstream.Origin, 0, len(d.Origins))
	for _, raw := range d.Origins {
		o, err := parseOrigin(raw)
		if err != nil {
			return nil, err
		}
		origins = append(origins, o)
	}

	key := poolKey{listener: addr, directiveIndex: index}
	if existing, ok := existingPools[key]; ok && originsUnchanged(existing, origins) && existing.Settings == settings {
		newPools[key] = existing
		return existing, nil
	}

	name := fmt.Sprintf("%s#%d:%s", addr, index, d.ProxyPattern)
	pool := upstream.NewPool(name, origins, settings, log)
	newPools[key] = pool
	return pool, nil
}

func originsUnchanged(existing *upstream.Pool, fresh []*upstream.Origin) bool {
	old := existing.Origins()
	if len(old) != len(fresh) {
		return false
	}
	for i := range old {
		if old[i].Scheme != fresh[i].Scheme || old[i].Host != fresh[i].Host || old[i].Port != fresh[i].Port {
			return false
		}
	}
	return true
}

func resolveLBSettings(d cbltfile.AnyDirective) (upstream.Settings, error) {
	policy := upstream.PolicyRoundRobin
	switch d.LBPolicy {
	case "", "round_robin":
		policy = upstream.PolicyRoundRobin
	case "ip_hash":
		policy = upstream.PolicyIPHash
	default:
		return upstream.Settings{}, fmt.Errorf("unknown lb_policy %q", d.LBPolicy)
	}

	interval, err := parseDurationOrDefault(d.LBInterval, defaultLBInterval)
	if err != nil {
		return upstream.Settings{}, err
	}
	timeout, err := parseDurationOrDefault(d.LBTimeout, defaultLBTimeout)
	if err != nil {
		return upstream.Settings{}, err
	}
	retries := d.LBRetries
	if retries == 0 {
		retries = defaultLBRetries
	}

	return upstream.Settings{
		Policy:        policy,
		Interval:      interval,
		ProbeTimeout:  timeout,
		RetriesPerReq: retries,
	}, nil
}

func parseDurationOrDefault(s, def string) (time.Duration, error) {
	if s == "" {
		s = def
	}
	return cbltfile.ParseDuration(s)
}

func parseOrigin(raw string) (*upstream.Origin, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid origin URL %q", raw)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return &upstream.Origin{Scheme: scheme, Host: host, Port: port}, nil
}
