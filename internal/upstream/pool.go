// Package upstream implements C4 (spec.md §4.4): the per-proxy-directive
// pool of Origins, its round-robin/ip-hash selection policies, and the
// reactive (probe-on-demand) health check discipline.
//
// Grounded in the teacher's internal/loadbalancer (Manager/RoundRobinBalancer
// shape: a per-upstream state struct with an atomic cursor and a slice of
// targets) but the health-check triggering model is rewritten: the teacher's
// internal/health.ActiveHealthChecker runs an always-on ticker per upstream,
// whereas spec.md §4.4 requires probes fired only when a pick() call finds
// no healthy origin, deduped per-origin and throttled by `interval`. That
// throttle is implemented with golang.org/x/time/rate, promoting an
// indirect teacher dependency to direct use (see DESIGN.md).
package upstream

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cbltio/cblt/internal/cbltmetrics"
)

// Policy selects how Pick chooses among healthy origins.
type Policy int

const (
	PolicyRoundRobin Policy = iota
	PolicyIPHash
)

// Settings mirrors spec.md §3's LbSettings.
type Settings struct {
	Policy         Policy
	Interval       time.Duration // minimum time between re-probes of the same origin
	ProbeTimeout   time.Duration
	RetriesPerReq  int // consecutive failures before an origin is marked unhealthy
}

// Origin mirrors spec.md §3's Origin record plus the bookkeeping Pool
// needs to dedupe in-flight probes.
type Origin struct {
	Scheme string
	Host   string
	Port   string

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastProbeAt         time.Time
	probing             bool

	limiter *rate.Limiter
}

// Authority returns "host:port" for building request URLs.
func (o *Origin) Authority() string {
	return o.Host + ":" + o.Port
}

func (o *Origin) Healthy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.healthy
}

// ErrExhausted is returned by Pick when no origin is healthy, even after a
// reactive probe round.
var ErrExhausted = errors.New("upstream: pool exhausted")

// Pool is C4's UpstreamPool: an ordered list of Origins plus settings,
// round-robin cursor, and per-origin health state (spec.md §3's invariant:
// the origin list is only mutated by snapshot replacement; cursor/health
// mutate under a single short-held lock — here, per-Origin locks plus an
// atomic cursor, which is finer-grained than the spec's "single exclusive
// lock" but preserves the same externally-visible atomicity per origin).
type Pool struct {
	Name     string // logical identity, preserved across reconfiguration
	Settings Settings

	origins []*Origin
	cursor  uint64

	httpClient *http.Client
	log        *zap.Logger
	metrics    *cbltmetrics.Registry
}

// SetMetrics attaches the Prometheus collectors origin health transitions
// are reported to. Left unset (nil), health reporting is metrics-free,
// which is how every package-level test in this repo exercises the pool.
func (p *Pool) SetMetrics(m *cbltmetrics.Registry) {
	p.metrics = m
}

// NewPool builds a Pool from a resolved origin list (already parsed and
// validated by the config compiler) and marks every origin healthy.
func NewPool(name string, origins []*Origin, settings Settings, log *zap.Logger) *Pool {
	for _, o := range origins {
		o.healthy = true
		o.limiter = rate.NewLimiter(rate.Every(maxDuration(settings.Interval, time.Second)), 1)
	}
	return &Pool{
		Name:     name,
		Settings: settings,
		origins:  origins,
		httpClient: &http.Client{
			Timeout: settings.ProbeTimeout,
		},
		log: log,
	}
}

func maxDuration(d, min time.Duration) time.Duration {
	if d <= 0 {
		return min
	}
	return d
}

// Origins returns the pool's backing origin list. Callers must not mutate
// it; reconfiguration replaces the slice via a new Pool, never in place.
func (p *Pool) Origins() []*Origin {
	return p.origins
}

// Pick implements spec.md §4.4's pick(client_ip): round-robin or ip-hash
// selection among healthy origins, with a reactive probe-then-retry
// fallback when none are healthy.
func (p *Pool) Pick(ctx context.Context, clientIP string) (*Origin, error) {
	if len(p.origins) == 0 {
		return nil, ErrExhausted
	}

	if o := p.pickOnce(clientIP); o != nil {
		return o, nil
	}

	// No healthy origin: reactive probe round, then retry once.
	p.probeAll(ctx)
	if o := p.pickOnce(clientIP); o != nil {
		return o, nil
	}
	return nil, ErrExhausted
}

func (p *Pool) pickOnce(clientIP string) *Origin {
	n := len(p.origins)
	switch p.Settings.Policy {
	case PolicyIPHash:
		start := int(hashClientIP(clientIP) % uint32(n))
		for i := 0; i < n; i++ {
			o := p.origins[(start+i)%n]
			if o.Healthy() {
				return o
			}
		}
	default: // PolicyRoundRobin
		start := atomic.AddUint64(&p.cursor, 1)
		for i := 0; i < n; i++ {
			o := p.origins[(int(start)+i)%n]
			if o.Healthy() {
				return o
			}
		}
	}
	return nil
}

func hashClientIP(ip string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return h.Sum32()
}

// probeAll fires probe() against every origin concurrently, deduped via
// each Origin's in-flight flag and throttled by its rate.Limiter so the
// same origin is never re-probed more often than Settings.Interval allows.
func (p *Pool) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, o := range p.origins {
		o.mu.Lock()
		if o.probing || !o.limiter.Allow() {
			o.mu.Unlock()
			continue
		}
		o.probing = true
		o.mu.Unlock()

		wg.Add(1)
		go func(o *Origin) {
			defer wg.Done()
			p.probe(ctx, o)
			o.mu.Lock()
			o.probing = false
			o.mu.Unlock()
		}(o)
	}
	wg.Wait()
}

// probe sends a HEAD request to "/" with the pool's probe timeout,
// per spec.md §4.4's probe(origin) operation.
func (p *Pool) probe(ctx context.Context, o *Origin) {
	probeCtx, cancel := context.WithTimeout(ctx, p.Settings.ProbeTimeout)
	defer cancel()

	url := o.Scheme + "://" + o.Authority() + "/"
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		p.ReportFailure(o)
		return
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.ReportFailure(o)
		if p.log != nil {
			p.log.Debug("origin probe failed", zap.String("pool", p.Name), zap.String("origin", o.Authority()), zap.Error(err))
		}
		return
	}
	resp.Body.Close()
	p.ReportSuccess(o)
}

// ReportFailure implements spec.md §4.4's report_failure: increments the
// consecutive-failure count and flips healthy=false once it reaches
// Settings.RetriesPerReq.
func (p *Pool) ReportFailure(o *Origin) {
	o.mu.Lock()
	wasHealthy := o.healthy
	o.consecutiveFailures++
	o.lastProbeAt = time.Now()
	if o.consecutiveFailures >= maxInt(p.Settings.RetriesPerReq, 1) {
		o.healthy = false
	}
	becameUnhealthy := wasHealthy && !o.healthy
	o.mu.Unlock()

	if becameUnhealthy && p.metrics != nil {
		p.metrics.OriginHealthChanges.WithLabelValues(p.Name, o.Authority(), "unhealthy").Inc()
	}
}

// ReportSuccess implements spec.md §4.4's report_success.
func (p *Pool) ReportSuccess(o *Origin) {
	o.mu.Lock()
	wasHealthy := o.healthy
	o.consecutiveFailures = 0
	o.lastProbeAt = time.Now()
	o.healthy = true
	o.mu.Unlock()

	if !wasHealthy && p.metrics != nil {
		p.metrics.OriginHealthChanges.WithLabelValues(p.Name, o.Authority(), "healthy").Inc()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
