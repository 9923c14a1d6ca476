// Package orchestrator implements C8 (spec.md §4.8): watching the Docker
// Engine API for containers carrying `cblt.*` labels and translating each
// labeled fleet into a synthetic cbltfile.Document that feeds C1's
// compiler, publishing a fresh RoutingTable on every change.
//
// Grounded in _examples/bnema-gordon's internal/container/docker.go for
// the github.com/docker/docker client-construction idiom
// (client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation)).
// This is the pack's only repo with live Docker Engine API wiring; it is
// also what the upstream Rust implementation's `bollard` dependency
// (original_source/src/error.rs's BollardError) confirms the orchestrator
// targets — Docker, not Kubernetes, despite the teacher's own
// internal/discovery/driver/kubernetes package (see DESIGN.md).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/cbltio/cblt/internal/cbltfile"
)

// Label prefixes from spec.md §6: cblt.hosts, cblt.path, cblt.port,
// cblt.lb_policy, cblt.lb_interval, cblt.lb_timeout, cblt.lb_retries,
// cblt.secrets="HOST CERT_SECRET KEY_SECRET".
const (
	labelHosts      = "cblt.hosts"
	labelPath       = "cblt.path"
	labelPort       = "cblt.port"
	labelLBPolicy   = "cblt.lb_policy"
	labelLBInterval = "cblt.lb_interval"
	labelLBTimeout  = "cblt.lb_timeout"
	labelLBRetries  = "cblt.lb_retries"
	labelSecrets    = "cblt.secrets"
)

// defaultSecretsDir is the Docker Swarm secrets-file convention pinned in
// SPEC_FULL.md §13's Open Questions decision.
const defaultSecretsDir = "/run/secrets"

// Watcher follows the Docker Engine API event stream and, on every
// container start/stop/die event, lists the labeled containers again and
// emits a freshly built (not yet compiled) cbltfile.Document.
type Watcher struct {
	cli        *client.Client
	secretsDir string
	log        *zap.Logger
}

func NewWatcher(log *zap.Logger) (*Watcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("orchestrator: docker client: %w", err)
	}

	secretsDir := os.Getenv("CBLT_SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = defaultSecretsDir
	}

	return &Watcher{cli: cli, secretsDir: secretsDir, log: log}, nil
}

// Run emits an initial snapshot, then a new one on every container
// start/stop/die event, until ctx is cancelled. onSnapshot is called with
// the synthetic document; the caller is responsible for compiling it and
// publishing the resulting RoutingTable (spec.md §4.8: "the watcher
// compiles a synthetic configuration tree... and hands it to C1, which
// yields a new RoutingTable; the atomic swap publishes it").
func (w *Watcher) Run(ctx context.Context, onSnapshot func(*cbltfile.Document)) error {
	doc, err := w.snapshot(ctx)
	if err != nil {
		return err
	}
	onSnapshot(doc)

	eventFilter := filters.NewArgs()
	eventFilter.Add("type", string(events.ContainerEventType))
	eventFilter.Add("event", "start")
	eventFilter.Add("event", "stop")
	eventFilter.Add("event", "die")
	msgs, errs := w.cli.Events(ctx, events.ListOptions{Filters: eventFilter})

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil && w.log != nil {
				w.log.Warn("orchestrator: docker event stream error", zap.Error(err))
			}
		case <-msgs:
			doc, err := w.snapshot(ctx)
			if err != nil {
				if w.log != nil {
					w.log.Error("orchestrator: snapshot refresh failed", zap.Error(err))
				}
				continue
			}
			onSnapshot(doc)
		}
	}
}

// snapshot lists running containers carrying cblt.hosts and compiles them
// into a synthetic Document, one Block per distinct host spec.
func (w *Watcher) snapshot(ctx context.Context) (*cbltfile.Document, error) {
	labelFilter := filters.NewArgs()
	labelFilter.Add("label", labelHosts)
	containers, err := w.cli.ContainerList(ctx, container.ListOptions{Filters: labelFilter})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list containers: %w", err)
	}

	byHost := make(map[string]*cbltfile.Block)
	var order []string

	for _, c := range containers {
		block, origin, err := w.containerToDirective(c)
		if err != nil {
			if w.log != nil {
				w.log.Warn("orchestrator: skipping container", zap.String("id", c.ID), zap.Error(err))
			}
			continue
		}

		existing, ok := byHost[block.HostSpec]
		if !ok {
			byHost[block.HostSpec] = block
			order = append(order, block.HostSpec)
			continue
		}
		// Same host already seen: merge this container in as another
		// origin on the matching reverse_proxy directive rather than
		// creating a duplicate block (blocks must be unique per spec.md
		// §4.1's "duplicate listener ⇒ reject").
		mergeOrigin(existing, origin)
	}

	doc := &cbltfile.Document{}
	for _, host := range order {
		doc.Blocks = append(doc.Blocks, *byHost[host])
	}
	return doc, nil
}

func mergeOrigin(block *cbltfile.Block, origin string) {
	for i := range block.Directives {
		if block.Directives[i].Kind == cbltfile.DirReverseProxy {
			block.Directives[i].Origins = append(block.Directives[i].Origins, origin)
			return
		}
	}
}

func (w *Watcher) containerToDirective(c container.Summary) (*cbltfile.Block, string, error) {
	hosts := c.Labels[labelHosts]
	if hosts == "" {
		return nil, "", fmt.Errorf("missing %s label", labelHosts)
	}
	port := c.Labels[labelPort]
	if port == "" {
		return nil, "", fmt.Errorf("missing %s label", labelPort)
	}
	path := c.Labels[labelPath]
	if path == "" {
		path = "*"
	}

	containerName := strings.TrimPrefix(firstName(c.Names), "/")
	origin := "http://" + containerName + ":" + port

	proxyDir := cbltfile.AnyDirective{
		Kind:         cbltfile.DirReverseProxy,
		ProxyPattern: path,
		Origins:      []string{origin},
		LBPolicy:     c.Labels[labelLBPolicy],
		LBInterval:   c.Labels[labelLBInterval],
		LBTimeout:    c.Labels[labelLBTimeout],
	}
	if retries := c.Labels[labelLBRetries]; retries != "" {
		n, err := strconv.Atoi(retries)
		if err == nil {
			proxyDir.LBRetries = n
		}
	}

	block := &cbltfile.Block{HostSpec: hosts, Directives: []cbltfile.AnyDirective{proxyDir}}

	if secretsSpec := c.Labels[labelSecrets]; secretsSpec != "" {
		tlsDir, err := w.tlsDirectiveFromSecrets(secretsSpec)
		if err != nil {
			return nil, "", err
		}
		if tlsDir != nil {
			block.Directives = append(block.Directives, *tlsDir)
		}
	}

	return block, origin, nil
}

// tlsDirectiveFromSecrets parses `cblt.secrets="HOST CERT_SECRET KEY_SECRET"`
// and resolves CERT_SECRET/KEY_SECRET to files under the secrets directory,
// the Docker Swarm secrets-file convention pinned in SPEC_FULL.md §13.
func (w *Watcher) tlsDirectiveFromSecrets(spec string) (*cbltfile.AnyDirective, error) {
	fields := strings.Fields(spec)
	if len(fields) != 3 {
		return nil, fmt.Errorf("malformed %s label %q: want \"HOST CERT_SECRET KEY_SECRET\"", labelSecrets, spec)
	}
	_, certSecret, keySecret := fields[0], fields[1], fields[2]
	return &cbltfile.AnyDirective{
		Kind:        cbltfile.DirTLS,
		TLSCertPath: filepath.Join(w.secretsDir, certSecret),
		TLSKeyPath:  filepath.Join(w.secretsDir, keySecret),
	}, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return "unknown"
	}
	return names[0]
}

func (w *Watcher) Close() error {
	return w.cli.Close()
}
