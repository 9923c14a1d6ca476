package orchestrator

import (
	"testing"

	"github.com/docker/docker/api/types/container"

	"github.com/cbltio/cblt/internal/cbltfile"
)

func TestFirstName(t *testing.T) {
	if got := firstName([]string{"/web-1", "/web-1-alias"}); got != "/web-1" {
		t.Errorf("firstName = %q", got)
	}
	if got := firstName(nil); got != "unknown" {
		t.Errorf("firstName(nil) = %q, want %q", got, "unknown")
	}
}

func TestContainerToDirectiveBuildsReverseProxyBlock(t *testing.T) {
	w := &Watcher{secretsDir: defaultSecretsDir}
	c := container.Summary{
		ID:    "abc123",
		Names: []string{"/web-1"},
		Labels: map[string]string{
			labelHosts: "app.example.com",
			labelPort:  "8080",
		},
	}

	block, origin, err := w.containerToDirective(c)
	if err != nil {
		t.Fatalf("containerToDirective: %v", err)
	}
	if block.HostSpec != "app.example.com" {
		t.Errorf("HostSpec = %q", block.HostSpec)
	}
	if origin != "http://web-1:8080" {
		t.Errorf("origin = %q", origin)
	}
	if len(block.Directives) != 1 || block.Directives[0].Kind != cbltfile.DirReverseProxy {
		t.Fatalf("unexpected directives: %+v", block.Directives)
	}
	if block.Directives[0].Origins[0] != origin {
		t.Errorf("directive origin = %q", block.Directives[0].Origins[0])
	}
}

func TestContainerToDirectiveRequiresHostsLabel(t *testing.T) {
	w := &Watcher{secretsDir: defaultSecretsDir}
	c := container.Summary{Names: []string{"/web-1"}, Labels: map[string]string{labelPort: "8080"}}
	if _, _, err := w.containerToDirective(c); err == nil {
		t.Fatal("expected error when cblt.hosts label is missing")
	}
}

func TestContainerToDirectiveRequiresPortLabel(t *testing.T) {
	w := &Watcher{secretsDir: defaultSecretsDir}
	c := container.Summary{Names: []string{"/web-1"}, Labels: map[string]string{labelHosts: "app.example.com"}}
	if _, _, err := w.containerToDirective(c); err == nil {
		t.Fatal("expected error when cblt.port label is missing")
	}
}

func TestContainerToDirectiveWithSecretsAddsTLSDirective(t *testing.T) {
	w := &Watcher{secretsDir: "/run/secrets"}
	c := container.Summary{
		Names: []string{"/web-1"},
		Labels: map[string]string{
			labelHosts:   "secure.example.com",
			labelPort:    "8443",
			labelSecrets: "secure.example.com cert_secret key_secret",
		},
	}

	block, _, err := w.containerToDirective(c)
	if err != nil {
		t.Fatalf("containerToDirective: %v", err)
	}
	if len(block.Directives) != 2 || block.Directives[1].Kind != cbltfile.DirTLS {
		t.Fatalf("expected a TLS directive appended, got %+v", block.Directives)
	}
	if block.Directives[1].TLSCertPath != "/run/secrets/cert_secret" {
		t.Errorf("TLSCertPath = %q", block.Directives[1].TLSCertPath)
	}
}

func TestTLSDirectiveFromSecretsRejectsMalformedSpec(t *testing.T) {
	w := &Watcher{secretsDir: defaultSecretsDir}
	if _, err := w.tlsDirectiveFromSecrets("only-two fields"); err == nil {
		t.Fatal("expected error for malformed secrets spec")
	}
}

func TestMergeOriginAppendsToExistingReverseProxyDirective(t *testing.T) {
	block := &cbltfile.Block{
		HostSpec: "app.example.com",
		Directives: []cbltfile.AnyDirective{
			{Kind: cbltfile.DirReverseProxy, Origins: []string{"http://web-1:8080"}},
		},
	}
	mergeOrigin(block, "http://web-2:8080")

	if len(block.Directives[0].Origins) != 2 {
		t.Fatalf("expected 2 origins after merge, got %+v", block.Directives[0].Origins)
	}
	if block.Directives[0].Origins[1] != "http://web-2:8080" {
		t.Errorf("unexpected second origin: %q", block.Directives[0].Origins[1])
	}
}
