package routing

import (
	"testing"

	"github.com/cbltio/cblt/internal/cbltfile"
	"github.com/cbltio/cblt/internal/upstream"
)

func mustParse(t *testing.T, src string) *cbltfile.Document {
	doc, err := cbltfile.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestCompileBasicListenerAddress(t *testing.T) {
	doc := mustParse(t, `
"example.com" {
    root "*" "/var/www"
    file_server
}
`)
	table, _, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	listener, ok := table.Listeners["example.com:80"]
	if !ok {
		t.Fatalf("expected listener example.com:80, got %+v", table.Listeners)
	}
	if len(listener.HostBlocks) != 1 || listener.HostBlocks[0].HostPattern != "example.com" {
		t.Fatalf("unexpected host blocks: %+v", listener.HostBlocks)
	}
}

func TestCompileTLSImpliesPort443(t *testing.T) {
	doc := mustParse(t, `
"secure.example.com" {
    tls "/certs/cert.pem" "/certs/key.pem"
    file_server
}
`)
	table, _, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := table.Listeners["secure.example.com:443"]; !ok {
		t.Fatalf("expected TLS block to imply port 443, got %+v", table.Listeners)
	}
}

func TestCompileWildcardListener(t *testing.T) {
	doc := mustParse(t, `
"*:8080" {
    file_server
}
`)
	table, _, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, ok := table.Listeners["0.0.0.0:8080"]; !ok {
		t.Fatalf("expected 0.0.0.0:8080 listener, got %+v", table.Listeners)
	}
}

func TestCompileReverseProxyBuildsPool(t *testing.T) {
	doc := mustParse(t, `
"api.example.com" {
    reverse_proxy "/api/*" "http://10.0.0.1:9000" {
        lb_policy "round_robin"
        lb_retries "2"
    }
}
`)
	table, pools, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(pools))
	}
	listener := table.Listeners["api.example.com:80"]
	d := listener.HostBlocks[0].Directives[0]
	if d.Kind != DirectiveReverseProxy || d.Upstream == nil {
		t.Fatalf("expected compiled reverse proxy directive with pool, got %+v", d)
	}
	if d.Upstream.Settings.RetriesPerReq != 2 {
		t.Errorf("expected retries=2, got %d", d.Upstream.Settings.RetriesPerReq)
	}
}

func TestCompileReusesUnchangedPool(t *testing.T) {
	doc := mustParse(t, `
"api.example.com" {
    reverse_proxy "/api/*" "http://10.0.0.1:9000"
}
`)
	_, pools1, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	_, pools2, err := Compile(doc, pools1, nil)
	if err != nil {
		t.Fatalf("Compile (reload): %v", err)
	}

	var p1, p2 *upstream.Pool
	for _, p := range pools1 {
		p1 = p
	}
	for _, p := range pools2 {
		p2 = p
	}
	if p1 != p2 {
		t.Error("expected unchanged pool to be reused across recompile")
	}
}

func TestCompileSortsHostBlocksBySpecificity(t *testing.T) {
	// Declared "*" first, "*:80" second: both resolve to listener address
	// "0.0.0.0:80", and spec.md §4.1 requires "*:PORT" to take precedence
	// over bare "*" regardless of declaration order.
	doc := mustParse(t, `
"*" {
    redir "https://fallback{uri}"
}
"*:80" {
    redir "https://port-specific{uri}"
}
`)
	table, _, err := Compile(doc, nil, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	listener, ok := table.Listeners["0.0.0.0:80"]
	if !ok {
		t.Fatalf("expected listener 0.0.0.0:80, got %+v", table.Listeners)
	}
	if len(listener.HostBlocks) != 2 {
		t.Fatalf("expected 2 host blocks, got %d", len(listener.HostBlocks))
	}
	if listener.HostBlocks[0].HostPattern != "*:80" {
		t.Errorf("expected *:PORT host pattern sorted first, got %q", listener.HostBlocks[0].HostPattern)
	}
	if listener.HostBlocks[1].HostPattern != "*" {
		t.Errorf("expected bare wildcard host pattern sorted last, got %q", listener.HostBlocks[1].HostPattern)
	}
}

func TestCompileRejectsUnknownLBPolicy(t *testing.T) {
	doc := mustParse(t, `
"api.example.com" {
    reverse_proxy "/api/*" "http://10.0.0.1:9000" {
        lb_policy "least_conn"
    }
}
`)
	if _, _, err := Compile(doc, nil, nil); err == nil {
		t.Fatal("expected error for unknown lb_policy")
	}
}
