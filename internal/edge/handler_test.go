package edge

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cbltio/cblt/internal/routing"
)

func tableWithFileServer(t *testing.T, root string) *routing.Table {
	t.Helper()
	return &routing.Table{Listeners: map[string]*routing.Listener{
		"0.0.0.0:80": {
			Address: "0.0.0.0:80",
			HostBlocks: []routing.HostBlock{
				{
					HostPattern: "*",
					Directives: []routing.Directive{
						{Kind: routing.DirectiveRoot, PathPattern: "*", FilesystemRoot: root},
						{Kind: routing.DirectiveFileServer, PathPattern: "*"},
					},
				},
			},
		},
	}}
}

func requestWithListener(method, path, listenerAddr string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	return r.WithContext(withListenerAddr(r.Context(), listenerAddr))
}

func TestHandlerServesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("home"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	publisher := routing.NewPublisher(tableWithFileServer(t, dir))
	h := NewHandler(publisher, nil)

	req := requestWithListener(http.MethodGet, "/index.html", "0.0.0.0:80")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "home" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHandlerRedirects(t *testing.T) {
	table := &routing.Table{Listeners: map[string]*routing.Listener{
		"0.0.0.0:80": {
			Address: "0.0.0.0:80",
			HostBlocks: []routing.HostBlock{
				{
					HostPattern: "*",
					Directives: []routing.Directive{
						{Kind: routing.DirectiveRedirect, PathPattern: "*", Target: "https://example.com{uri}"},
					},
				},
			},
		},
	}}
	h := NewHandler(routing.NewPublisher(table), nil)

	req := requestWithListener(http.MethodGet, "/path?x=1", "0.0.0.0:80")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/path?x=1" {
		t.Errorf("Location = %q", loc)
	}
}

func TestHandlerReturns404ForUnmatchedHost(t *testing.T) {
	publisher := routing.NewPublisher(&routing.Table{Listeners: map[string]*routing.Listener{}})
	h := NewHandler(publisher, nil)

	req := requestWithListener(http.MethodGet, "/", "0.0.0.0:80")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerRejectsInvalidHostHeader(t *testing.T) {
	publisher := routing.NewPublisher(tableWithFileServer(t, t.TempDir()))
	h := NewHandler(publisher, nil)

	req := requestWithListener(http.MethodGet, "/", "0.0.0.0:80")
	req.Host = "bad host\r\nheader"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
