package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cbltio/cblt/internal/cbltmetrics"
	"github.com/cbltio/cblt/internal/routing"
)

func TestHealthzReportsNotReadyBeforePublish(t *testing.T) {
	publisher := routing.NewPublisher(nil)
	s := New("127.0.0.1:0", publisher, cbltmetrics.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before a table is published", rec.Code)
	}
}

func TestHealthzReportsOkAfterPublish(t *testing.T) {
	publisher := routing.NewPublisher(&routing.Table{Listeners: map[string]*routing.Listener{}})
	s := New("127.0.0.1:0", publisher, cbltmetrics.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestDebugRoutingListsHostPatterns(t *testing.T) {
	table := &routing.Table{Listeners: map[string]*routing.Listener{
		"0.0.0.0:80": {Address: "0.0.0.0:80", HostBlocks: []routing.HostBlock{{HostPattern: "example.com"}}},
	}}
	publisher := routing.NewPublisher(table)
	s := New("127.0.0.1:0", publisher, cbltmetrics.New())

	req := httptest.NewRequest(http.MethodGet, "/debug/routing", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "example.com") {
		t.Errorf("expected body to mention example.com, got %q", rec.Body.String())
	}
}

func TestMetricsEndpointExposesRegisteredCollectors(t *testing.T) {
	metrics := cbltmetrics.New()
	metrics.ConnectionsInFlight.Set(1)
	publisher := routing.NewPublisher(&routing.Table{Listeners: map[string]*routing.Listener{}})
	s := New("127.0.0.1:0", publisher, metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cblt_connections_in_flight") {
		t.Error("expected exposition format to include cblt_connections_in_flight")
	}
}
