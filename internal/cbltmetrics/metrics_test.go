package cbltmetrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New()

	r.ConnectionsInFlight.Set(3)
	r.RequestsTotal.WithLabelValues("2xx").Inc()
	r.ProxyRetries.Inc()

	out, err := r.Gatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	if got := testutil.ToFloat64(r.ConnectionsInFlight); got != 3 {
		t.Errorf("ConnectionsInFlight = %v, want 3", got)
	}

	var names []string
	for _, mf := range out {
		names = append(names, mf.GetName())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"cblt_connections_in_flight", "cblt_requests_total", "cblt_proxy_retries_total"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %s among registered metrics, got %v", want, names)
		}
	}
}
