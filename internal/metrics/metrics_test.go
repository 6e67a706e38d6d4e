package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	r := New()
	r.TrickleSends.WithLabelValues("eth0").Inc()
	r.NodeStoreSize.Set(3)
	r.CollisionRenames.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	for _, want := range []string{
		"hncpd_trickle_sends_total",
		"hncpd_store_nodes",
		"hncpd_dncp_collision_renames_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}
