package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

// sampleCount reads how many requests the duration histogram saw for a route.
func sampleCount(t *testing.T, method, route string) uint64 {
	t.Helper()
	obs, err := httpRequestDurationSeconds.GetMetricWithLabelValues(method, route)
	if err != nil {
		t.Fatal(err)
	}
	var m dto.Metric
	if err := obs.(prometheus.Metric).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetHistogram().GetSampleCount()
}

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	if err != nil {
		t.Fatal(err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Log(err)
	}
	return resp.StatusCode
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/links/{fingerprint}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "fingerprint") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/discoveries", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	missing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	lookups := sampleCount(t, "GET", "/v1/links/{fingerprint}")

	if code := get(t, ts.URL+"/v1/links/abc"); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if code := get(t, ts.URL+"/v1/links/missing"); code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", code)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != ok+1 {
		t.Errorf("expected one more GET 200, got %f -> %f", ok, val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != missing+1 {
		t.Errorf("expected one more GET 404, got %f -> %f", missing, val)
	}

	// Both lookups share the pattern, so the fingerprint never becomes a label.
	if n := sampleCount(t, "GET", "/v1/links/{fingerprint}"); n != lookups+2 {
		t.Errorf("expected two lookups under the route pattern, got %d -> %d", lookups, n)
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := sampleCount(t, "GET", "unknown")
	if code := get(t, ts.URL+"/nowhere"); code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", code)
	}
	if n := sampleCount(t, "GET", "unknown"); n != before+1 {
		t.Errorf("expected unmatched request under the unknown route, got %d -> %d", before, n)
	}
}
