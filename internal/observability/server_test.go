package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRouter_HealthEndpoints(t *testing.T) {
	ts := httptest.NewServer(NewRouter(prometheus.NewRegistry()))
	defer ts.Close()

	tests := []struct {
		path string
		body string
	}{
		{"/healthz", "ok"},
		{"/readyz", "ready"},
	}

	for _, tt := range tests {
		resp, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", tt.path, resp.StatusCode)
		}
		if string(body) != tt.body {
			t.Errorf("GET %s: expected %q, got %q", tt.path, tt.body, body)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_frames_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	ts := httptest.NewServer(NewRouter(reg))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "test_frames_total 3") {
		t.Errorf("expected counter in metrics output, got:\n%s", body)
	}
}

func TestPush(t *testing.T) {
	var gotPath, gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "pushed_total", Help: "test"}))

	if err := Push(context.Background(), ts.URL, "asr_job", reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/metrics/job/asr_job" {
		t.Errorf("expected job path, got %s", gotPath)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestServer_StartBadAddr(t *testing.T) {
	s := NewServer("not-an-address")
	if err := s.Start(); err == nil {
		t.Error("expected error for invalid listen address")
	}
}
