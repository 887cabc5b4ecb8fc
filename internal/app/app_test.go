package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sauc-asr-client/internal/config"
	"sauc-asr-client/internal/mockserver"
	"sauc-asr-client/internal/observability/metrics"
	"sauc-asr-client/internal/service/session"
)

func testConfig(t *testing.T, endpoint string, audioSize int) *config.Configuration {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speech.pcm")
	require.NoError(t, os.WriteFile(path, make([]byte, audioSize), 0o600))

	cfg := config.Load()
	cfg.Volc.Endpoint = endpoint
	cfg.Volc.AppKey = "app"
	cfg.Volc.AccessKey = "secret"
	cfg.Audio.Path = path
	cfg.Kafka.Enabled = false
	cfg.Observability.LogLevel = "error"
	cfg.Observability.MetricsAddr = ""
	cfg.Observability.PushgatewayURL = ""
	return cfg
}

func startMock(t *testing.T, script mockserver.Script) string {
	t.Helper()
	srv := httptest.NewServer(mockserver.New(script))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestApp(cfg *config.Configuration) (*Application, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(cfg, WithMetrics(metrics.NewMetrics(reg), reg)), reg
}

func TestApplication_Recognize(t *testing.T) {
	cfg := testConfig(t, startMock(t, mockserver.DefaultScript), 40000)
	a, _ := newTestApp(cfg)
	require.NoError(t, a.Start())
	defer a.Shutdown(context.Background())

	res, err := a.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, session.StateFinal, res.State)
	assert.False(t, a.StartupTime.IsZero())
}

func TestApplication_RecognizeMissingFile(t *testing.T) {
	cfg := testConfig(t, startMock(t, mockserver.DefaultScript), 100)
	cfg.Audio.Path = filepath.Join(t.TempDir(), "missing.pcm")
	a, _ := newTestApp(cfg)
	require.NoError(t, a.Start())
	defer a.Shutdown(context.Background())

	_, err := a.Recognize(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplication_RecognizeDialFailure(t *testing.T) {
	script := mockserver.DefaultScript
	script.AppKey = "someone-else"
	cfg := testConfig(t, startMock(t, script), 100)
	a, _ := newTestApp(cfg)
	require.NoError(t, a.Start())
	defer a.Shutdown(context.Background())

	_, err := a.Recognize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestApplication_MetricsServer(t *testing.T) {
	cfg := testConfig(t, startMock(t, mockserver.DefaultScript), 100)
	cfg.Observability.MetricsAddr = "127.0.0.1:0"
	a, _ := newTestApp(cfg)
	require.NoError(t, a.Start())
	require.NotNil(t, a.metricsServer)
	a.Shutdown(context.Background())
}

func TestApplication_MetricsServerBadAddr(t *testing.T) {
	cfg := testConfig(t, startMock(t, mockserver.DefaultScript), 100)
	cfg.Observability.MetricsAddr = "not-an-address"
	a, _ := newTestApp(cfg)
	defer a.Shutdown(context.Background())

	assert.Error(t, a.Start())
}

func TestApplication_ShutdownPushesMetrics(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var body string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg := testConfig(t, startMock(t, mockserver.DefaultScript), 20000)
	cfg.Observability.PushgatewayURL = gateway.URL
	cfg.Observability.PushJob = "asr_test"
	a, _ := newTestApp(cfg)
	require.NoError(t, a.Start())

	_, err := a.Recognize(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.Equal(t, "/metrics/job/asr_test", paths[0])
	assert.NotEmpty(t, body)
}
