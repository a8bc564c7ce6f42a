package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/use-agent/planillas/config"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
)

type okExec struct{}

func (okExec) Run(ctx context.Context, req models.LookupRequest) (*models.Outcome, error) {
	return models.NewOutcome(nil), nil
}

type noSession struct{}

func (noSession) Stats() models.SessionStats { return models.SessionStats{} }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.Auth.APIKeys = []string{"secret"}
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100
	return NewRouter(cfg, Deps{
		Queue:   engine.NewQueue(context.Background(), okExec{}),
		Session: noSession{},
	}, time.Now())
}

func serve(h http.Handler, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name   string
		target string
		key    string
		status int
	}{
		{"root lookup", "/?id=1&year=2024&month=03", "secret", http.StatusOK},
		{"root lookup needs key", "/?id=1&year=2024&month=03", "", http.StatusUnauthorized},
		{"v1 lookup", "/api/v1/lookup?id=1&year=2024&month=03", "secret", http.StatusOK},
		{"v1 lookup needs key", "/api/v1/lookup?id=1&year=2024&month=03", "wrong", http.StatusUnauthorized},
		{"health is open", "/api/v1/health", "", http.StatusOK},
		{"metrics are open", "/metrics", "", http.StatusOK},
		{"unknown", "/api/v1/crawl", "secret", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, serve(r, tt.target, tt.key).Code)
		})
	}
}

func TestRouter_MetricsExposeQueueGauge(t *testing.T) {
	w := serve(testRouter(t), "/metrics", "")
	assert.Contains(t, w.Body.String(), "planillas_queue_pending")
}
