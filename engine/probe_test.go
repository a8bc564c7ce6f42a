package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"simple", "<html><head><title> SOI - Pago de Planillas </title></head></html>", "SOI - Pago de Planillas"},
		{"missing", "<html><body><p>no title</p></body></html>", ""},
		{"empty", "<title></title>", ""},
		{"first wins", "<title>one</title><title>two</title>", "one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTitle(tt.html))
		})
	}
}

func TestProber_Reachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "es-CO,es;q=0.9", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><head><title>Consultar planillas</title></head></html>"))
	}))
	defer srv.Close()

	stats := NewProber(5*time.Second, "es-CO,es;q=0.9").Probe(context.Background(), srv.URL)
	assert.True(t, stats.Reachable)
	assert.Equal(t, http.StatusOK, stats.StatusCode)
	assert.Equal(t, "Consultar planillas", stats.Title)
	assert.Empty(t, stats.Error)
}

func TestProber_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	stats := NewProber(5*time.Second, "").Probe(context.Background(), srv.URL)
	assert.False(t, stats.Reachable)
	assert.Equal(t, http.StatusBadGateway, stats.StatusCode)
	assert.NotEmpty(t, stats.Error)
}

func TestProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	stats := NewProber(2*time.Second, "").Probe(context.Background(), url)
	assert.False(t, stats.Reachable)
	assert.Zero(t, stats.StatusCode)
	assert.NotEmpty(t, stats.Error)
}
