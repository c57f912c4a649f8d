package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/server/handlers"
	"mercator-hq/tollgate/pkg/telemetry/health"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		RequestTimeout:  2 * time.Second,
	}
}

func loadedCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	quality := map[string]float64{}
	for _, d := range catalog.RequiredDimensions {
		quality[d] = 70
	}
	cat := catalog.New("")
	if err := cat.Replace(context.Background(), []catalog.Model{{
		ID:                 "small",
		Provider:           "test",
		InputCostPerToken:  0.000001,
		OutputCostPerToken: 0.000002,
		Currency:           "USD",
		Quality:            quality,
		Status:             catalog.StatusActive,
	}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	return cat
}

func TestHandler_Routes(t *testing.T) {
	checker := health.New(time.Second)
	checker.Register("catalog", health.Catalog(loadedCatalog(t)))

	var ingressHit bool
	ingress := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ingressHit = true
		w.WriteHeader(http.StatusAccepted)
	})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})

	api := handlers.New(handlers.Deps{Catalog: loadedCatalog(t)}, nil)
	s := New(testConfig(), api,
		WithIngress(ingress),
		WithHealth(checker, health.VersionInfo{Version: "1.2.3"}),
		WithMetrics("", metricsHandler),
	)
	h := s.Handler()

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{name: "liveness", method: http.MethodGet, path: "/health", wantCode: http.StatusOK},
		{name: "readiness", method: http.MethodGet, path: "/ready", wantCode: http.StatusOK, wantBody: "catalog"},
		{name: "version", method: http.MethodGet, path: "/version", wantCode: http.StatusOK, wantBody: "1.2.3"},
		{name: "metrics", method: http.MethodGet, path: "/metrics", wantCode: http.StatusOK, wantBody: "# metrics"},
		{name: "models", method: http.MethodGet, path: "/v1/models", wantCode: http.StatusOK, wantBody: "small"},
		{name: "chat completions", method: http.MethodPost, path: "/v1/chat/completions", wantCode: http.StatusAccepted},
		{name: "unknown", method: http.MethodGet, path: "/v2/nothing", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want substring %q", w.Body.String(), tt.wantBody)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("response has no request id")
			}
		})
	}
	if !ingressHit {
		t.Error("chat completions did not reach the ingress handler")
	}
}

func TestStartAndShutdown(t *testing.T) {
	checker := health.New(time.Second)
	s := New(testConfig(), nil, WithHealth(checker, health.VersionInfo{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.IsRunning() {
		t.Error("IsRunning() = false after start")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	s.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestStart_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.ListenAddress = "256.0.0.1:bad"
	if err := New(cfg, nil).Start(context.Background()); err == nil {
		t.Error("Start() with invalid address succeeded")
	}
}
