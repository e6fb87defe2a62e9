package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/health"
	"github.com/MrWong99/scamguard/internal/observe"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, fromFile, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadConfig: %v", err)
		}
		if fromFile {
			t.Error("fromFile = true for a missing file")
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
		}
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":9999\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, fromFile, err := LoadConfig(path)
		if err != nil || !fromFile || cfg.Server.ListenAddr != ":9999" {
			t.Errorf("LoadConfig = %+v, %v, %v", cfg.Server, fromFile, err)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("call:\n  trigger: sometimes\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, _, err := LoadConfig(path); err == nil {
			t.Error("invalid config accepted")
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	logger, lv := NewLogger(config.LogWarn)
	ctx := context.Background()
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	lv.Set(slog.LevelDebug)
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("level change not applied")
	}
}

func TestWrap(t *testing.T) {
	t.Parallel()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	mux := NewMux(health.New(), nil)
	h := Wrap(mux, m, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
	if rec.Header().Get(observe.CorrelationHeader) == "" {
		t.Error("correlation header missing")
	}
}

func TestNewMux_Metrics(t *testing.T) {
	t.Parallel()

	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("scamguard_calls_active 0\n"))
	})
	tests := []struct {
		name     string
		metrics  http.Handler
		wantCode int
	}{
		{name: "served", metrics: scrape, wantCode: http.StatusOK},
		{name: "disabled", metrics: nil, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			NewMux(health.New(), tt.metrics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	hh := health.New()
	srv := &http.Server{Addr: addr, Handler: NewMux(hh, nil), ReadHeaderTimeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	called := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, srv, nil, hh, func(context.Context) error {
			close(called)
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-called:
	default:
		t.Error("onShutdown not called")
	}
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), ReadHeaderTimeout: time.Second}
	if err := Run(context.Background(), srv, nil, health.New(), nil); err == nil {
		t.Fatal("Run on a busy address succeeded")
	}
}
