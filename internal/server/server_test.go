package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/pdfscribe/internal/engine"
	"github.com/jackzampolin/pdfscribe/internal/gate"
	"github.com/jackzampolin/pdfscribe/internal/home"
	"github.com/jackzampolin/pdfscribe/internal/server/endpoints"
	"github.com/jackzampolin/pdfscribe/internal/testutil"
)

type runningServer struct {
	srv     *Server
	baseURL string
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func startServer(t *testing.T, loader engine.Loader) *runningServer {
	t.Helper()

	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	srv, err := New(Config{
		Host:       "127.0.0.1",
		Port:       "0",
		Home:       h,
		Logger:     testutil.Logger(),
		Loader:     loader,
		Rasterizer: &testutil.Rasterizer{Pages: 1},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningServer{srv: srv, cancel: cancel, done: make(chan struct{})}
	go func() {
		rs.err = srv.Start(ctx)
		close(rs.done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, port, _ := net.SplitHostPort(srv.Addr()); port != "0" && srv.IsRunning() {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	rs.baseURL = "http://" + srv.Addr()

	if err := waitForServer(ctx, rs.baseURL, 5*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start: %v", err)
	}
	t.Cleanup(rs.stop)
	return rs
}

func (rs *runningServer) stop() {
	rs.cancel()
	select {
	case <-rs.done:
	case <-time.After(10 * time.Second):
	}
}

func mockEngines() (*engine.Engines, error) {
	g, err := gate.New(1)
	if err != nil {
		return nil, err
	}
	return &engine.Engines{
		OCR:       &engine.MockOCR{Text: "# Page\n\nSome text.\n"},
		Captioner: engine.NewMockCaptioner("a caption"),
		Gate:      g,
	}, nil
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("failed to decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestServer_Lifecycle(t *testing.T) {
	release := make(chan struct{})
	rs := startServer(t, func(ctx context.Context) (*engine.Engines, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return mockEngines()
	})

	t.Run("loading", func(t *testing.T) {
		var probe ProbeResponse
		if code := getJSON(t, rs.baseURL+"/healthz", &probe); code != http.StatusOK {
			t.Errorf("/healthz status = %d, want 200", code)
		}
		if code := getJSON(t, rs.baseURL+"/readyz", &probe); code != http.StatusServiceUnavailable {
			t.Errorf("/readyz status = %d, want 503", code)
		}
		if probe.Engines != "loading" {
			t.Errorf("probe.Engines = %q, want loading", probe.Engines)
		}

		var errResp endpoints.ErrorResponse
		if code := getJSON(t, rs.baseURL+"/v1/models/status", &errResp); code != http.StatusServiceUnavailable {
			t.Errorf("/v1/models/status status = %d, want 503", code)
		}
		if !strings.Contains(errResp.Error, "not initialized") {
			t.Errorf("error = %q, want not initialized", errResp.Error)
		}

		// Job listing does not need the engines.
		if code := getJSON(t, rs.baseURL+"/v1/jobs", nil); code != http.StatusOK {
			t.Errorf("/v1/jobs status = %d, want 200", code)
		}
	})

	close(release)
	select {
	case <-rs.srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	t.Run("ready", func(t *testing.T) {
		var health endpoints.HealthResponse
		if code := getJSON(t, rs.baseURL+"/v1/health", &health); code != http.StatusOK {
			t.Errorf("/v1/health status = %d, want 200", code)
		}
		if !health.OK || health.OCRModel != "mock-ocr" {
			t.Errorf("health = %+v", health)
		}

		var status endpoints.StatusResponse
		if code := getJSON(t, rs.baseURL+"/v1/models/status", &status); code != http.StatusOK {
			t.Errorf("/v1/models/status status = %d, want 200", code)
		}
		if status.Busy || status.Slots != 1 {
			t.Errorf("status = %+v", status)
		}
	})

	t.Run("process", func(t *testing.T) {
		resp, err := http.Post(rs.baseURL+"/v1/process/pdf?filename=doc.pdf", "application/pdf", bytes.NewReader(testutil.PDF(1)))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Type"); got != "application/zip" {
			t.Errorf("Content-Type = %q", got)
		}
		if got := resp.Header.Get(endpoints.HeaderPages); got != "1" {
			t.Errorf("%s = %q, want 1", endpoints.HeaderPages, got)
		}
	})

	rs.cancel()
	select {
	case <-rs.done:
		if rs.err != nil {
			t.Errorf("Start() returned error: %v", rs.err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	if rs.srv.IsRunning() {
		t.Error("server still running after shutdown")
	}
}

func TestServer_InitFailure(t *testing.T) {
	rs := startServer(t, func(ctx context.Context) (*engine.Engines, error) {
		return nil, errors.New("connection refused")
	})

	deadline := time.Now().Add(5 * time.Second)
	for rs.srv.Registry().Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("init never failed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var health endpoints.HealthResponse
	if code := getJSON(t, rs.baseURL+"/v1/health", &health); code != http.StatusServiceUnavailable {
		t.Errorf("/v1/health status = %d, want 503", code)
	}
	if health.OK || !strings.Contains(health.Error, "connection refused") {
		t.Errorf("health = %+v", health)
	}

	var probe ProbeResponse
	getJSON(t, rs.baseURL+"/readyz", &probe)
	if probe.Engines != "failed" {
		t.Errorf("probe.Engines = %q, want failed", probe.Engines)
	}

	resp, err := http.Post(rs.baseURL+"/v1/process/pdf", "application/pdf", bytes.NewReader(testutil.PDF(1)))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("process status = %d, want 503", resp.StatusCode)
	}
}

func TestServer_DoubleStart(t *testing.T) {
	rs := startServer(t, func(context.Context) (*engine.Engines, error) { return mockEngines() })

	err := rs.srv.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Errorf("second Start() error = %v, want already running", err)
	}
}

func waitForServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for server")
		case <-ticker.C:
			resp, err := http.Get(baseURL + "/healthz")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}
