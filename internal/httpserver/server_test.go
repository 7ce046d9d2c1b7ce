package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/skobkin/hwserial/internal/config"
	"github.com/skobkin/hwserial/internal/gpu"
	"github.com/skobkin/hwserial/internal/sampler"
	"github.com/skobkin/hwserial/internal/version"
)

type fixedSource struct{}

func (fixedSource) Collect(context.Context) sampler.Sample {
	return sampler.Sample{
		Timestamp:          time.Now(),
		CPUUsagePercent:    42,
		CPUTempC:           55,
		CPUPowerW:          65,
		GPU:                &gpu.Reading{UsagePercent: 80, TempC: 70, PowerW: 120, MemUsedBytes: 4 << 30, MemTotalBytes: 8 << 30},
		RAMUsagePercent:    60,
		RAMUsedGiB:         9.6,
		RAMTotalGiB:        16,
		GPUMemUsagePercent: 50,
	}
}

type discardWriter struct{}

func (discardWriter) WriteLine(string) error { return nil }
func (discardWriter) Close() error           { return nil }

func newTestLoop(t *testing.T, interval time.Duration) *sampler.Loop {
	t.Helper()
	loop, err := sampler.NewLoop(interval, fixedSource{}, func(context.Context) (sampler.LineWriter, error) {
		return discardWriter{}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewLoop error: %v", err)
	}
	return loop
}

func runLoop(t *testing.T, loop *sampler.Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, 2*time.Second, loop.Ready)
	return cancel
}

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected body %q", string(body))
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	post, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /healthz failed: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.StatusCode)
	}
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()

	_, tsNone := newTestHTTPServer(t, cfg, nil)
	assertReadyz(t, tsNone.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "loop_not_configured")

	loop := newTestLoop(t, 10*time.Millisecond)
	_, ts := newTestHTTPServer(t, cfg, loop)
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "initializing", "waiting_for_first_tick")

	cancel := runLoop(t, loop)
	assertReadyz(t, ts.URL+"/readyz", http.StatusOK, "ok", "")

	cancel()
	waitFor(t, 2*time.Second, func() bool { return loop.State() == sampler.StateStopped })
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "loop_stopped")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil)

	resp, err := http.Get(ts.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version failed: %v", err)
	}
	defer resp.Body.Close()

	var info version.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "v0.0.1" || info.Commit != "abc123" || info.BuildTime != "now" {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestSampleEndpoint(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t, 10*time.Millisecond)
	_, ts := newTestHTTPServer(t, defaultTestConfig(), loop)

	resp, err := http.Get(ts.URL + "/api/sample")
	if err != nil {
		t.Fatalf("GET /api/sample failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first tick, got %d", resp.StatusCode)
	}

	runLoop(t, loop)

	resp, err = http.Get(ts.URL + "/api/sample")
	if err != nil {
		t.Fatalf("GET /api/sample failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		Type  string       `json:"type"`
		Frame string       `json:"frame"`
		CPU   int          `json:"cpu_usage_pct"`
		GPU   *gpu.Reading `json:"gpu"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Type != "sample" || payload.CPU != 42 || payload.GPU == nil || payload.GPU.UsagePercent != 80 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Frame != "CPU:42,55,65,GPU:80,70,120,RAM:60,9.6,16.0,GPUMEM:50" {
		t.Fatalf("unexpected frame %q", payload.Frame)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.EnablePrometheus = true
	loop := newTestLoop(t, 10*time.Millisecond)
	_, ts := newTestHTTPServer(t, cfg, loop)
	runLoop(t, loop)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		"hwserial_cpu_usage_percent 42",
		"hwserial_gpu_power_watts 120",
		"hwserial_ram_total_gibibytes 16",
		"hwserial_serial_ticks_total",
		"hwserial_build_info",
		"hwserial_ws_active_connections 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocketHelloSampleAndPing(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.SampleInterval = 5 * time.Millisecond
	loop := newTestLoop(t, cfg.SampleInterval)
	runLoop(t, loop)

	_, ts := newTestHTTPServer(t, cfg, loop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readMessage(ctx, t, conn)
	if hello["type"] != "hello" || hello["gpu_backend"] != "amdgpu" || hello["serial_port"] != "/dev/ttyTEST0" {
		t.Fatalf("unexpected hello %v", hello)
	}

	sample := readMessage(ctx, t, conn)
	if sample["type"] != "sample" {
		t.Fatalf("expected sample message, got %v", sample["type"])
	}
	if sample["frame"] != "CPU:42,55,65,GPU:80,70,120,RAM:60,9.6,16.0,GPUMEM:50" {
		t.Fatalf("unexpected frame %v", sample["frame"])
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	for {
		msg := readMessage(ctx, t, conn)
		if msg["type"] == "pong" {
			return
		}
		if msg["type"] != "sample" {
			t.Fatalf("unexpected message %v", msg)
		}
	}
}

func TestWebSocketCapacity(t *testing.T) {
	t.Parallel()

	cfg := defaultTestConfig()
	cfg.WS.MaxClients = 1
	loop := newTestLoop(t, time.Hour)
	runLoop(t, loop)
	_, ts := newTestHTTPServer(t, cfg, loop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	_ = readMessage(ctx, t, conn)

	_, resp, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err == nil {
		t.Fatalf("expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 response, got %+v", resp)
	}
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type %v", msgType)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg
}

func newTestHTTPServer(t *testing.T, cfg config.Config, loop *sampler.Loop) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, loop, gpu.BackendAMDGPU)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d for %s, got %d", expectedStatus, url, resp.StatusCode)
	}

	var payload readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readyz response: %v", err)
	}
	if payload.Status != expected {
		t.Fatalf("expected status %q, got %q", expected, payload.Status)
	}
	if payload.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, payload.Reason)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func defaultTestConfig() config.Config {
	return config.Config{
		ListenAddr:     ":0",
		SampleInterval: 250 * time.Millisecond,
		AllowedOrigins: []string{"*"},
		Serial:         config.SerialConfig{Port: "/dev/ttyTEST0"},
		WS: config.WebsocketConfig{
			MaxClients:   16,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}
}

func toWebsocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return httpURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
