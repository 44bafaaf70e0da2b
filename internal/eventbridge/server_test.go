package eventbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kingrea/foundry/internal/config"
	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
)

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("FOUNDRY_BRIDGE_PORT", "9001")
	t.Setenv("FOUNDRY_BRIDGE_HOST", "0.0.0.0")
	t.Setenv("FOUNDRY_BRIDGE_ENABLED", "false")
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	settings := SettingsFromConfig(cfg)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.Enabled {
		t.Fatalf("expected enabled=false from env override")
	}
	if settings.Address() != "0.0.0.0:9001" || settings.URL() != "http://0.0.0.0:9001" {
		t.Fatalf("address = %s, url = %s", settings.Address(), settings.URL())
	}
	if settings.DedupeWindow != 1024 || settings.ReadTimeout != 15*time.Second {
		t.Fatalf("defaults not carried from config: %+v", settings.BridgeConfig)
	}
}

func TestSettingsFromNilConfigUsesDefaults(t *testing.T) {
	settings := SettingsFromConfig(nil)
	if !settings.Enabled || settings.Address() != "127.0.0.1:8765" {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestSignalRequestValidate(t *testing.T) {
	req := SignalRequest{ID: " sig-1 ", Title: "Quiet mornings"}
	req.Normalize()
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid signal, got %v", err)
	}
	if req.ID != "sig-1" {
		t.Fatalf("id not trimmed: %q", req.ID)
	}
	if err := (SignalRequest{ID: "x"}).Validate(); err == nil {
		t.Fatalf("expected error without title or body")
	}
	if err := (SignalRequest{ID: "a\nb", Title: "t"}).Validate(); err == nil {
		t.Fatalf("expected error for control characters in id")
	}
	if err := (SignalRequest{ID: strings.Repeat("x", MaxSignalIDLength+1), Title: "t"}).Validate(); err == nil {
		t.Fatalf("expected error for oversized id")
	}
}

type bridgeFixture struct {
	q       *queue.Manager
	reg     *prometheus.Registry
	handler http.Handler
}

func newFixture(t *testing.T, maxBody int64) bridgeFixture {
	t.Helper()
	layout := store.NewLayout(filepath.Join(t.TempDir(), ".foundry"))
	if err := layout.Ensure(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New(layout, queue.WithMetrics(m))
	fixed := time.Unix(1730000000, 0).UTC()
	settings := Settings{Enabled: true, BridgeConfig: config.BridgeConfig{Host: "127.0.0.1", MaxBodyBytes: maxBody}}
	srv := NewServer(settings,
		WithClock(func() time.Time { return fixed }),
		WithIngester(NewQueueIngester(q, 8, m)),
		WithEventSource(q),
		WithGatherer(reg))
	return bridgeFixture{q: q, reg: reg, handler: srv.Handler()}
}

func postSignal(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/signals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostSignalCreatesAnalyzerTask(t *testing.T) {
	f := newFixture(t, 1024)
	rec := postSignal(t, f.handler, `{"id":"sig-1","title":"Quiet mornings","source":"rss"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	var resp signalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	pending, err := f.q.ListPending(store.AgentAnalyzer)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != resp.TaskID {
		t.Fatalf("pending = %+v, response task %s", pending, resp.TaskID)
	}
	payload := pending[0].Payload.(store.AnalyzePayload)
	if payload.Signal.Source != "rss" || payload.Signal.ReceivedAt.IsZero() {
		t.Fatalf("signal = %+v", payload.Signal)
	}
}

func TestPostSignalDuplicateIsAcknowledged(t *testing.T) {
	f := newFixture(t, 1024)
	body := `{"id":"sig-1","title":"Quiet mornings"}`
	if rec := postSignal(t, f.handler, body); rec.Code != http.StatusAccepted {
		t.Fatalf("first post = %d", rec.Code)
	}
	rec := postSignal(t, f.handler, body)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "duplicate") {
		t.Fatalf("second post = %d %s", rec.Code, rec.Body.String())
	}
	pending, _ := f.q.ListPending(store.AgentAnalyzer)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}

func TestPostSignalRejectsBadInput(t *testing.T) {
	f := newFixture(t, 64)
	cases := map[string]struct {
		body string
		want int
	}{
		"invalid json": {`{`, http.StatusBadRequest},
		"missing id":   {`{"title":"x"}`, http.StatusBadRequest},
		"too large":    {`{"id":"x","body":"` + strings.Repeat("a", 256) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := postSignal(t, f.handler, tc.body); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signals", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /signals = %d, want 405", rec.Code)
	}
}

func TestEventsEndpointFiltersBySince(t *testing.T) {
	f := newFixture(t, 1024)
	postSignal(t, f.handler, `{"id":"sig-1","title":"a"}`)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var events []store.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].Type != store.EventTaskCreated {
		t.Fatalf("events = %+v", events)
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since="+future, nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("future events = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?since=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 1024)
	postSignal(t, f.handler, `{"id":"sig-1","title":"a"}`)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`foundry_signals_ingested_total{outcome="accepted"} 1`, "foundry_tasks_created_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestQueueIngesterWindowIsBounded(t *testing.T) {
	layout := store.NewLayout(filepath.Join(t.TempDir(), ".foundry"))
	q := queue.New(layout)
	ing := NewQueueIngester(q, 2, nil)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := ing.Ingest(store.Signal{ID: id}); err != nil {
			t.Fatalf("Ingest %s: %v", id, err)
		}
	}
	// "a" fell out of the window and is accepted again.
	if _, err := ing.Ingest(store.Signal{ID: "a"}); err != nil {
		t.Fatalf("re-ingest a: %v", err)
	}
	if _, err := ing.Ingest(store.Signal{ID: "c"}); err != ErrDuplicateSignal {
		t.Fatalf("re-ingest c = %v, want duplicate", err)
	}
}

func TestServerStartAndHealth(t *testing.T) {
	t.Parallel()
	settings := Settings{Enabled: true, BridgeConfig: config.BridgeConfig{Host: "127.0.0.1", Port: 0, MaxBodyBytes: 1024, ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second}}
	srv := NewServer(settings)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	resp, err := http.Get(srv.BaseURL() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	var health healthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != string(StatusReady) || health.Version != ProtocolVersion {
		t.Fatalf("health = %+v", health)
	}
	resp2, err := http.Post(srv.BaseURL()+"/signals", "application/json", bytes.NewReader([]byte(`{"id":"x","title":"y"}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusInternalServerError {
		t.Fatalf("server without ingester = %d, want 500", resp2.StatusCode)
	}
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	srv := NewServer(Settings{Enabled: false})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("Run disabled = %v", err)
	}
}
