package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/voicetap/internal/app"
	"github.com/MrWong99/voicetap/internal/config"
	"github.com/MrWong99/voicetap/internal/engine"
	enginemock "github.com/MrWong99/voicetap/internal/engine/mock"
	"github.com/MrWong99/voicetap/internal/observe"
	"github.com/MrWong99/voicetap/internal/router"
	"github.com/MrWong99/voicetap/pkg/audio"
	audiomock "github.com/MrWong99/voicetap/pkg/audio/mock"
)

// testConfig returns a config with one insert-input and one main consumer.
func testConfig() *config.Config {
	cfg := &config.Config{
		Engine: config.EngineConfig{Application: "test-app"},
		Consumers: []config.ConsumerConfig{
			{Name: "mic", Stage: 0, Layout: "mono", Routes: []int{1}},
			{Name: "stream", Stage: 2, Layout: "stereo", Routes: []int{0, -1}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, eng *enginemock.Engine, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithEngine(eng),
		app.WithMetrics(testMetrics(t)),
		app.WithGatherer(prometheus.NewRegistry()),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_WiresConsumers(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{TierResult: engine.TierBanana}
	a := newApp(t, testConfig(), eng)

	if eng.RegisteredName != "test-app" {
		t.Errorf("RegisteredName = %q, want test-app", eng.RegisteredName)
	}
	if !eng.Started() {
		t.Fatal("callback not started")
	}
	if a.Hub().Tier() != engine.TierBanana {
		t.Errorf("tier = %s, want banana", a.Hub().Tier())
	}

	mic, micMeter, ok := a.Consumer("mic")
	if !ok {
		t.Fatal("consumer mic missing")
	}
	if st, cat := mic.State(); st != router.StateAttached || cat != engine.InsertInput {
		t.Errorf("mic state = %v/%v", st, cat)
	}
	_, streamMeter, _ := a.Consumer("stream")

	eng.Deliver(engine.InsertInput, audiomock.NewFrame(22, 22, 32))

	if micMeter.Frames() != 1 {
		t.Errorf("mic meter frames = %d, want 1", micMeter.Frames())
	}
	if streamMeter.Frames() != 0 {
		t.Errorf("stream meter frames = %d, want 0", streamMeter.Frames())
	}
	levels := micMeter.Flush()
	if len(levels) != 1 || levels[0].Peak != 2 {
		t.Errorf("mic levels = %+v, want peak 2 from plane 1", levels)
	}

	eng.Deliver(engine.Main, audiomock.NewFrame(62, 40, 32))
	levels = streamMeter.Flush()
	if len(levels) != 2 || levels[0].Peak != 1 || levels[1].Peak != 0 {
		t.Errorf("stream levels = %+v", levels)
	}
}

func TestNew_ActivationFailure(t *testing.T) {
	t.Parallel()

	loginErr := fmt.Errorf("%w: no client", engine.ErrDeviceNotFound)
	eng := &enginemock.Engine{LoginError: loginErr}
	_, err := app.New(context.Background(), testConfig(),
		app.WithEngine(eng),
		app.WithMetrics(testMetrics(t)),
	)
	if !errors.Is(err, engine.ErrDeviceNotFound) {
		t.Fatalf("New() error = %v, want ErrDeviceNotFound", err)
	}
	if slices.Contains(eng.CallsSnapshot(), "RegisterCallback") {
		t.Error("callback registered despite failed login")
	}
}

func TestNew_UnknownEngine(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Engine.Name = "hardware"
	if _, err := app.New(context.Background(), cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestShutdown_Order(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{TierResult: engine.TierBasic}
	a := newApp(t, testConfig(), eng)
	mic, _, _ := a.Consumer("mic")

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	calls := eng.CallsSnapshot()
	want := []string{"StopCallback", "UnregisterCallback", "Logout"}
	if got := calls[len(calls)-3:]; !slices.Equal(got, want) {
		t.Errorf("last calls = %v, want %v", got, want)
	}
	if st, _ := mic.State(); st != router.StateDetached {
		t.Error("router still attached after shutdown")
	}
	if _, _, ok := a.Consumer("mic"); ok {
		t.Error("consumer still registered after shutdown")
	}
	if !a.Hub().TornDown() {
		t.Error("hub not torn down")
	}
}

func TestHandler_Readiness(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{TierResult: engine.TierPotato}
	a := newApp(t, testConfig(), eng)
	h := a.Handler()

	get := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		return rec.Code
	}

	if code := get("/readyz"); code != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", code)
	}
	if code := get("/metrics"); code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", code)
	}

	_ = a.Shutdown(context.Background())
	if code := get("/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz after shutdown = %d, want 503", code)
	}
	if code := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
}

func TestHandler_ConsumerStatus(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{TierResult: engine.TierBanana}
	a := newApp(t, testConfig(), eng)
	h := a.Handler()

	eng.Deliver(engine.InsertInput, audiomock.NewFrame(22, 22, 32))
	_, micMeter, _ := a.Consumer("mic")
	micMeter.Flush()

	get := func(path string, v any) int {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if v != nil && rec.Code == http.StatusOK {
			if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
				t.Fatalf("%s: decode: %v", path, err)
			}
		}
		return rec.Code
	}

	var list []app.ConsumerStatus
	if code := get("/consumers", &list); code != http.StatusOK {
		t.Fatalf("/consumers = %d", code)
	}
	if len(list) != 2 || list[0].Name != "mic" || list[1].Name != "stream" {
		t.Fatalf("consumers = %+v", list)
	}

	var mic app.ConsumerStatus
	if code := get("/consumers/mic", &mic); code != http.StatusOK {
		t.Fatalf("/consumers/mic = %d", code)
	}
	r, _, _ := a.Consumer("mic")
	if mic.ID != r.ID().String() || mic.State != "attached" || mic.Category != "insert-in" || mic.Layout != "mono" {
		t.Errorf("mic = %+v", mic)
	}
	if !slices.Equal(mic.Routes, []int{1}) || mic.Frames != 1 {
		t.Errorf("mic routes/frames = %v/%d", mic.Routes, mic.Frames)
	}
	if len(mic.Levels) != 1 || mic.Levels[0].Peak <= -120 {
		t.Errorf("mic levels = %+v", mic.Levels)
	}

	if code := get("/consumers/nobody", nil); code != http.StatusNotFound {
		t.Errorf("/consumers/nobody = %d, want 404", code)
	}
}

func TestReload_AppliesConsumerChanges(t *testing.T) {
	t.Parallel()

	eng := &enginemock.Engine{TierResult: engine.TierBasic}
	old := testConfig()
	var level slog.LevelVar
	a := newApp(t, old, eng, app.WithLevelVar(&level))
	mic, _, _ := a.Consumer("mic")

	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Consumers = []config.ConsumerConfig{
		{Name: "mic", Stage: 1, Layout: "stereo", Routes: []int{3, 2}},
		{Name: "aux", Stage: 0, Layout: "mono", Routes: []int{0}},
	}
	a.Reload(context.Background(), old, next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if _, _, ok := a.Consumer("stream"); ok {
		t.Error("stream should have been removed")
	}
	if _, _, ok := a.Consumer("aux"); !ok {
		t.Error("aux should have been added")
	}
	s := mic.Settings()
	if s.Category != engine.InsertOutput || s.Layout != audio.LayoutStereo || s.Routes[0] != 3 {
		t.Errorf("mic settings = %+v", s)
	}
	if a.Hub().Channel(engine.Main).Listeners() != 0 {
		t.Error("main channel still has a listener after stream was removed")
	}
	if n := a.Hub().Channel(engine.InsertOutput).Listeners(); n != 1 {
		t.Errorf("insert-out listeners = %d, want 1", n)
	}
}

func TestRun_ServesAndWatches(t *testing.T) {
	t.Parallel()

	const base = `
server:
  listen_addr: "127.0.0.1:0"
meter:
  report_interval: 10ms
consumers:
  - name: mic
    stage: 0
    routes: [0, 1]
`
	path := filepath.Join(t.TempDir(), "voicetap.yaml")
	if err := os.WriteFile(path, []byte(base), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	eng := &enginemock.Engine{TierResult: engine.TierBasic}
	a := newApp(t, cfg, eng, app.WithConfigWatch(path, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitFor(t, "http server", func() bool { return a.Addr() != nil })
	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", resp.StatusCode)
	}

	// Meters report while running.
	_, m, _ := a.Consumer("mic")
	waitFor(t, "meter flush", func() bool {
		eng.Deliver(engine.InsertInput, audiomock.NewFrame(12, 12, 16))
		return len(m.Levels()) == 2
	})

	// A consumer added to the file is picked up by the watcher.
	time.Sleep(50 * time.Millisecond)
	updated := base + `  - name: aux
    stage: 2
    layout: mono
    routes: [5]
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "reload", func() bool {
		_, _, ok := a.Consumer("aux")
		return ok
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
