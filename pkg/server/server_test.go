package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/vision"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

func seededStore(t *testing.T) *memory.Local {
	t.Helper()
	ctx := context.Background()
	store := memory.NewLocal()
	if err := store.Record(ctx, "login_button", core.Recipe{TestID: "login_v2"}, memory.Success); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(ctx, "login_button", core.Recipe{Text: "Log in"}, memory.Failure); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordVisualHint(ctx, "deal_again_button", "/table", core.Box{X: 0.25, Y: 0.62, W: 0.2, H: 0.05}); err != nil {
		t.Fatal(err)
	}
	return store
}

func get(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New(seededStore(t), WithIndex(vms.NewIndex())).Handler())
	defer srv.Close()

	status, body := get(t, srv, "/healthz")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got HealthResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.Targets != 2 || got.VMSScreens != 0 || got.Resolve {
		t.Errorf("health = %+v", got)
	}
}

func TestMemoryList(t *testing.T) {
	srv := httptest.NewServer(New(seededStore(t)).Handler())
	defer srv.Close()

	status, body := get(t, srv, "/memory")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var got struct {
		Targets []string `json:"targets"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Targets) != 2 || got.Targets[0] != "deal_again_button" || got.Targets[1] != "login_button" {
		t.Errorf("targets = %v", got.Targets)
	}
}

func TestMemoryList_Empty(t *testing.T) {
	srv := httptest.NewServer(New(memory.NewLocal()).Handler())
	defer srv.Close()

	_, body := get(t, srv, "/memory")
	if !strings.Contains(string(body), `"targets":[]`) {
		t.Errorf("body = %s", body)
	}
}

func TestMemoryEntry(t *testing.T) {
	srv := httptest.NewServer(New(seededStore(t)).Handler())
	defer srv.Close()

	status, body := get(t, srv, "/memory/login_button")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var entry memory.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		t.Fatal(err)
	}
	if len(entry.Variants) != 2 || entry.Variants[0].Recipe.TestID != "login_v2" {
		t.Errorf("variants = %+v, want login_v2 ranked first", entry.Variants)
	}

	status, body = get(t, srv, "/memory/nope")
	if status != http.StatusNotFound || !strings.Contains(string(body), "unknown target") {
		t.Errorf("unknown target: %d %s", status, body)
	}
}

func TestMemoryExport(t *testing.T) {
	srv := httptest.NewServer(New(seededStore(t)).Handler())
	defer srv.Close()

	status, body := get(t, srv, "/memory/export")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Version != memory.SnapshotVersion || len(snap.Entries) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	// Snapshot restores into a fresh store
	restored := memory.NewLocal()
	if err := memory.Import(context.Background(), restored, &snap); err != nil {
		t.Fatal(err)
	}
	if _, ok := restored.VisualHintFor(context.Background(), "deal_again_button", "/table"); !ok {
		t.Error("hint lost in export")
	}
}

func TestMetrics(t *testing.T) {
	srv := httptest.NewServer(New(memory.NewLocal()).Handler())
	defer srv.Close()

	status, body := get(t, srv, "/metrics")
	if status != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics: %d", status)
	}
}

func postResolve(t *testing.T, srv *httptest.Server, req ResolveRequest) (int, []byte) {
	t.Helper()
	data, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/resolve", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestResolve(t *testing.T) {
	engine := heal.NewEngine(heal.Deps{
		Memory: memory.NewLocal(),
		Detector: &vision.StaticDetector{Candidates: []vision.Candidate{
			{ID: "el_1", BBox: core.Box{X: 100, Y: 500, W: 80, H: 40}, Confidence: 0.9},
		}},
		Grounder:  &vision.StaticGrounder{Selection: vision.Selection{SelectedID: "el_1", Confidence: 0.6}},
		Segmenter: &vision.StaticSegmenter{},
	})
	srv := httptest.NewServer(New(memory.NewLocal(), WithEngine(engine)).Handler())
	defer srv.Close()

	status, body := postResolve(t, srv, ResolveRequest{
		Target:         core.Target{Name: "deal_again_button"},
		ScreenshotPath: "shot.png",
		Strategies:     []string{"memory", "vgs"},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	var res heal.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.Strategy != heal.StrategyVGS || res.Point == nil || *res.Point != (core.Point{X: 140, Y: 520}) {
		t.Errorf("result = %+v", res)
	}
	if len(res.Attempts) != 2 || len(res.Skipped) != 1 || res.Skipped[0] != heal.StrategyVMS {
		t.Errorf("attempts = %d, skipped = %v", len(res.Attempts), res.Skipped)
	}
}

func TestResolve_DefaultStrategies(t *testing.T) {
	segmenter := &vision.StaticSegmenter{}
	engine := heal.NewEngine(heal.Deps{Memory: memory.NewLocal(), Segmenter: segmenter})
	srv := httptest.NewServer(New(memory.NewLocal(),
		WithEngine(engine),
		WithStrategies([]heal.Strategy{heal.StrategyMemory}),
	).Handler())
	defer srv.Close()

	status, body := postResolve(t, srv, ResolveRequest{Target: core.Target{Name: "deal_again_button"}})
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	var res heal.Result
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Strategy != heal.StrategyMemory {
		t.Errorf("attempts = %+v", res.Attempts)
	}
	if len(res.Skipped) != 3 {
		t.Errorf("skipped = %v, want vms, vgs and sam3", res.Skipped)
	}
	if segmenter.Calls() != 0 {
		t.Errorf("segmenter calls = %d, want 0", segmenter.Calls())
	}

	// An explicit list still wins over the default.
	status, body = postResolve(t, srv, ResolveRequest{
		Target:     core.Target{Name: "deal_again_button"},
		Strategies: []string{"sam3"},
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	if segmenter.Calls() != 1 {
		t.Errorf("segmenter calls = %d, want 1", segmenter.Calls())
	}
}

func TestResolve_Errors(t *testing.T) {
	engine := heal.NewEngine(heal.Deps{})
	srv := httptest.NewServer(New(memory.NewLocal(), WithEngine(engine)).Handler())
	defer srv.Close()

	if status, _ := postResolve(t, srv, ResolveRequest{}); status != http.StatusBadRequest {
		t.Errorf("empty target: status = %d", status)
	}
	if status, _ := postResolve(t, srv, ResolveRequest{Target: core.Target{Name: "x"}, Strategies: []string{"ocr"}}); status != http.StatusBadRequest {
		t.Errorf("bad strategy: status = %d", status)
	}

	resp, err := http.Post(srv.URL+"/resolve", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: status = %d", resp.StatusCode)
	}

	noEngine := httptest.NewServer(New(memory.NewLocal()).Handler())
	defer noEngine.Close()
	if status, _ := postResolve(t, noEngine, ResolveRequest{Target: core.Target{Name: "x"}}); status != http.StatusNotImplemented {
		t.Errorf("no engine: status = %d", status)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(memory.NewLocal()).ListenAndServe(ctx, "127.0.0.1:0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() = %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
