package recorder

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/vision"
	"github.com/devicelab-dev/selfheal/pkg/vms"
)

const name = "deal_again_button"

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func writeScreen(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / w)})
		}
	}
	path := filepath.Join(t.TempDir(), "screen.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecordSuccess_Recipe(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store)

	recipe := core.Recipe{TestID: "deal-again"}
	res := &heal.Result{Strategy: heal.StrategyMemory, Recipe: &recipe}
	for i := 0; i < 2; i++ {
		if err := w.RecordSuccess(ctx, name, res, core.Dims{}, "table"); err != nil {
			t.Fatal(err)
		}
	}

	got := store.VariantsFor(ctx, name)
	if len(got) != 1 || got[0].SuccessCount != 2 {
		t.Errorf("variants = %+v", got)
	}
	if _, ok := store.VisualHintFor(ctx, name, "table"); ok {
		t.Error("recipe success must not record a visual hint")
	}
}

func TestRecordSuccess_PointWithKnownBox(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store)

	pt := core.Point{X: 140, Y: 520}
	box := core.Box{X: 100, Y: 500, W: 80, H: 40}
	res := &heal.Result{Strategy: heal.StrategyVGS, Point: &pt, Box: &box}
	dims := core.Dims{Width: 400, Height: 800}

	if err := w.RecordSuccess(ctx, name, res, dims, "table"); err != nil {
		t.Fatal(err)
	}
	h, ok := store.VisualHintFor(ctx, name, "table")
	if !ok {
		t.Fatal("hint missing")
	}
	want := core.Box{X: 0.25, Y: 0.625, W: 0.2, H: 0.05}
	if !near(h.Box.X, want.X) || !near(h.Box.Y, want.Y) || !near(h.Box.W, want.W) || !near(h.Box.H, want.H) {
		t.Errorf("hint = %+v, want %+v", h.Box, want)
	}
	if got := h.Box.Denormalize(dims.Width, dims.Height).Center(); got != pt {
		t.Errorf("hint replays to %+v, want %+v", got, pt)
	}
	if len(store.VariantsFor(ctx, name)) != 0 {
		t.Error("point success must not record a recipe")
	}
}

func TestRecordSuccess_PointSynthesizesBox(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store)

	pt := core.Point{X: 200, Y: 400}
	res := &heal.Result{Strategy: heal.StrategySAM3, Point: &pt}
	if err := w.RecordSuccess(ctx, name, res, core.Dims{Width: 1000, Height: 1000}, "lobby"); err != nil {
		t.Fatal(err)
	}
	h, _ := store.VisualHintFor(ctx, name, "lobby")
	if !near(h.Box.X, 0.17) || !near(h.Box.Y, 0.37) || !near(h.Box.W, 0.06) || !near(h.Box.H, 0.06) {
		t.Errorf("hint = %+v", h.Box)
	}
}

func TestRecordSuccess_HintClampedAtEdge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store, WithHintFraction(0.1))

	pt := core.Point{X: 0, Y: 0}
	res := &heal.Result{Strategy: heal.StrategySAM3, Point: &pt}
	w.RecordSuccess(ctx, name, res, core.Dims{Width: 100, Height: 100}, "lobby")

	h, _ := store.VisualHintFor(ctx, name, "lobby")
	if h.Box.X < 0 || h.Box.Y < 0 || !near(h.Box.W, 0.05) || !near(h.Box.H, 0.05) {
		t.Errorf("hint should be clamped into the unit square, got %+v", h.Box)
	}
}

func TestRecordSuccess_PointWithoutDims(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	pt := core.Point{X: 1, Y: 1}
	if err := New(store).RecordSuccess(ctx, name, &heal.Result{Strategy: heal.StrategySAM3, Point: &pt}, core.Dims{}, "x"); err != nil {
		t.Fatalf("missing dims should not fail the step: %v", err)
	}
	if _, ok := store.VisualHintFor(ctx, name, "x"); ok {
		t.Error("no hint can be normalized without a screen size")
	}
}

func TestRecordSuccess_Unresolved(t *testing.T) {
	err := New(memory.NewLocal()).RecordSuccess(context.Background(), name, &heal.Result{}, core.Dims{}, "")
	if !errors.Is(err, ErrNotResolved) {
		t.Errorf("err = %v", err)
	}
}

func TestRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store)
	recipe := core.Recipe{TestID: "deal-again"}
	if err := w.RecordFailure(ctx, name, recipe); err != nil {
		t.Fatal(err)
	}
	got := store.VariantsFor(ctx, name)
	if len(got) != 1 || got[0].FailureCount != 1 || got[0].SuccessCount != 0 {
		t.Errorf("variants = %+v", got)
	}
	if err := w.RecordFailure(ctx, name, core.Recipe{}); err == nil {
		t.Error("empty recipe should be rejected")
	}
}

func TestRecordSuccess_IndexesScreen(t *testing.T) {
	ctx := context.Background()
	shot := writeScreen(t, 400, 800)
	ix := vms.NewIndex()
	w := New(memory.NewLocal(), WithVisualMemory(vms.GrayEmbedder{}, ix, 0.9))

	pt := core.Point{X: 140, Y: 520}
	dims := core.Dims{Width: 400, Height: 800}
	res := &heal.Result{Strategy: heal.StrategyVGS, Point: &pt, Path: shot, Dims: dims}
	if err := w.RecordSuccess(ctx, name, res, dims, "table"); err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 indexed screen, got %d", ix.Len())
	}

	// A second run on the same screen resolves through visual memory.
	e := heal.NewEngine(heal.Deps{Embedder: vms.GrayEmbedder{}, Index: ix})
	again, err := e.Resolve(ctx, heal.Request{Target: core.Target{Name: name}, ScreenshotPath: shot, Enabled: []heal.Strategy{heal.StrategyVMS}})
	if err != nil {
		t.Fatal(err)
	}
	if again.Strategy != heal.StrategyVMS || again.Point == nil || *again.Point != pt {
		t.Errorf("expected vms replay of %+v, got %+v", pt, again)
	}

	if err := w.ForgetScreen(ctx, name, shot); err != nil {
		t.Fatal(err)
	}
	if _, ok := ix.Lookup(ctx, mustEmbed(t, shot), name, 0.9, 0); ok {
		t.Error("ForgetScreen should drop the resolution")
	}
}

func TestSecondRunSkipsVision(t *testing.T) {
	ctx := context.Background()
	store := memory.NewLocal()
	w := New(store)

	recipe := core.Recipe{Role: "button", Text: "Deal Again"}
	if err := w.RecordSuccess(ctx, name, &heal.Result{Strategy: heal.StrategyVGS, Recipe: &recipe}, core.Dims{}, ""); err != nil {
		t.Fatal(err)
	}

	detector := &vision.StaticDetector{}
	e := heal.NewEngine(heal.Deps{Memory: store, Detector: detector, Grounder: &vision.StaticGrounder{}})
	res, _ := e.Resolve(ctx, heal.Request{Target: core.Target{Name: name}})
	if res.Strategy != heal.StrategyMemory || detector.Calls() != 0 {
		t.Errorf("recorded recipe should short-circuit, got %s", res.Summary())
	}
}

func mustEmbed(t *testing.T, path string) []float32 {
	t.Helper()
	v, err := vms.GrayEmbedder{}.Embed(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
