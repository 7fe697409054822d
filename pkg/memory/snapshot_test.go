package memory

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	record := func(name string, r core.Recipe, o Outcome, n int) {
		for i := 0; i < n; i++ {
			if err := s.Record(ctx, name, r, o); err != nil {
				t.Fatal(err)
			}
		}
	}
	record("deal_again_button", recipeA, Success, 3)
	record("deal_again_button", recipeB, Success, 3) // tie on score with A, newer
	record("deal_again_button", recipeC, Failure, 1)
	record("login", core.Recipe{TestID: "login-btn"}, Success, 1)
	if err := s.RecordVisualHint(ctx, "deal_again_button", "table", core.Box{X: 0.1, Y: 0.5, W: 0.1, H: 0.05}); err != nil {
		t.Fatal(err)
	}
}

func ranking(ctx context.Context, s Store, name string) []Variant {
	vs := s.VariantsFor(ctx, name)
	for i := range vs {
		vs[i].seq = 0
	}
	return vs
}

func TestSnapshotRoundTrip_Local(t *testing.T) {
	ctx := context.Background()
	src := NewLocal(WithClock(stepClock()))
	seed(t, src)

	path := filepath.Join(t.TempDir(), "nested", "memory.json")
	if err := src.SaveFile(ctx, path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	dst, err := OpenFile(ctx, path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	for _, name := range []string{"deal_again_button", "login"} {
		want := ranking(ctx, src, name)
		got := ranking(ctx, dst, name)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s ranking changed across round trip:\n got  %+v\n want %+v", name, got, want)
		}
	}

	wantHint, _ := src.VisualHintFor(ctx, "deal_again_button", "table")
	gotHint, ok := dst.VisualHintFor(ctx, "deal_again_button", "table")
	if !ok || !reflect.DeepEqual(gotHint, wantHint) {
		t.Errorf("hint = %+v, want %+v", gotHint, wantHint)
	}
}

func TestSnapshotRoundTrip_FullTieKeepsOrder(t *testing.T) {
	ctx := context.Background()
	src := NewLocal()
	e := Entry{Name: "t", Variants: []Variant{
		{Recipe: recipeB, SuccessCount: 1},
		{Recipe: recipeA, SuccessCount: 1},
		{Recipe: recipeC, SuccessCount: 1},
	}}
	if err := src.PutEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := src.SaveFile(ctx, path); err != nil {
		t.Fatal(err)
	}
	dst, err := OpenFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ranking(ctx, dst, "t"), ranking(ctx, src, "t")) {
		t.Error("full ties must restore in the same order")
	}
}

func TestSnapshot_LocalToSQLite(t *testing.T) {
	ctx := context.Background()
	src := NewLocal(WithClock(stepClock()))
	seed(t, src)

	snap, err := Export(ctx, src)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(snap.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap.Entries))
	}

	dst, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()
	if err := Import(ctx, dst, snap); err != nil {
		t.Fatalf("Import: %v", err)
	}

	want := ranking(ctx, src, "deal_again_button")
	got := ranking(ctx, dst, "deal_again_button")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ranking differs:\n got  %+v\n want %+v", got, want)
	}

	names, err := dst.Names(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"deal_again_button", "login"}) {
		t.Errorf("Names() = %v", names)
	}
}

func TestSQLiteStore_DurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	s.SetClock(stepClock())
	seed(t, s)
	want := ranking(ctx, s, "deal_again_button")
	s.Close()

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got := ranking(ctx, reopened, "deal_again_button"); !reflect.DeepEqual(got, want) {
		t.Errorf("ranking differs after reopen:\n got  %+v\n want %+v", got, want)
	}
	if _, ok := reopened.VisualHintFor(ctx, "deal_again_button", "table"); !ok {
		t.Error("visual hint lost after reopen")
	}
}

func TestOpenFile_Missing(t *testing.T) {
	l, err := OpenFile(context.Background(), filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("missing file should give an empty store: %v", err)
	}
	names, _ := l.Names(context.Background())
	if len(names) != 0 {
		t.Errorf("expected empty store, got %v", names)
	}
}

func TestReadFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestImport_RejectsUnknownVersion(t *testing.T) {
	err := Import(context.Background(), NewLocal(), &Snapshot{Version: 99})
	if err == nil {
		t.Error("expected version error")
	}
}

func TestEntry_Unknown(t *testing.T) {
	_, ok, err := NewLocal().Entry(context.Background(), "missing")
	if err != nil || ok {
		t.Errorf("Entry(missing) = ok %v, err %v", ok, err)
	}
}
