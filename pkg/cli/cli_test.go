package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/selfheal/pkg/config"
	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/memory"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

func TestResolveOutputDir_Default(t *testing.T) {
	dir, err := resolveOutputDir("reports", "", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should have timestamp subfolder
	parts := strings.Split(dir, string(filepath.Separator))
	if len(parts) != 2 || parts[0] != "reports" {
		t.Errorf("expected reports/<timestamp>, got %s", dir)
	}
}

func TestResolveOutputDir_CustomOutput(t *testing.T) {
	dir, err := resolveOutputDir("reports", "./my-reports", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(dir, "my-reports"+string(filepath.Separator)) {
		t.Errorf("expected dir to start with my-reports/, got %s", dir)
	}
}

func TestResolveOutputDir_Flatten(t *testing.T) {
	dir, err := resolveOutputDir("reports", "./my-reports", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dir != "my-reports" {
		t.Errorf("expected my-reports, got %s", dir)
	}
}

func TestResolveOutputDir_FlattenWithoutOutput(t *testing.T) {
	_, err := resolveOutputDir("reports", "", true)
	if err == nil {
		t.Fatal("expected error when flatten is used without output")
	}

	if !strings.Contains(err.Error(), "--flatten requires --output") {
		t.Errorf("expected error about --flatten requiring --output, got: %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{1500, "1.5s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{90000, "1m 30s"},
		{125000, "2m 5s"},
	}

	for _, tc := range tests {
		result := formatDuration(tc.ms)
		if result != tc.expected {
			t.Errorf("formatDuration(%d) = %q, expected %q", tc.ms, result, tc.expected)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	requiredFlags := []string{"config", "c", "log-level", "verbose", "memory-backend", "memory-path", "no-ansi"}
	for _, name := range requiredFlags {
		if !flagNames[name] {
			t.Errorf("expected flag %q to be defined", name)
		}
	}
}

func TestPruneStrategies(t *testing.T) {
	cfg := config.Default()
	if got := pruneStrategies(nil, cfg); got != nil {
		t.Errorf("nothing to prune: got %v, want nil", got)
	}

	cfg.VMS.Enabled = false
	cfg.Vision.Provider = config.ProviderNone
	got := pruneStrategies(nil, cfg)
	if len(got) != 1 || got[0] != heal.StrategyMemory {
		t.Errorf("got %v, want [memory]", got)
	}

	got = pruneStrategies([]heal.Strategy{heal.StrategyVMS, heal.StrategySAM3}, cfg)
	if len(got) != 0 || got == nil {
		t.Errorf("got %#v, want empty non-nil", got)
	}
}

// workspace is a temp home with a config, a screen fixture and a json memory.
type workspace struct {
	dir        string
	configPath string
	screenPath string
	memoryPath string
	output     *bytes.Buffer
}

const screenFixture = `label: /login
width: 400
height: 800
elements:
  - testId: username
    role: textbox
    bounds: {x: 20, y: 100, width: 360, height: 40}
  - testId: login_v2
    role: button
    text: Log in
    bounds: {x: 20, y: 200, width: 360, height: 50}
  - role: button
    text: Deal again
    hidden: true
    bounds: {x: 100, y: 500, width: 80, height: 40}
`

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SELFHEAL_HOME", filepath.Join(dir, "home"))
	config.ResetHome()
	t.Cleanup(config.ResetHome)

	ws := &workspace{
		dir:        dir,
		configPath: filepath.Join(dir, "selfheal.yaml"),
		screenPath: filepath.Join(dir, "screen.yaml"),
		memoryPath: filepath.Join(dir, "memory.json"),
		output:     &bytes.Buffer{},
	}
	ws.write(t, "selfheal.yaml", `platform: mock
memory:
  backend: json
  path: `+ws.memoryPath+`
vms:
  enabled: true
  inMemory: true
vision:
  provider: mock
`)
	ws.write(t, "screen.yaml", screenFixture)

	prevOut, prevColors := out, colorsEnabled
	out, colorsEnabled = ws.output, false
	t.Cleanup(func() { out, colorsEnabled = prevOut, prevColors })
	return ws
}

func (ws *workspace) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ws.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// seed stores one remembered recipe for login_button.
func (ws *workspace) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	l := memory.NewLocal()
	if err := l.Record(ctx, "login_button", core.Recipe{TestID: "login_v2"}, memory.Success); err != nil {
		t.Fatal(err)
	}
	if err := l.SaveFile(ctx, ws.memoryPath); err != nil {
		t.Fatal(err)
	}
}

// run invokes the app with the workspace config.
func (ws *workspace) run(args ...string) error {
	app := NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app.Run(append([]string{"selfheal", "--config", ws.configPath}, args...))
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func TestRunCommand_NoPlans(t *testing.T) {
	ws := newWorkspace(t)
	err := ws.run("run")
	if err == nil || !strings.Contains(err.Error(), "at least one plan") {
		t.Errorf("expected missing plan error, got %v", err)
	}
}

func TestRunCommand_HealsFromMemory(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)
	planPath := ws.write(t, "login.yaml", `name: Login
---
- tapOn:
    name: username_field
    testId: username
- inputText: "player one"
- tapOn:
    name: login_button
    testId: login
`)
	reportDir := filepath.Join(ws.dir, "report")

	if err := ws.run("run", "--screen", ws.screenPath, "--output", reportDir, "--flatten", planPath); err != nil {
		t.Fatalf("run: %v\n%s", err, ws.output)
	}

	if !strings.Contains(ws.output.String(), "healed") {
		t.Errorf("expected a healed step in output:\n%s", ws.output)
	}

	index, err := report.ReadIndex(reportDir)
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != report.StatusPassed || index.Healing.Resolved != 1 || index.Healing.ByStrategy["memory"] != 1 {
		t.Errorf("index = status %s, healing %+v", index.Status, index.Healing)
	}
	if _, err := os.Stat(filepath.Join(reportDir, "selfheal.log")); err != nil {
		t.Errorf("log file: %v", err)
	}

	// The confirmed recipe was written back and saved on exit
	snap, err := memory.ReadFile(ws.memoryPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Variants[0].SuccessCount != 2 {
		t.Errorf("snapshot = %+v", snap.Entries)
	}
}

func TestRunCommand_UnresolvedFails(t *testing.T) {
	ws := newWorkspace(t)
	planPath := ws.write(t, "deal.yaml", `- tapOn: deal_again_button`)
	reportDir := filepath.Join(ws.dir, "report")

	err := ws.run("run", "--screen", ws.screenPath, "--output", reportDir, "--flatten", planPath)
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}

	index, err := report.ReadIndex(reportDir)
	if err != nil {
		t.Fatal(err)
	}
	if index.Status != report.StatusFailed || index.Healing.Unresolved != 1 {
		t.Errorf("index = status %s, healing %+v", index.Status, index.Healing)
	}
	if !strings.Contains(ws.output.String(), "FAIL") {
		t.Errorf("summary missing FAIL row:\n%s", ws.output)
	}
}

func TestRunCommand_NoHeal(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)
	planPath := ws.write(t, "login.yaml", `- tapOn:
    name: login_button
    testId: login
`)

	err := ws.run("run", "--screen", ws.screenPath, "--no-heal",
		"--output", filepath.Join(ws.dir, "report"), "--flatten", planPath)
	if exitCode(err) != 1 {
		t.Errorf("expected native-only failure, got %v", err)
	}
}

func TestRunCommand_TagsAndParallel(t *testing.T) {
	ws := newWorkspace(t)
	plans := filepath.Join(ws.dir, "plans")
	if err := os.MkdirAll(plans, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b", "c"} {
		tag := "smoke"
		if name == "c" {
			tag = "slow"
		}
		content := "name: " + name + "\ntags: [" + tag + "]\n---\n- tapOn:\n    testId: username\n"
		if err := os.WriteFile(filepath.Join(plans, name+".yaml"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reportDir := filepath.Join(ws.dir, "report")

	err := ws.run("run", "--screen", ws.screenPath, "--parallel", "2", "--include-tags", "smoke",
		"--output", reportDir, "--flatten", plans)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, ws.output)
	}

	index, err := report.ReadIndex(reportDir)
	if err != nil {
		t.Fatal(err)
	}
	if index.Summary.Total != 2 || index.Summary.Passed != 2 {
		t.Errorf("summary = %+v, want 2 tagged plans passed", index.Summary)
	}
}

func TestRunCommand_BadStrategy(t *testing.T) {
	ws := newWorkspace(t)
	planPath := ws.write(t, "p.yaml", `- tapOn: x`)
	err := ws.run("run", "--strategies", "ocr", planPath)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateCommand(t *testing.T) {
	ws := newWorkspace(t)
	good := ws.write(t, "good.yaml", "name: Good\n---\n- tapOn: ok_button\n")
	if err := ws.run("validate", good); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(ws.output.String(), "Good (1 steps)") {
		t.Errorf("output = %s", ws.output)
	}

	bad := ws.write(t, "bad.yaml", "- flyTo: moon\n")
	if err := ws.run("validate", good, bad); exitCode(err) != 1 {
		t.Errorf("expected exit code 1, got %v", err)
	}
}

func writeScreenshot(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "shot.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 400, 800))); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveCommand(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)
	shot := writeScreenshot(t, ws.dir)

	if err := ws.run("resolve", "--screenshot", shot, "--target", "login_button", "--json"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var res heal.Result
	if err := json.Unmarshal(ws.output.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", ws.output, err)
	}
	if res.Strategy != heal.StrategyMemory || res.Recipe == nil || res.Recipe.TestID != "login_v2" {
		t.Errorf("result = %+v", res)
	}
	if res.Dims != (core.Dims{Width: 400, Height: 800}) {
		t.Errorf("dims = %+v", res.Dims)
	}
}

func TestResolveCommand_Unresolved(t *testing.T) {
	ws := newWorkspace(t)
	shot := writeScreenshot(t, ws.dir)

	err := ws.run("resolve", "--screenshot", shot, "--target", "deal_again_button", "--strategies", "memory")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	got := ws.output.String()
	if !strings.Contains(got, "not resolved") || !strings.Contains(got, "memory: failed") {
		t.Errorf("output = %s", got)
	}
	if !strings.Contains(got, "vgs: skipped") {
		t.Errorf("disabled strategies should be listed as skipped: %s", got)
	}
}

func TestMemoryCommands(t *testing.T) {
	ws := newWorkspace(t)
	ws.seed(t)

	if err := ws.run("memory", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ws.output.String(), "login_button") {
		t.Errorf("list output = %s", ws.output)
	}

	ws.output.Reset()
	if err := ws.run("memory", "show", "login_button"); err != nil {
		t.Fatal(err)
	}
	var entry memory.Entry
	if err := json.Unmarshal(ws.output.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if len(entry.Variants) != 1 || entry.Variants[0].Recipe.TestID != "login_v2" {
		t.Errorf("entry = %+v", entry)
	}

	if err := ws.run("memory", "show", "nope"); err == nil || !strings.Contains(err.Error(), "unknown target") {
		t.Errorf("show unknown: %v", err)
	}

	// Export, then import into a fresh sqlite store
	exported := filepath.Join(ws.dir, "export.json")
	if err := ws.run("memory", "export", exported); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(ws.dir, "memory.db")
	if err := ws.run("--memory-backend", "sqlite", "--memory-path", dbPath, "memory", "import", exported); err != nil {
		t.Fatal(err)
	}

	st, err := memory.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if v := st.VariantsFor(context.Background(), "login_button"); len(v) != 1 || v[0].SuccessCount != 1 {
		t.Errorf("imported variants = %+v", v)
	}
}

func TestMemoryImport_Missing(t *testing.T) {
	ws := newWorkspace(t)
	err := ws.run("memory", "import", filepath.Join(ws.dir, "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "snapshot not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}
