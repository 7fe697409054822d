package flow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

func TestParse_SimplePlan(t *testing.T) {
	yaml := `
- tapOn: deal_again_button
- inputText: "player one"
- tapOn:
    name: submit
    testId: submit-btn
    role: button
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(flow.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(flow.Steps))
	}

	tap, ok := flow.Steps[0].(*TapOnStep)
	if !ok {
		t.Fatalf("expected TapOnStep, got %T", flow.Steps[0])
	}
	if tap.Target != (core.Target{Name: "deal_again_button"}) {
		t.Errorf("unexpected target %+v", tap.Target)
	}

	input, ok := flow.Steps[1].(*InputTextStep)
	if !ok {
		t.Fatalf("expected InputTextStep, got %T", flow.Steps[1])
	}
	if input.Text != "player one" || input.Target != nil {
		t.Errorf("unexpected input step %+v", input)
	}
	if _, ok := input.TargetOf(); ok {
		t.Error("inputText without target should report no target")
	}

	tap2 := flow.Steps[2].(*TapOnStep)
	want := core.Target{Name: "submit", TestID: "submit-btn", Role: "button"}
	if tap2.Target != want {
		t.Errorf("target = %+v, want %+v", tap2.Target, want)
	}
}

func TestParse_WithConfig(t *testing.T) {
	yaml := `
name: Blackjack smoke
platform: web
url: http://localhost:8080/table
tags:
  - smoke
  - canvas
timeout: 30000
---
- tapOn: deal_again_button
- assertVisible:
    name: balance_label
    text: Balance
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flow.Config.Name != "Blackjack smoke" || flow.DisplayName() != "Blackjack smoke" {
		t.Errorf("name = %q", flow.Config.Name)
	}
	if flow.Config.Platform != "web" {
		t.Errorf("platform = %q", flow.Config.Platform)
	}
	if flow.Config.URL != "http://localhost:8080/table" {
		t.Errorf("url = %q", flow.Config.URL)
	}
	if len(flow.Config.Tags) != 2 || flow.Config.Timeout != 30000 {
		t.Errorf("config = %+v", flow.Config)
	}
	if len(flow.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(flow.Steps))
	}
	av, ok := flow.Steps[1].(*AssertVisibleStep)
	if !ok {
		t.Fatalf("expected AssertVisibleStep, got %T", flow.Steps[1])
	}
	if av.Target.Text != "Balance" || av.Describe() != "assertVisible: balance_label" {
		t.Errorf("unexpected %+v", av)
	}
}

func TestParse_StepOptions(t *testing.T) {
	yaml := `
- tapOn:
    name: close_promo
    optional: true
    label: Dismiss promo
    timeout: 2000
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatal(err)
	}
	s := flow.Steps[0]
	if !s.IsOptional() || s.Label() != "Dismiss promo" {
		t.Errorf("optional=%v label=%q", s.IsOptional(), s.Label())
	}
	if tap := s.(*TapOnStep); tap.TimeoutMs != 2000 || tap.Target.Name != "close_promo" {
		t.Errorf("unexpected %+v", tap)
	}
	if s.Type() != StepTapOn {
		t.Errorf("Type() = %s", s.Type())
	}
}

func TestParse_InputTextWithTarget(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want core.Target
	}{
		{
			name: "scalar target",
			yaml: `
- inputText:
    text: alice
    target: username_field
`,
			want: core.Target{Name: "username_field"},
		},
		{
			name: "mapping target",
			yaml: `
- inputText:
    text: alice
    target:
      name: username_field
      testId: username
`,
			want: core.Target{Name: "username_field", TestID: "username"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, err := Parse([]byte(tt.yaml), "test.yaml")
			if err != nil {
				t.Fatal(err)
			}
			s := flow.Steps[0].(*InputTextStep)
			if s.Text != "alice" {
				t.Errorf("text = %q", s.Text)
			}
			got, ok := s.TargetOf()
			if !ok || got != tt.want {
				t.Errorf("target = %+v, want %+v", got, tt.want)
			}
			if !strings.Contains(s.Describe(), "username_field") {
				t.Errorf("Describe() = %q", s.Describe())
			}
		})
	}
}

func TestParse_TargetNameDerived(t *testing.T) {
	tests := []struct {
		yaml string
		want string
	}{
		{"- tapOn:\n    testId: deal-again\n", "deal-again"},
		{"- tapOn:\n    text: Deal Again\n", "Deal Again"},
		{"- tapOn:\n    semanticsLabel: deal again\n", "deal again"},
	}
	for _, tt := range tests {
		flow, err := Parse([]byte(tt.yaml), "test.yaml")
		if err != nil {
			t.Fatalf("%q: %v", tt.yaml, err)
		}
		if got := flow.Steps[0].(*TapOnStep).Target.Name; got != tt.want {
			t.Errorf("name = %q, want %q", got, tt.want)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"empty", "", "empty plan file"},
		{"unknown step", "- swipe: UP\n", "unknown step type: swipe"},
		{"bare command", "- tapOn\n", "step must be a mapping"},
		{"target without fields", "- tapOn:\n    role: button\n", "target name is required"},
		{"target list", "- tapOn: [a, b]\n", "target must be a name or a mapping"},
		{"steps not a list", "tapOn: x\n", "invalid steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "plan.yaml")
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseError_Line(t *testing.T) {
	_, err := Parse([]byte("- tapOn: a\n- swipe: UP\n"), "plan.yaml")
	if err == nil || !strings.HasPrefix(err.Error(), "plan.yaml:2:") {
		t.Errorf("expected line number in %v", err)
	}
}

func TestSplitYAMLDocuments_IgnoresSeparatorInBlockScalar(t *testing.T) {
	content := "name: x\n---\n- inputText:\n    text: |\n      line one\n      ---\n      line two\n"
	parts := splitYAMLDocuments(content)
	if len(parts) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(parts))
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte("name: p\n---\n- tapOn: ok_button\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	flow, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if flow.SourcePath != path || len(flow.Steps) != 1 {
		t.Errorf("unexpected %+v", flow)
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseDirectory_Tags(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("smoke.yaml", "tags: [smoke]\n---\n- tapOn: a\n")
	write("slow.yml", "tags: [slow]\n---\n- tapOn: b\n")
	write("broken.yaml", "- swipe: UP\n")
	write("notes.txt", "not a plan")

	all, err := ParseDirectory(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 plans, got %d", len(all))
	}

	smoke, _ := ParseDirectory(dir, []string{"smoke"}, nil)
	if len(smoke) != 1 || smoke[0].Config.Tags[0] != "smoke" {
		t.Errorf("include filter failed: %d plans", len(smoke))
	}

	notSlow, _ := ParseDirectory(dir, nil, []string{"slow"})
	if len(notSlow) != 1 {
		t.Errorf("exclude filter failed: %d plans", len(notSlow))
	}
}
