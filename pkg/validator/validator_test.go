package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePlans(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{"test.yaml": `
name: Login
---
- tapOn: login_button
- inputText: "username"
`})

	v := New(nil, nil)
	result := v.Validate(filepath.Join(dir, "test.yaml"))

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Flows) != 1 || result.Flows[0].Config.Name != "Login" {
		t.Errorf("expected 1 plan named Login, got %+v", result.Flows)
	}
}

func TestValidate_DirectorySorted(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{
		"b.yaml":        `- tapOn: button_b`,
		"a.yml":         `- tapOn: button_a`,
		"nested/c.yaml": `- tapOn: button_c`,
		"notes.txt":     `not a plan`,
	})

	result := New(nil, nil).Validate(dir)

	if !result.IsValid() {
		t.Fatalf("expected valid result, got errors: %v", result.Errors)
	}
	files := result.Files()
	want := []string{"a.yml", "b.yaml", filepath.Join("nested", "c.yaml")}
	if len(files) != len(want) {
		t.Fatalf("files = %v", files)
	}
	for i, f := range files {
		if rel, _ := filepath.Rel(dir, f); rel != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, rel, want[i])
		}
	}
}

func TestValidate_MultiplePathsDeduplicated(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{"a.yaml": `- tapOn: x`})

	result := New(nil, nil).Validate(dir, filepath.Join(dir, "a.yaml"))
	if len(result.Flows) != 1 {
		t.Errorf("expected the plan once, got %d", len(result.Flows))
	}
}

func TestValidate_ParseError(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{
		"good.yaml": `- tapOn: ok`,
		"bad.yaml":  `- flyTo: moon`,
	})

	result := New(nil, nil).Validate(dir)

	if result.IsValid() {
		t.Fatal("expected errors")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error(), "parse error") {
		t.Errorf("errors = %v", result.Errors)
	}
	if len(result.Flows) != 1 {
		t.Errorf("good plan should still be returned, got %d", len(result.Flows))
	}
}

func TestValidate_MissingPath(t *testing.T) {
	result := New(nil, nil).Validate("/nonexistent/plans")
	if result.IsValid() || !strings.Contains(result.Errors[0].Error(), "cannot access") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_EmptyPlan(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{"empty.yaml": "name: nothing\n---\n[]\n"})

	result := New(nil, nil).Validate(dir)
	if result.IsValid() {
		t.Fatal("expected error for plan without steps")
	}
}

func TestValidate_UnsupportedPlatform(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{"p.yaml": "platform: android\n---\n- tapOn: x\n"})

	result := New(nil, nil).Validate(dir)
	if result.IsValid() || !strings.Contains(result.Errors[0].Error(), "unsupported platform") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_TagFilters(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{
		"smoke.yaml": "tags: [smoke]\n---\n- tapOn: a\n",
		"slow.yaml":  "tags: [smoke, slow]\n---\n- tapOn: b\n",
		"none.yaml":  "- tapOn: c\n",
	})

	result := New([]string{"smoke"}, []string{"slow"}).Validate(dir)

	if !result.IsValid() {
		t.Fatalf("errors = %v", result.Errors)
	}
	if len(result.Flows) != 1 || filepath.Base(result.Flows[0].SourcePath) != "smoke.yaml" {
		t.Errorf("flows = %v", result.Files())
	}
}

func TestValidate_ConflictingTargetHints(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{
		"a.yaml": `
- tapOn:
    name: login_button
    testId: login
`,
		"b.yaml": `
- assertVisible:
    name: login_button
    testId: sign-in
`,
	})

	result := New(nil, nil).Validate(dir)

	if len(result.Errors) != 1 {
		t.Fatalf("expected one conflict, got %v", result.Errors)
	}
	msg := result.Errors[0].Error()
	if !strings.Contains(msg, `target "login_button"`) || !strings.Contains(msg, "a.yaml") {
		t.Errorf("message = %s", msg)
	}
}

func TestValidate_NameOnlyTargetsAreCompatible(t *testing.T) {
	dir := t.TempDir()
	writePlans(t, dir, map[string]string{"a.yaml": `
- tapOn:
    name: login_button
    testId: login
- tapOn: login_button
- inputText:
    text: hi
    target:
      name: login_button
      testId: login
`})

	result := New(nil, nil).Validate(dir)
	if !result.IsValid() {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{File: "plans/a.yaml", Message: "plan has no steps"}
	if err.Error() != "plans/a.yaml: plan has no steps" {
		t.Errorf("Error() = %q", err.Error())
	}
}
