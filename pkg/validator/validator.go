// Package validator validates test plans before execution.
// It parses every file upfront so a broken plan fails the run before any
// driver is opened, and checks that target names are used consistently:
// the name is the locator memory key, so two different elements sharing
// one name would poison each other's recipes.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Flows are the parsed plans that passed the tag filters, in file order.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Files returns the source paths of the accepted plans.
func (r *Result) Files() []string {
	files := make([]string, len(r.Flows))
	for i, f := range r.Flows {
		files[i] = f.SourcePath
	}
	return files
}

// Validator validates plan files.
type Validator struct {
	includeTags []string
	excludeTags []string
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Validate validates files and directories together, so target names are
// checked across every accepted plan.
func (v *Validator) Validate(paths ...string) *Result {
	result := &Result{}
	seen := make(map[string]bool)

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("cannot access: %v", err),
			})
			continue
		}

		files := []string{path}
		if info.IsDir() {
			files, err = collectPlanFiles(path)
			if err != nil {
				result.Errors = append(result.Errors, &ValidationError{
					File:    path,
					Message: fmt.Sprintf("failed to scan directory: %v", err),
				})
				continue
			}
		}

		for _, file := range files {
			if seen[file] {
				continue
			}
			seen[file] = true
			v.validateFile(file, result)
		}
	}

	checkTargets(result)
	return result
}

// collectPlanFiles finds all .yaml/.yml files in a directory, sorted.
func collectPlanFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

// validateFile parses a single plan and applies the tag filters.
func (v *Validator) validateFile(filePath string, result *Result) {
	f, err := flow.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		return
	}

	if len(f.Steps) == 0 {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: "plan has no steps",
		})
		return
	}

	switch f.Config.Platform {
	case "", "web", "mock":
	default:
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("unsupported platform %q (want web or mock)", f.Config.Platform),
		})
		return
	}

	result.Flows = append(result.Flows, f)
}

// targetUse is the first place a target name was seen with structural hints.
type targetUse struct {
	recipe core.Recipe
	file   string
}

// checkTargets reports target names whose structural hints disagree
// between steps. A step that carries only the name is always compatible.
func checkTargets(result *Result) {
	first := make(map[string]targetUse)
	for _, f := range result.Flows {
		for _, step := range f.Steps {
			t, ok := step.TargetOf()
			if !ok {
				continue
			}
			recipe := t.Recipe()
			if recipe.IsEmpty() {
				continue
			}
			prev, ok := first[t.Name]
			if !ok {
				first[t.Name] = targetUse{recipe: recipe, file: f.SourcePath}
				continue
			}
			if prev.recipe != recipe {
				result.Errors = append(result.Errors, &ValidationError{
					File: f.SourcePath,
					Message: fmt.Sprintf("target %q is %s here but %s in %s",
						t.Name, recipe.Describe(), prev.recipe.Describe(), prev.file),
				})
			}
		}
	}
}
