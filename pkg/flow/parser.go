package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single YAML test plan.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided plan file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses plan YAML content: an optional config document, then a
// list of steps.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	if len(parts) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty plan file",
		}
	}

	if len(parts) == 1 {
		if err := parseSteps(parts[0], flow); err != nil {
			return nil, err
		}
	} else {
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inMultiline := false
	multilineIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inMultiline {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inMultiline = true
				if i+1 < len(lines) {
					next := lines[i+1]
					multilineIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < multilineIndent {
				inMultiline = false
			}
		}

		if !inMultiline && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		} else {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			parts = append(parts, current.String())
		}
	}

	return parts
}

func parseConfig(content string, flow *Flow) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	flow.Config = config
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	for _, node := range rawSteps {
		step, err := parseStep(&node, flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}

	return nil
}

func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping",
		}
	}

	stepType, valueNode := extractStepType(node)
	if stepType == "" || valueNode == nil {
		key := ""
		if len(node.Content) > 0 {
			key = node.Content[0].Value
		}
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: fmt.Sprintf("unknown step type: %s", key),
		}
	}

	return decodeStep(StepType(stepType), valueNode, sourcePath)
}

func extractStepType(node *yaml.Node) (string, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		key := node.Content[i].Value
		if isStepType(key) {
			return key, node.Content[i+1]
		}
	}
	return "", nil
}

func isStepType(key string) bool {
	switch StepType(key) {
	case StepTapOn, StepInputText, StepAssertVisible:
		return true
	}
	return false
}

func decodeStep(stepType StepType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	switch stepType {
	case StepTapOn:
		var s TapOnStep
		target, err := decodeTarget(valueNode, sourcePath)
		if err != nil {
			return nil, err
		}
		if err := decodeBase(valueNode, &s.BaseStep, sourcePath); err != nil {
			return nil, err
		}
		s.Target = target
		s.StepType = stepType
		return &s, nil

	case StepAssertVisible:
		var s AssertVisibleStep
		target, err := decodeTarget(valueNode, sourcePath)
		if err != nil {
			return nil, err
		}
		if err := decodeBase(valueNode, &s.BaseStep, sourcePath); err != nil {
			return nil, err
		}
		s.Target = target
		s.StepType = stepType
		return &s, nil

	case StepInputText:
		var s InputTextStep
		if valueNode.Kind == yaml.ScalarNode {
			s.Text = valueNode.Value
		} else {
			var raw struct {
				Target yaml.Node `yaml:"target"`
			}
			if err := valueNode.Decode(&s); err != nil {
				return nil, wrapParseError(sourcePath, valueNode.Line, err)
			}
			if err := valueNode.Decode(&raw); err != nil {
				return nil, wrapParseError(sourcePath, valueNode.Line, err)
			}
			if raw.Target.Kind != 0 {
				target, err := decodeTarget(&raw.Target, sourcePath)
				if err != nil {
					return nil, err
				}
				s.Target = &target
			}
		}
		s.StepType = stepType
		return &s, nil
	}

	return nil, &ParseError{Path: sourcePath, Line: valueNode.Line, Message: fmt.Sprintf("unknown step type: %s", stepType)}
}

// decodeBase reads optional/label/timeout when the step value is a mapping.
func decodeBase(node *yaml.Node, base *BaseStep, sourcePath string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	if err := node.Decode(base); err != nil {
		return wrapParseError(sourcePath, node.Line, err)
	}
	return nil
}

// decodeTarget accepts a bare name or a mapping of target fields. A mapping
// without a name is keyed by its testId, text or semanticsLabel.
func decodeTarget(node *yaml.Node, sourcePath string) (core.Target, error) {
	var t core.Target
	switch node.Kind {
	case yaml.ScalarNode:
		t.Name = node.Value
	case yaml.MappingNode:
		if err := node.Decode(&t); err != nil {
			return t, wrapParseError(sourcePath, node.Line, err)
		}
		if t.Name == "" {
			switch {
			case t.TestID != "":
				t.Name = t.TestID
			case t.Text != "":
				t.Name = t.Text
			default:
				t.Name = t.SemanticsLabel
			}
		}
	default:
		return t, &ParseError{Path: sourcePath, Line: node.Line, Message: "target must be a name or a mapping"}
	}
	if t.Name == "" {
		return t, &ParseError{Path: sourcePath, Line: node.Line, Message: core.ErrInvalidTarget.Message}
	}
	return t, nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all YAML files in a directory.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
		return nil
	})

	return flows, err
}

// ShouldIncludeFlow checks if a flow matches tag filters.
func ShouldIncludeFlow(flow *Flow, includeTags, excludeTags []string) bool {
	if len(includeTags) > 0 {
		hasTag := false
		for _, tag := range flow.Config.Tags {
			for _, include := range includeTags {
				if tag == include {
					hasTag = true
					break
				}
			}
		}
		if !hasTag {
			return false
		}
	}

	for _, tag := range flow.Config.Tags {
		for _, exclude := range excludeTags {
			if tag == exclude {
				return false
			}
		}
	}

	return true
}
