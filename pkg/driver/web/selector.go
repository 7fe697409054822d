package web

import (
	"strings"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// nativeRoles maps ARIA roles to the elements that carry them implicitly.
var nativeRoles = map[string][]string{
	"button":   {"button", `input[type="button"]`, `input[type="submit"]`},
	"link":     {"a[href]"},
	"textbox":  {`input:not([type])`, `input[type="text"]`, `input[type="email"]`, `input[type="password"]`, "textarea"},
	"checkbox": {`input[type="checkbox"]`},
	"heading":  {"h1", "h2", "h3", "h4", "h5", "h6"},
	"img":      {"img[alt]"},
}

// textCandidates is the selector used when a recipe only carries text.
const textCandidates = "button, a, label, span, p, li, td, th, h1, h2, h3, h4, h5, h6, div, [role]"

// BuildSelector converts a recipe into a CSS selector. Text is not
// expressible in CSS and is matched separately against the element's
// rendered text.
func BuildSelector(r core.Recipe) string {
	var attrs strings.Builder
	if r.TestID != "" {
		attrs.WriteString(`[data-testid=` + cssString(r.TestID) + `]`)
	}
	if r.SemanticsLabel != "" {
		attrs.WriteString(`[aria-label=` + cssString(r.SemanticsLabel) + `]`)
	}

	var bases []string
	switch {
	case r.Role != "":
		role := strings.ToLower(r.Role)
		bases = append(bases, `[role=`+cssString(role)+`]`)
		bases = append(bases, nativeRoles[role]...)
	case attrs.Len() > 0:
		bases = []string{""}
	default:
		return textCandidates
	}

	parts := make([]string, len(bases))
	for i, b := range bases {
		parts[i] = b + attrs.String()
	}
	return strings.Join(parts, ", ")
}

// cssString quotes s as a CSS string literal.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return `"` + r.Replace(s) + `"`
}

// textMatches compares rendered text the way a user reads it.
func textMatches(got, want string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(got), " "), strings.Join(strings.Fields(want), " "))
}
