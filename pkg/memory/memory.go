// Package memory is the locator memory: per-target recipes ranked by how
// often they worked, plus approximate visual hints keyed by screen label.
//
// Entries are created lazily on first record and never deleted; recipes
// that stop working sink in the ranking as fresher ones succeed.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// Outcome is the real-world result of replaying a recipe.
type Outcome int

const (
	Success Outcome = iota
	Failure
)

// String returns "success" or "failure".
func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Store is the contract the healing engine and the recorder depend on.
type Store interface {
	// VariantsFor returns the recipes for name, most likely first.
	// Unknown names yield an empty slice, never an error.
	VariantsFor(ctx context.Context, name string) []Variant

	// Record bumps the success or failure counter of recipe under name.
	// Repeating the same recipe increments counters instead of duplicating it.
	Record(ctx context.Context, name string, recipe core.Recipe, outcome Outcome) error

	// VisualHintFor returns the hint stored for (name, screenLabel).
	VisualHintFor(ctx context.Context, name, screenLabel string) (VisualHint, bool)

	// RecordVisualHint upserts the hint for (name, screenLabel); most recent wins.
	RecordVisualHint(ctx context.Context, name, screenLabel string, box core.Box) error
}

// Archive is implemented by stores that can be listed, exported and restored.
type Archive interface {
	Names(ctx context.Context) ([]string, error)
	Entry(ctx context.Context, name string) (Entry, bool, error)
	PutEntry(ctx context.Context, e Entry) error
}

// Variant is one recipe with its track record.
type Variant struct {
	Recipe       core.Recipe `json:"recipe"`
	SuccessCount int         `json:"successCount"`
	FailureCount int         `json:"failureCount"`
	LastUsed     time.Time   `json:"lastUsed"`

	seq int64 // first-seen order, last tie breaker
}

// Score is the smoothed success rate s / (s + f + 1).
func (v Variant) Score() float64 {
	return float64(v.SuccessCount) / float64(v.SuccessCount+v.FailureCount+1)
}

// VisualHint is an approximate region, normalized to [0,1], where the
// target was last found on a given screen.
type VisualHint struct {
	ScreenLabel string    `json:"screenLabel"`
	Box         core.Box  `json:"box"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Entry is everything remembered about one target name.
type Entry struct {
	Name     string                `json:"name"`
	Variants []Variant             `json:"variants"`
	Hints    map[string]VisualHint `json:"hints,omitempty"`
}

// Rank sorts variants most-likely-first: highest score, then most recent
// LastUsed, then first-seen order. The slice is sorted in place and returned.
func Rank(variants []Variant) []Variant {
	sort.SliceStable(variants, func(i, j int) bool {
		a, b := variants[i], variants[j]
		sa, sb := a.Score(), b.Score()
		if sa != sb {
			return sa > sb
		}
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return a.seq < b.seq
	})
	return variants
}

// mergeVariants drops empty recipes and folds repeated recipes into the
// first occurrence: counters add up and the latest LastUsed wins.
func mergeVariants(variants []Variant) []Variant {
	out := make([]Variant, 0, len(variants))
	pos := make(map[string]int, len(variants))
	for _, v := range variants {
		if v.Recipe.IsEmpty() {
			continue
		}
		key := v.Recipe.Key()
		i, ok := pos[key]
		if !ok {
			pos[key] = len(out)
			out = append(out, v)
			continue
		}
		out[i].SuccessCount += v.SuccessCount
		out[i].FailureCount += v.FailureCount
		if v.LastUsed.After(out[i].LastUsed) {
			out[i].LastUsed = v.LastUsed
		}
	}
	return out
}

func validate(name string, recipe core.Recipe) error {
	if name == "" {
		return core.ErrInvalidTarget
	}
	if recipe.IsEmpty() {
		return core.ErrInvalidRecipe.WithDetails(map[string]interface{}{"target": name})
	}
	return nil
}
