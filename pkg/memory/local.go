package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
)

// Local is the in-process Store. All mutations are serialized by one lock,
// so concurrent writers racing on the same name never lose an update.
type Local struct {
	mu      sync.RWMutex
	entries map[string]*localEntry
	nextSeq int64
	now     func() time.Time
}

type localEntry struct {
	variants []Variant // first-seen order
	hints    map[string]VisualHint
}

// Option configures a Local store.
type Option func(*Local)

// WithClock overrides time.Now, for deterministic LastUsed in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// NewLocal creates an empty in-process store.
func NewLocal(opts ...Option) *Local {
	l := &Local{
		entries: make(map[string]*localEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// VariantsFor returns a ranked copy of the recipes for name.
func (l *Local) VariantsFor(_ context.Context, name string) []Variant {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[name]
	if !ok {
		return []Variant{}
	}
	out := make([]Variant, len(e.variants))
	copy(out, e.variants)
	return Rank(out)
}

// Record updates the counters for recipe under name.
func (l *Local) Record(_ context.Context, name string, recipe core.Recipe, outcome Outcome) error {
	if err := validate(name, recipe); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(name)
	key := recipe.Key()
	idx := -1
	for i := range e.variants {
		if e.variants[i].Recipe.Key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.nextSeq++
		e.variants = append(e.variants, Variant{Recipe: recipe, seq: l.nextSeq})
		idx = len(e.variants) - 1
	}

	v := &e.variants[idx]
	if outcome == Success {
		v.SuccessCount++
	} else {
		v.FailureCount++
	}
	v.LastUsed = l.now().UTC()
	return nil
}

// VisualHintFor returns the hint for (name, screenLabel).
func (l *Local) VisualHintFor(_ context.Context, name, screenLabel string) (VisualHint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[name]
	if !ok {
		return VisualHint{}, false
	}
	h, ok := e.hints[screenLabel]
	return h, ok
}

// RecordVisualHint overwrites the hint for (name, screenLabel).
func (l *Local) RecordVisualHint(_ context.Context, name, screenLabel string, box core.Box) error {
	if name == "" {
		return core.ErrInvalidTarget
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entry(name).hints[screenLabel] = VisualHint{
		ScreenLabel: screenLabel,
		Box:         box.Clamp(),
		UpdatedAt:   l.now().UTC(),
	}
	return nil
}

// Names lists every remembered target, sorted.
func (l *Local) Names(_ context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.entries))
	for name := range l.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Entry returns a ranked copy of everything stored for name.
func (l *Local) Entry(ctx context.Context, name string) (Entry, bool, error) {
	l.mu.RLock()
	e, ok := l.entries[name]
	if !ok {
		l.mu.RUnlock()
		return Entry{}, false, nil
	}
	hints := make(map[string]VisualHint, len(e.hints))
	for k, v := range e.hints {
		hints[k] = v
	}
	l.mu.RUnlock()

	return Entry{Name: name, Variants: l.VariantsFor(ctx, name), Hints: hints}, true, nil
}

// PutEntry replaces everything stored for e.Name. Variants keep the given
// order as their first-seen order; repeated recipes are merged.
func (l *Local) PutEntry(_ context.Context, e Entry) error {
	if e.Name == "" {
		return core.ErrInvalidTarget
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	le := &localEntry{hints: make(map[string]VisualHint, len(e.Hints))}
	for _, v := range mergeVariants(e.Variants) {
		l.nextSeq++
		v.seq = l.nextSeq
		le.variants = append(le.variants, v)
	}
	for label, h := range e.Hints {
		h.ScreenLabel = label
		le.hints[label] = h
	}
	l.entries[e.Name] = le
	return nil
}

func (l *Local) entry(name string) *localEntry {
	e, ok := l.entries[name]
	if !ok {
		e = &localEntry{hints: make(map[string]VisualHint)}
		l.entries[name] = e
	}
	return e
}
