package vms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/logger"
)

// Defaults for matching screens.
const (
	DefaultMergeThreshold = 0.98
	DefaultTopK           = 5
)

const screenPrefix = "screen/"

// NormPoint is a click point normalized to [0,1] of the screenshot size.
type NormPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Resolution is what worked for a target on a screen: either a structural
// recipe or a normalized point.
type Resolution struct {
	Recipe *core.Recipe `json:"recipe,omitempty"`
	Point  *NormPoint   `json:"point,omitempty"`
}

// IsEmpty returns true if the resolution carries neither recipe nor point.
func (r Resolution) IsEmpty() bool {
	return (r.Recipe == nil || r.Recipe.IsEmpty()) && r.Point == nil
}

// PointResolution normalizes a pixel point against the screenshot size.
func PointResolution(p core.Point, dims core.Dims) Resolution {
	if !dims.Valid() {
		return Resolution{}
	}
	return Resolution{Point: &NormPoint{
		X: float64(p.X) / float64(dims.Width),
		Y: float64(p.Y) / float64(dims.Height),
	}}
}

// PixelPoint maps a normalized point onto a screenshot of the given size.
func (p NormPoint) PixelPoint(dims core.Dims) core.Point {
	return core.Point{
		X: int(math.Round(p.X * float64(dims.Width))),
		Y: int(math.Round(p.Y * float64(dims.Height))),
	}
}

// Screen is one remembered screen.
type Screen struct {
	ID        string                `json:"id"`
	Vector    []float32             `json:"vector"`
	Outcomes  map[string]Resolution `json:"outcomes"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// clone copies s so a change can be persisted before it becomes visible.
// The vector is never mutated and stays shared.
func (s *Screen) clone() *Screen {
	c := *s
	c.Outcomes = make(map[string]Resolution, len(s.Outcomes)+1)
	for k, v := range s.Outcomes {
		c.Outcomes[k] = v
	}
	return &c
}

// Match is a successful lookup.
type Match struct {
	ScreenID   string
	Similarity float64
	Resolution Resolution
}

// Index holds remembered screens. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	screens []*Screen
	db      *badger.DB
	now     func() time.Time

	// MergeThreshold is the similarity at which a new observation is
	// folded into an existing screen instead of creating a new one.
	MergeThreshold float64
}

// NewIndex creates an index kept only in memory.
func NewIndex() *Index {
	return &Index{now: time.Now, MergeThreshold: DefaultMergeThreshold}
}

// OpenIndex loads all screens from db and writes every change through.
func OpenIndex(db *badger.DB) (*Index, error) {
	ix := NewIndex()
	ix.db = db

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(screenPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var s Screen
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				if s.Outcomes == nil {
					s.Outcomes = make(map[string]Resolution)
				}
				ix.screens = append(ix.screens, &s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load visual memory: %w", err)
	}

	sort.SliceStable(ix.screens, func(i, j int) bool {
		return ix.screens[i].UpdatedAt.Before(ix.screens[j].UpdatedAt)
	})
	logger.Debug("vms: loaded %d screens", len(ix.screens))
	return ix, nil
}

// OpenDB opens a badger database for the visual memory. An empty path
// opens an in-memory database.
func OpenDB(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create visual memory directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(logger.Badger())

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// Len returns the number of remembered screens.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.screens)
}

// Record remembers that res worked for target on the screen embedded as vec.
func (ix *Index) Record(ctx context.Context, vec []float32, target string, res Resolution) error {
	if target == "" {
		return core.ErrInvalidTarget
	}
	if len(vec) == 0 || res.IsEmpty() {
		return errors.New("vms: empty vector or resolution")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx := -1
	best := -1.0
	for i, s := range ix.screens {
		if sim := CosineSimilarity(vec, s.Vector); sim >= ix.MergeThreshold && sim > best {
			idx, best = i, sim
		}
	}

	var next *Screen
	if idx >= 0 {
		next = ix.screens[idx].clone()
	} else {
		v := make([]float32, len(vec))
		copy(v, vec)
		next = &Screen{ID: uuid.NewString(), Vector: v, Outcomes: make(map[string]Resolution)}
	}
	next.Outcomes[target] = res
	next.UpdatedAt = ix.now().UTC()

	if err := ix.persist(next); err != nil {
		return err
	}
	if idx >= 0 {
		ix.screens[idx] = next
	} else {
		ix.screens = append(ix.screens, next)
	}
	return nil
}

// Forget drops target's resolution from screens similar to vec.
func (ix *Index) Forget(ctx context.Context, vec []float32, target string, minSimilarity float64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, s := range ix.screens {
		if _, ok := s.Outcomes[target]; !ok {
			continue
		}
		if CosineSimilarity(vec, s.Vector) < minSimilarity {
			continue
		}
		next := s.clone()
		delete(next.Outcomes, target)
		if err := ix.persist(next); err != nil {
			return err
		}
		ix.screens[i] = next
	}
	return nil
}

// Lookup scans the k screens most similar to vec (at or above
// minSimilarity) and returns the first one holding a resolution for
// exactly target.
func (ix *Index) Lookup(ctx context.Context, vec []float32, target string, minSimilarity float64, k int) (Match, bool) {
	if k <= 0 {
		k = DefaultTopK
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		s   *Screen
		sim float64
	}
	var hits []scored
	for _, s := range ix.screens {
		if sim := CosineSimilarity(vec, s.Vector); sim >= minSimilarity {
			hits = append(hits, scored{s, sim})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > k {
		hits = hits[:k]
	}

	for _, h := range hits {
		if res, ok := h.s.Outcomes[target]; ok {
			return Match{ScreenID: h.s.ID, Similarity: h.sim, Resolution: res}, true
		}
	}
	return Match{}, false
}

// persist writes s through to badger before the index adopts it. Callers hold ix.mu.
func (ix *Index) persist(s *Screen) error {
	if ix.db == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode screen: %w", err)
	}
	return ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(screenPrefix+s.ID), data)
	})
}
