package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion is the on-disk schema version.
const SnapshotVersion = 1

// Snapshot is the portable form of a locator memory. Variants are stored
// in ranked order, so restoring a snapshot reproduces the same ranking.
type Snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Entries []Entry   `json:"entries"`
}

// Export captures every entry of a store.
func Export(ctx context.Context, a Archive) (*Snapshot, error) {
	names, err := a.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	snap := &Snapshot{Version: SnapshotVersion, SavedAt: time.Now().UTC()}
	for _, name := range names {
		e, ok, err := a.Entry(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if ok {
			snap.Entries = append(snap.Entries, e)
		}
	}
	return snap, nil
}

// Import writes every entry of snap into a store, replacing existing
// entries with the same name.
func Import(ctx context.Context, a Archive, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for _, e := range snap.Entries {
		if err := a.PutEntry(ctx, e); err != nil {
			return fmt.Errorf("restore %s: %w", e.Name, err)
		}
	}
	return nil
}

// WriteFile saves snap as indented JSON via a temp file and rename.
func WriteFile(path string, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".memory-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile loads a snapshot written by WriteFile.
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided memory file
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// OpenFile returns a Local store seeded from path. A missing file yields
// an empty store.
func OpenFile(ctx context.Context, path string, opts ...Option) (*Local, error) {
	l := NewLocal(opts...)
	snap, err := ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	if err := Import(ctx, l, snap); err != nil {
		return nil, err
	}
	return l, nil
}

// SaveFile exports l to path.
func (l *Local) SaveFile(ctx context.Context, path string) error {
	snap, err := Export(ctx, l)
	if err != nil {
		return err
	}
	return WriteFile(path, snap)
}
