package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

const (
	jsonDirPermissions  = 0750
	jsonFilePermissions = 0600
)

// JSONFileStore keeps each gateway's snapshot in its own JSON file.
//
// Files configured with a .pickle suffix are accepted and written as JSON.
type JSONFileStore struct {
	paths map[registry.GatewayID]string

	mu    sync.Mutex
	locks map[registry.GatewayID]*sync.Mutex
}

var _ Store = (*JSONFileStore)(nil)

// NewJSONFileStore returns a store writing gw's snapshot to paths[gw].
func NewJSONFileStore(paths map[registry.GatewayID]string) *JSONFileStore {
	cp := make(map[registry.GatewayID]string, len(paths))
	for gw, p := range paths {
		cp[gw] = p
	}
	return &JSONFileStore{paths: cp, locks: make(map[registry.GatewayID]*sync.Mutex)}
}

func (s *JSONFileStore) lock(gw registry.GatewayID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[gw]
	if !ok {
		l = &sync.Mutex{}
		s.locks[gw] = l
	}
	return l
}

// Path returns the file backing gw.
func (s *JSONFileStore) Path(gw registry.GatewayID) (string, bool) {
	p, ok := s.paths[gw]
	return p, ok
}

// Load reads gw's snapshot file. A missing file is ErrSnapshotNotFound; a
// gateway with no configured path is ErrNoLocation.
func (s *JSONFileStore) Load(ctx context.Context, gw registry.GatewayID) (registry.Snapshot, error) {
	path, ok := s.paths[gw]
	if !ok {
		return registry.Snapshot{}, fmt.Errorf("%w: %s", ErrNoLocation, gw)
	}
	if err := ctx.Err(); err != nil {
		return registry.Snapshot{}, err
	}

	l := s.lock(gw)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return registry.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return registry.Snapshot{}, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap registry.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return registry.Snapshot{}, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if err := checkVersion(snap); err != nil {
		return registry.Snapshot{}, fmt.Errorf("%w: %s has version %d", err, path, snap.Version)
	}
	return snap, nil
}

// Save writes snap to a temporary file next to the target and renames it
// into place, so a crash mid-write leaves the previous snapshot intact.
func (s *JSONFileStore) Save(ctx context.Context, gw registry.GatewayID, snap registry.Snapshot) error {
	path, ok := s.paths[gw]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLocation, gw)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.Version == 0 {
		snap.Version = registry.SnapshotVersion
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot for %s: %w", gw, err)
	}

	l := s.lock(gw)
	l.Lock()
	defer l.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, jsonDirPermissions); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, jsonFilePermissions); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", path, err)
	}
	return nil
}
