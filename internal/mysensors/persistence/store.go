package persistence

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
)

var (
	// ErrSnapshotNotFound means nothing has been saved for the gateway yet.
	ErrSnapshotNotFound = errors.New("persistence: snapshot not found")

	// ErrUnsupportedSnapshot is returned for snapshots written by a newer layout.
	ErrUnsupportedSnapshot = errors.New("persistence: unsupported snapshot version")

	// ErrNoLocation is returned when a store has no file configured for a gateway.
	ErrNoLocation = errors.New("persistence: no snapshot location for gateway")
)

// Store loads and saves one snapshot per gateway.
//
// Implementations must be safe for concurrent use by different gateways.
type Store interface {
	// Load returns gw's last saved snapshot, or ErrSnapshotNotFound when
	// nothing was saved yet.
	Load(ctx context.Context, gw registry.GatewayID) (registry.Snapshot, error)
	// Save replaces gw's snapshot.
	Save(ctx context.Context, gw registry.GatewayID, snap registry.Snapshot) error
}

func checkVersion(snap registry.Snapshot) error {
	if snap.Version > registry.SnapshotVersion {
		return ErrUnsupportedSnapshot
	}
	return nil
}
