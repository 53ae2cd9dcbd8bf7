package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mysensors/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/registry"
	"github.com/nerrad567/gray-logic-mysensors/migrations"
)

func sampleSnapshot() registry.Snapshot {
	seen := time.Date(2026, 3, 1, 12, 30, 15, 123456789, time.UTC)
	return registry.Snapshot{
		Version: registry.SnapshotVersion,
		Nodes: []registry.NodeSnapshot{
			{
				ID: 2, SketchName: "Blind", SketchVersion: "1.1", ProtocolVersion: "2.3.2",
				BatteryLevel: -1, LastSeen: seen,
				Children: []registry.ChildSnapshot{
					{
						ID: 0, Type: protocol.PresentationCover,
						ValueTypes: []protocol.SetReq{protocol.ValuePercentage},
						Values: []registry.ValueSnapshot{
							{Type: protocol.ValuePercentage, Declared: true, Value: "40", Updated: seen},
						},
					},
				},
			},
			{
				ID: 5, SketchName: "Door", BatteryLevel: 87, LastSeen: seen,
				Children: []registry.ChildSnapshot{
					{
						ID: 1, Type: protocol.PresentationDoor, Description: "Front door",
						ValueTypes: []protocol.SetReq{protocol.ValueTripped},
						Values: []registry.ValueSnapshot{
							{Type: protocol.ValueTripped, Declared: true},
							{Type: protocol.ValueArmed, Declared: false, Value: "1", Updated: seen},
						},
					},
					{
						ID: 3, Type: protocol.PresentationMultimeter,
						ValueTypes: []protocol.SetReq{protocol.ValueVoltage, protocol.ValueCurrent},
					},
				},
			},
			{ID: 9, BatteryLevel: -1},
		},
	}
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "mysensors.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx, migrations.FS, "."))
	return db
}

// storeFactories runs each test against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			return NewSQLiteStore(openTestDB(t))
		},
		"json": func(t *testing.T) Store {
			dir := t.TempDir()
			return NewJSONFileStore(map[registry.GatewayID]string{
				"gw1": filepath.Join(dir, "mysensors1.json"),
				"gw2": filepath.Join(dir, "sub", "mysensors2.pickle"),
			})
		},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			want := sampleSnapshot()

			require.NoError(t, s.Save(ctx, "gw1", want))
			got, err := s.Load(ctx, "gw1")
			require.NoError(t, err)

			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := newStore(t).Load(context.Background(), "gw1")
			assert.ErrorIs(t, err, ErrSnapshotNotFound)
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			require.NoError(t, s.Save(ctx, "gw1", sampleSnapshot()))

			smaller := registry.Snapshot{
				Version: registry.SnapshotVersion,
				Nodes:   []registry.NodeSnapshot{{ID: 7, SketchName: "Relay", BatteryLevel: -1}},
			}
			require.NoError(t, s.Save(ctx, "gw1", smaller))

			got, err := s.Load(ctx, "gw1")
			require.NoError(t, err)
			if diff := cmp.Diff(smaller, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_GatewaysAreIsolated(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Save(ctx, "gw1", sampleSnapshot()))
			other := registry.Snapshot{
				Version: registry.SnapshotVersion,
				Nodes:   []registry.NodeSnapshot{{ID: 5, SketchName: "Other", BatteryLevel: -1}},
			}
			require.NoError(t, s.Save(ctx, "gw2", other))

			got, err := s.Load(ctx, "gw1")
			require.NoError(t, err)
			assert.Len(t, got.Nodes, 3)

			got, err = s.Load(ctx, "gw2")
			require.NoError(t, err)
			require.Len(t, got.Nodes, 1)
			assert.Equal(t, "Other", got.Nodes[0].SketchName)
		})
	}
}

func TestStore_FeedsRegistryImport(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	src := registry.New()
	src.UpsertNode("gw1", 5, registry.NodeMeta{SketchName: "Door"})
	_, err := src.UpsertChild("gw1", 5, 1, protocol.PresentationDoor, "", []protocol.SetReq{protocol.ValueTripped})
	require.NoError(t, err)
	key := registry.DeviceKey{Gateway: "gw1", NodeID: 5, ChildID: 1, ValueType: protocol.ValueTripped}
	_, _, err = src.GetOrCreate(key)
	require.NoError(t, err)
	_, err = src.UpdateValue(key, "1")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "gw1", src.Export("gw1")))
	snap, err := s.Load(ctx, "gw1")
	require.NoError(t, err)

	dst := registry.New()
	keys := dst.Import("gw1", snap)
	assert.Equal(t, []registry.DeviceKey{key}, keys)

	rec, ok := dst.Lookup(key)
	require.True(t, ok)
	v, ok := rec.Value()
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestJSONFileStore_NoLocation(t *testing.T) {
	s := NewJSONFileStore(nil)
	_, err := s.Load(context.Background(), "gw1")
	assert.ErrorIs(t, err, ErrNoLocation)
	assert.ErrorIs(t, s.Save(context.Background(), "gw1", sampleSnapshot()), ErrNoLocation)
}

func TestJSONFileStore_NewerVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "nodes": []}`), 0o600))

	_, err := NewJSONFileStore(map[registry.GatewayID]string{"gw1": path}).Load(context.Background(), "gw1")
	assert.ErrorIs(t, err, ErrUnsupportedSnapshot)
}

func TestJSONFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := NewJSONFileStore(map[registry.GatewayID]string{"gw1": path}).Load(context.Background(), "gw1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSnapshotNotFound)
}

func TestJSONFileStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONFileStore(map[registry.GatewayID]string{"gw1": filepath.Join(dir, "gw.json")})

	for range 3 {
		require.NoError(t, s.Save(context.Background(), "gw1", sampleSnapshot()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gw.json", entries[0].Name())
}

func TestValueTypeEncoding(t *testing.T) {
	types := []protocol.SetReq{protocol.ValueVoltage, protocol.ValueCurrent, protocol.ValueTemp}
	got, err := splitValueTypes(joinValueTypes(types))
	require.NoError(t, err)
	assert.Equal(t, types, got)

	_, err = splitValueTypes("1,x")
	assert.Error(t, err)
}
