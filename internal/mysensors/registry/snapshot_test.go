package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mysensors/internal/mysensors/protocol"
)

func TestExport(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(WithClock(func() time.Time { return now }))
	presentDoor(t, r)
	r.UpsertNode(gw, 2, NodeMeta{SketchName: "Blind", ProtocolVersion: "2.3.2"})
	_, err := r.UpsertChild(gw, 2, 0, protocol.PresentationCover, "", []protocol.SetReq{protocol.ValuePercentage})
	require.NoError(t, err)

	_, _, err = r.GetOrCreate(doorKey())
	require.NoError(t, err)
	_, err = r.UpdateValue(doorKey(), "1")
	require.NoError(t, err)

	want := Snapshot{
		Version: SnapshotVersion,
		Nodes: []NodeSnapshot{
			{
				ID: 2, SketchName: "Blind", ProtocolVersion: "2.3.2", BatteryLevel: -1,
				Children: []ChildSnapshot{
					{ID: 0, Type: protocol.PresentationCover, ValueTypes: []protocol.SetReq{protocol.ValuePercentage}},
				},
			},
			{
				ID: 5, SketchName: "Door", BatteryLevel: -1,
				Children: []ChildSnapshot{
					{
						ID: 1, Type: protocol.PresentationDoor, Description: "Front door",
						ValueTypes: []protocol.SetReq{protocol.ValueTripped},
						Values:     []ValueSnapshot{{Type: protocol.ValueTripped, Declared: true, Value: "1", Updated: now}},
					},
				},
			},
		},
	}

	if diff := cmp.Diff(want, r.Export(gw)); diff != "" {
		t.Errorf("Export() mismatch (-want +got):\n%s", diff)
	}

	assert.True(t, r.Export("unknown").Empty())
}

func TestImport_RoundTrip(t *testing.T) {
	src := New()
	presentDoor(t, src)
	_, _, err := src.GetOrCreate(doorKey())
	require.NoError(t, err)
	_, err = src.UpdateValue(doorKey(), "1")
	require.NoError(t, err)
	snap := src.Export(gw)

	dst := New()
	keys := dst.Import(gw, snap)
	assert.Equal(t, []DeviceKey{doorKey()}, keys)

	if diff := cmp.Diff(snap, dst.Export(gw)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	rec, ok := dst.Lookup(doorKey())
	require.True(t, ok)
	v, has := rec.Value()
	assert.True(t, has)
	assert.Equal(t, "1", v)
}

func TestImport_PreservesLiveState(t *testing.T) {
	r := New()
	presentDoor(t, r)
	live, _, err := r.GetOrCreate(doorKey())
	require.NoError(t, err)
	_, err = r.UpdateValue(doorKey(), "live")
	require.NoError(t, err)

	stale := Snapshot{Version: SnapshotVersion, Nodes: []NodeSnapshot{{
		ID: 5,
		Children: []ChildSnapshot{{
			ID: 1, Type: protocol.PresentationDoor,
			ValueTypes: []protocol.SetReq{protocol.ValueTripped},
			Values:     []ValueSnapshot{{Type: protocol.ValueTripped, Declared: true, Value: "stale", Updated: time.Unix(1, 0)}},
		}},
	}}}

	r.Import(gw, stale)

	rec, _ := r.Lookup(doorKey())
	assert.Same(t, live, rec)
	v, _ := rec.Value()
	assert.Equal(t, "live", v)
}

func TestExport_GroupsValuesByChild(t *testing.T) {
	r := New()
	hvac := []protocol.SetReq{protocol.ValueTemp, protocol.ValueHVACSetpointHeat}
	for node := uint8(1); node <= 3; node++ {
		r.UpsertNode(gw, node, NodeMeta{})
		for child := uint8(0); child < 4; child++ {
			_, err := r.UpsertChild(gw, node, child, protocol.PresentationHVAC, "", hvac)
			require.NoError(t, err)
			for _, vt := range hvac {
				key := DeviceKey{Gateway: gw, NodeID: node, ChildID: child, ValueType: vt}
				_, _, err := r.GetOrCreate(key)
				require.NoError(t, err)
				_, err = r.UpdateValue(key, fmt.Sprintf("%d.%d.%d", node, child, vt))
				require.NoError(t, err)
			}
		}
	}

	snap := r.Export(gw)
	require.Len(t, snap.Nodes, 3)
	for _, ns := range snap.Nodes {
		require.Len(t, ns.Children, 4)
		for _, cs := range ns.Children {
			require.Len(t, cs.Values, len(hvac), "node %d child %d", ns.ID, cs.ID)
			for i, vs := range cs.Values {
				assert.Equal(t, hvac[i], vs.Type)
				assert.Equal(t, fmt.Sprintf("%d.%d.%d", ns.ID, cs.ID, vs.Type), vs.Value)
			}
		}
	}
}
