package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupLongestPrefixWins(t *testing.T) {
	tbl := New()
	tbl.Upsert("g", "peer-default", 10)
	tbl.Upsert("g.alice", "peer-alice", 10)
	tbl.Upsert("g.alice.sub", "peer-alice-sub", 10)

	hop, ok := tbl.Lookup("g.alice.sub.leaf")
	require.True(t, ok)
	require.Equal(t, "peer-alice-sub", string(hop))

	hop, ok = tbl.Lookup("g.alice.other")
	require.True(t, ok)
	require.Equal(t, "peer-alice", string(hop))

	hop, ok = tbl.Lookup("g.bob")
	require.True(t, ok)
	require.Equal(t, "peer-default", string(hop))
}

func TestLookupRespectsDottedBoundaries(t *testing.T) {
	tbl := New()
	tbl.Upsert("g.alice", "peer-alice", 10)

	_, ok := tbl.Lookup("g.aliceX")
	require.False(t, ok, "g.alice must not match g.aliceX")
}

func TestLookupTieBreaksByLowestPriority(t *testing.T) {
	tbl := New()
	tbl.Upsert("g.alice", "peer-high-priority", 5)
	tbl.Upsert("g.alice", "peer-low-priority", 1)

	hop, ok := tbl.Lookup("g.alice")
	require.True(t, ok)
	require.Equal(t, "peer-low-priority", string(hop))
}

func TestLookupNotFound(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup("g.unknown")
	require.False(t, ok)
}

func TestRemove(t *testing.T) {
	tbl := New()
	tbl.Upsert("g.alice", "peer-alice", 10)
	tbl.Remove("g.alice", "peer-alice")

	_, ok := tbl.Lookup("g.alice")
	require.False(t, ok)
}

func TestSnapshotIsIndependentOfLiveTable(t *testing.T) {
	tbl := New()
	tbl.Upsert("g.alice", "peer-alice", 10)

	snap := tbl.Snapshot()
	tbl.Upsert("g.bob", "peer-bob", 10)

	require.Len(t, snap, 1)
	require.Len(t, tbl.Snapshot(), 2)
}
