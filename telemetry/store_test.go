package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreEventRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := NewEvent("node-1", EventPacketForwarded, map[string]any{
		"peerId":      "peer-a",
		"packetId":    "pkt-1",
		"amount":      float64(1000),
		"destination": "g.peer-b.alice",
		"direction":   string(DirectionSent),
	})

	id, err := s.StoreEvent(ctx, e)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.QueryEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "peer-a", got[0].PeerID)
	require.Equal(t, "pkt-1", got[0].PacketID)
	require.Equal(t, "1000", got[0].Amount)
	require.Equal(t, EventPacketForwarded, got[0].Type)
	require.Equal(t, "node-1", got[0].Payload.NodeID)
}

func TestStoreEventsOrderedByTimestampDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	events := make([]Event, 0, 5)
	for i := 0; i < 5; i++ {
		e := NewEvent("node-1", EventAccountBalance, map[string]any{"peerId": "peer-a", "netBalance": float64(i)})
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		events = append(events, e)
	}
	_, err := s.StoreEvents(ctx, events)
	require.NoError(t, err)

	got, err := s.QueryEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 0; i < len(got)-1; i++ {
		require.GreaterOrEqual(t, got[i].TimestampMs, got[i+1].TimestampMs)
	}
}

func TestQueryEventsFiltersByTypeAndPeer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.StoreEvents(ctx, []Event{
		NewEvent("node-1", EventFraudDetected, map[string]any{"peerId": "peer-a"}),
		NewEvent("node-1", EventPeerPaused, map[string]any{"peerId": "peer-a"}),
		NewEvent("node-1", EventFraudDetected, map[string]any{"peerId": "peer-b"}),
	})
	require.NoError(t, err)

	f := NewQueryFilter()
	f.EventTypes = []EventType{EventFraudDetected}
	f.PeerID = "peer-a"

	got, err := s.QueryEvents(ctx, f)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, EventFraudDetected, got[0].Type)
	require.Equal(t, "peer-a", got[0].PeerID)
}

func TestQueryEventsDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := make([]Event, 0, defaultQueryLimit+10)
	for i := 0; i < defaultQueryLimit+10; i++ {
		events = append(events, NewEvent("node-1", EventNodeStatus, nil))
	}
	_, err := s.StoreEvents(ctx, events)
	require.NoError(t, err)

	got, err := s.QueryEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Len(t, got, defaultQueryLimit)
}

func TestCountEventsMatchesQueryLength(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.StoreEvent(ctx, NewEvent("node-1", EventPeerResumed, map[string]any{"peerId": "peer-a"}))
		require.NoError(t, err)
	}

	count, err := s.CountEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestPruneByAgeRemovesOldEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := NewEvent("node-1", EventNodeStatus, nil)
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	fresh := NewEvent("node-1", EventNodeStatus, nil)

	_, err := s.StoreEvents(ctx, []Event{old, fresh})
	require.NoError(t, err)

	require.NoError(t, s.PruneByAge(ctx, 24*time.Hour))

	count, err := s.CountEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPruneByCountRetainsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		e := NewEvent("node-1", EventNodeStatus, nil)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		_, err := s.StoreEvent(ctx, e)
		require.NoError(t, err)
	}

	require.NoError(t, s.PruneByCount(ctx, 3))

	count, err := s.CountEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Equal(t, 3, count)

	got, err := s.QueryEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.GreaterOrEqual(t, got[0].TimestampMs, got[1].TimestampMs)
}

func TestRunRetentionPolicy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := NewEvent("node-1", EventNodeStatus, nil)
	old.Timestamp = time.Now().Add(-30 * 24 * time.Hour)
	_, err := s.StoreEvent(ctx, old)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.StoreEvent(ctx, NewEvent("node-1", EventNodeStatus, nil))
		require.NoError(t, err)
	}

	require.NoError(t, s.RunRetentionPolicy(ctx, 7*24*time.Hour, 2))

	count, err := s.CountEvents(ctx, NewQueryFilter())
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
