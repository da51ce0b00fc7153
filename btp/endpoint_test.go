package btp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory wsConn used to test Endpoint without a real
// network socket; two fakeConns created via newFakeConnPair are wired
// together so writes on one arrive as reads on the other.
type fakeConn struct {
	recv      chan []byte
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConnPair() (*fakeConn, *fakeConn) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	a := &fakeConn{recv: ba, send: ab, closed: make(chan struct{})}
	b := &fakeConn{recv: ab, send: ba, closed: make(chan struct{})}
	return a, b
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.recv:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, errors.New("fakeConn closed")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case f.send <- data:
		return nil
	case <-f.closed:
		return errors.New("fakeConn closed")
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// newConnectedEndpoint builds an Endpoint whose Dialer hands back the
// client half of a fake pair, and returns the server half for the test
// to drive directly (simulating the remote peer).
func newConnectedEndpoint(t *testing.T, handler PrepareHandler) (*Endpoint, *fakeConn) {
	t.Helper()
	client, remote := newFakeConnPair()

	dial := func(ctx context.Context, url string) (wsConn, error) {
		return client, nil
	}

	ep := NewEndpoint("peer-a", "ws://peer-a", "secret", dial, handler)
	require.NoError(t, ep.Start())
	t.Cleanup(func() { ep.Stop() })

	// Drain and acknowledge the AUTH frame the endpoint sends on connect.
	_, data, err := remote.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, unmarshalFrame(data, &f))
	require.Equal(t, FrameAuth, f.Type)

	ack, err := NewAuthFrame(f.RequestID, AuthData{PeerID: "peer-a"})
	require.NoError(t, err)
	require.NoError(t, writeFrameRaw(remote, ack))

	require.Eventually(t, func() bool { return ep.State() == StateReady }, time.Second, 5*time.Millisecond)

	return ep, remote
}

func TestEndpointReachesReadyAfterAuthAck(t *testing.T) {
	ep, _ := newConnectedEndpoint(t, nil)
	require.Equal(t, StateReady, ep.State())
}

func TestSendPrepareResolvesOnFulfill(t *testing.T) {
	ep, remote := newConnectedEndpoint(t, nil)

	go func() {
		_, data, err := remote.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		_ = unmarshalFrame(data, &f)
		reply, _ := NewFulfillFrame(f.RequestID, FulfillData{PacketID: "pkt-1", Fulfillment: "abc"})
		_ = writeFrameRaw(remote, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fulfill, reject, err := ep.SendPrepare(ctx, PrepareData{PacketID: "pkt-1", Amount: "100"})
	require.NoError(t, err)
	require.Nil(t, reject)
	require.NotNil(t, fulfill)
	require.Equal(t, "abc", fulfill.Fulfillment)
}

func TestSendPrepareResolvesOnReject(t *testing.T) {
	ep, remote := newConnectedEndpoint(t, nil)

	go func() {
		_, data, err := remote.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		_ = unmarshalFrame(data, &f)
		reply, _ := NewRejectFrame(f.RequestID, RejectData{PacketID: "pkt-1", Code: "F02", Message: "unreachable"})
		_ = writeFrameRaw(remote, reply)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	fulfill, reject, err := ep.SendPrepare(ctx, PrepareData{PacketID: "pkt-1", Amount: "100"})
	require.NoError(t, err)
	require.Nil(t, fulfill)
	require.NotNil(t, reject)
	require.Equal(t, "F02", reject.Code)
}

func TestSendPrepareTimesOutOnNoReply(t *testing.T) {
	ep, _ := newConnectedEndpoint(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := ep.SendPrepare(ctx, PrepareData{PacketID: "pkt-timeout", Amount: "1"})
	require.ErrorIs(t, err, ErrReplyTimeout)
}

func TestForwardPrepareRejectsWhenQueueFull(t *testing.T) {
	ep, _ := newConnectedEndpoint(t, nil)

	// Fill the send queue directly so the next forward attempt finds it full.
	// The write pump keeps draining frames into the fake connection until its
	// 16-frame buffer is full and one more write is blocked, so 17 extra
	// frames are pushed to leave exactly sendQueueSize frames queued.
	for i := 0; i < sendQueueSize+17; i++ {
		ep.sendQueue <- queuedFrame{frame: Frame{Type: FramePing}}
	}

	_, _, err := ep.ForwardPrepare(context.Background(), PrepareData{PacketID: "pkt-2"})
	require.ErrorIs(t, err, ErrCongested)
}

func TestInboundPrepareInvokesHandlerAndReplies(t *testing.T) {
	handler := func(ctx context.Context, p PrepareData) (*FulfillData, *RejectData) {
		return &FulfillData{PacketID: p.PacketID, Fulfillment: "xyz"}, nil
	}
	_, remote := newConnectedEndpoint(t, handler)

	prepare, err := NewPrepareFrame("req-1", PrepareData{PacketID: "pkt-9", ExpiresAt: time.Now().Add(time.Second).UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, writeFrameRaw(remote, prepare))

	_, data, err := remote.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, unmarshalFrame(data, &f))
	require.Equal(t, FrameFulfill, f.Type)
}

func TestLateReplyIsDroppedNotDelivered(t *testing.T) {
	ep, remote := newConnectedEndpoint(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := ep.SendPrepare(ctx, PrepareData{PacketID: "pkt-late"})
	require.ErrorIs(t, err, ErrReplyTimeout)

	_, data, readErr := remote.ReadMessage()
	require.NoError(t, readErr)
	var f Frame
	require.NoError(t, unmarshalFrame(data, &f))

	// Reply arrives after the caller already timed out; resolvePending
	// must drop it rather than deliver to a reader that no longer exists.
	late, _ := NewFulfillFrame(f.RequestID, FulfillData{PacketID: "pkt-late", Fulfillment: "too-late"})
	require.NoError(t, writeFrameRaw(remote, late))

	time.Sleep(20 * time.Millisecond) // allow dispatch to run and log-drop
}
