package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/ilpconnector/connectord/btp"
	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/ratelimit"
	"github.com/ilpconnector/connectord/routing"
	"github.com/stretchr/testify/require"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

// testFulfillment and testCondition are a matched preimage/hash pair
// registered against the test pipeline's local terminus, so a Prepare
// destined for "g.node-1" can be genuinely fulfilled rather than
// rubber-stamped.
var (
	testFulfillment = sha256.Sum256([]byte("pipeline-test-seed"))
	testCondition   = sha256.Sum256(testFulfillment[:])
)

func testConditionHex() string { return hex.EncodeToString(testCondition[:]) }

func newTestPipeline() *Pipeline {
	l := ledger.NewInMemory()
	l.Configure(context.Background(), "peer-a", "USD", nil, nil)
	local := NewMapPreimageRegistry()
	local.Register(testFulfillment)
	return &Pipeline{
		NodeID:       "node-1",
		Ledger:       l,
		Routes:       routing.New(),
		Limiter:      ratelimit.New(1000, 1000),
		Endpoints:    NewRegistry(),
		LocalAddress: "g.node-1",
		Local:        local,
	}
}

func TestHandleInboundFulfillsLocalTerminus(t *testing.T) {
	p := newTestPipeline()
	handler := p.HandleInbound("peer-a")

	fulfill, reject := handler(context.Background(), btp.PrepareData{
		PacketID:    "pkt-1",
		Destination: "g.node-1",
		Amount:      "100",
		AssetID:     "USD",
		Condition:   testConditionHex(),
		ExpiresAt:   time.Now().Add(time.Second).UnixMilli(),
	})

	require.Nil(t, reject)
	require.NotNil(t, fulfill)
	require.Equal(t, hex.EncodeToString(testFulfillment[:]), fulfill.Fulfillment)
}

func TestHandleInboundRejectsLocalTerminusWithUnknownCondition(t *testing.T) {
	p := newTestPipeline()
	handler := p.HandleInbound("peer-a")

	unknown := sha256.Sum256([]byte("not-registered"))
	fulfill, reject := handler(context.Background(), btp.PrepareData{
		PacketID:    "pkt-1b",
		Destination: "g.node-1",
		Amount:      "100",
		AssetID:     "USD",
		Condition:   hex.EncodeToString(unknown[:]),
		ExpiresAt:   time.Now().Add(time.Second).UnixMilli(),
	})

	require.Nil(t, fulfill)
	require.NotNil(t, reject)
	require.Equal(t, "F02", reject.Code)
}

func TestHandleInboundRejectsMalformedCondition(t *testing.T) {
	p := newTestPipeline()
	handler := p.HandleInbound("peer-a")

	_, reject := handler(context.Background(), btp.PrepareData{
		PacketID:    "pkt-1c",
		Destination: "g.node-1",
		Amount:      "100",
		AssetID:     "USD",
		Condition:   "not-32-bytes",
		ExpiresAt:   time.Now().Add(time.Second).UnixMilli(),
	})

	require.NotNil(t, reject)
	require.Equal(t, "F00", reject.Code)
}

func TestHandleInboundRejectsExpiredPacket(t *testing.T) {
	p := newTestPipeline()
	handler := p.HandleInbound("peer-a")

	_, reject := handler(context.Background(), btp.PrepareData{
		PacketID:    "pkt-2",
		Destination: "g.node-1",
		Amount:      "100",
		AssetID:     "USD",
		Condition:   testConditionHex(),
		ExpiresAt:   time.Now().Add(-time.Second).UnixMilli(),
	})

	require.NotNil(t, reject)
	require.Equal(t, "R00", reject.Code)
}

func TestHandleInboundRejectsUnroutableDestination(t *testing.T) {
	p := newTestPipeline()
	handler := p.HandleInbound("peer-a")

	_, reject := handler(context.Background(), btp.PrepareData{
		PacketID:    "pkt-3",
		Destination: "g.unknown.somewhere",
		Amount:      "100",
		AssetID:     "USD",
		Condition:   testConditionHex(),
		ExpiresAt:   time.Now().Add(time.Second).UnixMilli(),
	})

	require.NotNil(t, reject)
	require.Equal(t, "F02", reject.Code)
}

func TestHandleInboundRejectsWhenRateLimited(t *testing.T) {
	p := newTestPipeline()
	p.Limiter = ratelimit.New(1, 1)
	handler := p.HandleInbound("peer-a")

	ok := btp.PrepareData{
		PacketID: "pkt-4", Destination: "g.node-1", Amount: "1", AssetID: "USD",
		Condition: testConditionHex(), ExpiresAt: time.Now().Add(time.Second).UnixMilli(),
	}
	_, reject := handler(context.Background(), ok)
	require.Nil(t, reject)

	ok.PacketID = "pkt-5"
	_, reject = handler(context.Background(), ok)
	require.NotNil(t, reject)
	require.Equal(t, "T04", reject.Code)
}

func TestHandleInboundRejectsWhenCreditLimitExceeded(t *testing.T) {
	p := newTestPipeline()
	p.Ledger.Configure(context.Background(), "peer-a", "USD", bigFromString(t, "50"), nil)
	handler := p.HandleInbound("peer-a")

	_, reject := handler(context.Background(), btp.PrepareData{
		PacketID: "pkt-6", Destination: "g.node-1", Amount: "100", AssetID: "USD",
		Condition: testConditionHex(), ExpiresAt: time.Now().Add(time.Second).UnixMilli(),
	})

	require.NotNil(t, reject)
	require.Equal(t, "T04", reject.Code)
}

func TestFulfillmentMatchesRequiresSha256Preimage(t *testing.T) {
	require.True(t, fulfillmentMatches(testCondition, testFulfillment))

	wrong := sha256.Sum256([]byte("wrong-preimage"))
	require.False(t, fulfillmentMatches(testCondition, wrong))
}

func TestDecodeCondition32RejectsWrongLength(t *testing.T) {
	_, ok := decodeCondition32("abcd")
	require.False(t, ok)

	_, ok = decodeCondition32(testConditionHex())
	require.True(t, ok)
}
