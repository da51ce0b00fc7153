package settlement

import (
	"context"
	"math/big"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/stretchr/testify/require"
)

type fakeMethod struct {
	id        string
	openCalls int32
	failOnce  bool
	failed    int32
}

func (m *fakeMethod) ID() string { return m.id }

func (m *fakeMethod) EnsureChannel(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, amount *big.Int, cached string) (string, bool, error) {
	atomic.AddInt32(&m.openCalls, 1)
	if cached != "" {
		return cached, false, nil
	}
	return "chan-1", true, nil
}

func (m *fakeMethod) Settle(ctx context.Context, channelID string, amount *big.Int) (string, error) {
	if m.failOnce && atomic.AddInt32(&m.failed, 1) == 1 {
		return "", require.AnError
	}
	return "sig-" + channelID, nil
}

func preparedAccount(t *testing.T, l *ledger.InMemory, amount int64) {
	t.Helper()
	ctx := context.Background()
	l.Configure(ctx, "peer-a", "USD", nil, big.NewInt(10))
	r, err := l.Prepare(ctx, "peer-a", "USD", big.NewInt(amount))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, r))
	ok, err := l.TransitionSettlementState(ctx, "peer-a", "USD", ledger.SettlementIdle, ledger.SettlementPending)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSettleOpensChannelAndRecordsSettlement(t *testing.T) {
	l := ledger.NewInMemory()
	preparedAccount(t, l, 100)

	method := &fakeMethod{id: "evm"}
	e := NewEngine("node-1", l, nil, nil, method)

	err := e.Settle(context.Background(), "peer-a", "USD", "evm", big.NewInt(100))
	require.NoError(t, err)
	require.EqualValues(t, 1, method.openCalls)

	acct, err := l.Snapshot(context.Background(), "peer-a", "USD")
	require.NoError(t, err)
	require.Equal(t, ledger.SettlementIdle, acct.SettlementState)
	require.Equal(t, int64(0), acct.CreditBalance.Int64())
}

func TestSettleReusesCachedChannel(t *testing.T) {
	l := ledger.NewInMemory()
	preparedAccount(t, l, 50)

	cache, err := OpenChannelCache(filepath.Join(t.TempDir(), "channels.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	require.NoError(t, cache.Set("peer-a", "USD", "evm", "chan-cached"))

	method := &fakeMethod{id: "evm"}
	e := NewEngine("node-1", l, nil, cache, method)

	require.NoError(t, e.Settle(context.Background(), "peer-a", "USD", "evm", big.NewInt(50)))
	// A freshly opened channel ("chan-1") would have overwritten the entry.
	require.Equal(t, "chan-cached", cache.Get("peer-a", "USD", "evm"))
}

func TestSettleRejectsDuplicateInFlight(t *testing.T) {
	l := ledger.NewInMemory()
	preparedAccount(t, l, 10)

	method := &fakeMethod{id: "evm"}
	e := NewEngine("node-1", l, nil, nil, method)
	e.inflight.Store("peer-a|USD|evm", struct{}{})

	err := e.Settle(context.Background(), "peer-a", "USD", "evm", big.NewInt(10))
	require.ErrorIs(t, err, ErrAlreadyInFlight)
}

func TestSettleReturnsUnknownMethod(t *testing.T) {
	l := ledger.NewInMemory()
	e := NewEngine("node-1", l, nil, nil)

	err := e.Settle(context.Background(), "peer-a", "USD", "evm", big.NewInt(10))
	require.ErrorIs(t, err, ErrUnknownMethod)
}

func TestSettleRevertsStateOnFailure(t *testing.T) {
	l := ledger.NewInMemory()
	preparedAccount(t, l, 10)

	e := NewEngine("node-1", l, nil, nil)
	e.Retry.MaxRetries = 0

	// Register a method whose Settle always errors.
	e.Methods["xrp"] = alwaysFailMethod{&fakeMethod{id: "xrp"}}

	err := e.Settle(context.Background(), "peer-a", "USD", "xrp", big.NewInt(10))
	require.Error(t, err)

	acct, err2 := l.Snapshot(context.Background(), "peer-a", "USD")
	require.NoError(t, err2)
	require.Equal(t, ledger.SettlementPending, acct.SettlementState)
}

type alwaysFailMethod struct{ *fakeMethod }

func (m alwaysFailMethod) Settle(ctx context.Context, channelID string, amount *big.Int) (string, error) {
	return "", require.AnError
}
