package settlement

import (
	"context"
	"math/big"
	"testing"

	rippledata "github.com/rubblelabs/ripple/data"

	"github.com/ilpconnector/connectord/keymgr"
	"github.com/stretchr/testify/require"
)

func newTestXRPMethod(t *testing.T) *XRPMethod {
	t.Helper()
	t.Setenv("CONNECTOR_SIGNING_KEY_xrp-key", testEVMPrivateKeyHex)
	km, err := keymgr.NewEnvBackend()
	require.NoError(t, err)
	return NewXRPMethod(km, "xrp-key", rippledata.Account{})
}

func TestXRPMethodEnsureChannelIsDeterministic(t *testing.T) {
	m := newTestXRPMethod(t)

	id1, opened1, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), "")
	require.NoError(t, err)
	require.True(t, opened1)
	require.Len(t, id1, 64) // 32 bytes, hex-encoded

	id2, opened2, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), id1)
	require.NoError(t, err)
	require.False(t, opened2)
	require.Equal(t, id1, id2)
}

func TestXRPMethodSettleSignsClaim(t *testing.T) {
	m := newTestXRPMethod(t)

	channelID, _, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), "")
	require.NoError(t, err)

	sig1, err := m.Settle(context.Background(), channelID, big.NewInt(10))
	require.NoError(t, err)
	require.NotEmpty(t, sig1)

	sig2, err := m.Settle(context.Background(), channelID, big.NewInt(20))
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig2)
}

func TestXRPMethodSettleRejectsBadChannelID(t *testing.T) {
	m := newTestXRPMethod(t)

	_, err := m.Settle(context.Background(), "not-hex", big.NewInt(10))
	require.Error(t, err)
}
