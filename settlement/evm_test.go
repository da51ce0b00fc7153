package settlement

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ilpconnector/connectord/keymgr"
	"github.com/stretchr/testify/require"
)

const testEVMPrivateKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f36231"

func newTestEvmSigner(t *testing.T) *keymgr.EvmSigner {
	t.Helper()
	t.Setenv("CONNECTOR_SIGNING_KEY_evm-key", testEVMPrivateKeyHex)
	km, err := keymgr.NewEnvBackend()
	require.NoError(t, err)
	return keymgr.NewEvmSigner(km, "evm-key")
}

func TestEVMMethodEnsureChannelDerivesDeterministicID(t *testing.T) {
	signer := newTestEvmSigner(t)
	m := NewEVMMethod(signer, big.NewInt(1), common.HexToAddress("0x1234"))

	id1, opened1, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), "")
	require.NoError(t, err)
	require.True(t, opened1)

	id2, opened2, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), id1)
	require.NoError(t, err)
	require.False(t, opened2)
	require.Equal(t, id1, id2)
}

func TestEVMMethodSettleSignsIncreasingNonces(t *testing.T) {
	signer := newTestEvmSigner(t)
	m := NewEVMMethod(signer, big.NewInt(1), common.HexToAddress("0x1234"))

	channelID, _, err := m.EnsureChannel(context.Background(), "peer-a", "USD", big.NewInt(10), "")
	require.NoError(t, err)

	sig1, err := m.Settle(context.Background(), channelID, big.NewInt(10))
	require.NoError(t, err)
	require.NotEmpty(t, sig1)

	sig2, err := m.Settle(context.Background(), channelID, big.NewInt(20))
	require.NoError(t, err)
	require.NotEqual(t, sig1, sig2)
}
