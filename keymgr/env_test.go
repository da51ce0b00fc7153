package keymgr

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/stretchr/testify/require"
)

func TestEnvBackendSignRecoversToSamePublicKey(t *testing.T) {
	t.Setenv("CONNECTOR_SIGNING_KEY_peer-a",
		"18e14a7b6a307f426a94f8114701e7c8e774e7f9a47e2c2035db29a206321725")

	backend, err := newEnvBackend()
	require.NoError(t, err)
	ctx := context.Background()

	digest := sha256.Sum256([]byte("settle 500"))
	sig, err := backend.Sign(ctx, "peer-a", digest[:])
	require.NoError(t, err)
	require.Len(t, sig, 65)

	wantPub, err := backend.PublicKey(ctx, "peer-a")
	require.NoError(t, err)

	// Sign returns [R || S || V]; RecoverCompact wants btcec's compact
	// [27+V || R || S] layout.
	compact := make([]byte, 65)
	compact[0] = 27 + sig[64]
	copy(compact[1:], sig[:64])
	recoveredPub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	require.NoError(t, err)
	require.Equal(t, wantPub, recoveredPub.SerializeUncompressed())
}

func TestEnvBackendUnknownKey(t *testing.T) {
	backend, err := newEnvBackend()
	require.NoError(t, err)

	_, err = backend.Sign(context.Background(), "does-not-exist", []byte("x"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	_, err = backend.PublicKey(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
