package keymgr

import (
	"context"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// envKeyPrefix is the environment variable convention for the env backend:
// CONNECTOR_SIGNING_KEY_<keyId>=<hex-encoded secp256k1 private key>.
const envKeyPrefix = "CONNECTOR_SIGNING_KEY_"

// envBackend loads secp256k1 private keys directly from process
// environment variables. It is intended for development and CI, never for
// a production deployment holding real value.
type envBackend struct {
	mu   sync.RWMutex
	keys map[string]*btcec.PrivateKey
}

// NewEnvBackend constructs the env backend directly, without going
// through New/config.Config. It reads CONNECTOR_SIGNING_KEY_* from the
// process environment exactly as the KeyBackendEnv selection does;
// other packages' tests use it to exercise EVM/XRP signing against a
// real key without standing up a config.Config.
func NewEnvBackend() (KeyManager, error) {
	return newEnvBackend()
}

func newEnvBackend() (KeyManager, error) {
	b := &envBackend{keys: make(map[string]*btcec.PrivateKey)}
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, envKeyPrefix) {
			continue
		}
		keyID := strings.TrimPrefix(name, envKeyPrefix)
		raw, err := hex.DecodeString(val)
		if err != nil {
			log.Warnw("skipping malformed env signing key", "keyId", keyID, "err", err)
			continue
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		b.keys[keyID] = priv
	}
	return b, nil
}

func (b *envBackend) Sign(_ context.Context, keyID string, digest []byte) ([]byte, error) {
	b.mu.RLock()
	priv, ok := b.keys[keyID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}

	// btcec's compact format is [recovery header (1) || R (32) || S (32)];
	// reshape to the [R || S || V] layout go-ethereum and this package's
	// callers expect, with V as a 0/1 recovery id.
	compact := ecdsa.SignCompact(priv, digest, false)
	sig := make([]byte, 65)
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = (compact[0] - 27) & 0x01
	return sig, nil
}

func (b *envBackend) PublicKey(_ context.Context, keyID string) ([]byte, error) {
	b.mu.RLock()
	priv, ok := b.keys[keyID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return priv.PubKey().SerializeUncompressed(), nil
}
