// Package keymgr implements §4.A's KeyManager contract: opaque digest
// signing and public-key retrieval, backed by a pluggable signing backend
// selected once at construction. Callers never see private material; they
// pass digests already hashed for the target signature scheme (keccak256
// for secp256k1/EVM; settlement.XRPMethod passes the SHA-256 of its
// claim preimage).
package keymgr

import (
	"context"

	"github.com/ilpconnector/connectord/config"
	"github.com/ilpconnector/connectord/logctx"
)

var log = logctx.Logger("KEYM")

// KeyManager is the minimal signing contract every backend implements.
type KeyManager interface {
	// Sign signs a pre-hashed digest with the named key and returns the
	// raw signature bytes in the encoding native to the key's curve.
	Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error)

	// PublicKey returns the uncompressed public key material for keyID.
	PublicKey(ctx context.Context, keyID string) ([]byte, error)
}

// New constructs the KeyManager selected by cfg.KeyBackend. The backend's
// required configuration block has already been validated by
// config.Load; New fails closed with ErrConfigError if it is inconsistent
// at construction time regardless.
func New(cfg *config.Config) (KeyManager, error) {
	switch cfg.KeyBackend {
	case config.KeyBackendEnv:
		return newEnvBackend()
	case config.KeyBackendAWSKMS:
		return newAWSKMSBackend(cfg)
	case config.KeyBackendGCPKMS:
		return newGCPKMSBackend(cfg)
	case config.KeyBackendAzureKV:
		return newAzureKVBackend(cfg)
	case config.KeyBackendHSM:
		return newHSMBackend(cfg)
	default:
		return nil, ErrConfigError
	}
}
