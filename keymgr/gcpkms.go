package keymgr

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/ilpconnector/connectord/config"
	"google.golang.org/api/option"
)

// gcpKMSBackend signs digests using an asymmetric signing key version in
// Google Cloud KMS, addressed by project/location/keyring from config and
// the crypto key name passed as keyID to Sign/PublicKey; version 1 of that
// key is always used.
type gcpKMSBackend struct {
	client     *kms.KeyManagementClient
	keyRingRes string
}

func newGCPKMSBackend(cfg *config.Config) (KeyManager, error) {
	if cfg.GCPProject == "" || cfg.GCPLocation == "" || cfg.GCPKeyring == "" {
		return nil, ErrConfigError
	}

	client, err := kms.NewKeyManagementClient(context.Background(), option.WithScopes())
	if err != nil {
		return nil, fmt.Errorf("%w: creating gcp kms client: %v", ErrConfigError, err)
	}

	return &gcpKMSBackend{
		client: client,
		keyRingRes: fmt.Sprintf("projects/%s/locations/%s/keyRings/%s",
			cfg.GCPProject, cfg.GCPLocation, cfg.GCPKeyring),
	}, nil
}

func (b *gcpKMSBackend) keyVersionName(keyID string) string {
	return fmt.Sprintf("%s/cryptoKeys/%s/cryptoKeyVersions/1", b.keyRingRes, keyID)
}

func (b *gcpKMSBackend) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	resp, err := b.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: b.keyVersionName(keyID),
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp.Signature, nil
}

func (b *gcpKMSBackend) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := b.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: b.keyVersionName(keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return []byte(resp.Pem), nil
}
