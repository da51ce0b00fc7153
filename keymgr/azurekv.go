package keymgr

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/ilpconnector/connectord/config"
)

// azureKVBackend signs digests using an EC P-256K key stored in Azure Key
// Vault, addressed by vault URL from config and key name passed as keyID.
type azureKVBackend struct {
	client     *azkeys.Client
	defaultKey string
}

func newAzureKVBackend(cfg *config.Config) (KeyManager, error) {
	if cfg.AzureVaultURL == "" || cfg.AzureKeyName == "" {
		return nil, ErrConfigError
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: azure credential: %v", ErrConfigError, err)
	}

	client, err := azkeys.NewClient(cfg.AzureVaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: azure keyvault client: %v", ErrConfigError, err)
	}

	return &azureKVBackend{client: client, defaultKey: cfg.AzureKeyName}, nil
}

func (b *azureKVBackend) keyName(keyID string) string {
	if keyID == "" {
		return b.defaultKey
	}
	return keyID
}

func (b *azureKVBackend) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	alg := azkeys.SignatureAlgorithmES256K
	resp, err := b.client.Sign(ctx, b.keyName(keyID), "", azkeys.SignParameters{
		Algorithm: &alg,
		Value:     digest,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return resp.Result, nil
}

func (b *azureKVBackend) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := b.client.GetKey(ctx, b.keyName(keyID), "", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if resp.Key == nil || resp.Key.X == nil || resp.Key.Y == nil {
		return nil, ErrKeyNotFound
	}
	pub := make([]byte, 0, 1+len(resp.Key.X)+len(resp.Key.Y))
	pub = append(pub, 0x04)
	pub = append(pub, resp.Key.X...)
	pub = append(pub, resp.Key.Y...)
	return pub, nil
}
