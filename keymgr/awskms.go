package keymgr

import (
	"context"
	"errors"
	"fmt"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ilpconnector/connectord/config"
)

// awsKMSBackend signs digests using an asymmetric ECC_SECG_P256K1 customer
// master key in AWS KMS. keyID is the CMK's key-id or alias; the digest
// passed to Sign is forwarded as the pre-computed message digest using
// MessageTypeDigest, so KMS never sees the original packet data.
type awsKMSBackend struct {
	client *kms.Client
	keyID  string
}

func newAWSKMSBackend(cfg *config.Config) (KeyManager, error) {
	if cfg.AWSRegion == "" || cfg.AWSKeyID == "" {
		return nil, ErrConfigError
	}

	awsConf, err := awscfg.LoadDefaultConfig(context.Background(),
		awscfg.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %v", ErrConfigError, err)
	}

	return &awsKMSBackend{
		client: kms.NewFromConfig(awsConf),
		keyID:  cfg.AWSKeyID,
	}, nil
}

func (b *awsKMSBackend) Sign(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	out, err := b.client.Sign(ctx, &kms.SignInput{
		KeyId:            &b.keyID,
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, classifyAWSError(err)
	}
	return out.Signature, nil
}

func (b *awsKMSBackend) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	out, err := b.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: &b.keyID})
	if err != nil {
		return nil, classifyAWSError(err)
	}
	return out.PublicKey, nil
}

func classifyAWSError(err error) error {
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return ErrKeyNotFound
	}
	var timeout *types.DependencyTimeoutException
	if errors.As(err, &timeout) {
		return ErrBackendUnavailable
	}
	var disabled *types.DisabledException
	if errors.As(err, &disabled) {
		return ErrSigningRejected
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
