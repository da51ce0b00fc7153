package keymgr

import (
	"context"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EvmSigner adapts a KeyManager to the operations external EVM libraries
// require: address derivation, RLP transaction-hash signing, personal-
// message signing, and EIP-712 typed-data signing. It is pure: it never
// caches private material, only the keyID it was constructed with.
type EvmSigner struct {
	km    KeyManager
	keyID string
}

// NewEvmSigner binds a KeyManager key to the EVM-specific signing
// operations the settlement engine and discovery subsystem need.
func NewEvmSigner(km KeyManager, keyID string) *EvmSigner {
	return &EvmSigner{km: km, keyID: keyID}
}

// Address derives the Ethereum address from the key's public key:
// keccak256(pubkey)[12:].
func (s *EvmSigner) Address(ctx context.Context) (common.Address, error) {
	pub, err := s.km.PublicKey(ctx, s.keyID)
	if err != nil {
		return common.Address{}, err
	}
	// Uncompressed secp256k1 public keys are 65 bytes: 0x04 || X || Y.
	// Ethereum addresses hash only X||Y.
	if len(pub) == 65 && pub[0] == 0x04 {
		pub = pub[1:]
	}
	hash := crypto.Keccak256(pub)
	var addr common.Address
	copy(addr[:], hash[12:])
	return addr, nil
}

// SignTxHash signs an RLP-encoded transaction hash for the given chain,
// returning a signature in the 65-byte [R || S || V] form go-ethereum
// expects from types.Signer.
func (s *EvmSigner) SignTxHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	sig, err := s.km.Sign(ctx, s.keyID, hash[:])
	if err != nil {
		return nil, err
	}
	return normalizeRecoverableSig(sig)
}

// SignPersonalMessage signs a message per the personal_sign convention:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func (s *EvmSigner) SignPersonalMessage(ctx context.Context, msg []byte) ([]byte, error) {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	digest := crypto.Keccak256([]byte(prefixed))
	sig, err := s.km.Sign(ctx, s.keyID, digest)
	if err != nil {
		return nil, err
	}
	return normalizeRecoverableSig(sig)
}

// BalanceProofDomain is the EIP-712 domain for payment-channel balance
// proofs, per §4.G's EVM method notes.
type BalanceProofDomain struct {
	ChainID            *big.Int
	VerifyingContract   common.Address
}

// SignBalanceProof signs an EIP-712 typed-data balance proof over
// {channelId, nonce, transferredAmount, lockedAmount, locksRoot} under the
// ("TokenNetwork", "1", chainId, verifyingContract) domain.
func (s *EvmSigner) SignBalanceProof(ctx context.Context, domain BalanceProofDomain,
	channelID uint64, nonce uint64, transferredAmount, lockedAmount *big.Int, locksRoot common.Hash) ([]byte, error) {

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"BalanceProof": []apitypes.Type{
				{Name: "channelId", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "transferredAmount", Type: "uint256"},
				{Name: "lockedAmount", Type: "uint256"},
				{Name: "locksRoot", Type: "bytes32"},
			},
		},
		PrimaryType: "BalanceProof",
		Domain: apitypes.TypedDataDomain{
			Name:              "TokenNetwork",
			Version:           "1",
			ChainId:           (*apitypes.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"channelId":         fmt.Sprintf("%d", channelID),
			"nonce":             fmt.Sprintf("%d", nonce),
			"transferredAmount": transferredAmount.String(),
			"lockedAmount":      lockedAmount.String(),
			"locksRoot":         locksRoot.Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hashing eip712 domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hashing eip712 message: %w", err)
	}

	digest := crypto.Keccak256(
		[]byte("\x19\x01"),
		domainSeparator,
		typedDataHash,
	)

	sig, err := s.km.Sign(ctx, s.keyID, digest)
	if err != nil {
		return nil, err
	}
	return normalizeRecoverableSig(sig)
}

// normalizeRecoverableSig reshapes whatever recoverable/compact signature
// the backing KeyManager returned into go-ethereum's expected
// [R(32) || S(32) || V(1)] layout, defaulting V to 27 when the backend
// (e.g. a KMS DER signature) does not supply recovery id.
func normalizeRecoverableSig(sig []byte) ([]byte, error) {
	switch len(sig) {
	case 65:
		return sig, nil
	case 64:
		out := make([]byte, 65)
		copy(out, sig)
		out[64] = 27
		return out, nil
	default:
		// Some backends (KMS, HSM) return a DER-encoded ECDSA
		// signature with no recovery id; decode it and re-pack into
		// the fixed-width form, defaulting V to 27.
		var parsed struct{ R, S *big.Int }
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return nil, fmt.Errorf("normalizing der signature: %w", err)
		}
		out := make([]byte, 65)
		parsed.R.FillBytes(out[0:32])
		parsed.S.FillBytes(out[32:64])
		out[64] = 27
		return out, nil
	}
}
