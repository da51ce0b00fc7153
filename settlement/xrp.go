package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	rippledata "github.com/rubblelabs/ripple/data"

	"github.com/ilpconnector/connectord/keymgr"
	"github.com/ilpconnector/connectord/ledger"
)

// XRPMethod implements the XRPL payment-channel settlement rail from
// §4.G. It signs channel claims using the classic XRPL "CLM\0" +
// channelId + amount preimage, via a generic keymgr.KeyManager key
// rather than a dedicated XRP signer type (the ledger's ed25519/secp256k1
// signing requirements are already covered by KeyManager.Sign).
type XRPMethod struct {
	KeyManager keymgr.KeyManager
	KeyID      string
	Account    rippledata.Account
}

func NewXRPMethod(km keymgr.KeyManager, keyID string, account rippledata.Account) *XRPMethod {
	return &XRPMethod{KeyManager: km, KeyID: keyID, Account: account}
}

func (m *XRPMethod) ID() string { return "xrp" }

// EnsureChannel derives a deterministic channel id for (peer, asset)
// when no cached id is supplied. It does not submit a
// PaymentChannelCreate transaction; this method only manages the
// identifier the claim-signing path needs.
func (m *XRPMethod) EnsureChannel(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, amount *big.Int, cached string) (string, bool, error) {
	if cached != "" {
		return cached, false, nil
	}

	sum := sha256.Sum256([]byte(string(peer) + "|" + string(asset) + "|xrp|" + m.Account.String()))
	return hex.EncodeToString(sum[:32]), true, nil
}

// Settle signs a payment-channel claim for amount drops on channelID,
// using the classic "CLM\0" || channelId(32) || amount(8, big-endian)
// preimage XRPL payment channels sign over.
func (m *XRPMethod) Settle(ctx context.Context, channelID string, amount *big.Int) (string, error) {
	channelBytes, err := hex.DecodeString(channelID)
	if err != nil {
		return "", fmt.Errorf("decoding channel id: %w", err)
	}
	if len(channelBytes) != 32 {
		return "", fmt.Errorf("xrpl channel id must be 32 bytes, got %d", len(channelBytes))
	}

	preimage := make([]byte, 0, 4+32+8)
	preimage = append(preimage, []byte("CLM\x00")...)
	preimage = append(preimage, channelBytes...)

	var amountBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], amount.Uint64())
	preimage = append(preimage, amountBuf[:]...)

	digest := sha256.Sum256(preimage)
	sig, err := m.KeyManager.Sign(ctx, m.KeyID, digest[:])
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
