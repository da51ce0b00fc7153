package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ilpconnector/connectord/keymgr"
	"github.com/ilpconnector/connectord/ledger"
)

// EVMMethod implements the EVM payment-channel settlement rail from
// §4.G, signing EIP-712 balance proofs via keymgr.EvmSigner. It submits
// nothing on chain: channel open/deposit against a real TokenNetwork
// contract is not performed here, and Settle only returns the signed
// artifact for something outside this package to broadcast.
type EVMMethod struct {
	Signer            *keymgr.EvmSigner
	ChainID           *big.Int
	VerifyingContract common.Address

	// nonces tracks the next balance-proof nonce per channel, since a
	// real TokenNetwork channel requires monotonically increasing
	// nonces across its lifetime.
	nonces map[string]uint64
}

func NewEVMMethod(signer *keymgr.EvmSigner, chainID *big.Int, verifyingContract common.Address) *EVMMethod {
	return &EVMMethod{
		Signer:            signer,
		ChainID:           chainID,
		VerifyingContract: verifyingContract,
		nonces:            make(map[string]uint64),
	}
}

func (m *EVMMethod) ID() string { return "evm" }

// EnsureChannel derives a deterministic channel id for (peer, asset)
// when no cached id is supplied; it does not submit a channel-open
// transaction to the TokenNetwork contract.
func (m *EVMMethod) EnsureChannel(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, amount *big.Int, cached string) (string, bool, error) {
	if cached != "" {
		return cached, false, nil
	}

	sum := sha256.Sum256([]byte(string(peer) + "|" + string(asset) + "|evm"))
	return hex.EncodeToString(sum[:16]), true, nil
}

// Settle signs an EIP-712 balance proof transferring amount on
// channelID and returns the hex-encoded signature as the settlement
// proof.
func (m *EVMMethod) Settle(ctx context.Context, channelID string, amount *big.Int) (string, error) {
	nonce := m.nonces[channelID] + 1
	m.nonces[channelID] = nonce

	channelNum := new(big.Int).SetBytes([]byte(channelID))

	domain := keymgr.BalanceProofDomain{ChainID: m.ChainID, VerifyingContract: m.VerifyingContract}
	sig, err := m.Signer.SignBalanceProof(ctx, domain, channelNum.Uint64(), nonce, amount, big.NewInt(0), common.Hash{})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
