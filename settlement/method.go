package settlement

import (
	"context"
	"math/big"

	"github.com/ilpconnector/connectord/ledger"
)

// Method is one settlement rail (EVM payment channels, XRP payment
// channels, ...), per §4.G. EnsureChannel opens a channel when cached is
// empty and reuses it otherwise; Settle produces the signed proof/claim
// that moves value for amount on the already-open channel.
type Method interface {
	ID() string
	EnsureChannel(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, amount *big.Int, cached string) (channelID string, opened bool, err error)
	Settle(ctx context.Context, channelID string, amount *big.Int) (proof string, err error)
}
