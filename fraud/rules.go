package fraud

import (
	"context"
	"math/big"

	"github.com/ilpconnector/connectord/ledger"
)

// CreditLimitBreachRule flags a peer whose DebitBalance on any asset has
// grown past a fixed multiple of its configured CreditLimit, signalling
// the account grew faster than normal forwarding traffic would explain.
type CreditLimitBreachRule struct {
	// Multiplier is how far past CreditLimit DebitBalance must grow
	// before the rule fires. Defaults to 1 (any breach at all) when
	// zero.
	Multiplier *big.Int
}

func (r CreditLimitBreachRule) Name() string { return "credit_limit_breach" }

func (r CreditLimitBreachRule) Evaluate(_ context.Context, _ ledger.PeerID, accounts []ledger.PeerAccount) Verdict {
	multiplier := r.Multiplier
	if multiplier == nil {
		multiplier = big.NewInt(1)
	}

	for _, a := range accounts {
		if a.CreditLimit == nil {
			continue
		}
		bound := new(big.Int).Mul(a.CreditLimit, multiplier)
		if a.DebitBalance.Cmp(bound) > 0 {
			return Verdict{Suspicious: true, Reason: "debit balance exceeds credit limit bound"}
		}
	}
	return Verdict{}
}

// BalanceMismatchRule flags a peer whose reported external wallet
// balance (fetched separately and passed in via Observed) diverges from
// the ledger's own CreditBalance by more than Tolerance, per §4.F's
// WALLET_BALANCE_MISMATCH scenario.
type BalanceMismatchRule struct {
	Observed  map[ledger.AssetID]*big.Int
	Tolerance *big.Int
}

func (r BalanceMismatchRule) Name() string { return "wallet_balance_mismatch" }

func (r BalanceMismatchRule) Evaluate(_ context.Context, _ ledger.PeerID, accounts []ledger.PeerAccount) Verdict {
	tolerance := r.Tolerance
	if tolerance == nil {
		tolerance = big.NewInt(0)
	}

	for _, a := range accounts {
		observed, ok := r.Observed[a.AssetID]
		if !ok {
			continue
		}
		diff := new(big.Int).Sub(observed, a.CreditBalance)
		diff.Abs(diff)
		if diff.Cmp(tolerance) > 0 {
			return Verdict{Suspicious: true, Reason: "observed wallet balance diverges from ledger"}
		}
	}
	return Verdict{}
}
