package ledger

import (
	"math/big"
	"time"
)

// PeerID and AssetID are opaque identifiers shared across every package
// that reasons about bilateral accounting and routing.
type PeerID string
type AssetID string

// SettlementState is the account-level settlement state machine described
// in §3. Transitions into Pending/InProgress are owned exclusively by the
// threshold monitor and settlement engine respectively; the ledger itself
// never initiates a transition on its own.
type SettlementState int

const (
	SettlementIdle SettlementState = iota
	SettlementPending
	SettlementInProgress
)

func (s SettlementState) String() string {
	switch s {
	case SettlementIdle:
		return "IDLE"
	case SettlementPending:
		return "PENDING"
	case SettlementInProgress:
		return "IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// historySize bounds the ring of net-balance samples kept per account.
const historySize = 20

// Sample is one point in a PeerAccount's bounded balance history.
type Sample struct {
	At  time.Time
	Net *big.Int
}

// PeerAccount is the double-entry record for one (peer, asset) pair.
// DebitBalance and CreditBalance are both non-negative; Net = Credit -
// Debit and never exceeds CreditLimit in the negative direction.
type PeerAccount struct {
	PeerID  PeerID
	AssetID AssetID

	DebitBalance  *big.Int
	CreditBalance *big.Int

	CreditLimit         *big.Int // nil means unlimited
	SettlementThreshold *big.Int // nil means settlement disabled

	SettlementState SettlementState
	LastUpdated     time.Time

	History []Sample
}

func newAccount(peer PeerID, asset AssetID) *PeerAccount {
	return &PeerAccount{
		PeerID:        peer,
		AssetID:       asset,
		DebitBalance:  big.NewInt(0),
		CreditBalance: big.NewInt(0),
		LastUpdated:   time.Now(),
	}
}

// Net returns CreditBalance - DebitBalance.
func (a *PeerAccount) Net() *big.Int {
	return new(big.Int).Sub(a.CreditBalance, a.DebitBalance)
}

// clone returns a value copy safe to hand to callers outside the ledger's
// lock, per §4.B's "readers take a brief shared lock to snapshot".
func (a *PeerAccount) clone() PeerAccount {
	cp := *a
	cp.DebitBalance = new(big.Int).Set(a.DebitBalance)
	cp.CreditBalance = new(big.Int).Set(a.CreditBalance)
	if a.CreditLimit != nil {
		cp.CreditLimit = new(big.Int).Set(a.CreditLimit)
	}
	if a.SettlementThreshold != nil {
		cp.SettlementThreshold = new(big.Int).Set(a.SettlementThreshold)
	}
	cp.History = append([]Sample(nil), a.History...)
	return cp
}

func (a *PeerAccount) appendSample() {
	sample := Sample{At: time.Now(), Net: a.Net()}
	a.History = append(a.History, sample)
	if len(a.History) > historySize {
		a.History = a.History[len(a.History)-historySize:]
	}
	a.LastUpdated = sample.At
}
