// Package ledger implements §4.B's bilateral accounting: per-(peer,asset)
// debit/credit balances, two-phase prepare/commit/rollback reservations,
// and balance snapshots. Each call moves one amount on one (peer, asset)
// account; there is no operation that applies several transfers as one
// atomic batch.
//
// Resolved Open Question (§9): the source material is ambiguous about
// whether CreditLimit bounds Net's negative excursions or the peer's
// outstanding debit directly. This implementation bounds DebitBalance
// (the classic ILP notion of credit extended to a peer before further
// forwarding on their behalf is refused) since that is the quantity
// Prepare actually grows, and Prepare is where §4.E step 3 says a "credit
// exceeded" failure is observed.
package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/ilpconnector/connectord/logctx"
)

var log = logctx.Logger("LEDG")

// Reservation is the token returned by Prepare; it must be passed to
// exactly one of Commit or Rollback.
type Reservation struct {
	ID     string
	Peer   PeerID
	Asset  AssetID
	Amount *big.Int
}

// Ledger is the contract described in §4.B.
type Ledger interface {
	Prepare(ctx context.Context, peer PeerID, asset AssetID, amount *big.Int) (*Reservation, error)
	Commit(ctx context.Context, r *Reservation) error
	Rollback(ctx context.Context, r *Reservation) error
	Credit(ctx context.Context, peer PeerID, asset AssetID, amount *big.Int) error
	Snapshot(ctx context.Context, peer PeerID, asset AssetID) (PeerAccount, error)
	AllAccounts(ctx context.Context) []PeerAccount

	// RecordSettlement reduces the outstanding credit balance by exactly
	// amount, per §4.G step 6, and resets SettlementState to Idle.
	RecordSettlement(ctx context.Context, peer PeerID, asset AssetID, amount *big.Int) error

	// TransitionSettlementState performs a compare-and-swap on the
	// account's settlement state, the only way IDLE/PENDING/IN_PROGRESS
	// transitions may occur (owned exclusively by the threshold monitor
	// and settlement engine, per §3's invariant).
	TransitionSettlementState(ctx context.Context, peer PeerID, asset AssetID, from, to SettlementState) (bool, error)

	// Configure sets or updates the CreditLimit/SettlementThreshold for
	// a (peer, asset) pair, creating the account if it does not exist.
	Configure(ctx context.Context, peer PeerID, asset AssetID, creditLimit, threshold *big.Int)
}

type key struct {
	peer  PeerID
	asset AssetID
}

type entry struct {
	mu      sync.Mutex
	account *PeerAccount

	// pendingDebit tracks reservations not yet committed/rolled back,
	// so a concurrent Prepare sees the true projected exposure.
	pendingDebit *big.Int
}

// InMemory is the default Ledger backend: balances live in a process-local
// map, each (peer,asset) key serialized by its own mutex so updates to
// different keys never block each other, per §5's ordering guarantees.
type InMemory struct {
	mapMu   sync.RWMutex
	entries map[key]*entry

	resMu        sync.Mutex
	reservations map[string]*Reservation
}

// NewInMemory constructs an empty in-memory ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		entries:      make(map[key]*entry),
		reservations: make(map[string]*Reservation),
	}
}

func (l *InMemory) entryFor(peer PeerID, asset AssetID) *entry {
	k := key{peer, asset}

	l.mapMu.RLock()
	e, ok := l.entries[k]
	l.mapMu.RUnlock()
	if ok {
		return e
	}

	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	if e, ok := l.entries[k]; ok {
		return e
	}
	e = &entry{account: newAccount(peer, asset), pendingDebit: big.NewInt(0)}
	l.entries[k] = e
	return e
}

func (l *InMemory) Configure(_ context.Context, peer PeerID, asset AssetID, creditLimit, threshold *big.Int) {
	e := l.entryFor(peer, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.account.CreditLimit = creditLimit
	e.account.SettlementThreshold = threshold
}

func (l *InMemory) Prepare(_ context.Context, peer PeerID, asset AssetID, amount *big.Int) (*Reservation, error) {
	e := l.entryFor(peer, asset)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.account.CreditLimit != nil {
		projected := new(big.Int).Add(e.account.DebitBalance, e.pendingDebit)
		projected.Add(projected, amount)
		if projected.Cmp(e.account.CreditLimit) > 0 {
			return nil, ErrCreditLimitExceeded
		}
	}

	e.pendingDebit.Add(e.pendingDebit, amount)

	r := &Reservation{ID: uuid.NewString(), Peer: peer, Asset: asset, Amount: new(big.Int).Set(amount)}
	l.resMu.Lock()
	l.reservations[r.ID] = r
	l.resMu.Unlock()

	return r, nil
}

func (l *InMemory) takeReservation(r *Reservation) (*Reservation, error) {
	l.resMu.Lock()
	defer l.resMu.Unlock()
	stored, ok := l.reservations[r.ID]
	if !ok {
		return nil, ErrUnknownReservation
	}
	delete(l.reservations, r.ID)
	return stored, nil
}

func (l *InMemory) Commit(_ context.Context, r *Reservation) error {
	stored, err := l.takeReservation(r)
	if err != nil {
		return err
	}

	e := l.entryFor(stored.Peer, stored.Asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingDebit.Sub(e.pendingDebit, stored.Amount)
	e.account.DebitBalance.Add(e.account.DebitBalance, stored.Amount)
	e.account.appendSample()
	return nil
}

func (l *InMemory) Rollback(_ context.Context, r *Reservation) error {
	stored, err := l.takeReservation(r)
	if err != nil {
		return err
	}

	e := l.entryFor(stored.Peer, stored.Asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingDebit.Sub(e.pendingDebit, stored.Amount)
	return nil
}

func (l *InMemory) Credit(_ context.Context, peer PeerID, asset AssetID, amount *big.Int) error {
	e := l.entryFor(peer, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account.CreditBalance.Add(e.account.CreditBalance, amount)
	e.account.appendSample()
	return nil
}

func (l *InMemory) Snapshot(_ context.Context, peer PeerID, asset AssetID) (PeerAccount, error) {
	e := l.entryFor(peer, asset)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account.clone(), nil
}

func (l *InMemory) AllAccounts(_ context.Context) []PeerAccount {
	l.mapMu.RLock()
	entries := make([]*entry, 0, len(l.entries))
	for _, e := range l.entries {
		entries = append(entries, e)
	}
	l.mapMu.RUnlock()

	out := make([]PeerAccount, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.account.clone())
		e.mu.Unlock()
	}
	return out
}

func (l *InMemory) RecordSettlement(_ context.Context, peer PeerID, asset AssetID, amount *big.Int) error {
	e := l.entryFor(peer, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account.CreditBalance.Sub(e.account.CreditBalance, amount)
	if e.account.CreditBalance.Sign() < 0 {
		e.account.CreditBalance.SetInt64(0)
	}
	e.account.SettlementState = SettlementIdle
	e.account.appendSample()
	return nil
}

func (l *InMemory) TransitionSettlementState(_ context.Context, peer PeerID, asset AssetID, from, to SettlementState) (bool, error) {
	e := l.entryFor(peer, asset)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.account.SettlementState != from {
		return false, nil
	}
	e.account.SettlementState = to
	return true, nil
}
