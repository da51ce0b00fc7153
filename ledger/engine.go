package ledger

import (
	"context"
	"math/big"
)

// TransferEngine is the narrow, typed interface the ledger uses when
// backed by an external double-entry engine (a TigerBeetle-style system).
// The core never imports a TigerBeetle client directly, per §1's scope:
// "the core uses them as typed interfaces." TIGERBEETLE_CLUSTER_ID and
// TIGERBEETLE_REPLICAS (§6) configure a concrete implementation assembled
// outside this package.
type TransferEngine interface {
	// TwoPhasePost begins a pending transfer of amount from debitAccount
	// to creditAccount, identified by id for idempotent retry.
	TwoPhasePost(ctx context.Context, id uint64, debitAccount, creditAccount uint64, amount *big.Int) error

	// Commit finalizes a pending transfer.
	Commit(ctx context.Context, id uint64) error

	// Void cancels a pending transfer.
	Void(ctx context.Context, id uint64) error

	// Ping reports whether the engine is currently reachable.
	Ping(ctx context.Context) error
}

// EngineBacked adapts an external TransferEngine to the Ledger contract.
// Account identities are derived deterministically from (peer, asset) via
// a caller-supplied resolver so the engine's numeric account-id space
// stays decoupled from PeerID/AssetID strings.
type EngineBacked struct {
	*InMemory // local cache of balances/history for Snapshot/AllAccounts

	engine       TransferEngine
	resolveDebit func(peer PeerID, asset AssetID) uint64
	resolveCredit func(peer PeerID, asset AssetID) uint64
}

// NewEngineBacked wraps engine, using the in-memory ledger as a read cache
// that mirrors each successful transfer so Snapshot/AllAccounts stay cheap
// and lock-local, while Prepare/Commit/Rollback drive the real engine.
func NewEngineBacked(engine TransferEngine, resolveDebit, resolveCredit func(PeerID, AssetID) uint64) *EngineBacked {
	return &EngineBacked{
		InMemory:      NewInMemory(),
		engine:        engine,
		resolveDebit:  resolveDebit,
		resolveCredit: resolveCredit,
	}
}

func (e *EngineBacked) Prepare(ctx context.Context, peer PeerID, asset AssetID, amount *big.Int) (*Reservation, error) {
	if err := e.engine.Ping(ctx); err != nil {
		return nil, ErrBackendUnavailable
	}
	r, err := e.InMemory.Prepare(ctx, peer, asset, amount)
	if err != nil {
		return nil, err
	}

	debitAcct := e.resolveDebit(peer, asset)
	creditAcct := e.resolveCredit(peer, asset)
	if err := e.engine.TwoPhasePost(ctx, reservationEngineID(r.ID), debitAcct, creditAcct, amount); err != nil {
		// Roll back the local reservation so it does not leak; the
		// external engine is the source of truth here.
		_ = e.InMemory.Rollback(ctx, r)
		return nil, ErrBackendUnavailable
	}
	return r, nil
}

func (e *EngineBacked) Commit(ctx context.Context, r *Reservation) error {
	if err := e.engine.Commit(ctx, reservationEngineID(r.ID)); err != nil {
		return ErrBackendUnavailable
	}
	return e.InMemory.Commit(ctx, r)
}

func (e *EngineBacked) Rollback(ctx context.Context, r *Reservation) error {
	if err := e.engine.Void(ctx, reservationEngineID(r.ID)); err != nil {
		return ErrBackendUnavailable
	}
	return e.InMemory.Rollback(ctx, r)
}

// reservationEngineID derives a stable uint64 transfer id from the
// reservation's uuid so retries of the same logical reservation map to
// the same external transfer, satisfying at-least-once idempotency.
func reservationEngineID(reservationID string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for i := 0; i < len(reservationID); i++ {
		h ^= uint64(reservationID[i])
		h *= 1099511628211
	}
	return h
}
