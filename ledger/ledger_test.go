package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareCommitUpdatesDebitBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	r, err := l.Prepare(ctx, "peer-a", "ILP", big.NewInt(1000))
	require.NoError(t, err)

	require.NoError(t, l.Commit(ctx, r))

	snap, err := l.Snapshot(ctx, "peer-a", "ILP")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), snap.DebitBalance)
	require.Equal(t, big.NewInt(-1000), snap.Net())
}

func TestRollbackLeavesBalancesUnchanged(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	r, err := l.Prepare(ctx, "peer-a", "ILP", big.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, l.Rollback(ctx, r))

	snap, err := l.Snapshot(ctx, "peer-a", "ILP")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), snap.DebitBalance)

	// A resolved reservation cannot be resolved twice.
	require.ErrorIs(t, l.Commit(ctx, r), ErrUnknownReservation)
}

func TestPrepareRejectsOverCreditLimit(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	l.Configure(ctx, "peer-a", "ILP", big.NewInt(500), nil)

	_, err := l.Prepare(ctx, "peer-a", "ILP", big.NewInt(1000))
	require.ErrorIs(t, err, ErrCreditLimitExceeded)
}

func TestCreditIncreasesNetBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "peer-b", "ILP", big.NewInt(5500)))

	snap, err := l.Snapshot(ctx, "peer-b", "ILP")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5500), snap.Net())
}

func TestRecordSettlementZeroesCreditAndResetsState(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	require.NoError(t, l.Credit(ctx, "peer-b", "ILP", big.NewInt(5500)))
	ok, err := l.TransitionSettlementState(ctx, "peer-b", "ILP", SettlementIdle, SettlementPending)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.TransitionSettlementState(ctx, "peer-b", "ILP", SettlementPending, SettlementInProgress)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.RecordSettlement(ctx, "peer-b", "ILP", big.NewInt(5500)))

	snap, err := l.Snapshot(ctx, "peer-b", "ILP")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), snap.CreditBalance)
	require.Equal(t, SettlementIdle, snap.SettlementState)
}

func TestTransitionSettlementStateRejectsWrongFrom(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	ok, err := l.TransitionSettlementState(ctx, "peer-a", "ILP", SettlementPending, SettlementInProgress)
	require.NoError(t, err)
	require.False(t, ok, "account starts IDLE, not PENDING")
}

func TestHistoryIsBoundedRing(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()

	for i := 0; i < historySize+10; i++ {
		require.NoError(t, l.Credit(ctx, "peer-a", "ILP", big.NewInt(1)))
	}

	snap, err := l.Snapshot(ctx, "peer-a", "ILP")
	require.NoError(t, err)
	require.Len(t, snap.History, historySize)
}
