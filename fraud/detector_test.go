package fraud

import (
	"context"
	"math/big"
	"testing"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/ratelimit"
	"github.com/stretchr/testify/require"
)

type alwaysSuspiciousRule struct{ name string }

func (r alwaysSuspiciousRule) Name() string { return r.name }
func (r alwaysSuspiciousRule) Evaluate(ctx context.Context, peer ledger.PeerID, accts []ledger.PeerAccount) Verdict {
	return Verdict{Suspicious: true, Reason: "always"}
}

type panickingRule struct{}

func (panickingRule) Name() string { return "panics" }
func (panickingRule) Evaluate(ctx context.Context, peer ledger.PeerID, accts []ledger.PeerAccount) Verdict {
	panic("boom")
}

func TestScanPausesPeerAfterThresholdStrikes(t *testing.T) {
	l := ledger.NewInMemory()
	l.Configure(context.Background(), "peer-a", "USD", nil, nil)
	limiter := ratelimit.New(1000, 1000)

	d := New("node-1", l, nil, limiter, alwaysSuspiciousRule{"r1"})
	d.PauseThreshold = 2

	d.Scan(context.Background())
	require.True(t, limiter.Allow("peer-a"))

	d.Scan(context.Background())
	require.False(t, limiter.Allow("peer-a"))
}

func TestPanickingRuleDoesNotBlockOtherRules(t *testing.T) {
	l := ledger.NewInMemory()
	l.Configure(context.Background(), "peer-a", "USD", nil, nil)
	limiter := ratelimit.New(1000, 1000)

	d := New("node-1", l, nil, limiter, panickingRule{}, alwaysSuspiciousRule{"r1"})
	d.PauseThreshold = 1

	require.NotPanics(t, func() { d.Scan(context.Background()) })
	require.False(t, limiter.Allow("peer-a"))
}

func TestResumePeerClearsStrikesAndPause(t *testing.T) {
	l := ledger.NewInMemory()
	l.Configure(context.Background(), "peer-a", "USD", nil, nil)
	limiter := ratelimit.New(1000, 1000)

	d := New("node-1", l, nil, limiter, alwaysSuspiciousRule{"r1"})
	d.PauseThreshold = 1
	d.Scan(context.Background())
	require.False(t, limiter.Allow("peer-a"))

	d.ResumePeer(context.Background(), "peer-a")
	require.True(t, limiter.Allow("peer-a"))
}

func TestCreditLimitBreachRule(t *testing.T) {
	rule := CreditLimitBreachRule{}
	accts := []ledger.PeerAccount{{
		AssetID:      "USD",
		DebitBalance: big.NewInt(150),
		CreditLimit:  big.NewInt(100),
	}}
	v := rule.Evaluate(context.Background(), "peer-a", accts)
	require.True(t, v.Suspicious)
}

func TestBalanceMismatchRule(t *testing.T) {
	rule := BalanceMismatchRule{
		Observed:  map[ledger.AssetID]*big.Int{"USD": big.NewInt(500)},
		Tolerance: big.NewInt(10),
	}
	accts := []ledger.PeerAccount{{AssetID: "USD", CreditBalance: big.NewInt(100)}}
	v := rule.Evaluate(context.Background(), "peer-a", accts)
	require.True(t, v.Suspicious)
}
