package metrics

import "testing"

func TestDisabledRegistryIsNoOp(t *testing.T) {
	r := New(false)
	r.PacketReceived("peer-a")
	r.PacketForwarded("peer-a")
	r.PacketRejected("T04")
	r.SettlementAttempt("evm", "completed", 1.5)
	r.FraudStrike("credit_limit_breach")
	r.PeerPaused()
	r.BTPReconnect("peer-a")
	r.BTPConnState("peer-a", 3)

	if r.Handler() != nil {
		t.Fatal("expected nil handler when metrics disabled")
	}
}

func TestEnabledRegistryExposesHandler(t *testing.T) {
	r := New(true)
	if r.Handler() == nil {
		t.Fatal("expected non-nil handler when metrics enabled")
	}

	r.PacketReceived("peer-a")
	r.PacketForwarded("peer-a")
	r.PacketRejected("T04")
	r.SettlementAttempt("evm", "completed", 1.5)
	r.FraudStrike("credit_limit_breach")
	r.PeerPaused()
	r.BTPReconnect("peer-a")
	r.BTPConnState("peer-a", 3)
}

func TestAccountGaugeWiring(t *testing.T) {
	r := New(true)
	r.SetAccountGauge(func() float64 { return 7 })
}
