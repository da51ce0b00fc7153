// Package threshold implements §4.F's periodic settlement trigger: a
// scan loop that compares each account's outstanding balance against
// its configured SettlementThreshold and signals settlement.Engine when
// a breach demands action.
package threshold

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/telemetry"
)

var log = logctx.Logger("THRM")

// DefaultScanInterval is the spec's stated default scan cadence.
const DefaultScanInterval = 30 * time.Second

// Emitter is the subset of telemetry.Broker the monitor needs.
type Emitter interface {
	Emit(ctx context.Context, e telemetry.Event)
}

// SettlementSignal carries the (peer, asset) pair that just bred a
// SETTLEMENT_REQUIRED condition, for the settlement engine to consume.
type SettlementSignal struct {
	Peer  ledger.PeerID
	Asset ledger.AssetID
}

// Monitor periodically scans every ledger account for a threshold
// breach, transitioning IDLE -> PENDING and emitting
// SETTLEMENT_TRIGGERED exactly once per breach (PENDING/IN_PROGRESS
// accounts are skipped so a standing breach doesn't re-trigger every
// scan, per §4.F).
type Monitor struct {
	NodeID   string
	Ledger   ledger.Ledger
	Events   Emitter
	Interval time.Duration
	Signal   chan<- SettlementSignal

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Monitor. signal may be nil if the caller only wants
// telemetry emission without a downstream settlement trigger channel.
func New(nodeID string, l ledger.Ledger, events Emitter, signal chan<- SettlementSignal) *Monitor {
	return &Monitor{
		NodeID:   nodeID,
		Ledger:   l,
		Events:   events,
		Interval: DefaultScanInterval,
		Signal:   signal,
		quit:     make(chan struct{}),
	}
}

// Start launches the scan loop. Idempotent.
func (m *Monitor) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return nil
	}
	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts the scan loop and waits for it to exit. Idempotent.
func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 2) {
		return nil
	}
	close(m.quit)
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.scan()
		case <-m.quit:
			return
		}
	}
}

func (m *Monitor) scan() {
	ctx := context.Background()
	accounts := m.Ledger.AllAccounts(ctx)

	for _, acct := range accounts {
		if acct.SettlementThreshold == nil {
			continue
		}
		if acct.SettlementState != ledger.SettlementIdle {
			continue
		}

		// A breach means our accrued credit balance to the peer (the
		// positive excursion of Net = CreditBalance - DebitBalance) has
		// grown past the configured threshold. This is the same balance
		// RecordSettlement reduces on a successful settlement, so the
		// trigger and the reconciliation act on the same side of the
		// ledger.
		net := acct.Net()
		if net.Cmp(acct.SettlementThreshold) <= 0 {
			continue
		}
		exceedsBy := new(big.Int).Sub(net, acct.SettlementThreshold)

		ok, err := m.Ledger.TransitionSettlementState(ctx, acct.PeerID, acct.AssetID, ledger.SettlementIdle, ledger.SettlementPending)
		if err != nil {
			log.Errorw("settlement state transition failed", "peerId", acct.PeerID, "err", err)
			continue
		}
		if !ok {
			// Another scan (or the settlement engine) beat us to it.
			continue
		}

		log.Infow("settlement threshold breached", "peerId", acct.PeerID, "assetId", acct.AssetID, "net", net.String())

		m.emit(ctx, telemetry.EventSettlementTriggered, map[string]any{
			"peerId":         string(acct.PeerID),
			"assetId":        string(acct.AssetID),
			"currentBalance": net.String(),
			"threshold":      acct.SettlementThreshold.String(),
			"exceedsBy":      exceedsBy.String(),
		})

		if m.Signal != nil {
			select {
			case m.Signal <- SettlementSignal{Peer: acct.PeerID, Asset: acct.AssetID}:
			default:
				log.Warnw("settlement signal channel full, dropping trigger", "peerId", acct.PeerID)
			}
		}
	}
}

func (m *Monitor) emit(ctx context.Context, t telemetry.EventType, fields map[string]any) {
	if m.Events == nil {
		return
	}
	m.Events.Emit(ctx, telemetry.NewEvent(m.NodeID, t, fields))
}
