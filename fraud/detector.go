// Package fraud implements §4.F's fraud detection: a set of independent
// rules evaluated against the ledger and packet history, reputation
// tracking per peer, and the pause/resume actions those rules can
// trigger. A panicking or erroring rule must never prevent the others
// from running, mirroring the teacher's contractcourt breach-resolution
// pattern of isolating each watcher's failure domain.
package fraud

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/metrics"
	"github.com/ilpconnector/connectord/ratelimit"
	"github.com/ilpconnector/connectord/telemetry"
)

var log = logctx.Logger("FRAD")

// Emitter is the subset of telemetry.Broker the detector needs.
type Emitter interface {
	Emit(ctx context.Context, e telemetry.Event)
}

// Verdict is a rule's judgment about a peer.
type Verdict struct {
	Suspicious bool
	Reason     string
}

// Rule evaluates one fraud signal for a peer against the current ledger
// state. Rules are evaluated independently; a Rule that panics is
// recovered and logged by the Detector rather than aborting the scan.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, peer ledger.PeerID, accounts []ledger.PeerAccount) Verdict
}

// reputation tracks a peer's running count of distinct suspicious
// findings; strikes do not expire, and reaching PauseThreshold strikes
// triggers a pause. ResumePeer resets the count.
type reputation struct {
	strikes int
	paused  bool
}

// Detector runs every registered Rule over each peer's accounts on a
// fixed interval, pausing peers once they accumulate PauseThreshold
// strikes.
type Detector struct {
	NodeID         string
	Ledger         ledger.Ledger
	Events         Emitter
	Limiter        *ratelimit.Limiter
	Rules          []Rule
	Interval       time.Duration
	PauseThreshold int
	Metrics        *metrics.Registry // nil is fine: every call site below guards it

	mu    sync.Mutex
	repos map[ledger.PeerID]*reputation

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

const (
	// DefaultInterval matches the threshold monitor's default scan cadence.
	DefaultInterval       = 30 * time.Second
	DefaultPauseThreshold = 3
)

// New constructs a Detector with the given rules.
func New(nodeID string, l ledger.Ledger, events Emitter, limiter *ratelimit.Limiter, rules ...Rule) *Detector {
	return &Detector{
		NodeID:         nodeID,
		Ledger:         l,
		Events:         events,
		Limiter:        limiter,
		Rules:          rules,
		Interval:       DefaultInterval,
		PauseThreshold: DefaultPauseThreshold,
		repos:          make(map[ledger.PeerID]*reputation),
		quit:           make(chan struct{}),
	}
}

// Start launches the periodic scan loop. Idempotent.
func (d *Detector) Start() error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return nil
	}
	d.wg.Add(1)
	go d.loop()
	return nil
}

// Stop halts the scan loop and waits for it to exit. Idempotent.
func (d *Detector) Stop() error {
	if !atomic.CompareAndSwapInt32(&d.started, 1, 2) {
		return nil
	}
	close(d.quit)
	d.wg.Wait()
	return nil
}

func (d *Detector) loop() {
	defer d.wg.Done()

	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.Scan(context.Background())
		case <-d.quit:
			return
		}
	}
}

// Scan evaluates every rule against every peer's current accounts.
// Exported so tests and a manual trigger endpoint can run it on demand.
func (d *Detector) Scan(ctx context.Context) {
	accounts := d.Ledger.AllAccounts(ctx)

	byPeer := make(map[ledger.PeerID][]ledger.PeerAccount)
	for _, a := range accounts {
		byPeer[a.PeerID] = append(byPeer[a.PeerID], a)
	}

	for peer, accts := range byPeer {
		for _, rule := range d.Rules {
			verdict := d.evaluateSafely(ctx, rule, peer, accts)
			if !verdict.Suspicious {
				continue
			}

			if d.Metrics != nil {
				d.Metrics.FraudStrike(rule.Name())
			}
			d.emit(ctx, telemetry.EventSuspiciousActivity, map[string]any{
				"peerId": string(peer), "rule": rule.Name(), "reason": verdict.Reason,
			})
			d.recordStrike(ctx, peer, rule.Name(), verdict.Reason)
		}
	}
}

// evaluateSafely runs rule.Evaluate, recovering any panic so one
// misbehaving rule cannot block the rest of the scan.
func (d *Detector) evaluateSafely(ctx context.Context, rule Rule, peer ledger.PeerID, accts []ledger.PeerAccount) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("fraud rule panicked, continuing scan", "rule", rule.Name(), "peerId", peer, "panic", r)
			verdict = Verdict{}
		}
	}()
	return rule.Evaluate(ctx, peer, accts)
}

func (d *Detector) recordStrike(ctx context.Context, peer ledger.PeerID, rule, reason string) {
	d.mu.Lock()
	rep, ok := d.repos[peer]
	if !ok {
		rep = &reputation{}
		d.repos[peer] = rep
	}
	rep.strikes++
	shouldPause := !rep.paused && rep.strikes >= d.PauseThreshold
	if shouldPause {
		rep.paused = true
	}
	d.mu.Unlock()

	if !shouldPause {
		return
	}

	d.emit(ctx, telemetry.EventFraudDetected, map[string]any{
		"peerId": string(peer), "rule": rule, "reason": reason,
	})
	d.pausePeer(ctx, peer)
}

func (d *Detector) pausePeer(ctx context.Context, peer ledger.PeerID) {
	if d.Limiter != nil {
		d.Limiter.Exhaust(string(peer))
	}
	if d.Metrics != nil {
		d.Metrics.PeerPaused()
	}
	log.Warnw("pausing peer after fraud detection", "peerId", peer)
	d.emit(ctx, telemetry.EventPeerPaused, map[string]any{"peerId": string(peer)})
}

// ResumePeer clears a peer's accumulated strikes and pause, for manual
// operator intervention.
func (d *Detector) ResumePeer(ctx context.Context, peer ledger.PeerID) {
	d.mu.Lock()
	if rep, ok := d.repos[peer]; ok {
		rep.strikes = 0
		rep.paused = false
	}
	d.mu.Unlock()

	if d.Limiter != nil {
		d.Limiter.Release(string(peer))
	}
	d.emit(ctx, telemetry.EventPeerResumed, map[string]any{"peerId": string(peer)})
}

func (d *Detector) emit(ctx context.Context, t telemetry.EventType, fields map[string]any) {
	if d.Events == nil {
		return
	}
	d.Events.Emit(ctx, telemetry.NewEvent(d.NodeID, t, fields))
}
