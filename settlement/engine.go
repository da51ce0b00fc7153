// Package settlement implements §4.G: the settlement engine that opens
// or reuses a payment channel for a (peer, asset) pair, signs a
// settlement proof over the owed balance, reconciles the ledger, and
// emits the telemetry sequence observers expect.
package settlement

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/metrics"
	"github.com/ilpconnector/connectord/telemetry"
)

var log = logctx.Logger("SETL")

// Emitter is the subset of telemetry.Broker the engine needs.
type Emitter interface {
	Emit(ctx context.Context, e telemetry.Event)
}

// Engine drives settlement for every (peer, asset) pair the threshold
// monitor flags, dispatching to the configured Method per asset and
// serializing duplicate requests for the same (peer, asset, method)
// triple, per §4.G.
type Engine struct {
	NodeID  string
	Ledger  ledger.Ledger
	Events  Emitter
	Methods map[string]Method
	Cache   *ChannelCache
	Retry   RetryConfig
	Metrics *metrics.Registry // nil is fine: Settle guards every call

	inflight sync.Map // key string -> struct{}
}

// NewEngine constructs an Engine with the spec's default retry
// schedule.
func NewEngine(nodeID string, l ledger.Ledger, events Emitter, cache *ChannelCache, methods ...Method) *Engine {
	m := make(map[string]Method, len(methods))
	for _, method := range methods {
		m[method.ID()] = method
	}
	return &Engine{
		NodeID:  nodeID,
		Ledger:  l,
		Events:  events,
		Methods: m,
		Cache:   cache,
		Retry:   DefaultRetryConfig(),
	}
}

// Settle runs the full settlement flow for (peer, asset) using
// methodID, transitioning the ledger's settlement state from PENDING to
// IN_PROGRESS and back to IDLE (via RecordSettlement) as it proceeds.
func (e *Engine) Settle(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, methodID string, amount *big.Int) error {
	start := time.Now()
	method, ok := e.Methods[methodID]
	if !ok {
		return ErrUnknownMethod
	}

	key := string(peer) + "|" + string(asset) + "|" + methodID
	if _, loaded := e.inflight.LoadOrStore(key, struct{}{}); loaded {
		return ErrAlreadyInFlight
	}
	defer e.inflight.Delete(key)

	ok, err := e.Ledger.TransitionSettlementState(ctx, peer, asset, ledger.SettlementPending, ledger.SettlementInProgress)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyInFlight
	}

	e.emit(ctx, telemetry.EventSettlementPending, map[string]any{
		"peerId": string(peer), "assetId": string(asset), "currentBalance": amount.String(),
	})

	channelID, opened, err := e.openOrReuseChannel(ctx, method, peer, asset, amount)
	if err != nil {
		return e.fail(ctx, peer, asset, methodID, start, err)
	}

	if opened {
		e.emit(ctx, telemetry.EventPaymentChannelOpened, map[string]any{
			"peerId": string(peer), "channelId": channelID,
		})
	} else {
		e.emit(ctx, telemetry.EventChannelReused, map[string]any{
			"peerId": string(peer), "channelId": channelID, "amount": amount.String(),
		})
	}

	var proof string
	err = withRetry(ctx, e.Retry, func() error {
		var settleErr error
		proof, settleErr = method.Settle(ctx, channelID, amount)
		return settleErr
	})
	if err != nil {
		return e.fail(ctx, peer, asset, methodID, start, err)
	}

	if err := e.Ledger.RecordSettlement(ctx, peer, asset, amount); err != nil {
		return e.fail(ctx, peer, asset, methodID, start, err)
	}

	log.Infow("settlement completed", "peerId", peer, "assetId", asset, "method", methodID, "proof", proof)

	if e.Metrics != nil {
		e.Metrics.SettlementAttempt(methodID, "completed", time.Since(start).Seconds())
	}
	e.emit(ctx, telemetry.EventSettlementCompleted, map[string]any{
		"peerId": string(peer), "assetId": string(asset), "currentBalance": amount.String(),
	})
	e.emit(ctx, telemetry.EventAccountsUpdated, map[string]any{
		"peerId": string(peer), "assetId": string(asset),
	})

	return nil
}

func (e *Engine) openOrReuseChannel(ctx context.Context, method Method, peer ledger.PeerID, asset ledger.AssetID, amount *big.Int) (string, bool, error) {
	cached := ""
	if e.Cache != nil {
		cached = e.Cache.Get(string(peer), string(asset), method.ID())
	}

	var channelID string
	var opened bool
	err := withRetry(ctx, e.Retry, func() error {
		var err error
		channelID, opened, err = method.EnsureChannel(ctx, peer, asset, amount, cached)
		return err
	})
	if err != nil {
		return "", false, err
	}

	if opened && e.Cache != nil {
		if err := e.Cache.Set(string(peer), string(asset), method.ID(), channelID); err != nil {
			log.Warnw("failed to persist channel cache entry", "peerId", peer, "err", err)
		}
	}

	return channelID, opened, nil
}

func (e *Engine) fail(ctx context.Context, peer ledger.PeerID, asset ledger.AssetID, methodID string, start time.Time, cause error) error {
	log.Errorw("settlement failed", "peerId", peer, "assetId", asset, "err", cause)
	if e.Metrics != nil {
		e.Metrics.SettlementAttempt(methodID, "failed", time.Since(start).Seconds())
	}
	e.emit(ctx, telemetry.EventSettlementFailed, map[string]any{
		"peerId": string(peer), "assetId": string(asset), "reason": cause.Error(),
	})

	if _, err := e.Ledger.TransitionSettlementState(ctx, peer, asset, ledger.SettlementInProgress, ledger.SettlementPending); err != nil {
		log.Errorw("failed to revert settlement state after failure", "peerId", peer, "err", err)
	}

	return cause
}

func (e *Engine) emit(ctx context.Context, t telemetry.EventType, fields map[string]any) {
	if e.Events == nil {
		return
	}
	e.Events.Emit(ctx, telemetry.NewEvent(e.NodeID, t, fields))
}
