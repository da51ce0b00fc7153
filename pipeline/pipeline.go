// Package pipeline implements §4.E's packet processing pipeline: the
// sequence every inbound PREPARE runs through, from validation to
// ledger reservation, route lookup, forwarding, and reply-driven
// settlement of the reservation.
package pipeline

import (
	"context"
	"math/big"
	"time"

	"github.com/ilpconnector/connectord/btp"
	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/metrics"
	"github.com/ilpconnector/connectord/ratelimit"
	"github.com/ilpconnector/connectord/routing"
	"github.com/ilpconnector/connectord/telemetry"
)

var log = logctx.Logger("PIPE")

// EndpointRegistry resolves a peer id to its live BTP endpoint, so the
// pipeline can forward a packet without owning connection lifecycle
// itself.
type EndpointRegistry interface {
	Get(peerID ledger.PeerID) (*btp.Endpoint, bool)
}

// Emitter is the subset of telemetry.Broker the pipeline needs.
type Emitter interface {
	Emit(ctx context.Context, e telemetry.Event)
}

// Pipeline wires the ledger, routing table, rate limiter, and endpoint
// registry together to process inbound Prepare packets per §4.E.
type Pipeline struct {
	NodeID    string
	Ledger    ledger.Ledger
	Routes    *routing.Table
	Limiter   *ratelimit.Limiter
	Endpoints EndpointRegistry
	Events    Emitter
	Metrics   *metrics.Registry // nil is fine: every call site below guards it

	// LocalAddress, when non-empty and equal to a packet's destination,
	// marks this node as the packet's terminus rather than a forwarder.
	LocalAddress string

	// Local resolves the fulfillment for a condition when this node is
	// itself a packet's destination. Nil means this node never
	// terminates a packet (every local-terminus Prepare is rejected
	// F02, since there is no one able to supply a valid fulfillment).
	Local PreimageRegistry

	// FeeRate is applied to the forwarded amount (destination leg =
	// amount - amount*FeeRate), expressed as a fraction, e.g. 0.001 for
	// 10 bps. Zero disables fees.
	FeeRate float64
}

// rejectCode mirrors the ILP-style error codes referenced in §4.E.
type rejectCode string

const (
	codeInsufficientLiquidity rejectCode = "T04" // congested / credit exceeded
	codeNoRoute               rejectCode = "F02"
	codeExpired               rejectCode = "R00"
	codeInternal              rejectCode = "T00"
	codeValidation            rejectCode = "F00"
	codeWrongCondition        rejectCode = "F05"
)

func rejectWithReason(packetID string, code rejectCode, msg string) *btp.RejectData {
	return &btp.RejectData{PacketID: packetID, Code: string(code), Message: msg}
}

// HandleInbound implements §4.E steps 1-10 for a packet arriving from
// fromPeer. It is suitable as a btp.PrepareHandler.
func (p *Pipeline) HandleInbound(fromPeer ledger.PeerID) btp.PrepareHandler {
	return func(ctx context.Context, d btp.PrepareData) (*btp.FulfillData, *btp.RejectData) {
		return p.process(ctx, fromPeer, d)
	}
}

func (p *Pipeline) process(ctx context.Context, fromPeer ledger.PeerID, d btp.PrepareData) (*btp.FulfillData, *btp.RejectData) {
	if p.Metrics != nil {
		p.Metrics.PacketReceived(string(fromPeer))
	}
	p.emit(ctx, telemetry.EventPacketReceived, map[string]any{
		"peerId":      string(fromPeer),
		"packetId":    d.PacketID,
		"amount":      mustFloat(d.Amount),
		"destination": d.Destination,
		"direction":   string(telemetry.DirectionReceived),
	})

	// Step 1: validate.
	if time.Now().UnixMilli() >= d.ExpiresAt {
		return nil, rejectWithReason(d.PacketID, codeExpired, "packet already expired")
	}
	amount, ok := new(big.Int).SetString(d.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, rejectWithReason(d.PacketID, codeInternal, "invalid amount")
	}
	condition, ok := decodeCondition32(d.Condition)
	if !ok {
		return nil, rejectWithReason(d.PacketID, codeValidation, "condition must be a 32-byte hex value")
	}
	asset := ledger.AssetID(d.AssetID)

	// Step 2: rate limit.
	if p.Limiter != nil && !p.Limiter.Allow(string(fromPeer)) {
		p.emit(ctx, telemetry.EventRateLimitExceeded, map[string]any{"peerId": string(fromPeer)})
		return nil, rejectWithReason(d.PacketID, codeInsufficientLiquidity, "rate limit exceeded")
	}

	// Step 3: ledger reservation against the incoming peer's account.
	reservation, err := p.Ledger.Prepare(ctx, fromPeer, asset, amount)
	if err != nil {
		return nil, rejectWithReason(d.PacketID, codeInsufficientLiquidity, err.Error())
	}

	fulfill, reject, egress := p.routeAndForward(ctx, d, condition, asset, amount)

	// Steps 8-9: commit or rollback the incoming reservation based on
	// the outcome of forwarding (or local fulfillment).
	if fulfill != nil {
		if err := p.Ledger.Commit(ctx, reservation); err != nil {
			log.Errorw("commit failed after fulfill", "packetId", d.PacketID, "err", err)
		}
		if egress.peer != "" {
			if err := p.Ledger.Credit(ctx, egress.peer, asset, egress.amount); err != nil {
				log.Errorw("credit failed after fulfill", "packetId", d.PacketID, "peerId", egress.peer, "err", err)
			}
		}
		if p.Metrics != nil {
			p.Metrics.PacketForwarded(string(fromPeer))
		}
		p.emit(ctx, telemetry.EventPacketForwarded, map[string]any{
			"peerId": string(fromPeer), "packetId": d.PacketID, "amount": mustFloat(d.Amount),
		})
	} else {
		if err := p.Ledger.Rollback(ctx, reservation); err != nil {
			log.Errorw("rollback failed after reject", "packetId", d.PacketID, "err", err)
		}
		if p.Metrics != nil {
			p.Metrics.PacketRejected(reject.Code)
		}
		p.emit(ctx, telemetry.EventPacketRejected, map[string]any{
			"peerId": string(fromPeer), "packetId": d.PacketID, "amount": mustFloat(d.Amount),
		})
	}

	return fulfill, reject
}

// egressCredit describes the ledger credit owed to the next-hop peer
// once a forwarded packet's Fulfill has been verified. peer is empty
// for a locally-terminated packet, since no forwarding occurred.
type egressCredit struct {
	peer   ledger.PeerID
	amount *big.Int
}

// routeAndForward implements steps 4-8: local-terminus check, route
// lookup, forwarding with fee applied, a deadline-bounded wait for the
// downstream reply, and verification that a returned Fulfill's
// preimage actually hashes to the requested condition.
func (p *Pipeline) routeAndForward(ctx context.Context, d btp.PrepareData, condition [32]byte, asset ledger.AssetID, amount *big.Int) (*btp.FulfillData, *btp.RejectData, egressCredit) {
	// Step 4: local terminus.
	if p.LocalAddress != "" && d.Destination == p.LocalAddress {
		return p.fulfillLocal(d, condition)
	}

	// Step 5: route lookup.
	nextHop, ok := p.Routes.Lookup(d.Destination)
	if !ok {
		return nil, rejectWithReason(d.PacketID, codeNoRoute, "no route to destination"), egressCredit{}
	}

	ep, ok := p.Endpoints.Get(nextHop)
	if !ok {
		return nil, rejectWithReason(d.PacketID, codeNoRoute, "peer endpoint unavailable"), egressCredit{}
	}

	// Step 6: apply forwarding fee.
	forwardAmount := amount
	if p.FeeRate > 0 {
		fee := new(big.Float).Mul(new(big.Float).SetInt(amount), big.NewFloat(p.FeeRate))
		feeInt, _ := fee.Int(nil)
		forwardAmount = new(big.Int).Sub(amount, feeInt)
	}

	forward := btp.PrepareData{
		PacketID:    d.PacketID,
		Destination: d.Destination,
		Amount:      forwardAmount.String(),
		AssetID:     string(asset),
		Condition:   d.Condition,
		ExpiresAt:   d.ExpiresAt,
		Data:        d.Data,
	}

	// Step 7: deadline-bounded wait for the reply.
	deadline := time.UnixMilli(d.ExpiresAt)
	fwdCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	fulfill, reject, err := ep.ForwardPrepare(fwdCtx, forward)
	if err != nil {
		return nil, rejectWithReason(d.PacketID, codeInsufficientLiquidity, err.Error()), egressCredit{}
	}
	if fulfill == nil {
		return nil, reject, egressCredit{}
	}

	// Step 8: a Fulfill is only honored if its preimage actually hashes
	// to the condition this packet was prepared against; otherwise it
	// is converted to a Reject and the incoming reservation is rolled
	// back, per §8 property 2.
	fulfillment, ok := decodeCondition32(fulfill.Fulfillment)
	if !ok || !fulfillmentMatches(condition, fulfillment) {
		return nil, rejectWithReason(d.PacketID, codeWrongCondition, "fulfillment does not match condition"), egressCredit{}
	}

	return fulfill, nil, egressCredit{peer: nextHop, amount: forwardAmount}
}

// fulfillLocal implements step 4's local-terminus branch: this node is
// the packet's destination, so it must supply its own fulfillment for
// the requested condition rather than learning one from a downstream
// reply.
func (p *Pipeline) fulfillLocal(d btp.PrepareData, condition [32]byte) (*btp.FulfillData, *btp.RejectData, egressCredit) {
	if p.Local == nil {
		return nil, rejectWithReason(d.PacketID, codeNoRoute, "no local handler for destination"), egressCredit{}
	}
	fulfillment, ok := p.Local.Fulfillment(condition)
	if !ok {
		return nil, rejectWithReason(d.PacketID, codeNoRoute, "unknown condition"), egressCredit{}
	}
	return &btp.FulfillData{PacketID: d.PacketID, Fulfillment: encodeCondition32(fulfillment)}, nil, egressCredit{}
}

func (p *Pipeline) emit(ctx context.Context, t telemetry.EventType, fields map[string]any) {
	if p.Events == nil {
		return
	}
	p.Events.Emit(ctx, telemetry.NewEvent(p.NodeID, t, fields))
}

func mustFloat(amount string) float64 {
	v, ok := new(big.Float).SetString(amount)
	if !ok {
		return 0
	}
	f, _ := v.Float64()
	return f
}
