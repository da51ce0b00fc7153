// Package telemetry implements §4.H/§4.I: an in-process event bus with
// WebSocket fan-out, backed by a persisted, indexed, queryable event
// store. It replaces the "ad-hoc EventEmitter fan-out" and "dynamically
// typed event discrimination" anti-patterns flagged in the Design Notes
// with an explicit broker owning per-subscriber bounded queues and a
// tagged sum type over the enumerated event kinds.
package telemetry

import "time"

// EventType enumerates every telemetry event kind listed in §3.
type EventType string

const (
	EventAccountBalance            EventType = "ACCOUNT_BALANCE"
	EventSettlementTriggered       EventType = "SETTLEMENT_TRIGGERED"
	EventSettlementPending         EventType = "SETTLEMENT_PENDING"
	EventSettlementCompleted       EventType = "SETTLEMENT_COMPLETED"
	EventSettlementFailed          EventType = "SETTLEMENT_FAILED"
	EventAccountsUpdated           EventType = "ACCOUNTS_UPDATED"
	EventPaymentChannelOpened      EventType = "PAYMENT_CHANNEL_OPENED"
	EventPaymentChannelBalance     EventType = "PAYMENT_CHANNEL_BALANCE_UPDATE"
	EventPaymentChannelSettled     EventType = "PAYMENT_CHANNEL_SETTLED"
	EventChannelReused             EventType = "CHANNEL_REUSED"
	EventChannelDeposit            EventType = "CHANNEL_DEPOSIT"
	EventXRPChannelOpened          EventType = "XRP_CHANNEL_OPENED"
	EventXRPChannelClaimed         EventType = "XRP_CHANNEL_CLAIMED"
	EventXRPChannelClosed          EventType = "XRP_CHANNEL_CLOSED"
	EventAgentChannelOpened        EventType = "AGENT_CHANNEL_OPENED"
	EventAgentChannelClosed        EventType = "AGENT_CHANNEL_CLOSED"
	EventPacketReceived            EventType = "PACKET_RECEIVED"
	EventPacketForwarded           EventType = "PACKET_FORWARDED"
	EventPacketRejected            EventType = "PACKET_REJECTED"
	EventFundingRequested          EventType = "FUNDING_REQUESTED"
	EventFundingCompleted          EventType = "FUNDING_COMPLETED"
	EventNodeStatus                EventType = "NODE_STATUS"
	EventSuspiciousActivity        EventType = "SUSPICIOUS_ACTIVITY_DETECTED"
	EventRateLimitExceeded         EventType = "RATE_LIMIT_EXCEEDED"
	EventWalletBalanceMismatch     EventType = "WALLET_BALANCE_MISMATCH"
	EventFraudDetected             EventType = "FRAUD_DETECTED"
	EventPeerPaused                EventType = "PEER_PAUSED"
	EventPeerResumed               EventType = "PEER_RESUMED"
	EventClientConnect             EventType = "CLIENT_CONNECT"
	EventInitialChannelState       EventType = "INITIAL_CHANNEL_STATE"
	EventInitialBalanceState       EventType = "INITIAL_BALANCE_STATE"
)

// Direction classifies a packet-shaped event's relation to this node.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionInternal Direction = "internal"
)

// Event is the tagged record emitted by every subsystem. Every event
// carries {type, nodeId, timestamp}; Timestamp accepts either a Unix-ms
// integer or an ISO-8601 string on the wire (see UnmarshalJSON in
// codec.go) and is normalized to Unix-ms internally.
type Event struct {
	Type      EventType `json:"type"`
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`

	// Fields is the kind-specific payload. Using a map keeps Event a
	// single concrete type while still letting the field-extraction
	// table in store.go pull type-specific columns out for indexing;
	// the full event, map included, is always retained verbatim.
	Fields map[string]any `json:"-"`
}

func NewEvent(nodeID string, eventType EventType, fields map[string]any) Event {
	if fields == nil {
		fields = make(map[string]any)
	}
	return Event{
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Fields:    fields,
	}
}
