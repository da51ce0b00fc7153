package telemetry

import "fmt"

// indexedFields are the columns store.go actually indexes. Field
// extraction is type-driven: each event kind knows which logical fields
// map onto which indexed column; the full event is always retained
// separately in the payload column regardless of what was extracted.
type indexedFields struct {
	Direction   string
	PeerID      string
	PacketID    string
	Amount      string
	Destination string
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func numericField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	default:
		return fmt.Sprintf("%v", n)
	}
}

func sumNumericArrayField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	arr, ok := v.([]any)
	if !ok {
		return numericField(fields, key)
	}
	var sum float64
	for _, item := range arr {
		if n, ok := item.(float64); ok {
			sum += n
		}
	}
	return fmt.Sprintf("%d", int64(sum))
}

// extractIndexedFields implements the type-driven extraction table
// described in §4.I. Event kinds not explicitly listed fall back to a
// generic extraction of the common "peerId"/"packetId"/"amount"/
// "destination"/"direction" keys, when present.
func extractIndexedFields(e Event) indexedFields {
	switch e.Type {
	case EventAccountBalance:
		return indexedFields{
			PeerID: stringField(e.Fields, "peerId"),
			Amount: numericField(e.Fields, "netBalance"),
		}
	case EventSettlementTriggered, EventSettlementPending,
		EventSettlementCompleted, EventSettlementFailed, EventAccountsUpdated:
		return indexedFields{
			PeerID: stringField(e.Fields, "peerId"),
			Amount: numericField(e.Fields, "currentBalance"),
		}
	case EventPaymentChannelOpened:
		return indexedFields{
			PeerID:   stringField(e.Fields, "peerId"),
			PacketID: stringField(e.Fields, "channelId"),
			Amount:   sumNumericArrayField(e.Fields, "initialDeposits"),
		}
	case EventPaymentChannelBalance, EventPaymentChannelSettled,
		EventChannelReused, EventChannelDeposit:
		return indexedFields{
			PeerID:   stringField(e.Fields, "peerId"),
			PacketID: stringField(e.Fields, "channelId"),
			Amount:   numericField(e.Fields, "amount"),
		}
	case EventXRPChannelOpened, EventXRPChannelClaimed, EventXRPChannelClosed:
		return indexedFields{
			PeerID:   stringField(e.Fields, "peerId"),
			PacketID: stringField(e.Fields, "channelId"),
			Amount:   numericField(e.Fields, "amount"),
		}
	case EventAgentChannelOpened, EventAgentChannelClosed:
		return indexedFields{
			PeerID:   stringField(e.Fields, "peerId"),
			PacketID: stringField(e.Fields, "channelId"),
		}
	case EventPacketReceived, EventPacketForwarded, EventPacketRejected:
		peer := stringField(e.Fields, "from")
		if peer == "" {
			peer = stringField(e.Fields, "peerId")
		}
		return indexedFields{
			Direction:   stringField(e.Fields, "direction"),
			PeerID:      peer,
			PacketID:    stringField(e.Fields, "packetId"),
			Amount:      numericField(e.Fields, "amount"),
			Destination: stringField(e.Fields, "destination"),
		}
	case EventFundingRequested, EventFundingCompleted:
		return indexedFields{
			PeerID: stringField(e.Fields, "peerId"),
			Amount: numericField(e.Fields, "amount"),
		}
	case EventRateLimitExceeded, EventSuspiciousActivity,
		EventFraudDetected, EventPeerPaused, EventPeerResumed:
		return indexedFields{PeerID: stringField(e.Fields, "peerId")}
	case EventWalletBalanceMismatch:
		return indexedFields{
			PeerID: stringField(e.Fields, "peerId"),
			Amount: numericField(e.Fields, "mismatchAmount"),
		}
	default:
		return indexedFields{
			Direction:   stringField(e.Fields, "direction"),
			PeerID:      stringField(e.Fields, "peerId"),
			PacketID:    stringField(e.Fields, "packetId"),
			Amount:      numericField(e.Fields, "amount"),
			Destination: stringField(e.Fields, "destination"),
		}
	}
}
