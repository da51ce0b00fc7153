package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// decodeCondition32 decodes a hex-encoded condition or fulfillment
// field, per §3's `condition:bytes32` / `fulfillment:bytes32`. Step 1
// of §4.E requires rejecting anything that doesn't decode to exactly
// 32 bytes.
func decodeCondition32(s string) ([32]byte, bool) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}

func encodeCondition32(b [32]byte) string {
	return hex.EncodeToString(b[:])
}

// fulfillmentMatches reports whether sha256(fulfillment) == condition,
// the correctness rule the Glossary and §8 property 2 hinge on.
func fulfillmentMatches(condition, fulfillment [32]byte) bool {
	return sha256.Sum256(fulfillment[:]) == condition
}
