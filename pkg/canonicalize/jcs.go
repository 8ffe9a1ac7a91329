// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization used to compute deterministic hashes over receipts, ledger
// payloads, and idempotency fingerprints.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with the standard encoder (so struct tags are
// respected), then transformed into canonical form: object keys sorted by
// UTF-16 code unit, no insignificant whitespace, numbers normalized.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalizeRawJSON transforms already-serialized JSON bytes into their
// RFC 8785 canonical form without a re-marshal round trip, for callers (the
// idempotency fingerprint) that start from a wire body rather than a Go
// value.
func CanonicalizeRawJSON(raw []byte) ([]byte, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform failed: %w", err)
	}
	return canonical, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// receiptSigningView mirrors contracts.Receipt minus its Integrity field,
// the exact canonical form the Receipt Service hashes and signs.
type receiptSigningView struct {
	ReceiptID         string                   `json:"receiptId"`
	ActionID          string                   `json:"actionId"`
	TenantID          string                   `json:"tenantId"`
	Type              contracts.ReceiptType    `json:"type"`
	Timestamp         interface{}              `json:"timestamp"`
	SchemaVersion     string                   `json:"schemaVersion"`
	Resource          contracts.Resource       `json:"resource"`
	Actor             contracts.Actor          `json:"actor"`
	Policy            contracts.PolicySnapshot `json:"policy"`
	Risk              contracts.RiskSnapshot   `json:"risk"`
	PreviousReceiptID *string                  `json:"previousReceiptId"`
}

// ReceiptSigningPayload returns the canonical JSON bytes of a Receipt with
// its Integrity field excluded — the payload that gets hashed into
// Integrity.PayloadHash and signed.
func ReceiptSigningPayload(r *contracts.Receipt) ([]byte, error) {
	view := receiptSigningView{
		ReceiptID:         r.ReceiptID,
		ActionID:          r.ActionID,
		TenantID:          r.TenantID,
		Type:              r.Type,
		Timestamp:         r.Timestamp,
		SchemaVersion:     r.SchemaVersion,
		Resource:          r.Resource,
		Actor:             r.Actor,
		Policy:            r.Policy,
		Risk:              r.Risk,
		PreviousReceiptID: r.PreviousReceiptID,
	}
	return JCS(view)
}

// ReceiptPayloadHash returns the SHA-256 hex digest of a Receipt's signing
// payload.
func ReceiptPayloadHash(r *contracts.Receipt) (string, error) {
	payload, err := ReceiptSigningPayload(r)
	if err != nil {
		return "", err
	}
	return HashBytes(payload), nil
}
