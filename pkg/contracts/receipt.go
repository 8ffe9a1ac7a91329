package contracts

import "time"

// ReceiptType mirrors the Action state transitions that produce a receipt.
type ReceiptType string

const (
	ReceiptRequested        ReceiptType = "requested"
	ReceiptDenied           ReceiptType = "denied"
	ReceiptApprovalRequired ReceiptType = "approval_required"
	ReceiptApproved         ReceiptType = "approved"
	ReceiptQuarantined      ReceiptType = "quarantined"
	ReceiptExecuted         ReceiptType = "executed"
	ReceiptFailed           ReceiptType = "failed"
)

// ReceiptSchemaVersion is the on-wire schema version for receipts (spec.md §6).
const ReceiptSchemaVersion = "1"

// Integrity carries the signing metadata for a receipt.
type Integrity struct {
	SigningKeyID string `json:"signingKeyId"`
	Signature    string `json:"signature"`   // base64
	PayloadHash  string `json:"payloadHash"` // hex sha256
}

// Receipt is a signed, chained record of one Action transition.
//
// IMPORTANT: the canonical form used for hashing/signing is this struct
// minus Integrity — see canonicalize.ReceiptSigningPayload.
type Receipt struct {
	ReceiptID         string         `json:"receiptId"`
	ActionID          string         `json:"actionId"`
	TenantID          string         `json:"tenantId"`
	Type              ReceiptType    `json:"type"`
	Timestamp         time.Time      `json:"timestamp"`
	SchemaVersion     string         `json:"schemaVersion"`
	Resource          Resource       `json:"resource"`
	Actor             Actor          `json:"actor"`
	Policy            PolicySnapshot `json:"policy"`
	Risk              RiskSnapshot   `json:"risk"`
	PreviousReceiptID *string        `json:"previousReceiptId"`
	Integrity         Integrity      `json:"integrity"`
}

// CreateReceiptInput is the input to ReceiptService.CreateReceipt.
type CreateReceiptInput struct {
	Action    *Action
	Type      ReceiptType
	RequestID string
}

// VerifyReceiptInput is the input to ReceiptService.Verify. Exactly one of
// ReceiptID or Receipt must be set.
type VerifyReceiptInput struct {
	ReceiptID    string
	Receipt      *Receipt
	Chain        []*Receipt
	PublicKeyPEM string
	PublicKeys   map[string]string // keyId -> hex-encoded ed25519 public key
}

// VerifyReceiptResult reports the outcome of receipt verification.
type VerifyReceiptResult struct {
	IsSignatureValid   bool     `json:"isSignatureValid"`
	IsChainValid       bool     `json:"isChainValid"`
	IsSchemaValid      bool     `json:"isSchemaValid"`
	VerificationErrors []string `json:"verificationErrors,omitempty"`
}
