// Package receipt implements the Receipt Service (L12): signed, hash-
// chained records of each Action state transition. Grounded on
// core/pkg/crypto/signer.go's SignReceipt/VerifyReceipt shape (canonicalize
// fixed fields, sign the result, verify by recomputing the same
// canonicalization), generalized from that file's colon-joined
// CanonicalizeReceipt string to pkg/canonicalize's RFC 8785 JCS payload so
// receipt hashing shares one canonicalization path with the ledger and
// idempotency layers.
package receipt

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/canonicalize"
	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"
)

// Store persists Receipt records.
type Store interface {
	PutReceipt(ctx context.Context, receipt *contracts.Receipt) error
	GetReceipt(ctx context.Context, tenantID, receiptID string) (*contracts.Receipt, error)
	ListReceiptsForAction(ctx context.Context, tenantID, actionID string) ([]*contracts.Receipt, error)
}

// Signer signs and verifies payloads with a tenant's signing key.
// Satisfied by *pkg/signingkey.Service.
type Signer interface {
	Sign(ctx context.Context, tenantID string, payload []byte) (keyID string, signature string, err error)
	Verify(ctx context.Context, tenantID, keyID string, payload []byte, signature string) (bool, error)
}

// LedgerAppender appends an entry to the immutable ledger.
// Satisfied by cmd/oars's ledgerAppender adapter, which wraps
// *pkg/ledger.Service and drops the entry its Append returns.
type LedgerAppender interface {
	Append(tenantID, entityType, entityID string, payload interface{}) error
}

// SecurityEventPublisher emits receipt.created events. Kept narrow to
// avoid a dependency cycle on the full Security Event Service.
type SecurityEventPublisher interface {
	Publish(ctx context.Context, event contracts.SecurityEvent) error
}

// EvidenceRecorder adds nodes/edges to the tenant's evidence graph.
type EvidenceRecorder interface {
	AddNode(ctx context.Context, node contracts.EvidenceNode) error
	AddEdge(ctx context.Context, edge contracts.EvidenceEdge) error
}

// Service is the Receipt Service.
type Service struct {
	store    Store
	signer   Signer
	ledger   LedgerAppender
	events   SecurityEventPublisher
	evidence EvidenceRecorder
	clock    func() time.Time
}

// NewService constructs a Receipt Service. ledger, events, and evidence
// may be nil; each is skipped silently when absent.
func NewService(store Store, signer Signer, ledger LedgerAppender, events SecurityEventPublisher, evidence EvidenceRecorder, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, signer: signer, ledger: ledger, events: events, evidence: evidence, clock: clock}
}

// CreateReceipt builds, signs, persists, ledgers, and publishes a receipt
// for one Action state transition.
func (s *Service) CreateReceipt(ctx context.Context, input contracts.CreateReceiptInput) (*contracts.Receipt, error) {
	action := input.Action

	prior, err := s.store.ListReceiptsForAction(ctx, action.TenantID, action.ActionID)
	if err != nil {
		return nil, err
	}
	var previousID *string
	if len(prior) > 0 {
		last := prior[len(prior)-1]
		id := last.ReceiptID
		previousID = &id
	}

	receipt := &contracts.Receipt{
		ReceiptID:         "rcpt_" + uuid.NewString(),
		ActionID:          action.ActionID,
		TenantID:          action.TenantID,
		Type:              input.Type,
		Timestamp:         s.clock(),
		SchemaVersion:     contracts.ReceiptSchemaVersion,
		Resource:          action.Resource,
		Actor:             action.Actor,
		Policy:            action.Policy,
		Risk:              action.Risk,
		PreviousReceiptID: previousID,
	}

	payloadHash, err := canonicalize.ReceiptPayloadHash(receipt)
	if err != nil {
		return nil, fmt.Errorf("receipt: hash payload: %w", err)
	}

	keyID, signatureHex, err := s.signer.Sign(ctx, action.TenantID, []byte(payloadHash))
	if err != nil {
		return nil, fmt.Errorf("receipt: sign payload: %w", err)
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("receipt: decode signature: %w", err)
	}

	receipt.Integrity = contracts.Integrity{
		SigningKeyID: keyID,
		Signature:    base64.StdEncoding.EncodeToString(sigBytes),
		PayloadHash:  payloadHash,
	}

	if err := s.store.PutReceipt(ctx, receipt); err != nil {
		return nil, fmt.Errorf("receipt: persist: %w", err)
	}

	if s.ledger != nil {
		if err := s.ledger.Append(action.TenantID, "receipt", receipt.ReceiptID, receipt); err != nil {
			return nil, fmt.Errorf("receipt: ledger append: %w", err)
		}
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, contracts.SecurityEvent{
			EventID:    "sec_" + uuid.NewString(),
			TenantID:   action.TenantID,
			Category:   "receipt.created",
			Action:     string(receipt.Type),
			Severity:   "info",
			OccurredAt: receipt.Timestamp,
			Attributes: map[string]string{"receiptId": receipt.ReceiptID, "actionId": action.ActionID},
		})
	}

	if s.evidence != nil {
		actionNode := contracts.EvidenceNode{NodeID: "action:" + action.ActionID, TenantID: action.TenantID, Kind: contracts.EvidenceNodeAction, RefID: action.ActionID}
		receiptNode := contracts.EvidenceNode{NodeID: "receipt:" + receipt.ReceiptID, TenantID: action.TenantID, Kind: contracts.EvidenceNodeReceipt, RefID: receipt.ReceiptID}
		_ = s.evidence.AddNode(ctx, actionNode)
		_ = s.evidence.AddNode(ctx, receiptNode)
		_ = s.evidence.AddEdge(ctx, contracts.EvidenceEdge{FromNodeID: actionNode.NodeID, ToNodeID: receiptNode.NodeID, Relation: "produced", CreatedAt: receipt.Timestamp})
		if previousID != nil {
			_ = s.evidence.AddEdge(ctx, contracts.EvidenceEdge{
				FromNodeID: receiptNode.NodeID,
				ToNodeID:   "receipt:" + *previousID,
				Relation:   "chained-from",
				CreatedAt:  receipt.Timestamp,
			})
		}
	}

	return receipt, nil
}

// Verify checks a receipt's schema, signature, and chain integrity. Input
// must set exactly one of ReceiptID (looked up via Store) or Receipt.
func (s *Service) Verify(ctx context.Context, tenantID string, input contracts.VerifyReceiptInput) (*contracts.VerifyReceiptResult, error) {
	result := &contracts.VerifyReceiptResult{IsSchemaValid: true, IsSignatureValid: true, IsChainValid: true}

	target := input.Receipt
	if target == nil {
		if input.ReceiptID == "" {
			return nil, fmt.Errorf("%w: exactly one of receiptId or receipt must be set", errs.ErrInvalidInput)
		}
		fetched, err := s.store.GetReceipt(ctx, tenantID, input.ReceiptID)
		if err != nil {
			return nil, err
		}
		target = fetched
	}

	if err := validateSchema(target); err != nil {
		result.IsSchemaValid = false
		result.VerificationErrors = append(result.VerificationErrors, err.Error())
	}

	if err := s.verifySignature(ctx, tenantID, target, input); err != nil {
		result.IsSignatureValid = false
		result.VerificationErrors = append(result.VerificationErrors, err.Error())
	}

	chain := input.Chain
	if chain == nil {
		fetchedChain, err := s.store.ListReceiptsForAction(ctx, tenantID, target.ActionID)
		if err == nil {
			chain = fetchedChain
		}
	}
	if err := verifyChain(target, chain); err != nil {
		result.IsChainValid = false
		result.VerificationErrors = append(result.VerificationErrors, err.Error())
	}

	return result, nil
}

func validateSchema(r *contracts.Receipt) error {
	if r.ReceiptID == "" || r.ActionID == "" || r.TenantID == "" {
		return fmt.Errorf("receipt missing required identifiers")
	}
	if r.SchemaVersion != contracts.ReceiptSchemaVersion {
		return fmt.Errorf("unsupported receipt schema version %q", r.SchemaVersion)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("receipt missing timestamp")
	}
	return nil
}

func (s *Service) verifySignature(ctx context.Context, tenantID string, r *contracts.Receipt, input contracts.VerifyReceiptInput) error {
	expectedHash, err := canonicalize.ReceiptPayloadHash(r)
	if err != nil {
		return fmt.Errorf("recompute payload hash: %w", err)
	}
	if expectedHash != r.Integrity.PayloadHash {
		return fmt.Errorf("payload hash mismatch")
	}

	sigBytes, err := base64.StdEncoding.DecodeString(r.Integrity.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sigHex := hex.EncodeToString(sigBytes)

	switch {
	case input.PublicKeys != nil:
		pubHex, ok := input.PublicKeys[r.Integrity.SigningKeyID]
		if !ok {
			return fmt.Errorf("unknown signing key")
		}
		ok, err := verifyWithHexKey(pubHex, []byte(expectedHash), sigHex)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("signature verification failed")
		}
		return nil
	case input.PublicKeyPEM != "":
		ok, err := verifyWithPEM(input.PublicKeyPEM, []byte(expectedHash), sigHex)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("signature verification failed")
		}
		return nil
	default:
		ok, err := s.signer.Verify(ctx, tenantID, r.Integrity.SigningKeyID, []byte(expectedHash), sigHex)
		if err != nil {
			return fmt.Errorf("unknown signing key")
		}
		if !ok {
			return fmt.Errorf("signature verification failed")
		}
		return nil
	}
}

// verifyChain ensures r's previousReceiptId links to its predecessor in
// chain and that chain timestamps are non-decreasing.
func verifyChain(r *contracts.Receipt, chain []*contracts.Receipt) error {
	if len(chain) == 0 {
		return nil
	}
	byID := make(map[string]*contracts.Receipt, len(chain))
	for _, c := range chain {
		byID[c.ReceiptID] = c
	}

	if r.PreviousReceiptID != nil {
		prev, ok := byID[*r.PreviousReceiptID]
		if !ok {
			return fmt.Errorf("previous receipt %s not found in chain", *r.PreviousReceiptID)
		}
		if prev.Timestamp.After(r.Timestamp) {
			return fmt.Errorf("chain timestamps are not monotone")
		}
	}

	var prevTimestamp time.Time
	for i, c := range chain {
		if i > 0 && c.Timestamp.Before(prevTimestamp) {
			return fmt.Errorf("chain timestamps are not monotone")
		}
		prevTimestamp = c.Timestamp
	}
	return nil
}
