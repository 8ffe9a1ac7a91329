// Package idempotency implements the transport-agnostic idempotency
// record handling spec.md §4.13 describes: a write endpoint that accepts
// an Idempotency-Key records (tenantId, subject, endpoint, key) ->
// (fingerprint, response), where fingerprint = SHA-256 of the canonical
// request body. A replay with the same key and fingerprint returns the
// stored response; the same key with a different fingerprint is a
// conflict. Grounded structurally on the narrow-Store-interface,
// clock-injected service shape established across pkg/policy and
// pkg/vault, since the teacher repo has no standalone idempotency layer
// of its own — its closest analogue, executor.OutboxStore.MarkDone, only
// dedupes by a bare id rather than a keyed fingerprint.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/canonicalize"
	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

// Store persists idempotency records.
type Store interface {
	Get(ctx context.Context, lookup contracts.IdempotencyLookup) (*contracts.IdempotencyRecord, error)
	Put(ctx context.Context, record *contracts.IdempotencyRecord) error
	// DeleteOlderThan removes records whose CreatedAt is before cutoff,
	// returning the count removed, for the age-based pruning spec.md
	// §4.13 names.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Service is the idempotency boundary.
type Service struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
}

// NewService constructs a Service. ttl is how long a record remains valid
// for replay before Begin treats it as expired and allows a fresh attempt
// under the same key.
func NewService(store Store, ttl time.Duration, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: store, ttl: ttl, clock: clock}
}

// Outcome is what the caller should do with an idempotent request.
type Outcome int

const (
	// OutcomeProceed means no live record exists for this key; the caller
	// should execute the request and call Complete with its result.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a prior response for the same key and
	// fingerprint exists and should be returned as-is.
	OutcomeReplay
)

// Begin looks up any existing record for lookup. If none exists (or an
// expired one does), it returns OutcomeProceed and the caller must
// eventually call Complete. If a live record with a matching fingerprint
// exists, it returns OutcomeReplay with the stored response. A live
// record with a different fingerprint is an errs.ErrConflict.
func (s *Service) Begin(ctx context.Context, lookup contracts.IdempotencyLookup, rawBody []byte) (Outcome, *contracts.IdempotencyRecord, error) {
	fingerprint, err := Fingerprint(rawBody)
	if err != nil {
		return OutcomeProceed, nil, fmt.Errorf("idempotency: fingerprint: %w", err)
	}

	existing, err := s.store.Get(ctx, lookup)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return OutcomeProceed, nil, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if existing == nil || s.clock().After(existing.ExpiresAt) {
		return OutcomeProceed, nil, nil
	}
	if existing.Fingerprint != fingerprint {
		return OutcomeProceed, nil, fmt.Errorf("idempotency: key %q reused with a different body: %w", lookup.Key, errs.ErrConflict)
	}
	return OutcomeReplay, existing, nil
}

// Complete records the response produced for a request that returned
// OutcomeProceed from Begin, so a retry under the same key replays it.
func (s *Service) Complete(ctx context.Context, lookup contracts.IdempotencyLookup, rawBody []byte, statusCode int, responseBody json.RawMessage) error {
	fingerprint, err := Fingerprint(rawBody)
	if err != nil {
		return fmt.Errorf("idempotency: fingerprint: %w", err)
	}
	now := s.clock()
	record := &contracts.IdempotencyRecord{
		TenantID:     lookup.TenantID,
		Subject:      lookup.Subject,
		Endpoint:     lookup.Endpoint,
		Key:          lookup.Key,
		Fingerprint:  fingerprint,
		StatusCode:   statusCode,
		ResponseBody: responseBody,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.store.Put(ctx, record); err != nil {
		return fmt.Errorf("idempotency: put: %w", err)
	}
	return nil
}

// Prune removes records older than maxAge, returning the count removed.
func (s *Service) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock().Add(-maxAge)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idempotency: prune: %w", err)
	}
	return n, nil
}

// Fingerprint computes the SHA-256 hex digest of the RFC 8785 canonical
// form of rawBody, the value stored and compared against on replay.
func Fingerprint(rawBody []byte) (string, error) {
	if len(rawBody) == 0 {
		rawBody = []byte("{}")
	}
	canonical, err := canonicalize.CanonicalizeRawJSON(rawBody)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(canonical), nil
}
