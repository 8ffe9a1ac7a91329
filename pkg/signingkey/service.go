package signingkey

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/google/uuid"
)

// Store persists TenantKey records. Implementations live in pkg/store
// (file-backed and SQL variants); Service only depends on this interface.
type Store interface {
	PutKey(ctx context.Context, key *contracts.TenantKey) error
	GetKey(ctx context.Context, tenantID, keyID string) (*contracts.TenantKey, error)
	ListKeys(ctx context.Context, tenantID string) ([]*contracts.TenantKey, error)
	ActiveKey(ctx context.Context, tenantID string) (*contracts.TenantKey, error)
}

// Service is the Signing Key Service (spec L3): per-tenant Ed25519 key
// lifecycle, sign, and verify. A per-tenant mutex serializes rotations so
// "at most one active key per tenant" holds under concurrent callers.
type Service struct {
	store Store
	clock func() time.Time

	mu        sync.Mutex
	tenantMus map[string]*sync.Mutex
}

// NewService constructs a Signing Key Service backed by store. clock
// defaults to time.Now when nil, overridable in tests for deterministic
// rotation timestamps.
func NewService(store Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:     store,
		clock:     clock,
		tenantMus: make(map[string]*sync.Mutex),
	}
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tenantMus[tenantID]
	if !ok {
		m = &sync.Mutex{}
		s.tenantMus[tenantID] = m
	}
	return m
}

// EnsureActiveKey returns the tenant's active key, generating one if none
// exists yet.
func (s *Service) EnsureActiveKey(ctx context.Context, tenantID string) (*contracts.TenantKey, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.reconcileActiveKeysLocked(ctx, tenantID); err != nil {
		return nil, err
	}

	existing, err := s.store.ActiveKey(ctx, tenantID)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != nil && err != errs.ErrNotFound {
		return nil, err
	}
	return s.createKeyLocked(ctx, tenantID)
}

// reconcileActiveKeysLocked enforces the at-most-one-active-key-per-tenant
// invariant: a Store is allowed to be corrupted (e.g. a crash between
// retiring the old key and persisting the new one) into holding more than
// one active key for a tenant. When that happens, the newest key by
// CreatedAt is kept active and the rest are demoted to retiring. Caller
// holds the tenant lock.
func (s *Service) reconcileActiveKeysLocked(ctx context.Context, tenantID string) error {
	keys, err := s.store.ListKeys(ctx, tenantID)
	if err != nil {
		return err
	}
	var active []*contracts.TenantKey
	for _, k := range keys {
		if k.Status == contracts.KeyStatusActive {
			active = append(active, k)
		}
	}
	if len(active) <= 1 {
		return nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })

	now := s.clock()
	for _, k := range active[1:] {
		k.Status = contracts.KeyStatusRetiring
		k.RotatedAt = &now
		if err := s.store.PutKey(ctx, k); err != nil {
			return fmt.Errorf("signingkey: demote duplicate active key %s: %w", k.KeyID, err)
		}
	}
	return nil
}

func (s *Service) createKeyLocked(ctx context.Context, tenantID string) (*contracts.TenantKey, error) {
	pub, priv, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	privPEM, err := encodePrivatePEM(priv)
	if err != nil {
		return nil, err
	}
	key := &contracts.TenantKey{
		KeyID:      "key_" + uuid.NewString(),
		TenantID:   tenantID,
		Algorithm:  "ed25519",
		PublicKey:  encodePublicHex(pub),
		PrivateKey: privPEM,
		Status:     contracts.KeyStatusActive,
		CreatedAt:  s.clock(),
	}
	if err := s.store.PutKey(ctx, key); err != nil {
		return nil, fmt.Errorf("signingkey: persist new key: %w", err)
	}
	return key, nil
}

// RotateTenantKey retires the current active key (moving it to retiring,
// not retired, so recently-signed receipts remain verifiable through a
// grace window) and generates a new active key.
func (s *Service) RotateTenantKey(ctx context.Context, tenantID string) (*contracts.RotateKeyResult, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.reconcileActiveKeysLocked(ctx, tenantID); err != nil {
		return nil, err
	}

	now := s.clock()
	var previousID string

	current, err := s.store.ActiveKey(ctx, tenantID)
	if err != nil && err != errs.ErrNotFound {
		return nil, err
	}
	if current != nil {
		current.Status = contracts.KeyStatusRetiring
		current.RotatedAt = &now
		if err := s.store.PutKey(ctx, current); err != nil {
			return nil, fmt.Errorf("signingkey: retire current key: %w", err)
		}
		previousID = current.KeyID
	}

	next, err := s.createKeyLocked(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &contracts.RotateKeyResult{
		NewKeyID:            next.KeyID,
		PreviousActiveKeyID: previousID,
		RotatedAt:           now,
	}, nil
}

// RetireKey transitions a retiring key to retired. Retired keys remain in
// the store (their public key stays resolvable for historical Verify
// calls) but can no longer sign.
func (s *Service) RetireKey(ctx context.Context, tenantID, keyID string) error {
	key, err := s.store.GetKey(ctx, tenantID, keyID)
	if err != nil {
		return err
	}
	key.Status = contracts.KeyStatusRetired
	return s.store.PutKey(ctx, key)
}

// Sign signs payload with the tenant's active key, generating one first if
// none exists. It returns the signing key's id and the hex signature.
func (s *Service) Sign(ctx context.Context, tenantID string, payload []byte) (keyID string, signature string, err error) {
	key, err := s.EnsureActiveKey(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	priv, err := decodePrivatePEM(key.PrivateKey)
	if err != nil {
		return "", "", err
	}
	return key.KeyID, sign(priv, payload), nil
}

// Verify checks a payload's signature against the named key, regardless
// of that key's current lifecycle status — verification must survive
// rotation.
func (s *Service) Verify(ctx context.Context, tenantID, keyID string, payload []byte, signature string) (bool, error) {
	key, err := s.store.GetKey(ctx, tenantID, keyID)
	if err != nil {
		return false, err
	}
	pub, err := decodePublicHex(key.PublicKey)
	if err != nil {
		return false, err
	}
	return verify(pub, payload, signature)
}

// ListPublicKeys returns the tenant's keys as safe-to-expose public
// projections, for JWKS-style publication.
func (s *Service) ListPublicKeys(ctx context.Context, tenantID string) ([]contracts.TenantPublicKey, error) {
	keys, err := s.store.ListKeys(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.TenantPublicKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, contracts.TenantPublicKey{
			KeyID:     k.KeyID,
			TenantID:  k.TenantID,
			Algorithm: k.Algorithm,
			PublicKey: k.PublicKey,
			Status:    k.Status,
			CreatedAt: k.CreatedAt,
		})
	}
	return out, nil
}
