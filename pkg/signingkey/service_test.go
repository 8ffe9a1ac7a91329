package signingkey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	keys map[string]map[string]*contracts.TenantKey // tenantID -> keyID -> key
}

func newMemStore() *memStore {
	return &memStore{keys: make(map[string]map[string]*contracts.TenantKey)}
}

func (m *memStore) PutKey(_ context.Context, key *contracts.TenantKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key.TenantID] == nil {
		m.keys[key.TenantID] = make(map[string]*contracts.TenantKey)
	}
	cp := *key
	m.keys[key.TenantID][key.KeyID] = &cp
	return nil
}

func (m *memStore) GetKey(_ context.Context, tenantID, keyID string) (*contracts.TenantKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[tenantID][keyID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memStore) ListKeys(_ context.Context, tenantID string) ([]*contracts.TenantKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*contracts.TenantKey, 0, len(m.keys[tenantID]))
	for _, k := range m.keys[tenantID] {
		cp := *k
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ActiveKey(_ context.Context, tenantID string) (*contracts.TenantKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys[tenantID] {
		if k.Status == contracts.KeyStatusActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func TestEnsureActiveKey_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	k1, err := svc.EnsureActiveKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	require.Equal(t, contracts.KeyStatusActive, k1.Status)

	k2, err := svc.EnsureActiveKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	assert.Equal(t, k1.KeyID, k2.KeyID)
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	keyID, sig, err := svc.Sign(ctx, "tenant_alpha", []byte("payload"))
	require.NoError(t, err)

	ok, err := svc.Verify(ctx, "tenant_alpha", keyID, []byte("payload"), sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Verify(ctx, "tenant_alpha", keyID, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotateTenantKey_AtMostOneActive(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, func() time.Time { return now })

	first, err := svc.EnsureActiveKey(ctx, "tenant_alpha")
	require.NoError(t, err)

	result, err := svc.RotateTenantKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, result.PreviousActiveKeyID)
	assert.NotEqual(t, first.KeyID, result.NewKeyID)

	keys, err := store.ListKeys(ctx, "tenant_alpha")
	require.NoError(t, err)

	activeCount := 0
	var retiringFound bool
	for _, k := range keys {
		if k.Status == contracts.KeyStatusActive {
			activeCount++
		}
		if k.KeyID == first.KeyID && k.Status == contracts.KeyStatusRetiring {
			retiringFound = true
		}
	}
	assert.Equal(t, 1, activeCount)
	assert.True(t, retiringFound)
}

func TestEnsureActiveKey_ReconcilesMultipleActiveKeys(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutKey(ctx, &contracts.TenantKey{
		KeyID: "key_old", TenantID: "tenant_alpha", Algorithm: "ed25519",
		Status: contracts.KeyStatusActive, CreatedAt: older,
	}))
	require.NoError(t, store.PutKey(ctx, &contracts.TenantKey{
		KeyID: "key_new", TenantID: "tenant_alpha", Algorithm: "ed25519",
		Status: contracts.KeyStatusActive, CreatedAt: newer,
	}))

	svc := NewService(store, func() time.Time { return newer })
	active, err := svc.EnsureActiveKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	assert.Equal(t, "key_new", active.KeyID, "reconciliation must keep the newest key active")

	keys, err := store.ListKeys(ctx, "tenant_alpha")
	require.NoError(t, err)
	activeCount := 0
	for _, k := range keys {
		if k.Status == contracts.KeyStatusActive {
			activeCount++
		}
		if k.KeyID == "key_old" {
			assert.Equal(t, contracts.KeyStatusRetiring, k.Status, "the older duplicate must be demoted to retiring")
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestRotateTenantKey_ReconcilesMultipleActiveKeysFirst(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.PutKey(ctx, &contracts.TenantKey{
		KeyID: "key_old", TenantID: "tenant_alpha", Algorithm: "ed25519",
		Status: contracts.KeyStatusActive, CreatedAt: older,
	}))
	require.NoError(t, store.PutKey(ctx, &contracts.TenantKey{
		KeyID: "key_new", TenantID: "tenant_alpha", Algorithm: "ed25519",
		Status: contracts.KeyStatusActive, CreatedAt: newer,
	}))

	svc := NewService(store, func() time.Time { return newer })
	result, err := svc.RotateTenantKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	assert.Equal(t, "key_new", result.PreviousActiveKeyID, "rotation must retire the reconciled single active key, not an arbitrary duplicate")

	keys, err := store.ListKeys(ctx, "tenant_alpha")
	require.NoError(t, err)
	activeCount := 0
	for _, k := range keys {
		if k.Status == contracts.KeyStatusActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestVerify_SurvivesRotation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemStore(), nil)

	keyID, sig, err := svc.Sign(ctx, "tenant_alpha", []byte("first action"))
	require.NoError(t, err)

	_, err = svc.RotateTenantKey(ctx, "tenant_alpha")
	require.NoError(t, err)

	ok, err := svc.Verify(ctx, "tenant_alpha", keyID, []byte("first action"), sig)
	require.NoError(t, err)
	assert.True(t, ok, "signature from a retiring key must still verify")
}

func TestRetireKey(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := NewService(store, nil)

	first, err := svc.EnsureActiveKey(ctx, "tenant_alpha")
	require.NoError(t, err)
	_, err = svc.RotateTenantKey(ctx, "tenant_alpha")
	require.NoError(t, err)

	require.NoError(t, svc.RetireKey(ctx, "tenant_alpha", first.KeyID))

	retired, err := store.GetKey(ctx, "tenant_alpha", first.KeyID)
	require.NoError(t, err)
	assert.Equal(t, contracts.KeyStatusRetired, retired.Status)
}
