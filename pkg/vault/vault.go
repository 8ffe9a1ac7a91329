// Package vault is the tenant-scoped Secrets Vault (spec L5): connector
// credentials encrypted at rest and released only to the Execution
// Service at dispatch time, never embedded in an Action payload or
// receipt. Grounded on core/pkg/credentials/store.go's encrypted-storage
// pattern (AES-256-GCM via a dedicated encrypt/decrypt wrapper, mutex
// guarding the key, a Store indirection over the persistence backend),
// generalized from single-provider OAuth credentials to arbitrary named
// per-tenant secrets and reusing pkg/dataprotection instead of
// hand-rolling a second AES wrapper.
package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/dataprotection"
	"github.com/google/uuid"
)

// Store persists VaultSecret records. Implementations live in pkg/store.
type Store interface {
	PutSecret(ctx context.Context, secret *contracts.VaultSecret) error
	GetSecret(ctx context.Context, tenantID, name string) (*contracts.VaultSecret, error)
	ListSecrets(ctx context.Context, tenantID string) ([]*contracts.VaultSecret, error)
	DeleteSecret(ctx context.Context, tenantID, name string) error
}

// Service is the Secrets Vault.
type Service struct {
	store     Store
	protector *dataprotection.Protector
	clock     func() time.Time
}

// NewService constructs a Vault Service. protector supplies the AES-GCM
// encryption used for every secret at rest.
func NewService(store Store, protector *dataprotection.Protector, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, protector: protector, clock: clock}
}

// Put encrypts and stores a tenant secret, versioning it if a secret of
// the same name already exists.
func (s *Service) Put(ctx context.Context, input contracts.PutSecretInput) (*contracts.VaultSecret, error) {
	ciphertext, err := s.protector.EncryptString(string(input.Plaintext))
	if err != nil {
		return nil, fmt.Errorf("vault: encrypt secret: %w", err)
	}

	version := 1
	if existing, err := s.store.GetSecret(ctx, input.TenantID, input.Name); err == nil && existing != nil {
		version = existing.Version + 1
	}

	now := s.clock()
	secret := &contracts.VaultSecret{
		SecretID:      "sec_" + uuid.NewString(),
		TenantID:      input.TenantID,
		Name:          input.Name,
		Version:       version,
		CiphertextB64: ciphertext,
		CreatedAt:     now,
	}
	if version > 1 {
		secret.RotatedAt = &now
	}
	if err := s.store.PutSecret(ctx, secret); err != nil {
		return nil, fmt.Errorf("vault: persist secret: %w", err)
	}
	return secret, nil
}

// Reveal decrypts and returns a secret's plaintext. Called only by the
// Execution Service at dispatch time, never surfaced through an
// administrative API.
func (s *Service) Reveal(ctx context.Context, tenantID, name string) (string, error) {
	secret, err := s.store.GetSecret(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	plaintext, err := s.protector.DecryptString(secret.CiphertextB64)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt secret: %w", err)
	}
	return plaintext, nil
}

// List returns a tenant's secret metadata without plaintext.
func (s *Service) List(ctx context.Context, tenantID string) ([]*contracts.VaultSecret, error) {
	return s.store.ListSecrets(ctx, tenantID)
}

// Delete removes a tenant secret permanently.
func (s *Service) Delete(ctx context.Context, tenantID, name string) error {
	return s.store.DeleteSecret(ctx, tenantID, name)
}
