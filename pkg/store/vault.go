package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type vaultDoc struct {
	Secrets map[string]map[string]*contracts.VaultSecret `json:"secrets"` // tenantId -> name -> secret
}

// FileVaultStore implements pkg/vault.Store over a JSON file. Values are
// already-encrypted ciphertext (contracts.VaultSecret.CiphertextB64);
// this store never sees plaintext.
type FileVaultStore struct {
	file *jsonFile[vaultDoc]
}

func NewFileVaultStore(path string) (*FileVaultStore, error) {
	f, err := openJSONFile(path, vaultDoc{Secrets: make(map[string]map[string]*contracts.VaultSecret)})
	if err != nil {
		return nil, fmt.Errorf("store: open vault file: %w", err)
	}
	return &FileVaultStore{file: f}, nil
}

func (s *FileVaultStore) PutSecret(_ context.Context, secret *contracts.VaultSecret) error {
	return s.file.withLock(true, func(d *vaultDoc) {
		if d.Secrets[secret.TenantID] == nil {
			d.Secrets[secret.TenantID] = make(map[string]*contracts.VaultSecret)
		}
		cp := *secret
		d.Secrets[secret.TenantID][secret.Name] = &cp
	})
}

func (s *FileVaultStore) GetSecret(_ context.Context, tenantID, name string) (*contracts.VaultSecret, error) {
	var out *contracts.VaultSecret
	_ = s.file.withLock(false, func(d *vaultDoc) {
		if sec, ok := d.Secrets[tenantID][name]; ok {
			cp := *sec
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileVaultStore) ListSecrets(_ context.Context, tenantID string) ([]*contracts.VaultSecret, error) {
	var out []*contracts.VaultSecret
	_ = s.file.withLock(false, func(d *vaultDoc) {
		for _, sec := range d.Secrets[tenantID] {
			cp := *sec
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (s *FileVaultStore) DeleteSecret(_ context.Context, tenantID, name string) error {
	return s.file.withLock(true, func(d *vaultDoc) {
		delete(d.Secrets[tenantID], name)
	})
}
