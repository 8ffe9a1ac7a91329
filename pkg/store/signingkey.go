package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

// signingKeyDoc is the on-disk shape: tenantId -> keyId -> key.
type signingKeyDoc struct {
	Keys map[string]map[string]*contracts.TenantKey `json:"keys"`
}

// FileSigningKeyStore implements pkg/signingkey.Store over a JSON file.
type FileSigningKeyStore struct {
	file *jsonFile[signingKeyDoc]
}

// NewFileSigningKeyStore opens (or creates) a signing key store at path.
func NewFileSigningKeyStore(path string) (*FileSigningKeyStore, error) {
	f, err := openJSONFile(path, signingKeyDoc{Keys: make(map[string]map[string]*contracts.TenantKey)})
	if err != nil {
		return nil, fmt.Errorf("store: open signing key file: %w", err)
	}
	return &FileSigningKeyStore{file: f}, nil
}

func (s *FileSigningKeyStore) PutKey(_ context.Context, key *contracts.TenantKey) error {
	return s.file.withLock(true, func(d *signingKeyDoc) {
		if d.Keys[key.TenantID] == nil {
			d.Keys[key.TenantID] = make(map[string]*contracts.TenantKey)
		}
		cp := *key
		d.Keys[key.TenantID][key.KeyID] = &cp
	})
}

func (s *FileSigningKeyStore) GetKey(_ context.Context, tenantID, keyID string) (*contracts.TenantKey, error) {
	var out *contracts.TenantKey
	var notFound bool
	_ = s.file.withLock(false, func(d *signingKeyDoc) {
		k, ok := d.Keys[tenantID][keyID]
		if !ok {
			notFound = true
			return
		}
		cp := *k
		out = &cp
	})
	if notFound {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileSigningKeyStore) ListKeys(_ context.Context, tenantID string) ([]*contracts.TenantKey, error) {
	var out []*contracts.TenantKey
	_ = s.file.withLock(false, func(d *signingKeyDoc) {
		for _, k := range d.Keys[tenantID] {
			cp := *k
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (s *FileSigningKeyStore) ActiveKey(_ context.Context, tenantID string) (*contracts.TenantKey, error) {
	var out *contracts.TenantKey
	_ = s.file.withLock(false, func(d *signingKeyDoc) {
		for _, k := range d.Keys[tenantID] {
			if k.Status == contracts.KeyStatusActive {
				cp := *k
				out = &cp
				return
			}
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}
