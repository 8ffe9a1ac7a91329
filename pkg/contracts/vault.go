package contracts

import "time"

// VaultSecret is a tenant-scoped credential managed by the Secrets Vault,
// referenced by connectors at execution time but never embedded in an
// Action payload or a receipt.
type VaultSecret struct {
	SecretID      string     `json:"secretId"`
	TenantID      string     `json:"tenantId"`
	Name          string     `json:"name"`
	Version       int        `json:"version"`
	CiphertextB64 string     `json:"ciphertextB64"`
	CreatedAt     time.Time  `json:"createdAt"`
	RotatedAt     *time.Time `json:"rotatedAt,omitempty"`
}

// PutSecretInput is the input to Vault.Put.
type PutSecretInput struct {
	TenantID  string
	Name      string
	Plaintext []byte
}
