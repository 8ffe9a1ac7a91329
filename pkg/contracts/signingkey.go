package contracts

import "time"

// KeyStatus is the lifecycle state of a tenant signing key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRetiring KeyStatus = "retiring"
	KeyStatusRetired  KeyStatus = "retired"
)

// TenantKey is a per-tenant Ed25519 keypair with rotation lifecycle.
type TenantKey struct {
	KeyID      string     `json:"keyId"`
	TenantID   string     `json:"tenantId"`
	Algorithm  string     `json:"algorithm"`
	PublicKey  string     `json:"publicKey"`  // hex-encoded
	PrivateKey string     `json:"privateKey"` // PEM, never serialized outward by services
	Status     KeyStatus  `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	RotatedAt  *time.Time `json:"rotatedAt,omitempty"`
}

// TenantPublicKey is the public projection of TenantKey safe to expose.
type TenantPublicKey struct {
	KeyID     string    `json:"keyId"`
	TenantID  string    `json:"tenantId"`
	Algorithm string    `json:"algorithm"`
	PublicKey string    `json:"publicKey"`
	Status    KeyStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// RotateKeyResult is returned by SigningKeyService.RotateTenantKey.
type RotateKeyResult struct {
	NewKeyID            string    `json:"newKeyId"`
	PreviousActiveKeyID string    `json:"previousActiveKeyId,omitempty"`
	RotatedAt           time.Time `json:"rotatedAt"`
}
