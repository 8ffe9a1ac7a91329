// Package dataprotection encrypts sensitive leaf values inside persisted
// JSON-shaped payloads (Action.input, VaultSecret plaintext staging,
// connector configuration) with AES-256-GCM. It is the field-level
// descendant of core/pkg/kms's LocalKMS: same cipher construction and
// versioned-prefix convention, reshaped from "encrypt one whole string"
// into "walk a decoded JSON tree and encrypt only the leaves whose key
// looks sensitive".
package dataprotection

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const encPrefix = "enc:v1:"

// sensitiveKeyFragments is matched case-insensitively as a substring
// against a map key; any match marks that leaf for encryption.
var sensitiveKeyFragments = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
	"connection",
	"privatekey",
	"private_key",
	"authorization",
	"x-api-key",
}

// IsSensitiveKey reports whether a field name should be treated as
// sensitive for data-at-rest protection purposes.
func IsSensitiveKey(name string) bool {
	lower := strings.ToLower(name)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Protector performs field-level AES-256-GCM encryption over decoded
// JSON values (map[string]any / []any / scalars), the shape
// encoding/json.Unmarshal produces for `any`.
type Protector struct {
	key [32]byte
}

// NewProtector derives a 32-byte AES key from keyMaterial (the
// DATA_ENCRYPTION_KEY configuration value) via SHA-256, the same way a
// passphrase is stretched into a symmetric key when no KMS is present.
func NewProtector(keyMaterial string) *Protector {
	return &Protector{key: sha256.Sum256([]byte(keyMaterial))}
}

// Protect returns a deep copy of v with every sensitive leaf string value
// replaced by an encrypted, versioned-prefixed ciphertext. Non-sensitive
// leaves pass through unchanged. v must already be JSON-primitive shaped
// (map[string]any, []any, string, float64/json.Number, bool, nil), i.e.
// the result of json.Unmarshal into an `any`.
func (p *Protector) Protect(v any) (any, error) {
	return p.walk(v, false)
}

// Restore reverses Protect: every encrypted leaf is decrypted back to its
// original plaintext string; everything else passes through unchanged.
func (p *Protector) Restore(v any) (any, error) {
	return p.walk(v, true)
}

func (p *Protector) walk(v any, restoring bool) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok && !restoring && IsSensitiveKey(k) {
				enc, err := p.encryptLeaf(s)
				if err != nil {
					return nil, fmt.Errorf("dataprotection: encrypt field %q: %w", k, err)
				}
				out[k] = enc
				continue
			}
			if restoring {
				if s, ok := val.(string); ok && strings.HasPrefix(s, encPrefix) {
					dec, err := p.decryptLeaf(s)
					if err != nil {
						return nil, fmt.Errorf("dataprotection: decrypt field %q: %w", k, err)
					}
					out[k] = dec
					continue
				}
			}
			nested, err := p.walk(val, restoring)
			if err != nil {
				return nil, err
			}
			out[k] = nested
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nested, err := p.walk(val, restoring)
			if err != nil {
				return nil, err
			}
			out[i] = nested
		}
		return out, nil
	default:
		return v, nil
	}
}

// encryptLeaf encrypts a single value. A non-string value is formatted
// with %v first, so decrypting it yields that text as a string; walk only
// passes string leaves here.
func (p *Protector) encryptLeaf(v any) (string, error) {
	plaintext, ok := v.(string)
	if !ok {
		plaintext = fmt.Sprintf("%v", v)
	}
	ct, err := p.seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return encPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

func (p *Protector) decryptLeaf(s string) (string, error) {
	payload := strings.TrimPrefix(s, encPrefix)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("dataprotection: decode ciphertext: %w", err)
	}
	pt, err := p.open(raw)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func (p *Protector) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key[:])
	if err != nil {
		return nil, fmt.Errorf("dataprotection: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dataprotection: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("dataprotection: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *Protector) open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key[:])
	if err != nil {
		return nil, fmt.Errorf("dataprotection: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("dataprotection: gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("dataprotection: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

// EncryptString encrypts a standalone secret value (e.g. a VaultSecret
// plaintext) to the same versioned ciphertext form used for field leaves.
func (p *Protector) EncryptString(plaintext string) (string, error) {
	return p.encryptLeaf(plaintext)
}

// DecryptString reverses EncryptString.
func (p *Protector) DecryptString(ciphertext string) (string, error) {
	return p.decryptLeaf(ciphertext)
}
