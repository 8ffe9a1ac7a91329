// Package signingkey manages per-tenant Ed25519 signing keys: generation,
// PEM-encoded persistence, rotation through active/retiring/retired, and
// sign/verify over arbitrary canonical payloads. It is the Go analogue of
// core/pkg/crypto's Ed25519Signer and KeyRing, reshaped around a durable
// per-tenant key lifecycle instead of a single in-process keyring.
package signingkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// keyPair is the decoded in-memory form of a contracts.TenantKey.
type keyPair struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
}

func generateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("signingkey: key generation failed: %w", err)
	}
	return pub, priv, nil
}

// encodePrivatePEM marshals an Ed25519 private key to PKCS#8 PEM.
func encodePrivatePEM(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("signingkey: marshal private key failed: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// decodePrivatePEM parses a PKCS#8 PEM block back into an Ed25519 private key.
func decodePrivatePEM(pemStr string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("signingkey: invalid PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signingkey: parse private key failed: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signingkey: key is not ed25519")
	}
	return priv, nil
}

func encodePublicHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func decodePublicHex(hexStr string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("signingkey: invalid public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signingkey: invalid public key size %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// sign returns the hex-encoded Ed25519 signature over payload.
func sign(priv ed25519.PrivateKey, payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, payload))
}

// verify checks a hex-encoded Ed25519 signature over payload against pub.
func verify(pub ed25519.PublicKey, payload []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("signingkey: invalid signature hex: %w", err)
	}
	return ed25519.Verify(pub, payload, sig), nil
}
