package receipt

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// verifyWithHexKey verifies a hex-encoded signature against a hex-encoded
// ed25519 public key, for the VerifyReceiptInput.PublicKeys path (external
// key material supplied by the caller rather than looked up by tenant).
func verifyWithHexKey(pubKeyHex string, message []byte, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), message, sig), nil
}

// verifyWithPEM verifies a hex-encoded signature against a PKIX-encoded
// ed25519 public key PEM block, for the VerifyReceiptInput.PublicKeyPEM
// path.
func verifyWithPEM(pemStr string, message []byte, sigHex string) (bool, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return false, fmt.Errorf("invalid PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return false, fmt.Errorf("public key is not ed25519")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(pub, message, sig), nil
}
