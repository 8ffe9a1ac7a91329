// Package identity is the Tenant/Identity Boundary (§4.12): the contract
// for the transport edge to authenticate a caller and hand the core a
// normalized contracts.TokenClaims, plus the two checks every
// tenant-scoped operation makes against it — tenant membership and,
// for service-role tokens, an mTLS workload identity attestation.
// Grounded on core/pkg/auth/middleware.go's JWTValidator/KeySet split
// (parse-then-validate against an injected key source, fail closed when
// unconfigured), generalized from the teacher's single tenant_id/roles
// claim shape to the richer tenantIds[]/role/delegationChain/
// serviceAccountId shape spec.md §4.12 names.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/golang-jwt/jwt/v5"
)

// KeySet resolves the verification key for a JWT, mirroring the teacher's
// identity.KeySet so multi-key rotation and JWKS-backed sources can be
// swapped in without touching the validator.
type KeySet interface {
	KeyFunc() jwt.Keyfunc
}

// StaticKeySet is a KeySet backed by a single fixed key, useful for tests
// and single-issuer deployments.
type StaticKeySet struct {
	Key interface{}
}

func (s StaticKeySet) KeyFunc() jwt.Keyfunc {
	return func(*jwt.Token) (interface{}, error) { return s.Key, nil }
}

// claims is the wire shape of the JWT this platform issues, mapped onto
// contracts.TokenClaims after validation.
type claims struct {
	jwt.RegisteredClaims
	TokenID          string   `json:"tokenId"`
	TenantIDs        []string `json:"tenantIds"`
	Scopes           []string `json:"scopes"`
	Role             string   `json:"role"`
	DelegationChain  []string `json:"delegationChain"`
	ServiceAccountID string   `json:"serviceAccountId"`
	AMR              []string `json:"amr"`
}

// Validator parses and validates bearer tokens into contracts.TokenClaims.
type Validator struct {
	keySet KeySet
}

// NewValidator builds a Validator. A nil keySet is valid and makes every
// call to Validate fail closed, matching the teacher's
// "no validator configured -> reject" posture.
func NewValidator(keySet KeySet) *Validator {
	return &Validator{keySet: keySet}
}

// Validate parses tokenStr and returns normalized TokenClaims.
func (v *Validator) Validate(tokenStr string) (*contracts.TokenClaims, error) {
	if v.keySet == nil {
		return nil, fmt.Errorf("identity: no key set configured: %w", errs.ErrUnauthorized)
	}

	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenStr, c, v.keySet.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", errs.ErrUnauthorized)
	}
	if !token.Valid {
		return nil, fmt.Errorf("identity: invalid token: %w", errs.ErrUnauthorized)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("identity: token subject is required: %w", errs.ErrUnauthorized)
	}
	if len(c.TenantIDs) == 0 {
		return nil, fmt.Errorf("identity: token tenant binding is required: %w", errs.ErrUnauthorized)
	}

	var issuedAt, expiresAt time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		expiresAt = c.ExpiresAt.Time
	}

	return &contracts.TokenClaims{
		TokenID:          c.TokenID,
		Subject:          c.Subject,
		TenantIDs:        c.TenantIDs,
		Scopes:           c.Scopes,
		Role:             contracts.Role(c.Role),
		DelegationChain:  c.DelegationChain,
		ServiceAccountID: c.ServiceAccountID,
		StepUpAMR:        c.AMR,
		IssuedAt:         issuedAt,
		ExpiresAt:        expiresAt,
	}, nil
}

// RequireTenant enforces tenantId ∈ claims.tenantIds, the tenant-access
// rule every core service applies before acting on a request.
func RequireTenant(claims *contracts.TokenClaims, tenantID string) error {
	for _, t := range claims.TenantIDs {
		if t == tenantID {
			return nil
		}
	}
	return fmt.Errorf("identity: tenant %q not in token's tenant set: %w", tenantID, errs.ErrForbidden)
}

// RequireRole enforces that claims.Role is one of allowed, the role-gating
// rule administrative operations apply per spec.md §4.12.
func RequireRole(claims *contracts.TokenClaims, allowed ...contracts.Role) error {
	for _, r := range allowed {
		if claims.Role == r {
			return nil
		}
	}
	return fmt.Errorf("identity: role %q is not permitted: %w", claims.Role, errs.ErrForbidden)
}

// TrustedWorkload is one entry in the mTLS workload identity trust list:
// the (subject, certificate fingerprint) pair a service-role token's
// additional attestation is checked against.
type TrustedWorkload struct {
	Subject           string
	FingerprintSHA256 string
	AttestationKey    []byte
}

// WorkloadAttestation is the mTLS-carried proof a service-role caller
// presents alongside its bearer token.
type WorkloadAttestation struct {
	Subject           string
	FingerprintSHA256 string
	IssuedAt          time.Time
	HMAC              string // hex-encoded HMAC-SHA256 over "subject\nfingerprint\nissuedAt"
}

// VerifyWorkloadAttestation checks a service-role token's workload
// identity attestation against trusted: the (subject, fingerprint) pair
// must match a trusted entry, the HMAC over
// "subject\nfingerprint\nissuedAt" (RFC3339) must verify against that
// entry's attestation key, and issuedAt must fall within maxClockSkew of
// now in either direction.
func VerifyWorkloadAttestation(att WorkloadAttestation, trusted []TrustedWorkload, now time.Time, maxClockSkew time.Duration) error {
	skew := now.Sub(att.IssuedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return fmt.Errorf("identity: workload attestation clock skew %s exceeds bound: %w", skew, errs.ErrUnauthorized)
	}

	for _, w := range trusted {
		if w.Subject != att.Subject || w.FingerprintSHA256 != att.FingerprintSHA256 {
			continue
		}
		message := att.Subject + "\n" + att.FingerprintSHA256 + "\n" + att.IssuedAt.UTC().Format(time.RFC3339)
		mac := hmac.New(sha256.New, w.AttestationKey)
		mac.Write([]byte(message))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(att.HMAC)) {
			return nil
		}
		return fmt.Errorf("identity: workload attestation signature mismatch: %w", errs.ErrUnauthorized)
	}
	return fmt.Errorf("identity: workload %s/%s is not trusted: %w", att.Subject, att.FingerprintSHA256, errs.ErrUnauthorized)
}

// RequireServiceWorkload is the combined check a service-role token must
// pass: a valid role plus, when trusted is non-empty, a matching
// workload attestation.
func RequireServiceWorkload(ctx context.Context, claims *contracts.TokenClaims, att WorkloadAttestation, trusted []TrustedWorkload, clock func() time.Time, maxClockSkew time.Duration) error {
	if err := RequireRole(claims, contracts.RoleService); err != nil {
		return err
	}
	if len(trusted) == 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return VerifyWorkloadAttestation(att, trusted, clock(), maxClockSkew)
}
