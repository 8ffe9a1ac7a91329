//go:build property
// +build property

package idempotency_test

import (
	"testing"

	"github.com/MokiMeow/OARS-sub000/pkg/idempotency"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFingerprintDeterminism verifies Fingerprint(body) == Fingerprint(body)
// and that two distinct bodies (with overwhelming probability) fingerprint
// differently, the property Service.Begin's conflict detection depends on.
func TestFingerprintDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fingerprint is deterministic and distinguishes distinct bodies", prop.ForAll(
		func(a, b string) bool {
			bodyA := []byte(`{"value":"` + a + `"}`)
			fp1, err1 := idempotency.Fingerprint(bodyA)
			fp2, err2 := idempotency.Fingerprint(bodyA)
			if err1 != nil || err2 != nil {
				return false
			}
			if fp1 != fp2 {
				return false
			}
			if a == b {
				return true
			}
			bodyB := []byte(`{"value":"` + b + `"}`)
			fpB, err := idempotency.Fingerprint(bodyB)
			if err != nil {
				return false
			}
			return fpB != fp1
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestFingerprintFieldOrderInvariant verifies that reordering an object's
// top-level fields in the raw wire body does not change its fingerprint,
// the exact guarantee a replayed request with re-serialized JSON (same
// logical body, different field order) needs to still be recognized.
func TestFingerprintFieldOrderInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("fingerprint is invariant to JSON field order", prop.ForAll(
		func(a, b string) bool {
			forward := []byte(`{"a":"` + a + `","b":"` + b + `"}`)
			reversed := []byte(`{"b":"` + b + `","a":"` + a + `"}`)
			fp1, err1 := idempotency.Fingerprint(forward)
			fp2, err2 := idempotency.Fingerprint(reversed)
			if err1 != nil || err2 != nil {
				return false
			}
			return fp1 == fp2
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
