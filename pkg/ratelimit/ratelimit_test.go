package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessLimiter_AllowsUpToBurstThenRejects(t *testing.T) {
	ctx := context.Background()
	l := NewInProcessLimiter()
	policy := Policy{RequestsPerMinute: 60, Burst: 3}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "tenant_a:user_1", policy, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed within burst", i)
	}

	ok, err := l.Allow(ctx, "tenant_a:user_1", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be rejected")
}

func TestInProcessLimiter_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := NewInProcessLimiter()
	policy := Policy{RequestsPerMinute: 60, Burst: 1}

	ok, err := l.Allow(ctx, Key("tenant_a", "user_1"), policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, Key("tenant_a", "user_2"), policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "a different subject within the same tenant has its own budget")
}

func TestGuard_UsesPerTenantPolicy(t *testing.T) {
	ctx := context.Background()
	l := NewInProcessLimiter()
	policies := map[string]Policy{
		"tenant_strict": {RequestsPerMinute: 60, Burst: 1},
		"tenant_loose":  {RequestsPerMinute: 60, Burst: 100},
	}
	g := NewGuard(l, func(tenantID string) Policy { return policies[tenantID] })

	ok, err := g.Check(ctx, "tenant_strict", "user_1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = g.Check(ctx, "tenant_strict", "user_1")
	require.NoError(t, err)
	assert.False(t, ok, "strict tenant's burst of 1 is exhausted on the second call")

	for i := 0; i < 10; i++ {
		ok, err := g.Check(ctx, "tenant_loose", "user_1")
		require.NoError(t, err)
		assert.True(t, ok, "loose tenant's large burst absorbs repeated calls")
	}
}
