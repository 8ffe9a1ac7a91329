package siem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTargets struct {
	mu      sync.Mutex
	targets map[string]contracts.SiemTarget // keyed by targetID, tenant-scoped lookups filter
}

func newMemTargets(targets ...contracts.SiemTarget) *memTargets {
	m := &memTargets{targets: make(map[string]contracts.SiemTarget)}
	for _, t := range targets {
		m.targets[t.TargetID] = t
	}
	return m
}

func (m *memTargets) ListTargets(_ context.Context, tenantID string) ([]contracts.SiemTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.SiemTarget
	for _, t := range m.targets {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTargets) GetTarget(_ context.Context, tenantID, targetID string) (*contracts.SiemTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[targetID]
	if !ok || t.TenantID != tenantID {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

func (m *memTargets) GetTargetByID(_ context.Context, targetID string) (*contracts.SiemTarget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[targetID]
	if !ok {
		return nil, nil
	}
	cp := t
	return &cp, nil
}

type memDeadLetters struct {
	mu sync.Mutex
	dl map[string]*contracts.SiemDeadLetter
}

func newMemDeadLetters() *memDeadLetters {
	return &memDeadLetters{dl: make(map[string]*contracts.SiemDeadLetter)}
}

func (m *memDeadLetters) PutDeadLetter(_ context.Context, dl *contracts.SiemDeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dl
	m.dl[dl.ID] = &cp
	return nil
}

func (m *memDeadLetters) ListDeadLetters(_ context.Context, tenantID string) ([]*contracts.SiemDeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.SiemDeadLetter
	for _, d := range m.dl {
		if d.TenantID == tenantID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memDeadLetters) GetDeadLetter(_ context.Context, tenantID, id string) (*contracts.SiemDeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dl[id]
	if !ok || d.TenantID != tenantID {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *memDeadLetters) ResolveDeadLetter(_ context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dl[id]
	if !ok || d.TenantID != tenantID {
		return nil
	}
	d.Status = contracts.SiemDeadLetterResolved
	d.UpdatedAt = at
	return nil
}

func (m *memDeadLetters) MarkDeadLetterReplayed(_ context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dl[id]
	if !ok || d.TenantID != tenantID {
		return nil
	}
	d.ReplayCount++
	d.Status = contracts.SiemDeadLetterReplayed
	d.UpdatedAt = at
	return nil
}

// fakeTransport lets tests script per-call outcomes per target.
type fakeTransport struct {
	mu        sync.Mutex
	fail      map[string]bool // targetID -> fail this and future calls
	callCount map[string]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[string]bool), callCount: make(map[string]int)}
}

func (f *fakeTransport) Deliver(_ context.Context, target contracts.SiemTarget, _ contracts.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[target.TargetID]++
	if f.fail[target.TargetID] {
		return fmt.Errorf("fake delivery failure for %s", target.TargetID)
	}
	return nil
}

func (f *fakeTransport) calls(targetID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[targetID]
}

func fixedClock(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func testEvent(tenantID string) contracts.SecurityEvent {
	return contracts.SecurityEvent{
		EventID:    "evt_1",
		TenantID:   tenantID,
		Category:   "action",
		Action:     "submit",
		Severity:   "info",
		OccurredAt: time.Unix(1000, 0),
	}
}

func TestDeliver_SuccessRecordsCounterNoEnqueue(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	svc, err := NewService(targets, newMemDeadLetters(), transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(ctx, "tenant_a", testEvent("tenant_a")))
	assert.Equal(t, 1, transport.calls("t1"))
	assert.Equal(t, 0, svc.QueueLength())
	assert.Equal(t, 1, svc.Stats("t1").SuccessCount)
}

func TestDeliver_FailureEnqueuesForRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	transport.fail["t1"] = true
	svc, err := NewService(targets, newMemDeadLetters(), transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(ctx, "tenant_a", testEvent("tenant_a")))
	assert.Equal(t, 1, svc.QueueLength())
	assert.Equal(t, 1, svc.Stats("t1").FailureCount)
}

func TestFlushQueue_RetriesDueEntryAndDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	transport.fail["t1"] = true
	deadLetters := newMemDeadLetters()
	svc, err := NewService(targets, deadLetters, transport, nil, fixedClock(&now), Config{IntervalSeconds: 1, MaxAttempts: 2})
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(ctx, "tenant_a", testEvent("tenant_a")))
	require.Equal(t, 1, svc.QueueLength())

	svc.FlushQueue(ctx) // second attempt, still failing -> reaches maxAttempts(2), dead-lettered
	assert.Equal(t, 0, svc.QueueLength())

	dls, err := deadLetters.ListDeadLetters(ctx, "tenant_a")
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, "t1", dls[0].TargetID)
}

func TestBackpressure_EvictsSmallestNextAttemptAtWhenFull(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(
		contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true},
		contracts.SiemTarget{TargetID: "t2", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true},
	)
	transport := newFakeTransport()
	transport.fail["t1"] = true
	transport.fail["t2"] = true
	svc, err := NewService(targets, newMemDeadLetters(), transport, nil, fixedClock(&now), Config{IntervalSeconds: 10, MaxQueueSize: 1})
	require.NoError(t, err)

	require.NoError(t, svc.Deliver(ctx, "tenant_a", testEvent("tenant_a")))
	assert.Equal(t, 1, svc.QueueLength())

	require.NoError(t, svc.Deliver(ctx, "tenant_a", testEvent("tenant_a")))
	assert.Equal(t, 1, svc.QueueLength(), "queue should stay capped at MaxQueueSize")
	// Both targets fail on each Deliver: four enqueues into a queue of one
	// evict three entries.
	assert.Equal(t, 3, svc.BackpressureDropCount())
}

func TestReplayDeadLetter_CrossTenantFailsNotFound(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	deadLetters := newMemDeadLetters()
	require.NoError(t, deadLetters.PutDeadLetter(ctx, &contracts.SiemDeadLetter{
		ID: "dl_1", TenantID: "tenant_a", TargetID: "t1", EventID: "evt_1", Event: testEvent("tenant_a"),
		Status: contracts.SiemDeadLetterOpen, AttemptCount: 5,
	}))
	svc, err := NewService(targets, deadLetters, transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	err = svc.ReplayDeadLetter(ctx, "tenant_b", "dl_1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReplayDeadLetter_SuccessMarksReplayedAndBumpsCount(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	deadLetters := newMemDeadLetters()
	require.NoError(t, deadLetters.PutDeadLetter(ctx, &contracts.SiemDeadLetter{
		ID: "dl_1", TenantID: "tenant_a", TargetID: "t1", EventID: "evt_1", Event: testEvent("tenant_a"),
		Status: contracts.SiemDeadLetterOpen, AttemptCount: 5, FailedAt: now, UpdatedAt: now,
	}))
	svc, err := NewService(targets, deadLetters, transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	require.NoError(t, svc.ReplayDeadLetter(ctx, "tenant_a", "dl_1"))
	assert.Equal(t, 1, transport.calls("t1"))

	dl, err := deadLetters.GetDeadLetter(ctx, "tenant_a", "dl_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.SiemDeadLetterReplayed, dl.Status)
	assert.Equal(t, 1, dl.ReplayCount)
}

func TestReplayDeadLetter_FailureLeavesStatusOpen(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	transport.fail["t1"] = true
	deadLetters := newMemDeadLetters()
	require.NoError(t, deadLetters.PutDeadLetter(ctx, &contracts.SiemDeadLetter{
		ID: "dl_1", TenantID: "tenant_a", TargetID: "t1", EventID: "evt_1", Event: testEvent("tenant_a"),
		Status: contracts.SiemDeadLetterOpen, AttemptCount: 5, FailedAt: now, UpdatedAt: now,
	}))
	svc, err := NewService(targets, deadLetters, transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	require.Error(t, svc.ReplayDeadLetter(ctx, "tenant_a", "dl_1"))

	dl, err := deadLetters.GetDeadLetter(ctx, "tenant_a", "dl_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.SiemDeadLetterOpen, dl.Status)
	assert.Equal(t, 0, dl.ReplayCount)
}

func TestResolveDeadLetter_MarksResolved(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	targets := newMemTargets(contracts.SiemTarget{TargetID: "t1", TenantID: "tenant_a", Kind: KindGenericWebhook, Endpoint: "https://example.invalid", Enabled: true})
	transport := newFakeTransport()
	deadLetters := newMemDeadLetters()
	require.NoError(t, deadLetters.PutDeadLetter(ctx, &contracts.SiemDeadLetter{
		ID: "dl_1", TenantID: "tenant_a", TargetID: "t1", EventID: "evt_1", Event: testEvent("tenant_a"),
		Status: contracts.SiemDeadLetterOpen, AttemptCount: 5, FailedAt: now, UpdatedAt: now,
	}))
	svc, err := NewService(targets, deadLetters, transport, nil, fixedClock(&now), Config{})
	require.NoError(t, err)

	require.NoError(t, svc.ResolveDeadLetter(ctx, "tenant_a", "dl_1"))

	dl, err := deadLetters.GetDeadLetter(ctx, "tenant_a", "dl_1")
	require.NoError(t, err)
	assert.Equal(t, contracts.SiemDeadLetterResolved, dl.Status)
}
