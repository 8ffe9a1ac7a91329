package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu              sync.Mutex
	alertRules      map[string]map[string]*contracts.AlertRoutingRule
	alerts          map[string][]*contracts.Alert
	controlMappings map[string]map[string]*contracts.ControlMapping
	backupManifests map[string][]*contracts.BackupManifest
	tenantMembers   map[string]map[string]*contracts.TenantMember
}

func newMemStore() *memStore {
	return &memStore{
		alertRules:      make(map[string]map[string]*contracts.AlertRoutingRule),
		alerts:          make(map[string][]*contracts.Alert),
		controlMappings: make(map[string]map[string]*contracts.ControlMapping),
		backupManifests: make(map[string][]*contracts.BackupManifest),
		tenantMembers:   make(map[string]map[string]*contracts.TenantMember),
	}
}

func (m *memStore) PutAlertRule(_ context.Context, rule *contracts.AlertRoutingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alertRules[rule.TenantID] == nil {
		m.alertRules[rule.TenantID] = make(map[string]*contracts.AlertRoutingRule)
	}
	m.alertRules[rule.TenantID][rule.RuleID] = rule
	return nil
}

func (m *memStore) ListAlertRules(_ context.Context, tenantID string) ([]*contracts.AlertRoutingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.AlertRoutingRule
	for _, r := range m.alertRules[tenantID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) PutAlert(_ context.Context, alert *contracts.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.TenantID] = append(m.alerts[alert.TenantID], alert)
	return nil
}

func (m *memStore) ListAlerts(_ context.Context, tenantID string) ([]*contracts.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*contracts.Alert(nil), m.alerts[tenantID]...), nil
}

func (m *memStore) PutControlMapping(_ context.Context, c *contracts.ControlMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controlMappings[c.TenantID] == nil {
		m.controlMappings[c.TenantID] = make(map[string]*contracts.ControlMapping)
	}
	m.controlMappings[c.TenantID][c.ControlID] = c
	return nil
}

func (m *memStore) ListControlMappings(_ context.Context, tenantID string) ([]*contracts.ControlMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.ControlMapping
	for _, c := range m.controlMappings[tenantID] {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) PutBackupManifest(_ context.Context, b *contracts.BackupManifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backupManifests[b.TenantID] = append(m.backupManifests[b.TenantID], b)
	return nil
}

func (m *memStore) ListBackupManifests(_ context.Context, tenantID string) ([]*contracts.BackupManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*contracts.BackupManifest(nil), m.backupManifests[tenantID]...), nil
}

func (m *memStore) PutTenantMember(_ context.Context, t *contracts.TenantMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tenantMembers[t.TenantID] == nil {
		m.tenantMembers[t.TenantID] = make(map[string]*contracts.TenantMember)
	}
	m.tenantMembers[t.TenantID][t.UserID] = t
	return nil
}

func (m *memStore) ListTenantMembers(_ context.Context, tenantID string) ([]*contracts.TenantMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.TenantMember
	for _, t := range m.tenantMembers[tenantID] {
		out = append(out, t)
	}
	return out, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRouteEvent_FiresMatchingRule(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, svc.PutAlertRule(ctx, &contracts.AlertRoutingRule{
		TenantID: "tenant-a", RuleID: "rule-1", Category: "policy", MinSeverity: "high", Enabled: true,
	}))

	err := svc.RouteEvent(ctx, contracts.SecurityEvent{
		EventID: "evt-1", TenantID: "tenant-a", Category: "policy", Severity: "critical",
	})
	require.NoError(t, err)

	alerts, err := svc.ListAlerts(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-1", alerts[0].RuleID)
	assert.Equal(t, "evt-1", alerts[0].EventID)
}

func TestRouteEvent_SkipsBelowMinSeverity(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, svc.PutAlertRule(ctx, &contracts.AlertRoutingRule{
		TenantID: "tenant-a", RuleID: "rule-1", Category: "policy", MinSeverity: "critical", Enabled: true,
	}))

	err := svc.RouteEvent(ctx, contracts.SecurityEvent{
		EventID: "evt-1", TenantID: "tenant-a", Category: "policy", Severity: "medium",
	})
	require.NoError(t, err)

	alerts, err := svc.ListAlerts(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRouteEvent_SkipsDisabledRule(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, svc.PutAlertRule(ctx, &contracts.AlertRoutingRule{
		TenantID: "tenant-a", RuleID: "rule-1", Category: "policy", MinSeverity: "low", Enabled: false,
	}))

	err := svc.RouteEvent(ctx, contracts.SecurityEvent{
		EventID: "evt-1", TenantID: "tenant-a", Category: "policy", Severity: "critical",
	})
	require.NoError(t, err)

	alerts, err := svc.ListAlerts(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRouteEvent_CategoryMismatchSkips(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, svc.PutAlertRule(ctx, &contracts.AlertRoutingRule{
		TenantID: "tenant-a", RuleID: "rule-1", Category: "execution", MinSeverity: "low", Enabled: true,
	}))

	err := svc.RouteEvent(ctx, contracts.SecurityEvent{
		EventID: "evt-1", TenantID: "tenant-a", Category: "policy", Severity: "critical",
	})
	require.NoError(t, err)

	alerts, err := svc.ListAlerts(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

type memHasher struct {
	content map[string][]byte
	err     error
}

func (h *memHasher) ReadAll(source string) ([]byte, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.content[source], nil
}

func TestRunBackup_RecordsDeterministicChecksum(t *testing.T) {
	store := newMemStore()
	clock := fixedClock(time.Unix(100, 0))
	svc := NewService(store, clock)
	ctx := context.Background()

	hasher := &memHasher{content: map[string][]byte{
		"/data/store.json":  []byte("store-bytes"),
		"/data/ledger.json": []byte("ledger-bytes"),
	}}

	manifest, err := svc.RunBackup(ctx, "tenant-a", map[string]string{
		"store":  "/data/store.json",
		"ledger": "/data/ledger.json",
	}, hasher)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", manifest.TenantID)
	assert.Equal(t, 2, manifest.EntryCount)
	assert.NotEmpty(t, manifest.Checksum)

	manifests, err := svc.ListBackupManifests(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, manifest.BackupID, manifests[0].BackupID)

	again, err := svc.RunBackup(ctx, "tenant-a", map[string]string{
		"store":  "/data/store.json",
		"ledger": "/data/ledger.json",
	}, hasher)
	require.NoError(t, err)
	assert.Equal(t, manifest.Checksum, again.Checksum)
}

func TestRunBackup_PropagatesReadError(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))

	hasher := &memHasher{err: errors.New("disk unavailable")}
	_, err := svc.RunBackup(context.Background(), "tenant-a", map[string]string{"store": "/data/store.json"}, hasher)
	require.Error(t, err)
}

func TestTenantMemberRoundTripAndScimAdapter(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	member := &contracts.TenantMember{TenantID: "tenant-a", UserID: "user-1", Email: "a@example.com", Role: "admin", Active: true}
	require.NoError(t, svc.PutTenantMember(ctx, member))

	members, err := svc.ListTenantMembers(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, members, 1)

	scimUser := ScimUserFromMember(members[0])
	assert.Equal(t, "user-1", scimUser.ID)
	assert.Equal(t, "tenant-a", scimUser.TenantID)
	assert.Equal(t, []string{"a@example.com"}, scimUser.Emails)
	assert.True(t, scimUser.Active)
}

func TestControlMappingRoundTrip(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedClock(time.Unix(0, 0)))
	ctx := context.Background()

	require.NoError(t, svc.PutControlMapping(ctx, &contracts.ControlMapping{
		TenantID: "tenant-a", ControlID: "ctrl-1", Framework: "soc2", Citations: []string{"CC6.1"},
	}))

	mappings, err := svc.ListControlMappings(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "soc2", mappings[0].Framework)
}
