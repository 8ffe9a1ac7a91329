package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	events map[string][]contracts.SecurityEvent
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]contracts.SecurityEvent)}
}

func (m *memStore) PutEvent(_ context.Context, event contracts.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.TenantID] = append(m.events[event.TenantID], event)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, tenantID string) ([]contracts.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contracts.SecurityEvent(nil), m.events[tenantID]...), nil
}

type recordingLedger struct {
	mu       sync.Mutex
	appended int
	failNext bool
}

func (l *recordingLedger) Append(_, _, _ string, _ interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext {
		l.failNext = false
		return errors.New("ledger unavailable")
	}
	l.appended++
	return nil
}

type recordingSiem struct {
	delivered int
}

func (s *recordingSiem) Deliver(_ context.Context, _ string, _ contracts.SecurityEvent) error {
	s.delivered++
	return nil
}

type recordingAlerts struct {
	routed int
	err    error
}

func (a *recordingAlerts) RouteEvent(_ context.Context, _ contracts.SecurityEvent) error {
	a.routed++
	return a.err
}

func sampleEvent() contracts.SecurityEvent {
	return contracts.SecurityEvent{
		EventID:    "evt-1",
		TenantID:   "tenant-a",
		Category:   "policy",
		Action:     "denied",
		Severity:   "high",
		OccurredAt: time.Unix(0, 0),
	}
}

func TestPublish_DrivesAllFiveSinks(t *testing.T) {
	store := newMemStore()
	ledger := &recordingLedger{}
	siem := &recordingSiem{}
	alerts := &recordingAlerts{}
	var sink bytes.Buffer

	svc := NewService(store, ledger, siem, alerts, &sink)

	err := svc.Publish(context.Background(), sampleEvent())
	require.NoError(t, err)

	events, err := store.ListEvents(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Equal(t, 1, ledger.appended)
	assert.Equal(t, 1, siem.delivered)
	assert.Equal(t, 1, alerts.routed)

	var decoded contracts.SecurityEvent
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(sink.Bytes()), &decoded))
	assert.Equal(t, "evt-1", decoded.EventID)
}

func TestPublish_OneSinkFailureDoesNotBlockOthers(t *testing.T) {
	store := newMemStore()
	ledger := &recordingLedger{failNext: true}
	siem := &recordingSiem{}
	alerts := &recordingAlerts{}
	var sink bytes.Buffer

	svc := NewService(store, ledger, siem, alerts, &sink)

	err := svc.Publish(context.Background(), sampleEvent())
	require.Error(t, err)

	events, listErr := store.ListEvents(context.Background(), "tenant-a")
	require.NoError(t, listErr)
	assert.Len(t, events, 1, "store leg should still succeed when ledger fails")
	assert.Equal(t, 1, siem.delivered, "siem leg should still run when ledger fails")
	assert.Equal(t, 1, alerts.routed, "alert routing should still run when ledger fails")
}

func TestPublish_NilOptionalLegsAreSkipped(t *testing.T) {
	store := newMemStore()
	var sink bytes.Buffer

	svc := NewService(store, nil, nil, nil, &sink)

	err := svc.Publish(context.Background(), sampleEvent())
	require.NoError(t, err)

	events, err := store.ListEvents(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPublish_AlertRoutingFailureIsCollected(t *testing.T) {
	store := newMemStore()
	alerts := &recordingAlerts{err: errors.New("routing misconfigured")}
	var sink bytes.Buffer

	svc := NewService(store, nil, nil, alerts, &sink)

	err := svc.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 5 sinks failed")
}
