// Package siem is the SIEM Delivery Service (L6): fans SecurityEvents out
// to tenant-configured destinations (generic_webhook, splunk_hec,
// datadog_logs, sentinel_log_analytics), retrying failed deliveries off a
// disk-persisted queue with bounded backpressure and a dead-letter lane
// for exhausted items. Grounded on
// core/pkg/util/resiliency/client.go's retry-loop-around-http.Client shape
// (this package keeps a per-target failure count the same way
// EnhancedClient's CircuitBreaker does, though it schedules retries
// through the queue below instead of sleeping inline) and on
// core/pkg/kernel/retry/backoff.go's "no ambient randomness, deterministic
// schedule" philosophy — the multiplier itself is the spec's own
// min(4, attempts) rule rather than the teacher's base*2^attempt formula.
package siem

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/MokiMeow/OARS-sub000/pkg/metrics"
	"github.com/google/uuid"
)

const (
	KindGenericWebhook  = "generic_webhook"
	KindSplunkHEC       = "splunk_hec"
	KindDatadogLogs     = "datadog_logs"
	KindSentinelLogsAPI = "sentinel_log_analytics"
)

// Transport sends one already-encoded event to one target. The default
// implementation (httpTransport) issues a real HTTP request; tests inject
// a fake.
type Transport interface {
	Deliver(ctx context.Context, target contracts.SiemTarget, event contracts.SecurityEvent) error
}

// queueEntry is one pending retry.
type queueEntry struct {
	TargetID      string                  `json:"targetId"`
	Event         contracts.SecurityEvent `json:"event"`
	Attempts      int                     `json:"attempts"`
	NextAttemptAt time.Time               `json:"nextAttemptAt"`
	LastError     string                  `json:"lastError"`
}

// TargetStore resolves a tenant's configured delivery targets.
type TargetStore interface {
	ListTargets(ctx context.Context, tenantID string) ([]contracts.SiemTarget, error)
	GetTarget(ctx context.Context, tenantID, targetID string) (*contracts.SiemTarget, error)
}

// DeadLetterStore persists exhausted deliveries for operator triage.
type DeadLetterStore interface {
	PutDeadLetter(ctx context.Context, dl *contracts.SiemDeadLetter) error
	ListDeadLetters(ctx context.Context, tenantID string) ([]*contracts.SiemDeadLetter, error)
	GetDeadLetter(ctx context.Context, tenantID, id string) (*contracts.SiemDeadLetter, error)
	ResolveDeadLetter(ctx context.Context, tenantID, id string, at time.Time) error
	// MarkDeadLetterReplayed bumps replayCount and sets status to replayed,
	// for a dead letter an operator successfully re-sent.
	MarkDeadLetterReplayed(ctx context.Context, tenantID, id string, at time.Time) error
}

// TargetStats is the per-target delivery counters an admin surface reads.
type TargetStats struct {
	SuccessCount int
	FailureCount int
	LastError    string
}

// Service is the SIEM Delivery Service.
type Service struct {
	targets     TargetStore
	deadLetters DeadLetterStore
	transport   Transport
	metrics     *metrics.Recorder
	clock       func() time.Time

	intervalSeconds int
	maxAttempts     int
	maxQueueSize    int
	queuePath       string

	mu                    sync.Mutex
	queue                 []*queueEntry
	stats                 map[string]*TargetStats // keyed by targetID
	backpressureDropCount int
	inProgress            bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config bundles the tunables spec.md §4.10 names.
type Config struct {
	IntervalSeconds int
	MaxAttempts     int
	MaxQueueSize    int
	QueuePath       string
}

// NewService constructs a Service and reloads any queue persisted to
// cfg.QueuePath from a previous process. recorder may be nil, in which
// case delivery latency and errors go uninstrumented.
func NewService(targets TargetStore, deadLetters DeadLetterStore, transport Transport, recorder *metrics.Recorder, clock func() time.Time, cfg Config) (*Service, error) {
	if clock == nil {
		clock = time.Now
	}
	if transport == nil {
		transport = NewHTTPTransport(10 * time.Second)
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 30
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 10000
	}

	s := &Service{
		targets:         targets,
		deadLetters:     deadLetters,
		transport:       transport,
		metrics:         recorder,
		clock:           clock,
		intervalSeconds: cfg.IntervalSeconds,
		maxAttempts:     cfg.MaxAttempts,
		maxQueueSize:    cfg.MaxQueueSize,
		queuePath:       cfg.QueuePath,
		stats:           make(map[string]*TargetStats),
	}
	if cfg.QueuePath != "" {
		if err := s.loadQueue(); err != nil {
			return nil, fmt.Errorf("siem: reload retry queue: %w", err)
		}
	}
	return s, nil
}

// Deliver sends event to every enabled target configured for tenantID,
// synchronously. A target that fails is enqueued for retry rather than
// failing the call; Deliver only returns an error if the target list
// itself could not be read.
func (s *Service) Deliver(ctx context.Context, tenantID string, event contracts.SecurityEvent) error {
	targets, err := s.targets.ListTargets(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("siem: list targets: %w", err)
	}
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		s.deliverOne(ctx, target, event)
	}
	return nil
}

func (s *Service) deliverOne(ctx context.Context, target contracts.SiemTarget, event contracts.SecurityEvent) {
	start := s.clock()
	err := s.transport.Deliver(ctx, target, event)
	s.metrics.RecordSiemDelivery(ctx, target.TargetID, target.Kind, s.clock().Sub(start), err)
	s.recordAttempt(target.TargetID, err)
	if err != nil {
		s.enqueueRetry(target.TargetID, event, 1, err.Error())
	}
}

func (s *Service) recordAttempt(targetID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[targetID]
	if st == nil {
		st = &TargetStats{}
		s.stats[targetID] = st
	}
	if err != nil {
		st.FailureCount++
		st.LastError = err.Error()
	} else {
		st.SuccessCount++
	}
}

// Stats returns a snapshot of a target's delivery counters.
func (s *Service) Stats(targetID string) TargetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.stats[targetID]; st != nil {
		return *st
	}
	return TargetStats{}
}

// enqueueRetry appends a retry entry, applying backpressure eviction when
// the queue is already at capacity.
func (s *Service) enqueueRetry(targetID string, event contracts.SecurityEvent, attempts int, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.maxQueueSize {
		s.evictSmallestLocked()
	}

	entry := &queueEntry{
		TargetID:      targetID,
		Event:         event,
		Attempts:      attempts,
		NextAttemptAt: s.clock().Add(s.backoffDelay(attempts)),
		LastError:     lastError,
	}
	s.queue = append(s.queue, entry)
	s.persistQueueLocked()
}

// evictSmallestLocked drops the entry with the smallest NextAttemptAt,
// the one closest to being retried, making room for a fresher failure.
// Caller holds s.mu.
func (s *Service) evictSmallestLocked() {
	if len(s.queue) == 0 {
		return
	}
	minIdx := 0
	for i, e := range s.queue {
		if e.NextAttemptAt.Before(s.queue[minIdx].NextAttemptAt) {
			minIdx = i
		}
	}
	s.queue = append(s.queue[:minIdx], s.queue[minIdx+1:]...)
	s.backpressureDropCount++
}

// backoffDelay applies the spec's min(4, attempts) multiplier on the base
// retry interval.
func (s *Service) backoffDelay(attempts int) time.Duration {
	mult := attempts
	if mult > 4 {
		mult = 4
	}
	if mult < 1 {
		mult = 1
	}
	return time.Duration(mult) * time.Duration(s.intervalSeconds) * time.Second
}

// RunRetryScheduler ticks every intervalSeconds, re-examining due items,
// until ctx is canceled or Stop is called.
func (s *Service) RunRetryScheduler(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	ticker := time.NewTicker(time.Duration(s.intervalSeconds) * time.Second)
	defer ticker.Stop()
	defer close(doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// StopRetryScheduler halts a running scheduler and blocks until its
// loop goroutine has exited.
func (s *Service) StopRetryScheduler() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.stopCh = nil
	s.doneCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

// FlushQueue forces one retry cycle immediately, regardless of whether any
// entry is due.
func (s *Service) FlushQueue(ctx context.Context) {
	s.runCycleForced(ctx, true)
}

func (s *Service) runCycle(ctx context.Context) {
	s.runCycleForced(ctx, false)
}

func (s *Service) runCycleForced(ctx context.Context, force bool) {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return
	}
	s.inProgress = true
	now := s.clock()

	var due []*queueEntry
	var remaining []*queueEntry
	for _, e := range s.queue {
		if force || !e.NextAttemptAt.After(now) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	s.queue = remaining
	s.mu.Unlock()

	for _, e := range due {
		s.retryEntry(ctx, e)
	}

	s.mu.Lock()
	s.inProgress = false
	s.persistQueueLocked()
	s.mu.Unlock()
}

func (s *Service) retryEntry(ctx context.Context, e *queueEntry) {
	target, err := s.resolveTargetForRetry(ctx, e.TargetID)
	if err != nil || target == nil {
		s.deadLetter(ctx, e, "target no longer configured")
		return
	}

	start := s.clock()
	err = s.transport.Deliver(ctx, *target, e.Event)
	s.metrics.RecordSiemDelivery(ctx, target.TargetID, target.Kind, s.clock().Sub(start), err)
	s.recordAttempt(e.TargetID, err)
	if err == nil {
		return
	}

	e.Attempts++
	e.LastError = err.Error()
	if e.Attempts >= s.maxAttempts {
		s.deadLetter(ctx, e, err.Error())
		return
	}
	e.NextAttemptAt = s.clock().Add(s.backoffDelay(e.Attempts))

	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
}

// resolveTargetForRetry looks targetID up without a tenant, since a retry
// entry only carries the target id. It relies on the TargetStore also
// implementing targetLookup (GetTargetByID); a store that does not yields
// ErrNotFound, and retryEntry dead-letters the entry.
func (s *Service) resolveTargetForRetry(ctx context.Context, targetID string) (*contracts.SiemTarget, error) {
	if lookup, ok := s.targets.(targetLookup); ok {
		return lookup.GetTargetByID(ctx, targetID)
	}
	return nil, errs.ErrNotFound
}

// targetLookup is an optional TargetStore extension letting a concrete
// store resolve a target by id alone, without a tenant hint.
type targetLookup interface {
	GetTargetByID(ctx context.Context, targetID string) (*contracts.SiemTarget, error)
}

func (s *Service) deadLetter(ctx context.Context, e *queueEntry, lastError string) {
	if s.deadLetters == nil {
		return
	}
	now := s.clock()
	dl := &contracts.SiemDeadLetter{
		ID:           "dl_" + uuid.NewString(),
		TenantID:     e.Event.TenantID,
		TargetID:     e.TargetID,
		EventID:      e.Event.EventID,
		Event:        e.Event,
		Status:       contracts.SiemDeadLetterOpen,
		AttemptCount: e.Attempts,
		LastError:    lastError,
		FailedAt:     now,
		UpdatedAt:    now,
	}
	_ = s.deadLetters.PutDeadLetter(ctx, dl)
}

// ReplayToTarget re-sends event to the named target immediately, outside
// the normal queue, for an operator retrying a known-fixed destination.
func (s *Service) ReplayToTarget(ctx context.Context, tenantID, targetID string, event contracts.SecurityEvent) error {
	target, err := s.targets.GetTarget(ctx, tenantID, targetID)
	if err != nil {
		return fmt.Errorf("siem: replay target: %w", err)
	}
	if target == nil {
		return errs.ErrNotFound
	}
	err = s.transport.Deliver(ctx, *target, event)
	s.recordAttempt(targetID, err)
	return err
}

// ListDeadLetters returns a tenant's dead-lettered deliveries.
func (s *Service) ListDeadLetters(ctx context.Context, tenantID string) ([]*contracts.SiemDeadLetter, error) {
	return s.deadLetters.ListDeadLetters(ctx, tenantID)
}

// ReplayDeadLetter re-attempts delivery of a dead-lettered event, tenant
// scoped: a cross-tenant id fails with ErrNotFound. On a successful
// delivery the dead letter's status moves to replayed and its replayCount
// increments; a failed attempt leaves it open for another try.
func (s *Service) ReplayDeadLetter(ctx context.Context, tenantID, id string) error {
	dl, err := s.deadLetters.GetDeadLetter(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("siem: get dead letter: %w", err)
	}
	if dl == nil || dl.TenantID != tenantID {
		return errs.ErrNotFound
	}
	target, err := s.targets.GetTarget(ctx, tenantID, dl.TargetID)
	if err != nil {
		return fmt.Errorf("siem: get target: %w", err)
	}
	if target == nil {
		return errs.ErrNotFound
	}
	if err := s.transport.Deliver(ctx, *target, dl.Event); err != nil {
		return err
	}
	return s.deadLetters.MarkDeadLetterReplayed(ctx, tenantID, id, s.clock())
}

// ResolveDeadLetter marks a dead-lettered entry handled without replaying
// it, tenant scoped: a cross-tenant id fails with ErrNotFound.
func (s *Service) ResolveDeadLetter(ctx context.Context, tenantID, id string) error {
	dl, err := s.deadLetters.GetDeadLetter(ctx, tenantID, id)
	if err != nil {
		return fmt.Errorf("siem: get dead letter: %w", err)
	}
	if dl == nil || dl.TenantID != tenantID {
		return errs.ErrNotFound
	}
	return s.deadLetters.ResolveDeadLetter(ctx, tenantID, id, s.clock())
}

// BackpressureDropCount reports how many retry entries have been evicted
// to make room for newer failures since process start.
func (s *Service) BackpressureDropCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backpressureDropCount
}

// QueueLength reports the current retry queue depth.
func (s *Service) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Service) persistQueueLocked() {
	if s.queuePath == "" {
		return
	}
	sorted := make([]*queueEntry, len(s.queue))
	copy(sorted, s.queue)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NextAttemptAt.Before(sorted[j].NextAttemptAt) })

	data, err := json.Marshal(sorted)
	if err != nil {
		return
	}
	tmp := s.queuePath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.queuePath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.queuePath)
}

func (s *Service) loadQueue() error {
	data, err := os.ReadFile(s.queuePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []*queueEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.mu.Lock()
	s.queue = entries
	s.mu.Unlock()
	return nil
}

// httpTransport is the default Transport, dispatching per-kind HTTP
// requests. Grounded on
// core/pkg/util/resiliency/client.go's EnhancedClient, simplified to a
// single attempt per call — retry policy lives in Service, not here.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds the default Transport with the given per-request
// timeout.
func NewHTTPTransport(timeout time.Duration) Transport {
	return &httpTransport{client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) Deliver(ctx context.Context, target contracts.SiemTarget, event contracts.SecurityEvent) error {
	body, contentType, headers, err := encodeForKind(target, event)
	if err != nil {
		return fmt.Errorf("siem: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("siem: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("siem: deliver to %s: %w", target.TargetID, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("siem: target %s responded %d", target.TargetID, resp.StatusCode)
	}
	return nil
}

// encodeForKind shapes the outbound payload and any extra headers the
// target kind requires.
func encodeForKind(target contracts.SiemTarget, event contracts.SecurityEvent) (body []byte, contentType string, headers map[string]string, err error) {
	switch target.Kind {
	case KindSplunkHEC:
		payload, err := json.Marshal(map[string]any{"event": event, "sourcetype": "oars:security_event"})
		if err != nil {
			return nil, "", nil, err
		}
		h := map[string]string{"Authorization": fmt.Sprintf("Splunk %s", target.HECToken)}
		return payload, "application/json", h, nil
	case KindDatadogLogs:
		payload, err := json.Marshal(map[string]any{
			"ddsource": "oars",
			"service":  "oars",
			"message":  event,
		})
		return payload, "application/json", nil, err
	case KindSentinelLogsAPI:
		payload, err := json.Marshal([]contracts.SecurityEvent{event})
		if err != nil {
			return nil, "", nil, err
		}
		h, err := sentinelHeaders(target, payload)
		if err != nil {
			return nil, "", nil, err
		}
		return payload, "application/json", h, nil
	default: // KindGenericWebhook and anything unrecognized
		payload, err := json.Marshal(event)
		return payload, "application/json", nil, err
	}
}

// sentinelHeaders computes the HMAC-SHA256 "SharedKey" authorization header
// Azure's Log Analytics Data Collector API requires: the signature covers
// "POST\n<contentLength>\napplication/json\nx-ms-date:<rfc1123Date>\n/api/logs",
// HMAC-SHA256'd with the base64-decoded workspace shared key.
func sentinelHeaders(target contracts.SiemTarget, body []byte) (map[string]string, error) {
	rfcDate := time.Now().UTC().Format(http.TimeFormat)
	stringToSign := fmt.Sprintf("POST\n%d\napplication/json\nx-ms-date:%s\n/api/logs", len(body), rfcDate)

	key, err := base64.StdEncoding.DecodeString(target.SharedKey)
	if err != nil {
		return nil, fmt.Errorf("decode shared key: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(stringToSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"Authorization": fmt.Sprintf("SharedKey %s:%s", target.WorkspaceID, sig),
		"x-ms-date":     rfcDate,
		"Log-Type":      "OARSSecurityEvent",
	}, nil
}
