// Package security implements the Security Event Service (L7): every
// admin mutation and Action/Approval/Receipt lifecycle transition is
// normalized into a contracts.SecurityEvent and fanned out to the
// platform store, the immutable ledger, a local file sink, and SIEM
// delivery. Grounded on core/pkg/audit/logger.go's Logger/StoreLogger
// split (a JSON-line file sink and a store-backed sink implementing the
// same narrow interface), generalized here into one Publish call that
// drives every sink instead of the teacher's either/or choice between
// them.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

// Store persists SecurityEvents for later query (evidence export, admin
// timelines).
type Store interface {
	PutEvent(ctx context.Context, event contracts.SecurityEvent) error
	ListEvents(ctx context.Context, tenantID string) ([]contracts.SecurityEvent, error)
}

// LedgerAppender records a SecurityEvent onto the tenant's immutable
// ledger. Kept to a single error return, matching pkg/receipt's own
// narrow LedgerAppender shape.
type LedgerAppender interface {
	Append(tenantID, entityType, entityID string, payload interface{}) error
}

// SiemDeliverer forwards a SecurityEvent to the tenant's configured SIEM
// targets. Satisfied by *pkg/siem.Service.
type SiemDeliverer interface {
	Deliver(ctx context.Context, tenantID string, event contracts.SecurityEvent) error
}

// AlertRouter matches a SecurityEvent against a tenant's configured
// AlertRoutingRules and fires any that apply. Satisfied by
// *pkg/admin.Service; nil disables alert routing.
type AlertRouter interface {
	RouteEvent(ctx context.Context, event contracts.SecurityEvent) error
}

// Service is the Security Event Service: the single Publish fan-out point
// every other service's narrow SecurityEventPublisher interface resolves
// to.
type Service struct {
	store  Store
	ledger LedgerAppender
	siem   SiemDeliverer
	alerts AlertRouter

	mu   sync.Mutex
	sink io.Writer
}

// NewService constructs the Security Event Service. sink receives one
// JSON line per event (os.Stdout if nil); ledger, siem, and alerts may be
// nil to omit that fan-out leg (e.g. in tests).
func NewService(store Store, ledger LedgerAppender, siem SiemDeliverer, alerts AlertRouter, sink io.Writer) *Service {
	if sink == nil {
		sink = os.Stdout
	}
	return &Service{store: store, ledger: ledger, siem: siem, alerts: alerts, sink: sink}
}

// Publish fans event out to the store, the immutable ledger, the file
// sink, SIEM delivery, and alert routing. A failure on any leg is
// collected and returned, but every other leg still runs — one sink
// outage must not silently drop the others.
func (s *Service) Publish(ctx context.Context, event contracts.SecurityEvent) error {
	var errs []error

	if s.store != nil {
		if err := s.store.PutEvent(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("security: store event: %w", err))
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Append(event.TenantID, "security_event", event.EventID, event); err != nil {
			errs = append(errs, fmt.Errorf("security: ledger append: %w", err))
		}
	}
	if err := s.writeSink(event); err != nil {
		errs = append(errs, fmt.Errorf("security: file sink: %w", err))
	}
	if s.siem != nil {
		if err := s.siem.Deliver(ctx, event.TenantID, event); err != nil {
			errs = append(errs, fmt.Errorf("security: siem deliver: %w", err))
		}
	}
	if s.alerts != nil {
		if err := s.alerts.RouteEvent(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("security: alert routing: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("security: %d of 5 sinks failed: %w", len(errs), errs[0])
}

func (s *Service) writeSink(event contracts.SecurityEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.sink.Write(append(line, '\n'))
	return err
}
