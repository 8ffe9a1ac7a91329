package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

type securityEventDoc struct {
	Events map[string][]contracts.SecurityEvent `json:"events"` // tenantId -> events, append-only
}

// FileSecurityEventStore implements pkg/security.Store over a single
// JSON file.
type FileSecurityEventStore struct {
	file *jsonFile[securityEventDoc]
}

func NewFileSecurityEventStore(path string) (*FileSecurityEventStore, error) {
	f, err := openJSONFile(path, securityEventDoc{Events: make(map[string][]contracts.SecurityEvent)})
	if err != nil {
		return nil, fmt.Errorf("store: open security event file: %w", err)
	}
	return &FileSecurityEventStore{file: f}, nil
}

func (s *FileSecurityEventStore) PutEvent(_ context.Context, event contracts.SecurityEvent) error {
	return s.file.withLock(true, func(d *securityEventDoc) {
		d.Events[event.TenantID] = append(d.Events[event.TenantID], event)
	})
}

func (s *FileSecurityEventStore) ListEvents(_ context.Context, tenantID string) ([]contracts.SecurityEvent, error) {
	var out []contracts.SecurityEvent
	_ = s.file.withLock(false, func(d *securityEventDoc) {
		out = append(out, d.Events[tenantID]...)
	})
	return out, nil
}
