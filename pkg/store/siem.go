package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

type siemDoc struct {
	Targets     map[string]*contracts.SiemTarget     `json:"targets"`     // targetId -> target
	DeadLetters map[string]*contracts.SiemDeadLetter `json:"deadLetters"` // id -> dead letter
}

// FileSiemStore implements both pkg/siem.TargetStore and
// pkg/siem.DeadLetterStore over a JSON file.
type FileSiemStore struct {
	file *jsonFile[siemDoc]
}

func NewFileSiemStore(path string) (*FileSiemStore, error) {
	f, err := openJSONFile(path, siemDoc{
		Targets:     make(map[string]*contracts.SiemTarget),
		DeadLetters: make(map[string]*contracts.SiemDeadLetter),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open siem file: %w", err)
	}
	return &FileSiemStore{file: f}, nil
}

// PutTarget configures (or replaces) a tenant's SIEM delivery target.
func (s *FileSiemStore) PutTarget(_ context.Context, t *contracts.SiemTarget) error {
	return s.file.withLock(true, func(d *siemDoc) {
		cp := *t
		d.Targets[t.TargetID] = &cp
	})
}

func (s *FileSiemStore) ListTargets(_ context.Context, tenantID string) ([]contracts.SiemTarget, error) {
	var out []contracts.SiemTarget
	_ = s.file.withLock(false, func(d *siemDoc) {
		for _, t := range d.Targets {
			if t.TenantID == tenantID {
				out = append(out, *t)
			}
		}
	})
	return out, nil
}

func (s *FileSiemStore) GetTarget(_ context.Context, tenantID, targetID string) (*contracts.SiemTarget, error) {
	var out *contracts.SiemTarget
	_ = s.file.withLock(false, func(d *siemDoc) {
		if t, ok := d.Targets[targetID]; ok && t.TenantID == tenantID {
			cp := *t
			out = &cp
		}
	})
	return out, nil
}

// GetTargetByID resolves a target across tenants, for the retry scheduler
// which only carries a bare targetID in its queue entries.
func (s *FileSiemStore) GetTargetByID(_ context.Context, targetID string) (*contracts.SiemTarget, error) {
	var out *contracts.SiemTarget
	_ = s.file.withLock(false, func(d *siemDoc) {
		if t, ok := d.Targets[targetID]; ok {
			cp := *t
			out = &cp
		}
	})
	return out, nil
}

func (s *FileSiemStore) PutDeadLetter(_ context.Context, dl *contracts.SiemDeadLetter) error {
	return s.file.withLock(true, func(d *siemDoc) {
		cp := *dl
		d.DeadLetters[dl.ID] = &cp
	})
}

func (s *FileSiemStore) ListDeadLetters(_ context.Context, tenantID string) ([]*contracts.SiemDeadLetter, error) {
	var out []*contracts.SiemDeadLetter
	_ = s.file.withLock(false, func(d *siemDoc) {
		for _, dl := range d.DeadLetters {
			if dl.TenantID == tenantID {
				cp := *dl
				out = append(out, &cp)
			}
		}
	})
	return out, nil
}

func (s *FileSiemStore) GetDeadLetter(_ context.Context, tenantID, id string) (*contracts.SiemDeadLetter, error) {
	var out *contracts.SiemDeadLetter
	_ = s.file.withLock(false, func(d *siemDoc) {
		if dl, ok := d.DeadLetters[id]; ok && dl.TenantID == tenantID {
			cp := *dl
			out = &cp
		}
	})
	return out, nil
}

func (s *FileSiemStore) ResolveDeadLetter(_ context.Context, tenantID, id string, at time.Time) error {
	return s.file.withLock(true, func(d *siemDoc) {
		if dl, ok := d.DeadLetters[id]; ok && dl.TenantID == tenantID {
			dl.Status = contracts.SiemDeadLetterResolved
			dl.UpdatedAt = at
		}
	})
}

func (s *FileSiemStore) MarkDeadLetterReplayed(_ context.Context, tenantID, id string, at time.Time) error {
	return s.file.withLock(true, func(d *siemDoc) {
		if dl, ok := d.DeadLetters[id]; ok && dl.TenantID == tenantID {
			dl.ReplayCount++
			dl.Status = contracts.SiemDeadLetterReplayed
			dl.UpdatedAt = at
		}
	})
}
