package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type actionDoc struct {
	Actions map[string]map[string]*contracts.Action `json:"actions"` // tenantId -> actionId -> action
}

// FileActionStore implements pkg/action.Store over a single JSON file.
type FileActionStore struct {
	file *jsonFile[actionDoc]
}

func NewFileActionStore(path string) (*FileActionStore, error) {
	f, err := openJSONFile(path, actionDoc{Actions: make(map[string]map[string]*contracts.Action)})
	if err != nil {
		return nil, fmt.Errorf("store: open action file: %w", err)
	}
	return &FileActionStore{file: f}, nil
}

func (s *FileActionStore) PutAction(_ context.Context, a *contracts.Action) error {
	return s.file.withLock(true, func(d *actionDoc) {
		if d.Actions[a.TenantID] == nil {
			d.Actions[a.TenantID] = make(map[string]*contracts.Action)
		}
		cp := *a
		d.Actions[a.TenantID][a.ActionID] = &cp
	})
}

func (s *FileActionStore) GetAction(_ context.Context, tenantID, actionID string) (*contracts.Action, error) {
	var out *contracts.Action
	_ = s.file.withLock(false, func(d *actionDoc) {
		if a, ok := d.Actions[tenantID][actionID]; ok {
			cp := *a
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileActionStore) ListActions(_ context.Context, tenantID string) ([]*contracts.Action, error) {
	var out []*contracts.Action
	_ = s.file.withLock(false, func(d *actionDoc) {
		for _, a := range d.Actions[tenantID] {
			cp := *a
			out = append(out, &cp)
		}
	})
	return out, nil
}
