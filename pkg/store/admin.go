package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

type adminDoc struct {
	AlertRules      map[string]map[string]*contracts.AlertRoutingRule `json:"alertRules"`      // tenantId -> ruleId -> rule
	Alerts          map[string][]*contracts.Alert                     `json:"alerts"`          // tenantId -> alerts, append-only
	ControlMappings map[string]map[string]*contracts.ControlMapping   `json:"controlMappings"` // tenantId -> controlId -> mapping
	BackupManifests map[string][]*contracts.BackupManifest            `json:"backupManifests"` // tenantId -> manifests, append-only
	TenantMembers   map[string]map[string]*contracts.TenantMember     `json:"tenantMembers"`   // tenantId -> userId -> member
}

// FileAdminStore implements pkg/admin.Store over a single JSON file.
type FileAdminStore struct {
	file *jsonFile[adminDoc]
}

func NewFileAdminStore(path string) (*FileAdminStore, error) {
	f, err := openJSONFile(path, adminDoc{
		AlertRules:      make(map[string]map[string]*contracts.AlertRoutingRule),
		Alerts:          make(map[string][]*contracts.Alert),
		ControlMappings: make(map[string]map[string]*contracts.ControlMapping),
		BackupManifests: make(map[string][]*contracts.BackupManifest),
		TenantMembers:   make(map[string]map[string]*contracts.TenantMember),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open admin file: %w", err)
	}
	return &FileAdminStore{file: f}, nil
}

func (s *FileAdminStore) PutAlertRule(_ context.Context, rule *contracts.AlertRoutingRule) error {
	return s.file.withLock(true, func(d *adminDoc) {
		if d.AlertRules[rule.TenantID] == nil {
			d.AlertRules[rule.TenantID] = make(map[string]*contracts.AlertRoutingRule)
		}
		cp := *rule
		d.AlertRules[rule.TenantID][rule.RuleID] = &cp
	})
}

func (s *FileAdminStore) ListAlertRules(_ context.Context, tenantID string) ([]*contracts.AlertRoutingRule, error) {
	var out []*contracts.AlertRoutingRule
	_ = s.file.withLock(false, func(d *adminDoc) {
		for _, r := range d.AlertRules[tenantID] {
			cp := *r
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (s *FileAdminStore) PutAlert(_ context.Context, alert *contracts.Alert) error {
	return s.file.withLock(true, func(d *adminDoc) {
		d.Alerts[alert.TenantID] = append(d.Alerts[alert.TenantID], alert)
	})
}

func (s *FileAdminStore) ListAlerts(_ context.Context, tenantID string) ([]*contracts.Alert, error) {
	var out []*contracts.Alert
	_ = s.file.withLock(false, func(d *adminDoc) {
		out = append(out, d.Alerts[tenantID]...)
	})
	return out, nil
}

func (s *FileAdminStore) PutControlMapping(_ context.Context, m *contracts.ControlMapping) error {
	return s.file.withLock(true, func(d *adminDoc) {
		if d.ControlMappings[m.TenantID] == nil {
			d.ControlMappings[m.TenantID] = make(map[string]*contracts.ControlMapping)
		}
		cp := *m
		d.ControlMappings[m.TenantID][m.ControlID] = &cp
	})
}

func (s *FileAdminStore) ListControlMappings(_ context.Context, tenantID string) ([]*contracts.ControlMapping, error) {
	var out []*contracts.ControlMapping
	_ = s.file.withLock(false, func(d *adminDoc) {
		for _, m := range d.ControlMappings[tenantID] {
			cp := *m
			out = append(out, &cp)
		}
	})
	return out, nil
}

func (s *FileAdminStore) PutBackupManifest(_ context.Context, m *contracts.BackupManifest) error {
	return s.file.withLock(true, func(d *adminDoc) {
		d.BackupManifests[m.TenantID] = append(d.BackupManifests[m.TenantID], m)
	})
}

func (s *FileAdminStore) ListBackupManifests(_ context.Context, tenantID string) ([]*contracts.BackupManifest, error) {
	var out []*contracts.BackupManifest
	_ = s.file.withLock(false, func(d *adminDoc) {
		out = append(out, d.BackupManifests[tenantID]...)
	})
	return out, nil
}

func (s *FileAdminStore) PutTenantMember(_ context.Context, m *contracts.TenantMember) error {
	return s.file.withLock(true, func(d *adminDoc) {
		if d.TenantMembers[m.TenantID] == nil {
			d.TenantMembers[m.TenantID] = make(map[string]*contracts.TenantMember)
		}
		cp := *m
		d.TenantMembers[m.TenantID][m.UserID] = &cp
	})
}

func (s *FileAdminStore) ListTenantMembers(_ context.Context, tenantID string) ([]*contracts.TenantMember, error) {
	var out []*contracts.TenantMember
	_ = s.file.withLock(false, func(d *adminDoc) {
		for _, m := range d.TenantMembers[tenantID] {
			cp := *m
			out = append(out, &cp)
		}
	})
	return out, nil
}
