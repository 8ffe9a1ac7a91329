// Package admin hosts the L15 administrative surfaces spec.md §2 names
// that aren't large enough to warrant their own package: alert routing
// over SecurityEvents, the compliance control-mapping crosswalk, the
// Backup/DR manifest, and SCIM-shaped tenant membership CRUD. Grounded on
// core/pkg/compliance (controls crosswalk naming), core/pkg/database/
// multiregion.go's region/backup bookkeeping idiom (adapted here from
// multi-region failover metadata to a single deterministic backup
// manifest), and core/pkg/identity/scim.go's flat CRUD shape (adapted to
// this module's data-holding-only ScimUser/ScimGroup, since live SCIM
// protocol serving is out of scope per spec.md §1).
package admin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/google/uuid"
)

// Store persists every admin-surface entity.
type Store interface {
	PutAlertRule(ctx context.Context, rule *contracts.AlertRoutingRule) error
	ListAlertRules(ctx context.Context, tenantID string) ([]*contracts.AlertRoutingRule, error)
	PutAlert(ctx context.Context, alert *contracts.Alert) error
	ListAlerts(ctx context.Context, tenantID string) ([]*contracts.Alert, error)

	PutControlMapping(ctx context.Context, m *contracts.ControlMapping) error
	ListControlMappings(ctx context.Context, tenantID string) ([]*contracts.ControlMapping, error)

	PutBackupManifest(ctx context.Context, m *contracts.BackupManifest) error
	ListBackupManifests(ctx context.Context, tenantID string) ([]*contracts.BackupManifest, error)

	PutTenantMember(ctx context.Context, m *contracts.TenantMember) error
	ListTenantMembers(ctx context.Context, tenantID string) ([]*contracts.TenantMember, error)
}

// severityRank orders SecurityEvent.Severity for AlertRoutingRule.MinSeverity
// comparisons. Unknown severities rank below "low".
var severityRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// Service implements the alert routing, compliance crosswalk, backup
// manifest, and tenant membership admin surfaces.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, clock: clock}
}

// PutAlertRule configures (or replaces) one routing rule for a tenant.
func (s *Service) PutAlertRule(ctx context.Context, rule *contracts.AlertRoutingRule) error {
	if rule.RuleID == "" {
		rule.RuleID = "rule_" + uuid.NewString()
	}
	return s.store.PutAlertRule(ctx, rule)
}

// RouteEvent matches event against tenantID's configured AlertRoutingRules
// and records an Alert for each rule whose category matches and whose
// MinSeverity the event's severity meets or exceeds. Satisfies
// pkg/security.AlertRouter.
func (s *Service) RouteEvent(ctx context.Context, event contracts.SecurityEvent) error {
	rules, err := s.store.ListAlertRules(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("admin: list alert rules: %w", err)
	}
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.Category != "" && !strings.EqualFold(rule.Category, event.Category) {
			continue
		}
		if severityRank[strings.ToLower(event.Severity)] < severityRank[strings.ToLower(rule.MinSeverity)] {
			continue
		}
		alert := &contracts.Alert{
			AlertID:  "alert_" + uuid.NewString(),
			TenantID: event.TenantID,
			RuleID:   rule.RuleID,
			EventID:  event.EventID,
			FiredAt:  s.clock(),
		}
		if err := s.store.PutAlert(ctx, alert); err != nil {
			return fmt.Errorf("admin: put alert: %w", err)
		}
	}
	return nil
}

// ListAlerts returns every fired alert for a tenant, most recent last.
func (s *Service) ListAlerts(ctx context.Context, tenantID string) ([]*contracts.Alert, error) {
	return s.store.ListAlerts(ctx, tenantID)
}

// PutControlMapping records (or replaces) a compliance control citation.
func (s *Service) PutControlMapping(ctx context.Context, m *contracts.ControlMapping) error {
	return s.store.PutControlMapping(ctx, m)
}

// ListControlMappings returns the compliance crosswalk for a tenant.
func (s *Service) ListControlMappings(ctx context.Context, tenantID string) ([]*contracts.ControlMapping, error) {
	return s.store.ListControlMappings(ctx, tenantID)
}

// ContentHasher reads a source (the store file, the ledger file) and
// returns its content for manifest hashing. Satisfied by a plain
// os.ReadFile-backed reader; kept as an interface so tests can supply
// in-memory content instead of real files.
type ContentHasher interface {
	ReadAll(source string) ([]byte, error)
}

// RunBackup hashes each (source, path) pair via hasher, in source-name
// order, and records a
// BackupManifest, the way multi-region failover metadata in
// core/pkg/database/multiregion.go snapshots a region's state for
// recovery bookkeeping, adapted here to a single local backup record
// rather than live region routing.
func (s *Service) RunBackup(ctx context.Context, tenantID string, sources map[string]string, hasher ContentHasher) (*contracts.BackupManifest, error) {
	started := s.clock()
	manifest := &contracts.BackupManifest{
		BackupID:  "bkp_" + uuid.NewString(),
		TenantID:  tenantID,
		StartedAt: started,
	}

	names := make([]string, 0, len(sources))
	for source := range sources {
		names = append(names, source)
	}
	sort.Strings(names)

	var entryCount int
	hash := sha256.New()
	for _, source := range names {
		path := sources[source]
		data, err := hasher.ReadAll(path)
		if err != nil {
			return nil, fmt.Errorf("admin: read backup source %s: %w", source, err)
		}
		hash.Write(data)
		manifest.Source += source + ";"
		manifest.ArchivePath += path + ";"
		entryCount++
	}
	manifest.EntryCount = entryCount
	manifest.Checksum = hex.EncodeToString(hash.Sum(nil))
	manifest.CompletedAt = s.clock()

	if err := s.store.PutBackupManifest(ctx, manifest); err != nil {
		return nil, fmt.Errorf("admin: put backup manifest: %w", err)
	}
	return manifest, nil
}

// ListBackupManifests returns every recorded backup run for a tenant.
func (s *Service) ListBackupManifests(ctx context.Context, tenantID string) ([]*contracts.BackupManifest, error) {
	return s.store.ListBackupManifests(ctx, tenantID)
}

// PutTenantMember adds or updates a human member's role within a tenant.
func (s *Service) PutTenantMember(ctx context.Context, m *contracts.TenantMember) error {
	return s.store.PutTenantMember(ctx, m)
}

// ListTenantMembers returns a tenant's membership roster.
func (s *Service) ListTenantMembers(ctx context.Context, tenantID string) ([]*contracts.TenantMember, error) {
	return s.store.ListTenantMembers(ctx, tenantID)
}

// ScimUserFromMember adapts a TenantMember into the SCIM 2.0 User shape
// spec.md §2 L15 names as a provisioning surface, per SPEC_FULL.md's
// "data-holding CRUD, no live SCIM protocol" scope.
func ScimUserFromMember(m *contracts.TenantMember) contracts.ScimUser {
	return contracts.ScimUser{
		ID:       m.UserID,
		TenantID: m.TenantID,
		UserName: m.Email,
		Emails:   []string{m.Email},
		Active:   m.Active,
	}
}
