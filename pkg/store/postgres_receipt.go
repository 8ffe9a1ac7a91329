package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"

	_ "github.com/lib/pq"
)

// PostgresReceiptStore is the multi-instance-safe ReceiptStore variant for
// deployments that run the platform store on Postgres rather than the
// single-process file backend. Grounded on the upsert/queryOne shape of
// core/pkg/store/receipt_store.go's PostgresReceiptStore, generalized from
// that file's flat decision/effect columns to this tenant's Receipt
// contract (resource/actor/policy/risk/integrity serialized as JSON
// columns rather than split across dozens of scalar columns, since those
// substructures have no independent query needs here).
type PostgresReceiptStore struct {
	db *sql.DB
}

// NewPostgresReceiptStore wraps an already-opened *sql.DB (driver
// "postgres") and ensures the receipts table exists.
func NewPostgresReceiptStore(db *sql.DB) (*PostgresReceiptStore, error) {
	s := &PostgresReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate postgres receipts: %w", err)
	}
	return s, nil
}

func (s *PostgresReceiptStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	type TEXT NOT NULL,
	"timestamp" TIMESTAMPTZ NOT NULL,
	schema_version TEXT NOT NULL,
	resource JSONB NOT NULL,
	actor JSONB NOT NULL,
	policy JSONB NOT NULL,
	risk JSONB NOT NULL,
	previous_receipt_id TEXT,
	integrity JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_tenant_action ON receipts (tenant_id, action_id, "timestamp");
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresReceiptStore) PutReceipt(ctx context.Context, r *contracts.Receipt) error {
	resource, err := json.Marshal(r.Resource)
	if err != nil {
		return fmt.Errorf("store: marshal resource: %w", err)
	}
	actor, err := json.Marshal(r.Actor)
	if err != nil {
		return fmt.Errorf("store: marshal actor: %w", err)
	}
	policy, err := json.Marshal(r.Policy)
	if err != nil {
		return fmt.Errorf("store: marshal policy: %w", err)
	}
	risk, err := json.Marshal(r.Risk)
	if err != nil {
		return fmt.Errorf("store: marshal risk: %w", err)
	}
	integrity, err := json.Marshal(r.Integrity)
	if err != nil {
		return fmt.Errorf("store: marshal integrity: %w", err)
	}

	const query = `
INSERT INTO receipts (receipt_id, action_id, tenant_id, type, "timestamp", schema_version, resource, actor, policy, risk, previous_receipt_id, integrity)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (receipt_id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		r.ReceiptID, r.ActionID, r.TenantID, string(r.Type), r.Timestamp, r.SchemaVersion,
		resource, actor, policy, risk, r.PreviousReceiptID, integrity,
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) GetReceipt(ctx context.Context, tenantID, receiptID string) (*contracts.Receipt, error) {
	const query = `
SELECT receipt_id, action_id, tenant_id, type, "timestamp", schema_version, resource, actor, policy, risk, previous_receipt_id, integrity
FROM receipts WHERE tenant_id = $1 AND receipt_id = $2`
	return scanReceiptRowSQL(s.db.QueryRowContext(ctx, query, tenantID, receiptID))
}

func (s *PostgresReceiptStore) ListReceiptsForAction(ctx context.Context, tenantID, actionID string) ([]*contracts.Receipt, error) {
	const query = `
SELECT receipt_id, action_id, tenant_id, type, "timestamp", schema_version, resource, actor, policy, risk, previous_receipt_id, integrity
FROM receipts WHERE tenant_id = $1 AND action_id = $2 ORDER BY "timestamp" ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID, actionID)
	if err != nil {
		return nil, fmt.Errorf("store: query receipts for action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Receipt
	for rows.Next() {
		r, err := scanReceiptRowsSQL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// sqlRowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanReceiptRowSQL serve the single-row and multi-row query paths.
type sqlRowScanner interface {
	Scan(dest ...any) error
}

func scanReceiptRowSQL(row *sql.Row) (*contracts.Receipt, error) {
	return scanReceiptGeneric(row)
}

func scanReceiptRowsSQL(rows *sql.Rows) (*contracts.Receipt, error) {
	return scanReceiptGeneric(rows)
}

func scanReceiptGeneric(scanner sqlRowScanner) (*contracts.Receipt, error) {
	var (
		r                 contracts.Receipt
		typ               string
		resource          []byte
		actor             []byte
		policy            []byte
		risk              []byte
		integrity         []byte
		previousReceiptID sql.NullString
	)
	err := scanner.Scan(&r.ReceiptID, &r.ActionID, &r.TenantID, &typ, &r.Timestamp, &r.SchemaVersion,
		&resource, &actor, &policy, &risk, &previousReceiptID, &integrity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan receipt: %w", err)
	}
	r.Type = contracts.ReceiptType(typ)
	if previousReceiptID.Valid {
		id := previousReceiptID.String
		r.PreviousReceiptID = &id
	}
	if err := json.Unmarshal(resource, &r.Resource); err != nil {
		return nil, fmt.Errorf("store: unmarshal resource: %w", err)
	}
	if err := json.Unmarshal(actor, &r.Actor); err != nil {
		return nil, fmt.Errorf("store: unmarshal actor: %w", err)
	}
	if err := json.Unmarshal(policy, &r.Policy); err != nil {
		return nil, fmt.Errorf("store: unmarshal policy: %w", err)
	}
	if err := json.Unmarshal(risk, &r.Risk); err != nil {
		return nil, fmt.Errorf("store: unmarshal risk: %w", err)
	}
	if err := json.Unmarshal(integrity, &r.Integrity); err != nil {
		return nil, fmt.Errorf("store: unmarshal integrity: %w", err)
	}
	return &r, nil
}
