package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"

	_ "modernc.org/sqlite"
)

// SQLiteReceiptStore is the embeddable, single-binary sibling of
// PostgresReceiptStore: same schema and JSON-column shape, `?` placeholders
// instead of `$N`, used by tests that want SQL-backend semantics without
// a running Postgres server; cmd/oars does not select it.
// Grounded on core/pkg/store/receipt_store_sqlite.go's migrate/queryOne
// pattern.
type SQLiteReceiptStore struct {
	db *sql.DB
}

func NewSQLiteReceiptStore(db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migrate sqlite receipts: %w", err)
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	receipt_id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	type TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	resource TEXT NOT NULL,
	actor TEXT NOT NULL,
	policy TEXT NOT NULL,
	risk TEXT NOT NULL,
	previous_receipt_id TEXT,
	integrity TEXT NOT NULL
);`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteReceiptStore) PutReceipt(ctx context.Context, r *contracts.Receipt) error {
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
INSERT OR IGNORE INTO receipts (receipt_id, action_id, tenant_id, type, timestamp, schema_version, resource, actor, policy, risk, previous_receipt_id, integrity)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		r.ReceiptID, r.ActionID, r.TenantID, string(r.Type), r.Timestamp.Format(timeLayout), r.SchemaVersion,
		string(resource), string(actor), string(policy), string(risk), r.PreviousReceiptID, string(integrity),
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) GetReceipt(ctx context.Context, tenantID, receiptID string) (*contracts.Receipt, error) {
	const query = `
SELECT receipt_id, action_id, tenant_id, type, timestamp, schema_version, resource, actor, policy, risk, previous_receipt_id, integrity
FROM receipts WHERE tenant_id = ? AND receipt_id = ?`
	return scanReceiptRowSQLite(s.db.QueryRowContext(ctx, query, tenantID, receiptID))
}

func (s *SQLiteReceiptStore) ListReceiptsForAction(ctx context.Context, tenantID, actionID string) ([]*contracts.Receipt, error) {
	const query = `
SELECT receipt_id, action_id, tenant_id, type, timestamp, schema_version, resource, actor, policy, risk, previous_receipt_id, integrity
FROM receipts WHERE tenant_id = ? AND action_id = ? ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID, actionID)
	if err != nil {
		return nil, fmt.Errorf("store: query receipts for action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Receipt
	for rows.Next() {
		r, err := scanReceiptGenericSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseReceiptTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

func scanReceiptRowSQLite(row *sql.Row) (*contracts.Receipt, error) {
	return scanReceiptGenericSQLite(row)
}

func scanReceiptGenericSQLite(scanner sqlRowScanner) (*contracts.Receipt, error) {
	var (
		r                 contracts.Receipt
		typ               string
		timestamp         string
		resource          string
		actor             string
		policy            string
		risk              string
		integrity         string
		previousReceiptID sql.NullString
	)
	err := scanner.Scan(&r.ReceiptID, &r.ActionID, &r.TenantID, &typ, &timestamp, &r.SchemaVersion,
		&resource, &actor, &policy, &risk, &previousReceiptID, &integrity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan receipt: %w", err)
	}
	r.Type = contracts.ReceiptType(typ)
	if t, perr := parseReceiptTime(timestamp); perr == nil {
		r.Timestamp = t
	}
	if previousReceiptID.Valid {
		id := previousReceiptID.String
		r.PreviousReceiptID = &id
	}
	if err := json.Unmarshal([]byte(resource), &r.Resource); err != nil {
		return nil, fmt.Errorf("store: unmarshal resource: %w", err)
	}
	if err := json.Unmarshal([]byte(actor), &r.Actor); err != nil {
		return nil, fmt.Errorf("store: unmarshal actor: %w", err)
	}
	if err := json.Unmarshal([]byte(policy), &r.Policy); err != nil {
		return nil, fmt.Errorf("store: unmarshal policy: %w", err)
	}
	if err := json.Unmarshal([]byte(risk), &r.Risk); err != nil {
		return nil, fmt.Errorf("store: unmarshal risk: %w", err)
	}
	if err := json.Unmarshal([]byte(integrity), &r.Integrity); err != nil {
		return nil, fmt.Errorf("store: unmarshal integrity: %w", err)
	}
	return &r, nil
}
