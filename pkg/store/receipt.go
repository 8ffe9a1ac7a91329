package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type receiptDoc struct {
	Receipts map[string]map[string]*contracts.Receipt `json:"receipts"` // tenantId -> receiptId -> receipt
}

// FileReceiptStore implements pkg/receipt.Store over a JSON file.
type FileReceiptStore struct {
	file *jsonFile[receiptDoc]
}

func NewFileReceiptStore(path string) (*FileReceiptStore, error) {
	f, err := openJSONFile(path, receiptDoc{Receipts: make(map[string]map[string]*contracts.Receipt)})
	if err != nil {
		return nil, fmt.Errorf("store: open receipt file: %w", err)
	}
	return &FileReceiptStore{file: f}, nil
}

func (s *FileReceiptStore) PutReceipt(_ context.Context, r *contracts.Receipt) error {
	return s.file.withLock(true, func(d *receiptDoc) {
		if d.Receipts[r.TenantID] == nil {
			d.Receipts[r.TenantID] = make(map[string]*contracts.Receipt)
		}
		cp := *r
		d.Receipts[r.TenantID][r.ReceiptID] = &cp
	})
}

func (s *FileReceiptStore) GetReceipt(_ context.Context, tenantID, receiptID string) (*contracts.Receipt, error) {
	var out *contracts.Receipt
	_ = s.file.withLock(false, func(d *receiptDoc) {
		if r, ok := d.Receipts[tenantID][receiptID]; ok {
			cp := *r
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileReceiptStore) ListReceiptsForAction(_ context.Context, tenantID, actionID string) ([]*contracts.Receipt, error) {
	var out []*contracts.Receipt
	_ = s.file.withLock(false, func(d *receiptDoc) {
		for _, r := range d.Receipts[tenantID] {
			if r.ActionID == actionID {
				cp := *r
				out = append(out, &cp)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
