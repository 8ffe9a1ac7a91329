package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

type idempotencyDoc struct {
	Records map[string]*contracts.IdempotencyRecord `json:"records"` // compositeKey -> record
}

func idempotencyKey(l contracts.IdempotencyLookup) string {
	return l.TenantID + "\x00" + l.Subject + "\x00" + l.Endpoint + "\x00" + l.Key
}

// FileIdempotencyStore implements pkg/idempotency.Store over a JSON file.
type FileIdempotencyStore struct {
	file *jsonFile[idempotencyDoc]
}

func NewFileIdempotencyStore(path string) (*FileIdempotencyStore, error) {
	f, err := openJSONFile(path, idempotencyDoc{Records: make(map[string]*contracts.IdempotencyRecord)})
	if err != nil {
		return nil, fmt.Errorf("store: open idempotency file: %w", err)
	}
	return &FileIdempotencyStore{file: f}, nil
}

func (s *FileIdempotencyStore) Get(_ context.Context, lookup contracts.IdempotencyLookup) (*contracts.IdempotencyRecord, error) {
	var out *contracts.IdempotencyRecord
	_ = s.file.withLock(false, func(d *idempotencyDoc) {
		if r, ok := d.Records[idempotencyKey(lookup)]; ok {
			cp := *r
			out = &cp
		}
	})
	if out == nil {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

func (s *FileIdempotencyStore) Put(_ context.Context, record *contracts.IdempotencyRecord) error {
	return s.file.withLock(true, func(d *idempotencyDoc) {
		cp := *record
		d.Records[idempotencyKey(contracts.IdempotencyLookup{
			TenantID: record.TenantID, Subject: record.Subject, Endpoint: record.Endpoint, Key: record.Key,
		})] = &cp
	})
}

func (s *FileIdempotencyStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.file.withLock(true, func(d *idempotencyDoc) {
		for k, r := range d.Records {
			if r.CreatedAt.Before(cutoff) {
				delete(d.Records, k)
				n++
			}
		}
	})
	return n, err
}
