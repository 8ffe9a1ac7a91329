// Package store holds the concrete persistence layer satisfying the
// narrow Store interfaces each service package defines
// (pkg/signingkey.Store, pkg/policy.Store, pkg/vault.Store,
// pkg/approval.Store, pkg/receipt.Store, pkg/backplane.Store,
// pkg/idempotency.Store, and the siem package's TargetStore/
// DeadLetterStore). Grounded on pkg/ledger.Service's
// whole-file-rewrite-under-mutex discipline (itself descended from the
// teacher's core/pkg/ledger in-memory model, reshaped onto disk), this
// package generalizes that single pattern into a shared generic helper
// every domain store builds on: load the whole JSON document at open,
// mutate the in-memory copy under a mutex, persist the whole document
// back via atomic temp-file-then-rename on every mutation. SQL-backed
// variants exist only for the receipt and backplane stores
// (postgres_*.go, sqlite_*.go); every other domain store is file-only.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// jsonFile is a generically-typed whole-document JSON file, guarded by a
// mutex and persisted atomically (write to a temp file, then rename).
type jsonFile[T any] struct {
	mu   sync.Mutex
	path string
	data T
}

func openJSONFile[T any](path string, zero T) (*jsonFile[T], error) {
	f := &jsonFile[T]{path: path, data: zero}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, err
	}
	return f, nil
}

// withLock runs fn with the file's mutex held and the in-memory document
// available for read or mutation, persisting afterward if mutate is true.
func (f *jsonFile[T]) withLock(mutate bool, fn func(*T)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.data)
	if !mutate {
		return nil
	}
	return f.persistLocked()
}

func (f *jsonFile[T]) persistLocked() error {
	if f.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
