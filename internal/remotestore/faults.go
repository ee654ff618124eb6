package remotestore

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is the error returned by operations failed through Faults.
var ErrInjected = errors.New("injected remote failure")

// Faults wraps a Store and fails selected operations per table. It lets
// callers rehearse partial outages against a healthy backend.
type Faults struct {
	Store

	mu      sync.Mutex
	queries map[string]error
	upserts map[string]error
}

// WithFaults wraps store.
func WithFaults(store Store) *Faults {
	return &Faults{Store: store, queries: map[string]error{}, upserts: map[string]error{}}
}

// FailQuery makes queries against table return err (ErrInjected when nil).
func (f *Faults) FailQuery(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.queries[table] = err
}

// FailUpsert makes upserts against table return err (ErrInjected when nil).
func (f *Faults) FailUpsert(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.upserts[table] = err
}

// Heal clears every injected failure.
func (f *Faults) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = map[string]error{}
	f.upserts = map[string]error{}
}

// Query implements Store.
func (f *Faults) Query(ctx context.Context, table string, filter Filter) ([]Row, error) {
	f.mu.Lock()
	err := f.queries[table]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Store.Query(ctx, table, filter)
}

// Upsert implements Store.
func (f *Faults) Upsert(ctx context.Context, table string, rows []Row, conflictKeys []string) error {
	f.mu.Lock()
	err := f.upserts[table]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Upsert(ctx, table, rows, conflictKeys)
}
