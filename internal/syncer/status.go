package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

// Local store keys owned by the orchestrator.
const (
	StatusKey = "sync_status"
	ReportKey = "sync_report"
)

// statusTracker holds the observable SyncStatus and persists it after every
// mutation.
type statusTracker struct {
	mu     sync.RWMutex
	store  localstore.Store
	status domain.SyncStatus
	loaded bool
}

func newStatusTracker(store localstore.Store) *statusTracker {
	return &statusTracker{store: store, status: domain.SyncStatus{Entities: map[domain.EntityKind]domain.EntityCounters{}}}
}

// snapshot returns a copy of the current status, loading the persisted one
// on first use.
func (t *statusTracker) snapshot(ctx context.Context) (domain.SyncStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadLocked(ctx); err != nil {
		return domain.SyncStatus{}, err
	}
	return t.status.Clone(), nil
}

// update applies fn and persists the result.
func (t *statusTracker) update(ctx context.Context, fn func(*domain.SyncStatus)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.loadLocked(ctx); err != nil {
		return err
	}
	fn(&t.status)
	if t.status.Entities == nil {
		t.status.Entities = map[domain.EntityKind]domain.EntityCounters{}
	}
	body, err := json.Marshal(t.status)
	if err != nil {
		return fmt.Errorf("encode sync status: %w", err)
	}
	if err := t.store.Set(ctx, StatusKey, body); err != nil {
		return fmt.Errorf("persist sync status: %w", err)
	}
	return nil
}

func (t *statusTracker) loadLocked(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	raw, err := t.store.Get(ctx, StatusKey)
	if err != nil {
		return fmt.Errorf("read sync status: %w", err)
	}
	if len(raw) > 0 {
		var persisted domain.SyncStatus
		if err := json.Unmarshal(raw, &persisted); err != nil {
			return &domain.ParseError{Key: StatusKey, Err: err}
		}
		if persisted.Entities == nil {
			persisted.Entities = map[domain.EntityKind]domain.EntityCounters{}
		}
		t.status = persisted
	}
	t.loaded = true
	return nil
}
