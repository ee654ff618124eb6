package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

// GuardKey is the local store key of the persisted session guard.
const GuardKey = "sync_guard"

const defaultGuardTTL = 10 * time.Minute

// ErrSessionInProgress is returned when another session holds the guard.
var ErrSessionInProgress = errors.New("sync session already in progress")

type guardRecord struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// sessionGuard allows at most one session per device. The in-process mutex
// covers concurrent callers; the persisted record covers other processes on
// the same device and expires so a crashed session cannot lock sync forever.
type sessionGuard struct {
	mu    sync.Mutex
	store localstore.Store
	clock domain.Clock
	ttl   time.Duration
}

// acquire takes the guard for sessionID. The returned release func must be
// called exactly once.
func (g *sessionGuard) acquire(ctx context.Context, sessionID string, owner domain.Owner) (func(context.Context) error, error) {
	if !g.mu.TryLock() {
		return nil, ErrSessionInProgress
	}

	now := g.clock.Now().UTC()
	raw, err := g.store.Get(ctx, GuardKey)
	if err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("read session guard: %w", err)
	}
	if len(raw) > 0 {
		var held guardRecord
		if err := json.Unmarshal(raw, &held); err == nil && held.SessionID != sessionID && now.Before(held.ExpiresAt) {
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionInProgress, held.SessionID)
		}
	}

	body, err := json.Marshal(guardRecord{
		SessionID:  sessionID,
		OwnerID:    owner.Tag(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(g.ttl),
	})
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	if err := g.store.Set(ctx, GuardKey, body); err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("write session guard: %w", err)
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			defer g.mu.Unlock()
			err = g.store.Remove(ctx, GuardKey)
		})
		return err
	}
	return release, nil
}
