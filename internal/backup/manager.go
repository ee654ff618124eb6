// Package backup snapshots the device's local data before a sync session and
// restores it when the session fails catastrophically.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/observability"
)

// KeyPrefix prefixes every snapshot key in the Local Store.
const KeyPrefix = "backup:"

const (
	defaultMaxSnapshots = 5
	defaultMaxAge       = 7 * 24 * time.Hour
)

// ErrSnapshotNotFound is returned when restoring a session without a snapshot.
var ErrSnapshotNotFound = errors.New("backup snapshot not found")

// CoveredPrefixes are the local key prefixes a snapshot captures and restores.
var CoveredPrefixes = []string{domain.LocalDataPrefix, "streak:"}

// Snapshot is a timestamped copy of the covered local keys.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	CreatedAt time.Time         `json:"created_at"`
	Entries   map[string][]byte `json:"entries"`
}

// Info describes a stored snapshot.
type Info struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Keys      int       `json:"keys"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the clock used to timestamp snapshots.
func WithClock(clock domain.Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithRetention bounds how many snapshots are kept and for how long.
// Non-positive values keep the defaults.
func WithRetention(maxSnapshots int, maxAge time.Duration) Option {
	return func(m *Manager) {
		if maxSnapshots > 0 {
			m.maxSnapshots = maxSnapshots
		}
		if maxAge > 0 {
			m.maxAge = maxAge
		}
	}
}

// Manager creates, restores and prunes snapshots.
type Manager struct {
	store        localstore.Store
	logger       *zap.Logger
	clock        domain.Clock
	maxSnapshots int
	maxAge       time.Duration
}

// NewManager constructs a Manager over store.
func NewManager(store localstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		logger:       zap.NewNop(),
		clock:        domain.SystemClock,
		maxSnapshots: defaultMaxSnapshots,
		maxAge:       defaultMaxAge,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot captures the covered local keys under sessionID, then applies the
// retention policy. A retention failure is logged and does not fail the
// snapshot.
func (m *Manager) Snapshot(ctx context.Context, sessionID string) (info Info, err error) {
	defer func() { observability.RecordBackup("snapshot", err) }()

	keys, err := m.coveredKeys(ctx)
	if err != nil {
		return Info{}, err
	}
	snap := Snapshot{
		SessionID: sessionID,
		CreatedAt: m.clock.Now().UTC(),
		Entries:   make(map[string][]byte, len(keys)),
	}
	for _, key := range keys {
		value, err := m.store.Get(ctx, key)
		if err != nil {
			return Info{}, fmt.Errorf("snapshot %s: %w", key, err)
		}
		if value != nil {
			snap.Entries[key] = value
		}
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := m.store.Set(ctx, KeyPrefix+sessionID, body); err != nil {
		return Info{}, fmt.Errorf("store snapshot: %w", err)
	}

	if removed, err := m.Prune(ctx, sessionID); err != nil {
		m.logger.Warn("snapshot retention failed", zap.String("session_id", sessionID), zap.Error(err))
	} else if len(removed) > 0 {
		m.logger.Debug("pruned snapshots", zap.Strings("session_ids", removed))
	}

	return Info{SessionID: sessionID, CreatedAt: snap.CreatedAt, Keys: len(snap.Entries)}, nil
}

// Restore overwrites the covered local keys with the snapshot of sessionID and
// removes covered keys created after it, so the result matches the
// pre-session content byte for byte. Every key is attempted; failures are
// joined.
func (m *Manager) Restore(ctx context.Context, sessionID string) (err error) {
	defer func() { observability.RecordBackup("restore", err) }()

	snap, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}

	var errs []error
	keys := make([]string, 0, len(snap.Entries))
	for key := range snap.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.store.Set(ctx, key, snap.Entries[key]); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", key, err))
		}
	}

	current, err := m.coveredKeys(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, key := range current {
		if _, ok := snap.Entries[key]; ok {
			continue
		}
		if err := m.store.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	snaps, err := m.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, Info{SessionID: snap.SessionID, CreatedAt: snap.CreatedAt, Keys: len(snap.Entries)})
	}
	return out, nil
}

// Prune removes snapshots beyond the retention count or older than the
// maximum age. The snapshot of keepSessionID is never removed. Undecodable
// snapshot payloads are removed as well.
func (m *Manager) Prune(ctx context.Context, keepSessionID string) (removed []string, err error) {
	defer func() { observability.RecordBackup("prune", err) }()

	keys, err := localstore.KeysWithPrefix(ctx, m.store, KeyPrefix)
	if err != nil {
		return nil, err
	}

	type entry struct {
		sessionID string
		createdAt time.Time
	}
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		sessionID := strings.TrimPrefix(key, KeyPrefix)
		snap, err := m.load(ctx, sessionID)
		if err != nil {
			var parseErr *domain.ParseError
			if errors.As(err, &parseErr) && sessionID != keepSessionID {
				if err := m.store.Remove(ctx, key); err != nil {
					return removed, err
				}
				removed = append(removed, sessionID)
				continue
			}
			return removed, err
		}
		entries = append(entries, entry{sessionID: sessionID, createdAt: snap.CreatedAt})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].createdAt.After(entries[j].createdAt)
	})

	cutoff := m.clock.Now().Add(-m.maxAge)
	kept := 0
	for _, e := range entries {
		if e.sessionID == keepSessionID {
			kept++
			continue
		}
		if kept < m.maxSnapshots && !e.createdAt.Before(cutoff) {
			kept++
			continue
		}
		if err := m.store.Remove(ctx, KeyPrefix+e.sessionID); err != nil {
			return removed, fmt.Errorf("remove snapshot %s: %w", e.sessionID, err)
		}
		removed = append(removed, e.sessionID)
	}
	return removed, nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (Snapshot, error) {
	key := KeyPrefix + sessionID
	raw, err := m.store.Get(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if raw == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, &domain.ParseError{Key: key, Err: err}
	}
	if snap.Entries == nil {
		snap.Entries = map[string][]byte{}
	}
	return snap, nil
}

func (m *Manager) all(ctx context.Context) ([]Snapshot, error) {
	keys, err := localstore.KeysWithPrefix(ctx, m.store, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := m.load(ctx, strings.TrimPrefix(key, KeyPrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Manager) coveredKeys(ctx context.Context) ([]string, error) {
	var out []string
	for _, prefix := range CoveredPrefixes {
		keys, err := localstore.KeysWithPrefix(ctx, m.store, prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
	}
	return out, nil
}
