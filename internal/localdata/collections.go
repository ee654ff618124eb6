// Package localdata reads and writes the typed entity collections and streak
// state kept in the Local Store.
package localdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

// Load decodes the JSON array stored at key. A missing key yields an empty
// collection; an undecodable payload yields a *domain.ParseError.
func Load[T any](ctx context.Context, store localstore.Store, key string) ([]T, error) {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.ParseError{Key: key, Err: err}
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// Save encodes items as a JSON array at key.
func Save[T any](ctx context.Context, store localstore.Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(ctx, key, body); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LoadRecords loads an append-only collection and assigns stable ids to
// records that lack one.
func LoadRecords[T domain.Syncable[T]](ctx context.Context, store localstore.Store, kind domain.EntityKind) ([]T, error) {
	items, err := Load[T](ctx, store, kind.LocalKey())
	if err != nil {
		return nil, err
	}
	return domain.EnsureIDs(items), nil
}

// SaveRecords writes an append-only collection.
func SaveRecords[T domain.Syncable[T]](ctx context.Context, store localstore.Store, kind domain.EntityKind, items []T) error {
	return Save(ctx, store, kind.LocalKey(), items)
}

// LoadProfiles returns every locally stored profile.
func LoadProfiles(ctx context.Context, store localstore.Store) ([]domain.Profile, error) {
	return Load[domain.Profile](ctx, store, domain.KindProfile.LocalKey())
}

// SaveProfiles writes the profile collection.
func SaveProfiles(ctx context.Context, store localstore.Store, profiles []domain.Profile) error {
	return Save(ctx, store, domain.KindProfile.LocalKey(), profiles)
}

// ProfileFor returns the owner's local profile, if any.
func ProfileFor(ctx context.Context, store localstore.Store, owner domain.Owner) (*domain.Profile, error) {
	profiles, err := LoadProfiles(ctx, store)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].OwnerID == owner.Tag() {
			p := profiles[i]
			return &p, nil
		}
	}
	return nil, nil
}

// Partition splits records into those owned by owner and everything else.
func Partition[T domain.Syncable[T]](records []T, owner domain.Owner) (mine, others []T) {
	mine = make([]T, 0, len(records))
	others = make([]T, 0)
	for _, rec := range records {
		if rec.Meta().OwnerID == owner.Tag() {
			mine = append(mine, rec)
		} else {
			others = append(others, rec)
		}
	}
	return mine, others
}

// LoadStreak returns the owner's streak state, or a fresh one.
func LoadStreak(ctx context.Context, store localstore.Store, owner domain.Owner) (domain.StreakState, error) {
	key := domain.StreakKey(owner)
	raw, err := store.Get(ctx, key)
	if err != nil {
		return domain.StreakState{}, fmt.Errorf("read %s: %w", key, err)
	}
	state := domain.StreakState{OwnerID: owner.Tag(), Activities: map[string]domain.ActivityRecord{}}
	if len(raw) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.StreakState{}, &domain.ParseError{Key: key, Err: err}
	}
	if state.Activities == nil {
		state.Activities = map[string]domain.ActivityRecord{}
	}
	state.OwnerID = owner.Tag()
	return state, nil
}

// SaveStreak persists the owner's streak state.
func SaveStreak(ctx context.Context, store localstore.Store, owner domain.Owner, state domain.StreakState) error {
	state.OwnerID = owner.Tag()
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode streak: %w", err)
	}
	return store.Set(ctx, domain.StreakKey(owner), body)
}
