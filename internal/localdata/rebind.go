package localdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/merge"
)

// RebindResult counts records moved from placeholder owners to the bound owner.
type RebindResult struct {
	Records map[domain.EntityKind]int `json:"records"`
	Streak  bool                      `json:"streak"`
}

// Total returns the number of rebound records across kinds.
func (r RebindResult) Total() int {
	total := 0
	for _, n := range r.Records {
		total += n
	}
	return total
}

type pendingWrite struct {
	key  string
	body []byte
}

// Rebind rewrites every local record and the streak state owned by a
// placeholder tag so they belong to owner. All collections are decoded before
// anything is written; a corrupt payload aborts the rebind untouched.
func Rebind(ctx context.Context, store localstore.Store, owner domain.Owner) (RebindResult, error) {
	result := RebindResult{Records: map[domain.EntityKind]int{}}
	if !owner.IsBound() {
		return result, domain.ErrUnauthenticated
	}

	var writes []pendingWrite

	profiles, err := LoadProfiles(ctx, store)
	if err != nil {
		return result, err
	}
	if n, rebound := rebindProfiles(profiles, owner); n > 0 {
		body, err := json.Marshal(rebound)
		if err != nil {
			return result, fmt.Errorf("encode profiles: %w", err)
		}
		writes = append(writes, pendingWrite{key: domain.KindProfile.LocalKey(), body: body})
		result.Records[domain.KindProfile] = n
	}

	if err := stageRecords[domain.WorkoutCompletion](ctx, store, domain.KindWorkout, owner, &writes, result.Records); err != nil {
		return result, err
	}
	if err := stageRecords[domain.MealCompletion](ctx, store, domain.KindMeal, owner, &writes, result.Records); err != nil {
		return result, err
	}
	if err := stageRecords[domain.BodyMetric](ctx, store, domain.KindBodyMetric, owner, &writes, result.Records); err != nil {
		return result, err
	}

	anonRaw, err := store.Get(ctx, domain.StreakKey(domain.Anonymous()))
	if err != nil {
		return result, fmt.Errorf("read anonymous streak: %w", err)
	}
	if len(anonRaw) > 0 {
		anon, err := LoadStreak(ctx, store, domain.Anonymous())
		if err != nil {
			return result, err
		}
		bound, err := LoadStreak(ctx, store, owner)
		if err != nil {
			return result, err
		}
		merged := bound.Absorb(anon)
		merged.OwnerID = owner.Tag()
		body, err := json.Marshal(merged)
		if err != nil {
			return result, fmt.Errorf("encode streak: %w", err)
		}
		writes = append(writes, pendingWrite{key: domain.StreakKey(owner), body: body})
		result.Streak = true
	}

	for _, w := range writes {
		if err := store.Set(ctx, w.key, w.body); err != nil {
			return result, fmt.Errorf("write %s: %w", w.key, err)
		}
	}
	if result.Streak {
		if err := store.Remove(ctx, domain.StreakKey(domain.Anonymous())); err != nil {
			return result, fmt.Errorf("remove anonymous streak: %w", err)
		}
	}
	return result, nil
}

func stageRecords[T domain.Syncable[T]](ctx context.Context, store localstore.Store, kind domain.EntityKind, owner domain.Owner, writes *[]pendingWrite, counts map[domain.EntityKind]int) error {
	items, err := Load[T](ctx, store, kind.LocalKey())
	if err != nil {
		return err
	}
	changed := 0
	for i, rec := range items {
		if rebound, ok := domain.Rebind(rec, owner); ok {
			items[i] = rebound
			changed++
		}
	}
	if changed == 0 {
		return nil
	}
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind.LocalKey(), err)
	}
	*writes = append(*writes, pendingWrite{key: kind.LocalKey(), body: body})
	counts[kind] = changed
	return nil
}

// Placeholder profiles are rebound to owner; when the owner already has a
// profile the placeholder copy is merged into it.
func rebindProfiles(profiles []domain.Profile, owner domain.Owner) (int, []domain.Profile) {
	changed := 0
	ownIndex := -1
	out := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		if p.OwnerID == owner.Tag() && ownIndex < 0 {
			ownIndex = len(out)
		}
		if domain.IsPlaceholderOwner(p.OwnerID) {
			continue
		}
		out = append(out, p)
	}
	for _, p := range profiles {
		if !domain.IsPlaceholderOwner(p.OwnerID) {
			continue
		}
		changed++
		p.OwnerID = owner.Tag()
		if ownIndex >= 0 {
			out[ownIndex] = merge.Profile(out[ownIndex], p)
			continue
		}
		ownIndex = len(out)
		out = append(out, p)
	}
	return changed, out
}
