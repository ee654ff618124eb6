package validate

import (
	"context"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

// CleanReport is the outcome of cleaning every local collection.
type CleanReport struct {
	Summaries []Summary                 `json:"summaries"`
	Pending   map[domain.EntityKind]int `json:"pending"`
}

// Dropped returns the number of records removed across collections.
func (r CleanReport) Dropped() int {
	n := 0
	for _, s := range r.Summaries {
		n += s.Invalid
	}
	return n
}

// Clean validates every local entity collection and rewrites each with only
// its valid records. Records still owned by a placeholder are pending rebind
// and are kept untouched. Collections that lose nothing are not rewritten.
// A non-nil lock is held for the whole pass.
func Clean(ctx context.Context, store localstore.Store, v *Validator, lock *localstore.Lock) (CleanReport, error) {
	report := CleanReport{Pending: map[domain.EntityKind]int{}}
	if lock != nil {
		if err := lock.Acquire(ctx); err != nil {
			return report, err
		}
		defer lock.Release()
	}

	profiles, err := localdata.LoadProfiles(ctx, store)
	if err != nil {
		return report, err
	}
	pendingProfiles := make([]domain.Profile, 0)
	candidates := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		if domain.IsPlaceholderOwner(p.OwnerID) {
			pendingProfiles = append(pendingProfiles, p)
			continue
		}
		candidates = append(candidates, p)
	}
	keptProfiles, summary := FilterProfiles(v, candidates)
	report.Summaries = append(report.Summaries, summary)
	report.Pending[domain.KindProfile] = len(pendingProfiles)
	if summary.Invalid > 0 {
		if err := localdata.SaveProfiles(ctx, store, append(keptProfiles, pendingProfiles...)); err != nil {
			return report, err
		}
	}

	if err := cleanKind[domain.WorkoutCompletion](ctx, store, v, domain.KindWorkout, &report); err != nil {
		return report, err
	}
	if err := cleanKind[domain.MealCompletion](ctx, store, v, domain.KindMeal, &report); err != nil {
		return report, err
	}
	if err := cleanKind[domain.BodyMetric](ctx, store, v, domain.KindBodyMetric, &report); err != nil {
		return report, err
	}
	return report, nil
}

func cleanKind[T domain.Syncable[T]](ctx context.Context, store localstore.Store, v *Validator, kind domain.EntityKind, report *CleanReport) error {
	records, err := localdata.LoadRecords[T](ctx, store, kind)
	if err != nil {
		return err
	}
	pending := make([]T, 0)
	candidates := make([]T, 0, len(records))
	for _, rec := range records {
		if domain.IsPlaceholderOwner(rec.Meta().OwnerID) {
			pending = append(pending, rec)
			continue
		}
		candidates = append(candidates, rec)
	}

	kept, summary := FilterValid(v, candidates)
	report.Summaries = append(report.Summaries, summary)
	report.Pending[kind] = len(pending)
	if summary.Invalid == 0 {
		return nil
	}
	return localdata.SaveRecords(ctx, store, kind, append(kept, pending...))
}
