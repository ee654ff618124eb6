package validate

import (
	"github.com/OGUN01/fitai-sub001/internal/domain"
)

// Finding ties validation messages to a record.
type Finding struct {
	ID       string   `json:"id"`
	Category Category `json:"category,omitempty"`
	Messages []string `json:"messages"`
}

// Summary is the categorized breakdown produced by FilterValid.
type Summary struct {
	Kind          domain.EntityKind `json:"kind"`
	Total         int               `json:"total"`
	Valid         int               `json:"valid"`
	Invalid       int               `json:"invalid"`
	FutureDated   int               `json:"future_dated"`
	MissingFields int               `json:"missing_fields"`
	Malformed     int               `json:"malformed"`
	Dropped       []Finding         `json:"dropped"`
	Warnings      []Finding         `json:"warnings"`
}

func newSummary(kind domain.EntityKind, total int) Summary {
	return Summary{Kind: kind, Total: total, Dropped: []Finding{}, Warnings: []Finding{}}
}

func (s *Summary) add(id string, result Result) {
	if len(result.Warnings) > 0 {
		s.Warnings = append(s.Warnings, Finding{ID: id, Messages: result.Warnings})
	}
	if result.Valid {
		s.Valid++
		return
	}
	s.Invalid++
	switch result.Category() {
	case CategoryFutureDated:
		s.FutureDated++
	case CategoryMissingFields:
		s.MissingFields++
	default:
		s.Malformed++
	}
	s.Dropped = append(s.Dropped, Finding{ID: id, Category: result.Category(), Messages: result.Messages()})
}

// ValidationErrors converts the dropped findings into typed errors.
func (s Summary) ValidationErrors() []*domain.ValidationError {
	out := make([]*domain.ValidationError, 0, len(s.Dropped))
	for _, f := range s.Dropped {
		out = append(out, &domain.ValidationError{Kind: s.Kind, RecordID: f.ID, Problems: f.Messages})
	}
	return out
}

// FilterValid partitions records into the valid ones, in their original
// order, and a summary of what was dropped. Filtering its own output again
// drops nothing.
func FilterValid[T domain.Syncable[T]](v *Validator, records []T) ([]T, Summary) {
	var zero T
	summary := newSummary(zero.Kind(), len(records))
	kept := make([]T, 0, len(records))
	for _, rec := range records {
		result := Record(v, rec)
		summary.add(rec.Meta().ID, result)
		if result.Valid {
			kept = append(kept, rec)
		}
	}
	return kept, summary
}

// FilterProfiles is FilterValid for profile documents.
func FilterProfiles(v *Validator, profiles []domain.Profile) ([]domain.Profile, Summary) {
	summary := newSummary(domain.KindProfile, len(profiles))
	kept := make([]domain.Profile, 0, len(profiles))
	for _, p := range profiles {
		result := v.Profile(p)
		summary.add(p.OwnerID, result)
		if result.Valid {
			kept = append(kept, p)
		}
	}
	return kept, summary
}
