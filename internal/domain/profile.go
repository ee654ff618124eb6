package domain

import (
	"strings"
	"time"
)

// SubDocumentKind tags a profile sub-document.
type SubDocumentKind string

const (
	SubDietPreferences    SubDocumentKind = "diet_preferences"
	SubWorkoutPreferences SubDocumentKind = "workout_preferences"
	SubMealPlan           SubDocumentKind = "meal_plan"
	SubBodyComposition    SubDocumentKind = "body_composition"
)

// SubDocumentVersion is the current schema version for every sub-document kind.
const SubDocumentVersion = 1

// SubDocument is an independently-timestamped nested profile document.
// UpdatedAt may be zero, in which case the parent profile's timestamp applies.
type SubDocument struct {
	Kind      SubDocumentKind `json:"kind"`
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
	Values    map[string]any  `json:"values"`
}

// NewSubDocument builds a sub-document at the current schema version.
func NewSubDocument(kind SubDocumentKind, updatedAt time.Time, values map[string]any) *SubDocument {
	if values == nil {
		values = map[string]any{}
	}
	return &SubDocument{Kind: kind, Version: SubDocumentVersion, UpdatedAt: updatedAt.UTC(), Values: values}
}

// Profile is the per-owner profile document.
type Profile struct {
	ID                 string       `json:"id,omitempty"`
	OwnerID            string       `json:"user_id"`
	DisplayName        string       `json:"display_name,omitempty"`
	Age                int          `json:"age,omitempty"`
	Gender             string       `json:"gender,omitempty"`
	HeightCm           float64      `json:"height_cm,omitempty"`
	FitnessGoal        string       `json:"fitness_goal,omitempty"`
	Streak             int          `json:"streak"`
	LongestStreak      int          `json:"longest_streak"`
	LastCompletionDate string       `json:"last_completion_date,omitempty"`
	UpdatedAt          time.Time    `json:"updated_at,omitzero"`
	DietPreferences    *SubDocument `json:"diet_preferences,omitempty"`
	WorkoutPreferences *SubDocument `json:"workout_preferences,omitempty"`
	MealPlan           *SubDocument `json:"meal_plan,omitempty"`
	BodyComposition    *SubDocument `json:"body_composition,omitempty"`
}

// SubDocuments returns the profile's sub-documents keyed by kind; absent
// documents map to nil.
func (p Profile) SubDocuments() map[SubDocumentKind]*SubDocument {
	return map[SubDocumentKind]*SubDocument{
		SubDietPreferences:    p.DietPreferences,
		SubWorkoutPreferences: p.WorkoutPreferences,
		SubMealPlan:           p.MealPlan,
		SubBodyComposition:    p.BodyComposition,
	}
}

// SetSubDocument replaces the sub-document of the given kind.
func (p *Profile) SetSubDocument(kind SubDocumentKind, doc *SubDocument) {
	switch kind {
	case SubDietPreferences:
		p.DietPreferences = doc
	case SubWorkoutPreferences:
		p.WorkoutPreferences = doc
	case SubMealPlan:
		p.MealPlan = doc
	case SubBodyComposition:
		p.BodyComposition = doc
	}
}

// TrainingDays returns the lower-case weekday names the owner trains on.
func (p Profile) TrainingDays() []string {
	if p.WorkoutPreferences == nil {
		return nil
	}
	raw, ok := p.WorkoutPreferences.Values["training_days"]
	if !ok {
		return nil
	}
	var days []string
	switch v := raw.(type) {
	case []string:
		days = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				days = append(days, s)
			}
		}
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}
