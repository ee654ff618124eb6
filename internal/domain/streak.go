package domain

import "time"

// ActivityKind names a trackable daily activity.
type ActivityKind string

const (
	ActivityWorkout ActivityKind = "workout"
	ActivityMeal    ActivityKind = "meal"
	ActivityWater   ActivityKind = "water"
)

// MealFlags tracks the three required meals of a day.
type MealFlags struct {
	Breakfast bool `json:"breakfast"`
	Lunch     bool `json:"lunch"`
	Dinner    bool `json:"dinner"`
}

// All reports whether every required meal is completed.
func (m MealFlags) All() bool {
	return m.Breakfast && m.Lunch && m.Dinner
}

// Set marks the given meal category; snacks are not tracked.
func (m *MealFlags) Set(category MealCategory, completed bool) {
	switch category {
	case MealBreakfast:
		m.Breakfast = completed
	case MealLunch:
		m.Lunch = completed
	case MealDinner:
		m.Dinner = completed
	}
}

// ActivityRecord is the per-date activity checklist.
type ActivityRecord struct {
	Workouts bool      `json:"workouts"`
	Meals    MealFlags `json:"meals"`
	Water    bool      `json:"water"`
}

// Union returns the record with every flag set on either side.
func (a ActivityRecord) Union(b ActivityRecord) ActivityRecord {
	return ActivityRecord{
		Workouts: a.Workouts || b.Workouts,
		Meals: MealFlags{
			Breakfast: a.Meals.Breakfast || b.Meals.Breakfast,
			Lunch:     a.Meals.Lunch || b.Meals.Lunch,
			Dinner:    a.Meals.Dinner || b.Meals.Dinner,
		},
		Water: a.Water || b.Water,
	}
}

// StreakState is the derived daily-activity streak for one owner.
// An empty LastCompletionDate means no day has been completed yet.
type StreakState struct {
	OwnerID            string                    `json:"owner_id"`
	CurrentStreak      int                       `json:"current_streak"`
	LongestStreak      int                       `json:"longest_streak"`
	LastCompletionDate string                    `json:"last_completion_date,omitempty"`
	Activities         map[string]ActivityRecord `json:"activities"`
	LastUpdated        time.Time                 `json:"last_updated,omitzero"`
}

// StreakKey returns the local store key for an owner's streak state.
func StreakKey(owner Owner) string {
	return "streak:" + owner.Tag()
}

// Absorb folds other into s: the larger streak counters, the later completion
// date and the union of every day's activity.
func (s StreakState) Absorb(other StreakState) StreakState {
	out := s
	out.Activities = make(map[string]ActivityRecord, len(s.Activities)+len(other.Activities))
	for date, rec := range s.Activities {
		out.Activities[date] = rec
	}
	for date, rec := range other.Activities {
		out.Activities[date] = out.Activities[date].Union(rec)
	}
	out.CurrentStreak = max(s.CurrentStreak, other.CurrentStreak)
	out.LongestStreak = max(s.LongestStreak, other.LongestStreak, out.CurrentStreak)
	if other.LastCompletionDate > out.LastCompletionDate {
		out.LastCompletionDate = other.LastCompletionDate
	}
	if other.LastUpdated.After(out.LastUpdated) {
		out.LastUpdated = other.LastUpdated
	}
	return out
}
