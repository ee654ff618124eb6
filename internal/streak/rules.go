package streak

import (
	"slices"
	"strings"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

// Schedule lists the weekdays the owner trains on. An empty schedule makes
// every day a rest day.
type Schedule []string

// ScheduleFor returns the training schedule declared in profile.
func ScheduleFor(profile *domain.Profile) Schedule {
	if profile == nil {
		return nil
	}
	return Schedule(profile.TrainingDays())
}

// IsWorkoutDay reports whether date falls on a scheduled training day.
// Weekdays match by full name or three-letter abbreviation.
func (s Schedule) IsWorkoutDay(date time.Time) bool {
	name := strings.ToLower(date.Weekday().String())
	return slices.ContainsFunc(s, func(day string) bool {
		day = strings.ToLower(strings.TrimSpace(day))
		return day == name || (len(day) == 3 && strings.HasPrefix(name, day))
	})
}

// DayComplete applies the strict completion rule: a rest day needs all three
// meals, a workout day needs the workout and all three meals.
func DayComplete(rec domain.ActivityRecord, workoutDay bool) bool {
	if !rec.Meals.All() {
		return false
	}
	return !workoutDay || rec.Workouts
}

// advance moves state forward for a completed date. The gap is measured from
// date to lastCompletionDate: one calendar day extends the streak, more resets
// it to 1. It returns false when the streak does not change: the day is
// incomplete, already counted, or earlier than the last counted day.
func advance(state *domain.StreakState, date string, complete bool) bool {
	if !complete || date == state.LastCompletionDate {
		return false
	}
	if state.LastCompletionDate == "" {
		state.CurrentStreak = 1
	} else {
		if date < state.LastCompletionDate {
			return false
		}
		last, err := domain.ParseDate(state.LastCompletionDate)
		day, err2 := domain.ParseDate(date)
		if err != nil || err2 != nil || domain.CalendarDaysBetween(last, day) > 1 {
			state.CurrentStreak = 1
		} else {
			state.CurrentStreak++
		}
	}
	state.LastCompletionDate = date
	state.LongestStreak = max(state.LongestStreak, state.CurrentStreak)
	return true
}

// prune drops activity records dated more than retention days before today.
// The record of the last completed day is always kept.
func prune(state *domain.StreakState, today time.Time, retention int) {
	cutoff := domain.FormatDate(today.AddDate(0, 0, -retention))
	for date := range state.Activities {
		if date < cutoff && date != state.LastCompletionDate {
			delete(state.Activities, date)
		}
	}
}
