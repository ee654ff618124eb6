package merge

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

const owner = "3f1c9a52-7e0b-4d8e-9a44-2c6b1f0d5e77"

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProfileDietTypeLaterTimestampWinsAndSiblingsSurvive(t *testing.T) {
	local := domain.Profile{
		OwnerID:   owner,
		UpdatedAt: base,
		DietPreferences: domain.NewSubDocument(domain.SubDietPreferences, base.Add(2*time.Hour), map[string]any{
			"diet_type":      "vegan",
			"calorie_target": 2100,
		}),
	}
	remote := domain.Profile{
		OwnerID:   owner,
		UpdatedAt: base.Add(time.Hour),
		DietPreferences: domain.NewSubDocument(domain.SubDietPreferences, base.Add(time.Hour), map[string]any{
			"diet_type":    "keto",
			"meal_count":   4,
			"allergies":    []any{"peanut"},
			"cuisine_pref": "thai",
		}),
	}

	merged := Profile(local, remote)
	values := merged.DietPreferences.Values
	require.Equal(t, "vegan", values["diet_type"])
	require.EqualValues(t, 2100, values["calorie_target"])
	require.EqualValues(t, 4, values["meal_count"])
	require.Equal(t, "thai", values["cuisine_pref"])
	require.Equal(t, []any{"peanut"}, values["allergies"])
	require.True(t, merged.DietPreferences.UpdatedAt.Equal(base.Add(2*time.Hour)))
	require.True(t, merged.UpdatedAt.Equal(base.Add(time.Hour)))

	require.True(t, canonicalEqual(merged, Profile(remote, local)))
}

func TestProfileSubDocumentFallsBackToParentTimestamp(t *testing.T) {
	local := domain.Profile{
		OwnerID:            owner,
		UpdatedAt:          base.Add(3 * time.Hour),
		WorkoutPreferences: domain.NewSubDocument(domain.SubWorkoutPreferences, time.Time{}, map[string]any{"intensity": "high"}),
	}
	remote := domain.Profile{
		OwnerID:            owner,
		UpdatedAt:          base,
		WorkoutPreferences: domain.NewSubDocument(domain.SubWorkoutPreferences, base.Add(time.Hour), map[string]any{"intensity": "low"}),
	}

	merged := Profile(local, remote)
	require.Equal(t, "high", merged.WorkoutPreferences.Values["intensity"])
}

func TestProfileRuleTable(t *testing.T) {
	newer := domain.Profile{
		OwnerID:            owner,
		DisplayName:        "Newer",
		Streak:             2,
		LongestStreak:      3,
		LastCompletionDate: "2026-03-01",
		UpdatedAt:          base.Add(time.Hour),
		WorkoutPreferences: domain.NewSubDocument(domain.SubWorkoutPreferences, base, map[string]any{
			"training_days": []string{"monday", "friday"},
		}),
	}
	older := domain.Profile{
		OwnerID:            owner,
		DisplayName:        "Older",
		Streak:             7,
		LongestStreak:      9,
		LastCompletionDate: "2026-03-04",
		UpdatedAt:          base,
		WorkoutPreferences: domain.NewSubDocument(domain.SubWorkoutPreferences, base.Add(time.Minute), map[string]any{
			"training_days": []any{"wednesday", "monday"},
		}),
	}

	merged := Profile(newer, older)
	require.Equal(t, "Newer", merged.DisplayName)
	require.Equal(t, 7, merged.Streak)
	require.Equal(t, 9, merged.LongestStreak)
	require.Equal(t, "2026-03-04", merged.LastCompletionDate)
	require.Equal(t, []string{"friday", "monday", "wednesday"}, merged.TrainingDays())
}

func TestProfileOneSidedSubDocumentsAreKept(t *testing.T) {
	local := domain.Profile{OwnerID: owner, MealPlan: domain.NewSubDocument(domain.SubMealPlan, base, map[string]any{"week": 1})}
	remote := domain.Profile{OwnerID: owner, BodyComposition: domain.NewSubDocument(domain.SubBodyComposition, base, map[string]any{"bmi": 22.5})}

	merged := Profile(local, remote)
	require.NotNil(t, merged.MealPlan)
	require.NotNil(t, merged.BodyComposition)
}

func TestRecordsMergeByIdentifier(t *testing.T) {
	local := []domain.MealCompletion{
		{Record: domain.Record{ID: "b", OwnerID: owner, Date: "2026-03-01", CompletedAt: "2026-03-01T08:00:00Z"}, MealType: domain.MealBreakfast},
		{Record: domain.Record{ID: "c", OwnerID: owner, Date: "2026-03-01", CompletedAt: "2026-03-01T19:00:00Z"}, MealType: domain.MealDinner},
	}
	remote := []domain.MealCompletion{
		{Record: domain.Record{ID: "a", OwnerID: owner, Date: "2026-03-01", CompletedAt: "2026-03-01T12:00:00Z"}, MealType: domain.MealLunch},
		{Record: domain.Record{ID: "b", OwnerID: owner, Date: "2026-03-01", CompletedAt: "2026-03-01T09:00:00Z"}, MealType: domain.MealSnack},
	}

	merged := Records(local, remote)
	require.Len(t, merged, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
	require.Equal(t, domain.MealSnack, merged[1].MealType)
	require.True(t, canonicalEqual(merged, Records(remote, local)))
}

func TestRecordsAssignDerivedIDs(t *testing.T) {
	rec := domain.WorkoutCompletion{
		Record:   domain.Record{OwnerID: owner, Date: "2026-03-01", CompletedAt: "2026-03-01T07:00:00Z"},
		DayLabel: "Push",
	}
	merged := Records([]domain.WorkoutCompletion{rec}, []domain.WorkoutCompletion{domain.EnsureID(rec)})
	require.Len(t, merged, 1)
	require.NotEmpty(t, merged[0].ID)
}

func TestProfiles(t *testing.T) {
	other := "9d7c2a10-1111-4a2b-8c3d-000000000001"
	merged := Profiles(
		[]domain.Profile{{OwnerID: other, Streak: 1}, {OwnerID: owner, Streak: 2}},
		[]domain.Profile{{OwnerID: owner, Streak: 5}},
	)
	require.Len(t, merged, 2)
	require.Equal(t, owner, merged[0].OwnerID)
	require.Equal(t, 5, merged[0].Streak)
}

var dietTypes = []string{"vegan", "keto", "omnivore", "paleo"}

func genProfile() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
		gen.IntRange(0, len(dietTypes)-1),
		gen.IntRange(-1, 4),
		gen.SliceOf(gen.OneConstOf("peanut", "gluten", "dairy", "soy")),
		gen.OneConstOf("", "Ada", "Grace"),
		gen.IntRange(0, 40),
	).Map(func(values []any) domain.Profile {
		hour := values[0].(int)
		subHour := values[4].(int)
		subTime := time.Time{}
		if subHour >= 0 {
			subTime = base.Add(time.Duration(subHour) * time.Hour)
		}
		allergies := make([]any, 0)
		for _, a := range values[5].([]string) {
			allergies = append(allergies, a)
		}
		return domain.Profile{
			OwnerID:            owner,
			DisplayName:        values[6].(string),
			Streak:             values[1].(int),
			LongestStreak:      values[2].(int),
			LastCompletionDate: fmt.Sprintf("2026-03-%02d", 1+values[7].(int)%28),
			UpdatedAt:          base.Add(time.Duration(hour) * time.Hour),
			DietPreferences: domain.NewSubDocument(domain.SubDietPreferences, subTime, map[string]any{
				"diet_type": dietTypes[values[3].(int)],
				"allergies": allergies,
			}),
		}
	})
}

func genMeals() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, 5),
		gen.IntRange(0, 23),
		gen.OneConstOf(domain.MealBreakfast, domain.MealLunch, domain.MealDinner, domain.MealSnack),
	).Map(func(values []any) domain.MealCompletion {
		return domain.MealCompletion{
			Record: domain.Record{
				ID:          fmt.Sprintf("meal-%d", values[0].(int)),
				OwnerID:     owner,
				Date:        "2026-03-01",
				CompletedAt: fmt.Sprintf("2026-03-01T%02d:00:00Z", values[1].(int)),
			},
			MealType: values[2].(domain.MealCategory),
		}
	}))
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("profile merge is commutative", prop.ForAll(
		func(a, b domain.Profile) bool {
			return canonicalEqual(Profile(a, b), Profile(b, a))
		},
		genProfile(), genProfile(),
	))

	properties.Property("profile merge is idempotent", prop.ForAll(
		func(a, b domain.Profile) bool {
			if !canonicalEqual(Profile(a, a), a) {
				return false
			}
			m := Profile(a, b)
			return canonicalEqual(Profile(m, m), m) && canonicalEqual(Profile(m, b), m)
		},
		genProfile(), genProfile(),
	))

	properties.Property("record merge is commutative", prop.ForAll(
		func(a, b []domain.MealCompletion) bool {
			return canonicalEqual(Records(a, b), Records(b, a))
		},
		genMeals(), genMeals(),
	))

	properties.Property("record merge is idempotent", prop.ForAll(
		func(a, b []domain.MealCompletion) bool {
			m := Records(a, b)
			return canonicalEqual(Records(m, m), m) && canonicalEqual(Records(m, b), m)
		},
		genMeals(), genMeals(),
	))

	properties.TestingRun(t)
}
