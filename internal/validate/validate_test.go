package validate

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

const owner = "3f1c9a52-7e0b-4d8e-9a44-2c6b1f0d5e77"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newValidator() *Validator {
	return New(WithClock(domain.FixedClock(now)))
}

func meal(id, ownerID, date, completedAt string, category domain.MealCategory) domain.MealCompletion {
	return domain.MealCompletion{
		Record:   domain.Record{ID: id, OwnerID: ownerID, Date: date, CompletedAt: completedAt},
		MealType: category,
	}
}

func TestRecordRules(t *testing.T) {
	v := newValidator()

	cases := []struct {
		name     string
		rec      domain.MealCompletion
		category Category
	}{
		{"valid", meal("m", owner, "2026-03-10", "2026-03-10T08:00:00Z", domain.MealBreakfast), ""},
		{"missing owner", meal("m", "", "2026-03-10", "2026-03-10T08:00:00Z", domain.MealBreakfast), CategoryMissingFields},
		{"placeholder owner", meal("m", "local_user", "2026-03-10", "2026-03-10T08:00:00Z", domain.MealBreakfast), CategoryMalformed},
		{"non canonical owner", meal("m", "3F1C9A52-7E0B-4D8E-9A44-2C6B1F0D5E77", "2026-03-10", "2026-03-10T08:00:00Z", domain.MealBreakfast), CategoryMalformed},
		{"future date", meal("m", owner, "2026-03-11", "2026-03-10T08:00:00Z", domain.MealBreakfast), CategoryFutureDated},
		{"unparseable date", meal("m", owner, "10/03/2026", "2026-03-10T08:00:00Z", domain.MealBreakfast), CategoryMalformed},
		{"too old", meal("m", owner, "2024-03-01", "2024-03-01T08:00:00Z", domain.MealBreakfast), CategoryMalformed},
		{"missing completed_at", meal("m", owner, "2026-03-10", "", domain.MealBreakfast), CategoryMissingFields},
		{"future completed_at", meal("m", owner, "2026-03-10", "2026-03-10T12:06:00Z", domain.MealBreakfast), CategoryFutureDated},
		{"bad category", meal("m", owner, "2026-03-10", "2026-03-10T08:00:00Z", "brunch"), CategoryMalformed},
		{"missing category", meal("m", owner, "2026-03-10", "2026-03-10T08:00:00Z", ""), CategoryMissingFields},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Record(v, tc.rec)
			require.Equal(t, tc.category == "", result.Valid)
			require.Equal(t, tc.category, result.Category())
		})
	}
}

func TestClockSkewAllowance(t *testing.T) {
	v := newValidator()
	result := Record(v, meal("m", owner, "2026-03-10", "2026-03-10T12:04:00Z", domain.MealLunch))
	require.True(t, result.Valid)
}

func TestOldDateWarns(t *testing.T) {
	v := newValidator()
	result := Record(v, meal("m", owner, "2025-01-15", "2025-01-15T08:00:00Z", domain.MealDinner))
	require.True(t, result.Valid)
	require.Equal(t, []string{"date 2025-01-15 is more than 1 year old"}, result.Warnings)
}

func TestTypeSpecificRules(t *testing.T) {
	v := newValidator()
	meta := domain.Record{ID: "x", OwnerID: owner, Date: "2026-03-10", CompletedAt: "2026-03-10T07:00:00Z"}

	require.False(t, Record(v, domain.WorkoutCompletion{Record: meta, DayLabel: "Push", CaloriesBurned: -1}).Valid)
	noLabel := Record(v, domain.WorkoutCompletion{Record: meta, CaloriesBurned: 200})
	require.True(t, noLabel.Valid)
	require.Len(t, noLabel.Warnings, 1)

	require.True(t, Record(v, domain.BodyMetric{Record: meta, WeightKg: 81.2}).Valid)
	require.False(t, Record(v, domain.BodyMetric{Record: meta, WeightKg: 0}).Valid)
	require.False(t, Record(v, domain.BodyMetric{Record: meta, WeightKg: 701}).Valid)
	fat := 120.0
	require.False(t, Record(v, domain.BodyMetric{Record: meta, WeightKg: 80, BodyFatPct: &fat}).Valid)
}

func TestProfileRules(t *testing.T) {
	v := newValidator()
	require.True(t, v.Profile(domain.Profile{OwnerID: owner, UpdatedAt: now}).Valid)
	require.False(t, v.Profile(domain.Profile{OwnerID: "anonymous"}).Valid)
	require.Equal(t, CategoryFutureDated, v.Profile(domain.Profile{OwnerID: owner, UpdatedAt: now.Add(time.Hour)}).Category())
	require.False(t, v.Profile(domain.Profile{OwnerID: owner, LastCompletionDate: "yesterday"}).Valid)
}

func TestFilterValidKeepsOrderAndCategorizes(t *testing.T) {
	v := newValidator()
	records := []domain.MealCompletion{
		meal("a", owner, "2026-03-09", "2026-03-09T08:00:00Z", domain.MealBreakfast),
		meal("b", owner, "2026-03-12", "2026-03-10T08:00:00Z", domain.MealLunch),
		meal("c", owner, "", "2026-03-09T08:00:00Z", domain.MealLunch),
		meal("d", owner, "2026-03-08", "2026-03-08T08:00:00Z", domain.MealSnack),
	}

	kept, summary := FilterValid(v, records)
	require.Equal(t, []string{"a", "d"}, []string{kept[0].ID, kept[1].ID})
	require.Equal(t, 4, summary.Total)
	require.Equal(t, 2, summary.Invalid)
	require.Equal(t, 1, summary.FutureDated)
	require.Equal(t, 1, summary.MissingFields)
	require.Len(t, summary.ValidationErrors(), 2)
	require.Equal(t, domain.KindMeal, summary.ValidationErrors()[0].Kind)
}

func TestFilterValidIsIdempotent(t *testing.T) {
	v := newValidator()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genMeal := gopter.CombineGens(
		gen.OneConstOf(owner, "", "local_user", "not-a-uuid"),
		gen.OneConstOf("2026-03-10", "2026-03-11", "2024-01-01", "2025-01-01", "", "garbage"),
		gen.OneConstOf("2026-03-10T08:00:00Z", "2026-03-10T13:00:00Z", "", "noon"),
		gen.OneConstOf(domain.MealBreakfast, domain.MealSnack, domain.MealCategory("brunch"), domain.MealCategory("")),
	).Map(func(values []any) domain.MealCompletion {
		return meal("", values[0].(string), values[1].(string), values[2].(string), values[3].(domain.MealCategory))
	})

	properties.Property("filtering filtered output drops nothing", prop.ForAll(
		func(records []domain.MealCompletion) bool {
			once, _ := FilterValid(v, records)
			twice, summary := FilterValid(v, once)
			return summary.Invalid == 0 && len(once) == len(twice)
		},
		gen.SliceOf(genMeal),
	))

	properties.TestingRun(t)
}

func TestCleanSummaryGolden(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()

	require.NoError(t, localdata.SaveProfiles(ctx, store, []domain.Profile{{OwnerID: owner, UpdatedAt: now.Add(-time.Hour)}}))
	require.NoError(t, localdata.SaveRecords(ctx, store, domain.KindWorkout, []domain.WorkoutCompletion{
		{Record: domain.Record{ID: "w-ok", OwnerID: owner, Date: "2026-03-09", CompletedAt: "2026-03-09T18:00:00Z"}, DayLabel: "Push", CaloriesBurned: 300},
		{Record: domain.Record{ID: "w-neg", OwnerID: owner, Date: "2026-03-09", CompletedAt: "2026-03-09T19:00:00Z"}, DayLabel: "Legs", CaloriesBurned: -10},
	}))
	require.NoError(t, localdata.SaveRecords(ctx, store, domain.KindMeal, []domain.MealCompletion{
		meal("meal-ok", owner, "2026-03-09", "2026-03-09T08:00:00Z", domain.MealBreakfast),
		meal("meal-future", owner, "2026-03-12", "2026-03-10T08:00:00Z", domain.MealLunch),
		meal("meal-nodate", owner, "", "2026-03-09T08:00:00Z", domain.MealLunch),
		meal("meal-badtype", owner, "2026-03-09", "2026-03-09T08:00:00Z", "brunch"),
		meal("meal-old", owner, "2025-01-15", "2025-01-15T08:00:00Z", domain.MealDinner),
		meal("meal-anon", "local_user", "2026-03-09", "2026-03-09T12:00:00Z", domain.MealLunch),
	}))

	report, err := Clean(ctx, store, newValidator(), nil)
	require.NoError(t, err)
	require.Equal(t, 4, report.Dropped())

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.AssertJson(t, "clean_summary", report)

	meals, err := localdata.LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)
	require.NoError(t, err)
	ids := make([]string, 0, len(meals))
	for _, m := range meals {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"meal-ok", "meal-old", "meal-anon"}, ids)

	again, err := Clean(ctx, store, newValidator(), nil)
	require.NoError(t, err)
	require.Zero(t, again.Dropped())
}
