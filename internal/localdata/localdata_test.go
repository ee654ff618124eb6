package localdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
)

const ownerID = "3f1c9a52-7e0b-4d8e-9a44-2c6b1f0d5e77"

func TestLoadMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()

	meals, err := LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)
	require.NoError(t, err)
	require.Empty(t, meals)

	require.NoError(t, store.Set(ctx, domain.KindMeal.LocalKey(), []byte(`[{"id":`)))
	_, err = LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)

	var parseErr *domain.ParseError
	require.True(t, errors.As(err, &parseErr))
	require.Equal(t, domain.KindMeal.LocalKey(), parseErr.Key)
}

func TestLoadRecordsAssignsStableIDs(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()

	require.NoError(t, SaveRecords(ctx, store, domain.KindMeal, []domain.MealCompletion{{
		Record:   domain.Record{OwnerID: ownerID, Date: "2026-03-01", CompletedAt: "2026-03-01T08:00:00Z"},
		MealType: domain.MealBreakfast,
	}}))

	first, err := LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)
	require.NoError(t, err)
	second, err := LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)
	require.NoError(t, err)
	require.NotEmpty(t, first[0].ID)
	require.Equal(t, first[0].ID, second[0].ID)
}

func TestPartition(t *testing.T) {
	owner := domain.Bound(ownerID)
	records := []domain.WorkoutCompletion{
		{Record: domain.Record{ID: "1", OwnerID: ownerID}},
		{Record: domain.Record{ID: "2", OwnerID: "9d7c2a10-1111-4a2b-8c3d-000000000001"}},
		{Record: domain.Record{ID: "3", OwnerID: ownerID}},
	}
	mine, others := Partition(records, owner)
	require.Len(t, mine, 2)
	require.Len(t, others, 1)
	require.Equal(t, "2", others[0].ID)
}

func TestStreakRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	owner := domain.Bound(ownerID)

	state, err := LoadStreak(ctx, store, owner)
	require.NoError(t, err)
	require.Equal(t, ownerID, state.OwnerID)
	require.NotNil(t, state.Activities)

	state.CurrentStreak = 3
	state.LastCompletionDate = "2026-03-01"
	state.Activities["2026-03-01"] = domain.ActivityRecord{Workouts: true}
	require.NoError(t, SaveStreak(ctx, store, owner, state))

	loaded, err := LoadStreak(ctx, store, owner)
	require.NoError(t, err)
	require.Equal(t, 3, loaded.CurrentStreak)
	require.True(t, loaded.Activities["2026-03-01"].Workouts)
}

func TestRebindMovesPlaceholderRecords(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	owner := domain.Bound(ownerID)
	other := "9d7c2a10-1111-4a2b-8c3d-000000000001"

	require.NoError(t, SaveRecords(ctx, store, domain.KindMeal, []domain.MealCompletion{
		{Record: domain.Record{ID: "m1", OwnerID: "local_user", Date: "2026-03-01"}, MealType: domain.MealLunch},
		{Record: domain.Record{ID: "m2", OwnerID: other, Date: "2026-03-01"}, MealType: domain.MealDinner},
	}))
	require.NoError(t, SaveProfiles(ctx, store, []domain.Profile{
		{OwnerID: ownerID, DisplayName: "Ada", UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{OwnerID: "anonymous", Age: 31, UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}))
	anon := domain.StreakState{
		CurrentStreak:      2,
		LastCompletionDate: "2026-03-01",
		Activities:         map[string]domain.ActivityRecord{"2026-03-01": {Water: true}},
	}
	require.NoError(t, SaveStreak(ctx, store, domain.Anonymous(), anon))

	result, err := Rebind(ctx, store, owner)
	require.NoError(t, err)
	require.Equal(t, 1, result.Records[domain.KindMeal])
	require.Equal(t, 1, result.Records[domain.KindProfile])
	require.True(t, result.Streak)
	require.Equal(t, 2, result.Total())

	meals, err := LoadRecords[domain.MealCompletion](ctx, store, domain.KindMeal)
	require.NoError(t, err)
	require.Equal(t, ownerID, meals[0].OwnerID)
	require.Equal(t, other, meals[1].OwnerID)

	profiles, err := LoadProfiles(ctx, store)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	require.Equal(t, "Ada", profiles[0].DisplayName)
	require.Equal(t, 31, profiles[0].Age)

	streak, err := LoadStreak(ctx, store, owner)
	require.NoError(t, err)
	require.Equal(t, 2, streak.CurrentStreak)
	gone, err := store.Get(ctx, domain.StreakKey(domain.Anonymous()))
	require.NoError(t, err)
	require.Nil(t, gone)

	again, err := Rebind(ctx, store, owner)
	require.NoError(t, err)
	require.Zero(t, again.Total())
	require.False(t, again.Streak)
}

func TestRebindAbortsOnCorruptPayloadWithoutWriting(t *testing.T) {
	ctx := context.Background()
	store := localstore.NewMemoryStore()

	require.NoError(t, SaveRecords(ctx, store, domain.KindWorkout, []domain.WorkoutCompletion{
		{Record: domain.Record{ID: "w1", OwnerID: "anonymous"}},
	}))
	require.NoError(t, store.Set(ctx, domain.KindMeal.LocalKey(), []byte(`not json`)))
	before, err := store.Get(ctx, domain.KindWorkout.LocalKey())
	require.NoError(t, err)

	_, err = Rebind(ctx, store, domain.Bound(ownerID))
	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)

	after, err := store.Get(ctx, domain.KindWorkout.LocalKey())
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRebindRequiresBoundOwner(t *testing.T) {
	_, err := Rebind(context.Background(), localstore.NewMemoryStore(), domain.Anonymous())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
