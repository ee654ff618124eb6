package streak

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/events"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
)

const ownerID = "3f1c9a52-7e0b-4d8e-9a44-2c6b1f0d5e77"

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) nextDay() { c.now = c.now.AddDate(0, 0, 1) }

func (c *stepClock) today() string { return domain.FormatDate(c.now) }

type fixture struct {
	local     *localstore.MemoryStore
	remote    *remotestore.Faults
	queue     *queue.Queue
	publisher *events.Recorder
	clock     *stepClock
	engine    *Engine
	owner     domain.Owner
}

// 2026-03-02 is a Monday.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		local:     localstore.NewMemoryStore(),
		remote:    remotestore.WithFaults(remotestore.NewMemoryStore()),
		publisher: &events.Recorder{},
		clock:     &stepClock{now: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)},
		owner:     domain.Bound(ownerID),
	}
	f.queue = queue.New(f.local, queue.WithClock(f.clock))
	f.engine = New(f.local,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(f.clock),
		WithRemote(f.remote),
		WithQueue(f.queue),
		WithPublisher(f.publisher),
	)
	return f
}

func (f *fixture) completeMeals(t *testing.T, date string) int {
	t.Helper()
	var streak int
	for _, meal := range []domain.MealCategory{domain.MealBreakfast, domain.MealLunch, domain.MealDinner} {
		var err error
		streak, err = f.engine.RecordActivity(context.Background(), f.owner, Activity{Date: date, Kind: domain.ActivityMeal, Meal: meal, Completed: true})
		require.NoError(t, err)
	}
	return streak
}

func (f *fixture) setTrainingDays(t *testing.T, days ...string) {
	t.Helper()
	profile := domain.Profile{OwnerID: f.owner.Tag()}
	profile.SetSubDocument(domain.SubWorkoutPreferences, domain.NewSubDocument(domain.SubWorkoutPreferences, f.clock.now, map[string]any{"training_days": days}))
	require.NoError(t, localdata.SaveProfiles(context.Background(), f.local, []domain.Profile{profile}))
}

func TestConsecutiveDaysBuildStreak(t *testing.T) {
	f := newFixture(t)
	const days = 5
	var streak int
	for i := 0; i < days; i++ {
		streak = f.completeMeals(t, f.clock.today())
		f.clock.nextDay()
	}
	require.Equal(t, days, streak)

	state, err := localdata.LoadStreak(context.Background(), f.local, f.owner)
	require.NoError(t, err)
	require.Equal(t, days, state.LongestStreak)
	require.Equal(t, "2026-03-06", state.LastCompletionDate)
	require.Len(t, f.publisher.OfType(events.TypeStreakUpdated), days)
}

func TestGapResetsStreak(t *testing.T) {
	f := newFixture(t)
	f.completeMeals(t, f.clock.today())
	f.clock.nextDay()
	require.Equal(t, 2, f.completeMeals(t, f.clock.today()))

	f.clock.nextDay()
	f.clock.nextDay()
	require.Equal(t, 1, f.completeMeals(t, f.clock.today()))

	state, err := localdata.LoadStreak(context.Background(), f.local, f.owner)
	require.NoError(t, err)
	require.Equal(t, 2, state.LongestStreak)
}

func TestRestDayAndWorkoutDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setTrainingDays(t, "monday", "wed")

	// Monday is a workout day: meals alone are not enough.
	require.Equal(t, 0, f.completeMeals(t, "2026-03-02"))
	streak, err := f.engine.RecordActivity(ctx, f.owner, Activity{Date: "2026-03-02", Kind: domain.ActivityWorkout, Completed: true})
	require.NoError(t, err)
	require.Equal(t, 1, streak)

	// Tuesday is a rest day.
	f.clock.nextDay()
	require.Equal(t, 2, f.completeMeals(t, "2026-03-03"))

	// Wednesday matches by abbreviation.
	f.clock.nextDay()
	require.Equal(t, 2, f.completeMeals(t, "2026-03-04"))
}

func TestDayCompleteRule(t *testing.T) {
	allMeals := domain.MealFlags{Breakfast: true, Lunch: true, Dinner: true}
	require.True(t, DayComplete(domain.ActivityRecord{Meals: allMeals}, false))
	require.False(t, DayComplete(domain.ActivityRecord{Meals: allMeals}, true))
	require.True(t, DayComplete(domain.ActivityRecord{Meals: allMeals, Workouts: true}, true))
	require.False(t, DayComplete(domain.ActivityRecord{Workouts: true, Water: true}, false))
}

func TestPastDateDoesNotMoveStreak(t *testing.T) {
	f := newFixture(t)
	f.clock.nextDay()
	require.Equal(t, 1, f.completeMeals(t, f.clock.today()))
	require.Equal(t, 1, f.completeMeals(t, "2026-03-02"))

	state, err := localdata.LoadStreak(context.Background(), f.local, f.owner)
	require.NoError(t, err)
	require.True(t, state.Activities["2026-03-02"].Meals.All())
	require.Equal(t, "2026-03-03", state.LastCompletionDate)
}

func TestRejectsFutureAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.RecordActivity(ctx, f.owner, Activity{Date: "2026-03-03", Kind: domain.ActivityWater, Completed: true})
	require.ErrorIs(t, err, ErrFutureDate)
	_, err = f.engine.RecordActivity(ctx, f.owner, Activity{Date: "2026-03-02", Kind: "yoga", Completed: true})
	require.ErrorIs(t, err, ErrUnknownActivity)
	_, err = f.engine.RecordActivity(ctx, f.owner, Activity{Date: "2026-03-02", Kind: domain.ActivityMeal, Meal: "brunch", Completed: true})
	require.ErrorIs(t, err, ErrUnknownActivity)
	_, err = f.engine.RecordActivity(ctx, f.owner, Activity{Date: "03/02/2026", Kind: domain.ActivityWater, Completed: true})
	require.Error(t, err)
}

func TestPushesProjectionToRemoteProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, localdata.SaveProfiles(ctx, f.local, []domain.Profile{{OwnerID: ownerID, DisplayName: "Ada"}}))

	f.completeMeals(t, f.clock.today())

	rows, err := f.remote.Query(ctx, "profiles", remotestore.Filter{"user_id": ownerID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, rows[0]["streak"])
	require.EqualValues(t, 1, rows[0]["longest_streak"])
	require.Equal(t, "2026-03-02", rows[0]["last_completion_date"])

	profile, err := localdata.ProfileFor(ctx, f.local, f.owner)
	require.NoError(t, err)
	require.Equal(t, 1, profile.Streak)
	require.Equal(t, "Ada", profile.DisplayName)
}

func TestFailedPushIsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.FailUpsert("profiles", nil)

	require.Equal(t, 1, f.completeMeals(t, f.clock.today()))

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "profiles", pending[0].Table)

	f.remote.Heal()
	result, err := f.queue.Drain(ctx, f.remote, f.owner)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
}

func TestSuccessfulPushSupersedesDeferredProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.FailUpsert("profiles", nil)
	require.Equal(t, 1, f.completeMeals(t, f.clock.today()))

	f.clock.nextDay()
	require.Equal(t, 2, f.completeMeals(t, f.clock.today()))
	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.EqualValues(t, 2, pending[0].Rows[0]["streak"])

	f.remote.Heal()
	f.clock.nextDay()
	require.Equal(t, 3, f.completeMeals(t, f.clock.today()))
	pending, err = f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	rows, err := f.remote.Query(ctx, "profiles", remotestore.Filter{"user_id": ownerID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 3, rows[0]["streak"])
}

func TestAnonymousStaysLocal(t *testing.T) {
	f := newFixture(t)
	f.owner = domain.Anonymous()

	require.Equal(t, 1, f.completeMeals(t, f.clock.today()))
	require.Empty(t, f.remote.Store.(*remotestore.MemoryStore).Rows("profiles"))

	raw, err := f.local.Get(context.Background(), "streak:anonymous")
	require.NoError(t, err)
	require.NotNil(t, raw)
}

func TestGetCurrentStreakCatchesUpFromCompletions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completeMeals(t, f.clock.today())
	f.clock.nextDay()

	today := f.clock.today()
	meals := []domain.MealCompletion{
		{Record: domain.Record{OwnerID: ownerID, Date: today, CompletedAt: "2026-03-03T08:00:00Z"}, MealType: domain.MealBreakfast},
		{Record: domain.Record{OwnerID: ownerID, Date: today, CompletedAt: "2026-03-03T12:00:00Z"}, MealType: domain.MealLunch},
		{Record: domain.Record{OwnerID: ownerID, Date: today, CompletedAt: "2026-03-03T19:00:00Z"}, MealType: domain.MealDinner},
		{Record: domain.Record{OwnerID: "9b2d7c1e-55aa-4f0e-8c3d-7e6f5a4b3c21", Date: today, CompletedAt: "2026-03-03T19:00:00Z"}, MealType: domain.MealDinner},
	}
	require.NoError(t, localdata.SaveRecords(ctx, f.local, domain.KindMeal, meals))

	streak, err := f.engine.GetCurrentStreak(ctx, f.owner)
	require.NoError(t, err)
	require.Equal(t, 2, streak)

	// A second read is stable.
	streak, err = f.engine.GetCurrentStreak(ctx, f.owner)
	require.NoError(t, err)
	require.Equal(t, 2, streak)
}

func TestReconcileTakesMaxAndLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.completeMeals(t, f.clock.today())

	require.NoError(t, f.remote.Upsert(ctx, "profiles", []remotestore.Row{{
		"user_id":              ownerID,
		"streak":               7,
		"longest_streak":       12,
		"last_completion_date": "2026-03-01",
	}}, []string{"user_id"}))

	state, err := f.engine.Reconcile(ctx, f.owner)
	require.NoError(t, err)
	require.Equal(t, 7, state.CurrentStreak)
	require.Equal(t, 12, state.LongestStreak)
	require.Equal(t, "2026-03-02", state.LastCompletionDate)

	rows, err := f.remote.Query(ctx, "profiles", remotestore.Filter{"user_id": ownerID})
	require.NoError(t, err)
	require.EqualValues(t, 7, rows[0]["streak"])
	require.Equal(t, "2026-03-02", rows[0]["last_completion_date"])

	local, err := localdata.LoadStreak(ctx, f.local, f.owner)
	require.NoError(t, err)
	require.Equal(t, 7, local.CurrentStreak)
}

func TestReconcileErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Reconcile(ctx, domain.Anonymous())
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	f.remote.FailQuery("profiles", nil)
	_, err = f.engine.Reconcile(ctx, f.owner)
	var transportErr *domain.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, "query", transportErr.Op)
}

func TestPruneKeepsRecentActivities(t *testing.T) {
	f := newFixture(t)
	f.completeMeals(t, f.clock.today())
	f.clock.now = f.clock.now.AddDate(0, 0, 120)
	f.completeMeals(t, f.clock.today())

	state, err := localdata.LoadStreak(context.Background(), f.local, f.owner)
	require.NoError(t, err)
	require.Len(t, state.Activities, 1)
	require.Contains(t, state.Activities, f.clock.today())
}
