// Package streak maintains the derived daily-activity streak per owner and
// keeps the local and remote copies of it consistent.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/events"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/observability"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
)

const defaultRetentionDays = 90

var (
	// ErrFutureDate is returned for activities dated after today.
	ErrFutureDate = errors.New("activity date is in the future")
	// ErrUnknownActivity is returned for activity kinds the engine does not track.
	ErrUnknownActivity = errors.New("unknown activity kind")
)

// Activity is one activity-completion event.
type Activity struct {
	Date      string              `json:"date"`
	Kind      domain.ActivityKind `json:"kind"`
	Meal      domain.MealCategory `json:"meal,omitempty"`
	Completed bool                `json:"completed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock that defines "today".
func WithClock(clock domain.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLocation sets the time zone calendar days are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithRemote enables pushing streak changes to the remote profile.
func WithRemote(remote remotestore.Store) Option {
	return func(e *Engine) {
		e.remote = remote
	}
}

// WithQueue sets the queue failed remote pushes are deferred to.
func WithQueue(q *queue.Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithPublisher sets the publisher for streak.updated events.
func WithPublisher(publisher events.Publisher) Option {
	return func(e *Engine) {
		if publisher != nil {
			e.publisher = publisher
		}
	}
}

// WithLock sets the device write lock shared with the other components that
// rewrite local data.
func WithLock(lock *localstore.Lock) Option {
	return func(e *Engine) {
		if lock != nil {
			e.lock = lock
		}
	}
}

// WithRetentionDays bounds how long per-day activity records are kept.
func WithRetentionDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.retentionDays = days
		}
	}
}

// Engine records activities and derives streaks.
type Engine struct {
	lock          *localstore.Lock
	local         localstore.Store
	remote        remotestore.Store
	queue         *queue.Queue
	publisher     events.Publisher
	logger        *zap.Logger
	clock         domain.Clock
	loc           *time.Location
	retentionDays int
}

// New constructs an Engine over the local store.
func New(local localstore.Store, opts ...Option) *Engine {
	e := &Engine{
		lock:          localstore.NewLock(),
		local:         local,
		publisher:     events.Noop{},
		logger:        zap.NewNop(),
		clock:         domain.SystemClock,
		loc:           time.UTC,
		retentionDays: defaultRetentionDays,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordActivity marks an activity for a date and returns the resulting
// current streak. Anonymous owners get local bookkeeping only.
func (e *Engine) RecordActivity(ctx context.Context, owner domain.Owner, activity Activity) (int, error) {
	if err := e.lock.Acquire(ctx); err != nil {
		return 0, err
	}
	defer e.lock.Release()

	now := e.clock.Now().In(e.loc)
	day, err := domain.ParseDate(activity.Date)
	if err != nil {
		return 0, fmt.Errorf("activity date %q: %w", activity.Date, err)
	}
	if activity.Date > domain.FormatDate(now) {
		return 0, fmt.Errorf("%w: %s", ErrFutureDate, activity.Date)
	}

	state, err := localdata.LoadStreak(ctx, e.local, owner)
	if err != nil {
		return 0, err
	}
	rec := state.Activities[activity.Date]
	switch activity.Kind {
	case domain.ActivityWorkout:
		rec.Workouts = activity.Completed
	case domain.ActivityMeal:
		if !activity.Meal.Valid() {
			return 0, fmt.Errorf("meal category %q: %w", activity.Meal, ErrUnknownActivity)
		}
		rec.Meals.Set(activity.Meal, activity.Completed)
	case domain.ActivityWater:
		rec.Water = activity.Completed
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownActivity, activity.Kind)
	}
	state.Activities[activity.Date] = rec

	schedule, err := e.schedule(ctx, owner)
	if err != nil {
		return 0, err
	}
	changed := advance(&state, activity.Date, DayComplete(rec, schedule.IsWorkoutDay(day)))
	if err := e.commit(ctx, owner, &state, now, changed, "activity"); err != nil {
		return 0, err
	}
	return state.CurrentStreak, nil
}

// GetCurrentStreak returns the owner's current streak after re-deriving
// today's completion from the locally stored workout and meal completions.
func (e *Engine) GetCurrentStreak(ctx context.Context, owner domain.Owner) (int, error) {
	state, err := e.State(ctx, owner)
	if err != nil {
		return 0, err
	}
	return state.CurrentStreak, nil
}

// State returns the owner's streak state after the same catch-up as
// GetCurrentStreak.
func (e *Engine) State(ctx context.Context, owner domain.Owner) (domain.StreakState, error) {
	if err := e.lock.Acquire(ctx); err != nil {
		return domain.StreakState{}, err
	}
	defer e.lock.Release()

	now := e.clock.Now().In(e.loc)
	today := domain.FormatDate(now)
	state, err := localdata.LoadStreak(ctx, e.local, owner)
	if err != nil {
		return domain.StreakState{}, err
	}

	derived, err := e.deriveDay(ctx, owner, today)
	if err != nil {
		return domain.StreakState{}, err
	}
	current := state.Activities[today]
	merged := current.Union(derived)
	if merged == current {
		return state, nil
	}
	state.Activities[today] = merged

	schedule, err := e.schedule(ctx, owner)
	if err != nil {
		return domain.StreakState{}, err
	}
	changed := advance(&state, today, DayComplete(merged, schedule.IsWorkoutDay(now)))
	if err := e.commit(ctx, owner, &state, now, changed, "catch_up"); err != nil {
		return domain.StreakState{}, err
	}
	return state, nil
}

// Reconcile repairs divergence between the local streak state and the remote
// profile: the larger streak and the later completion date win, and the
// result is written to both sides.
func (e *Engine) Reconcile(ctx context.Context, owner domain.Owner) (domain.StreakState, error) {
	if !owner.IsBound() {
		return domain.StreakState{}, domain.ErrUnauthenticated
	}
	if e.remote == nil {
		return domain.StreakState{}, errors.New("streak reconcile needs a remote store")
	}
	if err := e.lock.Acquire(ctx); err != nil {
		return domain.StreakState{}, err
	}
	defer e.lock.Release()

	state, err := localdata.LoadStreak(ctx, e.local, owner)
	if err != nil {
		return domain.StreakState{}, err
	}

	table := domain.KindProfile.Table()
	rows, err := e.remote.Query(ctx, table, remotestore.Filter{remotestore.OwnerColumn: owner.Tag()})
	if err != nil {
		return domain.StreakState{}, &domain.TransportError{Kind: domain.KindProfile, Table: table, Op: "query", Err: err}
	}
	for _, row := range rows {
		var remote domain.Profile
		if err := remotestore.FromRow(row, &remote); err != nil {
			return domain.StreakState{}, fmt.Errorf("decode remote profile: %w", err)
		}
		state.CurrentStreak = max(state.CurrentStreak, remote.Streak)
		state.LongestStreak = max(state.LongestStreak, remote.LongestStreak, state.CurrentStreak)
		if remote.LastCompletionDate > state.LastCompletionDate {
			state.LastCompletionDate = remote.LastCompletionDate
		}
	}

	now := e.clock.Now().In(e.loc)
	state.LastUpdated = now.UTC()
	if err := localdata.SaveStreak(ctx, e.local, owner, state); err != nil {
		return domain.StreakState{}, err
	}
	if err := e.syncProfileProjection(ctx, owner, state); err != nil {
		return domain.StreakState{}, err
	}
	if err := e.remote.Upsert(ctx, table, []remotestore.Row{projection(owner, state)}, domain.KindProfile.ConflictKeys()); err != nil {
		return state, &domain.TransportError{Kind: domain.KindProfile, Table: table, Op: "upsert", Err: err}
	}
	e.supersedeQueued(ctx, owner)
	e.publish(ctx, owner, state, "reconcile")
	observability.RecordStreak(state.CurrentStreak)
	return state, nil
}

// commit prunes and persists state. When the streak moved it is projected
// onto the local profile, pushed to the remote profile for bound owners and
// announced.
func (e *Engine) commit(ctx context.Context, owner domain.Owner, state *domain.StreakState, now time.Time, changed bool, source string) error {
	prune(state, now, e.retentionDays)
	state.LastUpdated = now.UTC()
	if err := localdata.SaveStreak(ctx, e.local, owner, *state); err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := e.syncProfileProjection(ctx, owner, *state); err != nil {
		return err
	}
	if owner.IsBound() {
		e.push(ctx, owner, *state)
	}
	e.publish(ctx, owner, *state, source)
	observability.RecordStreak(state.CurrentStreak)
	e.logger.Debug("streak advanced",
		zap.String("owner", owner.Tag()),
		zap.Int("current", state.CurrentStreak),
		zap.String("last_completion_date", state.LastCompletionDate),
	)
	return nil
}

// push writes the projection to the remote profile, deferring it to the
// offline queue when the remote store is unavailable. Only the newest deferred
// projection per owner is kept, and a successful push discards it.
func (e *Engine) push(ctx context.Context, owner domain.Owner, state domain.StreakState) {
	row := projection(owner, state)
	table := domain.KindProfile.Table()
	conflictKeys := domain.KindProfile.ConflictKeys()

	var err error
	if e.remote == nil {
		err = errors.New("no remote store configured")
	} else {
		err = e.remote.Upsert(ctx, table, []remotestore.Row{row}, conflictKeys)
	}
	if err == nil {
		e.supersedeQueued(ctx, owner)
		return
	}
	if e.queue == nil {
		e.logger.Warn("streak push failed", zap.String("owner", owner.Tag()), zap.Error(err))
		return
	}
	m, qerr := e.queue.Enqueue(ctx, queue.Mutation{
		OwnerID:      owner.Tag(),
		Table:        table,
		Rows:         []remotestore.Row{row},
		ConflictKeys: conflictKeys,
		CoalesceKey:  domain.StreakKey(owner),
	})
	if qerr != nil {
		e.logger.Error("streak push could not be queued", zap.String("owner", owner.Tag()), zap.Error(errors.Join(err, qerr)))
		return
	}
	e.logger.Info("streak push deferred", zap.String("owner", owner.Tag()), zap.String("mutation_id", m.ID), zap.Error(err))
}

func (e *Engine) supersedeQueued(ctx context.Context, owner domain.Owner) {
	if e.queue == nil {
		return
	}
	n, err := e.queue.Supersede(ctx, owner.Tag(), domain.StreakKey(owner))
	if err != nil {
		e.logger.Warn("discard deferred streak push", zap.String("owner", owner.Tag()), zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Debug("deferred streak push superseded", zap.String("owner", owner.Tag()), zap.Int("mutations", n))
	}
}

func (e *Engine) publish(ctx context.Context, owner domain.Owner, state domain.StreakState, source string) {
	event := events.NewStreakUpdated(events.StreakUpdated{
		UserID:             owner.Tag(),
		CurrentStreak:      state.CurrentStreak,
		LongestStreak:      state.LongestStreak,
		LastCompletionDate: state.LastCompletionDate,
		Source:             source,
		OccurredAt:         state.LastUpdated,
	})
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish streak.updated failed", zap.String("owner", owner.Tag()), zap.Error(err))
	}
}

// syncProfileProjection copies the streak counters onto the owner's local
// profile when one exists.
func (e *Engine) syncProfileProjection(ctx context.Context, owner domain.Owner, state domain.StreakState) error {
	profiles, err := localdata.LoadProfiles(ctx, e.local)
	if err != nil {
		return err
	}
	for i := range profiles {
		if profiles[i].OwnerID != owner.Tag() {
			continue
		}
		p := &profiles[i]
		if p.Streak == state.CurrentStreak && p.LongestStreak == state.LongestStreak && p.LastCompletionDate == state.LastCompletionDate {
			return nil
		}
		p.Streak = state.CurrentStreak
		p.LongestStreak = state.LongestStreak
		p.LastCompletionDate = state.LastCompletionDate
		return localdata.SaveProfiles(ctx, e.local, profiles)
	}
	return nil
}

func (e *Engine) schedule(ctx context.Context, owner domain.Owner) (Schedule, error) {
	profile, err := localdata.ProfileFor(ctx, e.local, owner)
	if err != nil {
		return nil, err
	}
	return ScheduleFor(profile), nil
}

// deriveDay builds the activity record of date from the owner's stored
// workout and meal completions.
func (e *Engine) deriveDay(ctx context.Context, owner domain.Owner, date string) (domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	workouts, err := localdata.LoadRecords[domain.WorkoutCompletion](ctx, e.local, domain.KindWorkout)
	if err != nil {
		return rec, err
	}
	for _, w := range workouts {
		if w.Date == date && ownedBy(w.OwnerID, owner) {
			rec.Workouts = true
		}
	}
	meals, err := localdata.LoadRecords[domain.MealCompletion](ctx, e.local, domain.KindMeal)
	if err != nil {
		return rec, err
	}
	for _, m := range meals {
		if m.Date == date && ownedBy(m.OwnerID, owner) {
			rec.Meals.Set(m.MealType, true)
		}
	}
	return rec, nil
}

func ownedBy(tag string, owner domain.Owner) bool {
	if !owner.IsBound() {
		return domain.IsPlaceholderOwner(tag)
	}
	return tag == owner.Tag()
}

func projection(owner domain.Owner, state domain.StreakState) remotestore.Row {
	row := remotestore.Row{
		remotestore.OwnerColumn: owner.Tag(),
		"streak":                state.CurrentStreak,
		"longest_streak":        max(state.LongestStreak, state.CurrentStreak),
	}
	if state.LastCompletionDate != "" {
		row["last_completion_date"] = state.LastCompletionDate
	}
	return row
}
