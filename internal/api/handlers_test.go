package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/OGUN01/fitai-sub001/internal/backup"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/identity"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
	"github.com/OGUN01/fitai-sub001/internal/streak"
	"github.com/OGUN01/fitai-sub001/internal/syncer"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

const ownerID = "3f1c9a52-7e0b-4d8e-9a44-2c6b1f0d5e77"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	local   *localstore.MemoryStore
	remote  *remotestore.Faults
	queue   *queue.Queue
	mux     *http.ServeMux
	handler *Handler
}

func newFixture(t *testing.T, provider identity.Provider) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clock := domain.FixedClock(now)
	f := &fixture{
		local:  localstore.NewMemoryStore(),
		remote: remotestore.WithFaults(remotestore.NewMemoryStore()),
	}
	f.queue = queue.New(f.local, queue.WithClock(clock))
	lock := localstore.NewLock()
	validator := validate.New(validate.WithClock(clock), validate.WithLocation(time.UTC))
	backups := backup.NewManager(f.local, backup.WithClock(clock))
	engine := streak.New(f.local,
		streak.WithClock(clock),
		streak.WithLocation(time.UTC),
		streak.WithRemote(f.remote),
		streak.WithQueue(f.queue),
		streak.WithLock(lock),
	)
	orch := syncer.New(f.local, f.remote,
		syncer.WithLogger(logger),
		syncer.WithClock(clock),
		syncer.WithBackup(backups),
		syncer.WithValidator(validator),
		syncer.WithQueue(f.queue),
		syncer.WithLock(lock),
	)
	f.handler = NewHandler(Dependencies{
		Sync:      orch,
		Streak:    engine,
		Validator: validator,
		Local:     f.local,
		Lock:      lock,
		Backups:   backups,
		Queue:     f.queue,
		Identity:  provider,
		Logger:    logger,
	})
	f.mux = http.NewServeMux()
	f.handler.RegisterRoutes(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func bound() identity.Provider {
	return identity.Static{Owner: domain.Bound(ownerID)}
}

func TestRunSyncAndReadStatus(t *testing.T) {
	f := newFixture(t, bound())
	meal := domain.MealCompletion{
		Record:   domain.Record{OwnerID: ownerID, Date: "2026-03-10", CompletedAt: "2026-03-10T08:00:00Z"},
		MealType: domain.MealBreakfast,
	}
	require.NoError(t, localdata.SaveRecords(context.Background(), f.local, domain.KindMeal, []domain.MealCompletion{meal}))

	rr := f.do(t, http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[domain.SyncResult](t, rr)
	require.True(t, result.Success)
	require.Equal(t, 1, result.Counts[domain.KindMeal].Success)

	rr = f.do(t, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[domain.SyncStatus](t, rr)
	require.False(t, status.InProgress)
	require.NotNil(t, status.LastSyncAt)

	rr = f.do(t, http.MethodGet, "/v1/sync/report", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[syncer.Report](t, rr)
	require.Equal(t, result.SessionID, report.SessionID)

	rr = f.do(t, http.MethodGet, "/v1/backups", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decode[BackupsResponse](t, rr).Items, 1)
}

func TestRunSyncConflictWhileGuardHeld(t *testing.T) {
	f := newFixture(t, bound())
	held := `{"session_id":"other","owner_id":"` + ownerID + `","acquired_at":"2026-03-10T11:59:00Z","expires_at":"2026-03-10T12:09:00Z"}`
	require.NoError(t, f.local.Set(context.Background(), syncer.GuardKey, []byte(held)))

	rr := f.do(t, http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestReportMissingBeforeFirstSync(t *testing.T) {
	f := newFixture(t, bound())
	rr := f.do(t, http.MethodGet, "/v1/sync/report", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, bound())
	rr := f.do(t, http.MethodGet, "/v1/sync", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestRecordActivityAndReadStreak(t *testing.T) {
	f := newFixture(t, bound())
	for _, meal := range []domain.MealCategory{domain.MealBreakfast, domain.MealLunch, domain.MealDinner} {
		rr := f.do(t, http.MethodPost, "/v1/streak/activities", map[string]any{"date": "2026-03-10", "kind": "meal", "meal": meal})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rr := f.do(t, http.MethodGet, "/v1/streak", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	view := decode[StreakView](t, rr)
	require.Equal(t, 1, view.CurrentStreak)
	require.Equal(t, "2026-03-10", view.LastCompletionDate)
}

func TestRecordActivityRejectsBadInput(t *testing.T) {
	f := newFixture(t, bound())
	cases := map[string]any{
		"future":      map[string]any{"date": "2026-03-11", "kind": "water"},
		"unknown":     map[string]any{"date": "2026-03-10", "kind": "sleep"},
		"bad date":    map[string]any{"date": "10/03/2026", "kind": "water"},
		"no meal":     map[string]any{"date": "2026-03-10", "kind": "meal"},
		"missing all": map[string]any{},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/v1/streak/activities", body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestReconcileStreakErrors(t *testing.T) {
	anon := newFixture(t, identity.Static{Owner: domain.Anonymous()})
	rr := anon.do(t, http.MethodPost, "/v1/streak/reconcile", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	f := newFixture(t, bound())
	f.remote.FailQuery(domain.KindProfile.Table(), errors.New("connection refused"))
	rr = f.do(t, http.MethodPost, "/v1/streak/reconcile", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)

	f.remote.Heal()
	rr = f.do(t, http.MethodPost, "/v1/streak/reconcile", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCleanRecordsDropsInvalid(t *testing.T) {
	f := newFixture(t, bound())
	records := []domain.MealCompletion{
		{Record: domain.Record{OwnerID: ownerID, Date: "2026-03-10", CompletedAt: "2026-03-10T08:00:00Z"}, MealType: domain.MealLunch},
		{Record: domain.Record{OwnerID: ownerID, Date: "not-a-date", CompletedAt: "2026-03-10T08:00:00Z"}, MealType: domain.MealLunch},
	}
	require.NoError(t, localdata.SaveRecords(context.Background(), f.local, domain.KindMeal, records))

	rr := f.do(t, http.MethodPost, "/v1/records/clean", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, decode[CleanResponse](t, rr).Dropped)

	rr = f.do(t, http.MethodPost, "/v1/records/clean", nil)
	require.Equal(t, 0, decode[CleanResponse](t, rr).Dropped)
}

func TestQueueListAndRequeue(t *testing.T) {
	f := newFixture(t, bound())
	ctx := context.Background()
	m, err := f.queue.Enqueue(ctx, queue.Mutation{
		OwnerID: ownerID,
		Table:   domain.KindProfile.Table(),
		Rows:    []remotestore.Row{{"user_id": ownerID, "streak": 1}},
	})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	listed := decode[QueueResponse](t, rr)
	require.Len(t, listed.Pending, 1)
	require.Empty(t, listed.Quarantined)

	rr = f.do(t, http.MethodPost, "/v1/queue/"+m.ID+"/requeue", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/queue/missing/requeue", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/v1/queue/"+m.ID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvalidStoredTokenIsUnauthorized(t *testing.T) {
	store := localstore.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), identity.TokenKey, []byte("garbage")))
	f := newFixture(t, identity.NewTokenProvider(store, identity.Config{Secret: "s"}))

	rr := f.do(t, http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, bound())
	rr := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
