// Package syncer drives sync sessions: snapshot, rebind, then a merge,
// validate and write-back step per entity type, with rollback when a session
// fails before anything was committed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/backup"
	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/events"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/observability"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

const defaultBatchSize = 50

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the clock used for timestamps and validation.
func WithClock(clock domain.Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBackup sets the backup manager. Defaults to one over the local store.
func WithBackup(manager *backup.Manager) Option {
	return func(o *Orchestrator) {
		o.backup = manager
	}
}

// WithValidator sets the validator. Defaults to one using the orchestrator clock.
func WithValidator(v *validate.Validator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

// WithQueue sets the offline mutation queue drained in every session.
func WithQueue(q *queue.Queue) Option {
	return func(o *Orchestrator) {
		o.queue = q
	}
}

// WithPublisher sets the publisher for sync.completed events.
func WithPublisher(publisher events.Publisher) Option {
	return func(o *Orchestrator) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithLock sets the device write lock held for the whole session. Components
// sharing it cannot rewrite local data while a session runs.
func WithLock(lock *localstore.Lock) Option {
	return func(o *Orchestrator) {
		if lock != nil {
			o.lock = lock
		}
	}
}

// WithBatchSize sets the maximum rows per remote upsert.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithGuardTTL sets how long a persisted session guard stays valid.
func WithGuardTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.guardTTL = ttl
		}
	}
}

// Orchestrator runs sync sessions between the local and remote stores.
type Orchestrator struct {
	local     localstore.Store
	remote    remotestore.Store
	backup    *backup.Manager
	validator *validate.Validator
	queue     *queue.Queue
	lock      *localstore.Lock
	publisher events.Publisher
	logger    *zap.Logger
	clock     domain.Clock
	batchSize int
	guardTTL  time.Duration

	guard  *sessionGuard
	status *statusTracker

	reportMu   sync.RWMutex
	lastReport *Report
}

// New constructs an Orchestrator.
func New(local localstore.Store, remote remotestore.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		local:     local,
		remote:    remote,
		lock:      localstore.NewLock(),
		publisher: events.Noop{},
		logger:    zap.NewNop(),
		clock:     domain.SystemClock,
		batchSize: defaultBatchSize,
		guardTTL:  defaultGuardTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.backup == nil {
		o.backup = backup.NewManager(local, backup.WithLogger(o.logger), backup.WithClock(o.clock))
	}
	if o.validator == nil {
		o.validator = validate.New(validate.WithClock(o.clock))
	}
	o.guard = &sessionGuard{store: local, clock: o.clock, ttl: o.guardTTL}
	o.status = newStatusTracker(local)
	return o
}

type session struct {
	id         string
	owner      domain.Owner
	started    time.Time
	snapshotOK bool
	committed  bool
	report     *Report
}

// RunSync runs one session for owner. Session failures are reported through
// the result; the error is non-nil only when the session could not start,
// ErrSessionInProgress among them. An anonymous owner yields a skipped,
// successful result.
func (o *Orchestrator) RunSync(ctx context.Context, owner domain.Owner) (domain.SyncResult, error) {
	if !owner.IsBound() {
		observability.RecordSession("skipped", time.Time{})
		o.logger.Info("sync skipped: owner not authenticated")
		return domain.SyncResult{
			Success: true,
			Skipped: true,
			Message: "not signed in; nothing to sync",
			Counts:  map[domain.EntityKind]domain.EntityCounters{},
		}, nil
	}

	s := &session{id: uuid.NewString(), owner: owner, started: o.clock.Now().UTC()}
	notStarted := domain.SyncResult{Success: false, Message: "sync could not start", Counts: map[domain.EntityKind]domain.EntityCounters{}}
	release, err := o.guard.acquire(ctx, s.id, owner)
	if err != nil {
		if errors.Is(err, ErrSessionInProgress) {
			observability.RecordSession("busy", time.Time{})
			return notStarted, err
		}
		o.rejectSession(ctx, err)
		return notStarted, err
	}
	finalCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := release(finalCtx); err != nil {
			o.logger.Warn("release session guard", zap.String("session_id", s.id), zap.Error(err))
		}
	}()

	if err := o.lock.Acquire(ctx); err != nil {
		o.rejectSession(finalCtx, fmt.Errorf("wait for local writes: %w", err))
		return notStarted, err
	}
	defer o.lock.Release()
	defer o.updateStatus(finalCtx, func(st *domain.SyncStatus) {
		if st.SessionID == s.id {
			st.InProgress = false
		}
	})

	return o.run(ctx, s), nil
}

// rejectSession records a session that failed before it started. A busy
// guard is not recorded: the status belongs to the running session.
func (o *Orchestrator) rejectSession(ctx context.Context, cause error) {
	observability.RecordSession("failed", time.Time{})
	o.logger.Error("sync session could not start", zap.Error(cause))
	o.updateStatus(context.WithoutCancel(ctx), func(st *domain.SyncStatus) {
		st.InProgress = false
		st.Error = "sync could not start: " + cause.Error()
	})
}

func (o *Orchestrator) run(ctx context.Context, s *session) domain.SyncResult {
	wallStart := time.Now()
	logger := o.logger.With(zap.String("session_id", s.id), zap.String("owner", s.owner.Tag()))
	s.report = &Report{SessionID: s.id, OwnerID: s.owner.Tag(), StartedAt: s.started, Entities: []EntityReport{}}

	o.updateStatus(ctx, func(st *domain.SyncStatus) {
		st.SessionID = s.id
		st.OwnerID = s.owner.Tag()
		st.InProgress = true
		st.StartedAt = s.started
		st.Error = ""
		st.Rollback = nil
		st.Entities = map[domain.EntityKind]domain.EntityCounters{}
	})
	logger.Info("sync session started")

	if _, err := o.backup.Snapshot(ctx, s.id); err != nil {
		s.report.SnapshotError = err.Error()
		logger.Warn("backup snapshot failed; continuing without rollback", zap.Error(err))
	} else {
		s.snapshotOK = true
	}

	rebound, err := localdata.Rebind(ctx, o.local, s.owner)
	s.report.Rebind = rebound
	if err != nil {
		return o.abort(ctx, s, fmt.Errorf("rebind: %w", err), wallStart)
	}
	if total := rebound.Total(); total > 0 || rebound.Streak {
		logger.Info("rebound placeholder records", zap.Int("records", total), zap.Bool("streak", rebound.Streak))
	}

	// Queued writes go first so the entity merges below see and supersede them.
	o.drainQueue(ctx, s, logger)

	var failed []string
	for _, kind := range domain.SyncOrder {
		outcome, err := o.step(ctx, s, kind)
		if outcome.committed {
			s.committed = true
		}
		entry := EntityReport{Kind: kind, Counters: outcome.counters}
		if outcome.validated {
			summary := outcome.summary
			entry.Validation = &summary
		}
		observability.RecordEntityRecords(string(kind), "success", outcome.counters.Success)
		observability.RecordEntityRecords(string(kind), "dropped", outcome.summary.Invalid)
		observability.RecordEntityRecords(string(kind), "failed", outcome.counters.Failed-outcome.summary.Invalid)

		if err != nil {
			class := domain.ErrorClass(err)
			entry.ErrorClass = class
			entry.Error = err.Error()
			s.report.Entities = append(s.report.Entities, entry)
			observability.RecordEntityError(string(kind), class)
			logger.Warn("entity step failed", zap.String("entity", string(kind)), zap.String("class", class), zap.Error(err))

			var parseErr *domain.ParseError
			if errors.As(err, &parseErr) && !s.committed {
				return o.abort(ctx, s, err, wallStart)
			}
			failed = append(failed, string(kind))
			continue
		}
		s.report.Entities = append(s.report.Entities, entry)
	}

	if len(failed) > 0 {
		return o.finish(ctx, s, false, "sync failed for "+strings.Join(failed, ", "), nil, wallStart)
	}
	return o.finish(ctx, s, true, "sync completed", nil, wallStart)
}

// abort restores the pre-session snapshot after a catastrophic failure and
// ends the session.
func (o *Orchestrator) abort(ctx context.Context, s *session, cause error, wallStart time.Time) domain.SyncResult {
	restoreCtx := context.WithoutCancel(ctx)
	outcome := &domain.RollbackOutcome{Attempted: true, Reason: cause.Error()}

	var rbErr error
	if !s.snapshotOK {
		rbErr = &domain.RollbackError{SessionID: s.id, Err: errors.New("no snapshot available")}
	} else if err := o.backup.Restore(restoreCtx, s.id); err != nil {
		rbErr = &domain.RollbackError{SessionID: s.id, Err: err}
	}
	if rbErr != nil {
		outcome.Reason = cause.Error() + "; " + rbErr.Error()
		o.logger.Error("rollback failed", zap.String("session_id", s.id), zap.Error(rbErr))
		return o.finish(restoreCtx, s, false, "sync aborted; local data could not be restored", outcome, wallStart)
	}
	outcome.Successful = true
	o.logger.Warn("session rolled back", zap.String("session_id", s.id), zap.Error(cause))
	return o.finish(restoreCtx, s, false, "sync aborted; local data restored", outcome, wallStart)
}

func (o *Orchestrator) finish(ctx context.Context, s *session, success bool, message string, rollback *domain.RollbackOutcome, wallStart time.Time) domain.SyncResult {
	ctx = context.WithoutCancel(ctx)
	now := o.clock.Now().UTC()

	var counts map[domain.EntityKind]domain.EntityCounters
	o.updateStatus(ctx, func(st *domain.SyncStatus) {
		st.InProgress = false
		st.Rollback = rollback
		if success {
			st.LastSyncAt = &now
			st.Error = ""
		} else {
			st.Error = message
		}
		counts = st.Clone().Entities
	})
	if counts == nil {
		counts = map[domain.EntityKind]domain.EntityCounters{}
	}

	s.report.FinishedAt = now
	s.report.Success = success
	s.report.Rollback = rollback
	o.reportMu.Lock()
	o.lastReport = s.report
	o.reportMu.Unlock()
	if err := saveReport(ctx, o.local, *s.report); err != nil {
		o.logger.Warn("persist sync report", zap.String("session_id", s.id), zap.Error(err))
	}

	outcome := "failed"
	switch {
	case success:
		outcome = "success"
		observability.RecordSyncSucceeded(now)
	case rollback != nil:
		outcome = "rolled_back"
	}
	observability.RecordSession(outcome, wallStart)

	payload := events.SyncCompleted{
		SessionID:  s.id,
		UserID:     s.owner.Tag(),
		Success:    success,
		RolledBack: rollback != nil && rollback.Successful,
		Counts:     counts,
		OccurredAt: now,
	}
	if !success {
		payload.Error = message
	}
	if q := s.report.Queue; q != nil {
		payload.Queue = events.QueueOutcome{Processed: q.Drain.Processed, Quarantined: len(q.Quarantined), Remaining: q.Drain.Remaining}
	}
	if err := o.publisher.Publish(ctx, events.NewSyncCompleted(payload)); err != nil {
		o.logger.Warn("publish sync.completed failed", zap.String("session_id", s.id), zap.Error(err))
	}

	o.logger.Info("sync session finished",
		zap.String("session_id", s.id),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(wallStart)),
	)
	return domain.SyncResult{SessionID: s.id, Success: success, Message: message, Counts: counts}
}

func (o *Orchestrator) drainQueue(ctx context.Context, s *session, logger *zap.Logger) {
	if o.queue == nil {
		return
	}
	result, err := o.queue.Drain(ctx, o.remote, s.owner)
	qr := &QueueReport{Drain: result}
	if err != nil {
		qr.Error = err.Error()
		logger.Warn("offline queue drain incomplete", zap.Error(err))
	}
	quarantined, err := o.queue.Quarantined(ctx)
	if err != nil {
		logger.Warn("list quarantined mutations", zap.Error(err))
	}
	for _, m := range quarantined {
		if m.OwnerID == s.owner.Tag() {
			qr.Quarantined = append(qr.Quarantined, m)
		}
	}
	s.report.Queue = qr
}

// GetSyncStatus returns a snapshot of the current or most recent session.
func (o *Orchestrator) GetSyncStatus(ctx context.Context) (domain.SyncStatus, error) {
	return o.status.snapshot(ctx)
}

// GetReport returns the diagnostics of the most recent session, or nil when
// no session has run on this device.
func (o *Orchestrator) GetReport(ctx context.Context) (*Report, error) {
	o.reportMu.RLock()
	report := o.lastReport
	o.reportMu.RUnlock()
	if report != nil {
		out := *report
		return &out, nil
	}
	return loadReport(ctx, o.local)
}

func (o *Orchestrator) updateStatus(ctx context.Context, fn func(*domain.SyncStatus)) {
	if err := o.status.update(ctx, fn); err != nil {
		o.logger.Warn("persist sync status", zap.Error(err))
	}
}

func (o *Orchestrator) setCounters(ctx context.Context, kind domain.EntityKind, counters domain.EntityCounters) {
	o.updateStatus(ctx, func(st *domain.SyncStatus) {
		st.Entities[kind] = counters
	})
}
