// Package queue keeps remote writes made while offline and replays them with
// bounded exponential backoff, quarantining entries that exhaust their retries.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
)

// Key is the local store key holding the queue.
const Key = "queue:mutations"

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = time.Minute
	maxDelay          = time.Hour
)

// ErrNotFound is returned by Requeue for unknown ids.
var ErrNotFound = errors.New("mutation not found")

// Mutation is one pending remote upsert.
type Mutation struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"owner_id"`
	Table            string            `json:"table"`
	Rows             []remotestore.Row `json:"rows"`
	ConflictKeys     []string          `json:"conflict_keys"`
	CoalesceKey      string            `json:"coalesce_key,omitempty"`
	Attempts         int               `json:"attempts"`
	CreatedAt        time.Time         `json:"created_at"`
	NextAttemptAt    *time.Time        `json:"next_attempt_at,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	QuarantinedAt    *time.Time        `json:"quarantined_at,omitempty"`
	QuarantineReason string            `json:"quarantine_reason,omitempty"`
}

// Quarantined reports whether the mutation stopped retrying.
func (m Mutation) Quarantined() bool {
	return m.QuarantinedAt != nil
}

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Processed   int `json:"processed"`
	Retried     int `json:"retried"`
	Quarantined int `json:"quarantined"`
	Remaining   int `json:"remaining"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides the clock used for backoff scheduling.
func WithClock(clock domain.Clock) Option {
	return func(q *Queue) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// WithRetry sets the retry ceiling and the base backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(q *Queue) {
		if maxRetries > 0 {
			q.maxRetries = maxRetries
		}
		if baseDelay > 0 {
			q.baseDelay = baseDelay
		}
	}
}

// Queue is the durable offline mutation queue.
type Queue struct {
	mu         sync.Mutex
	store      localstore.Store
	logger     *zap.Logger
	clock      domain.Clock
	maxRetries int
	baseDelay  time.Duration
}

// New constructs a Queue persisted in store.
func New(store localstore.Store, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		logger:     zap.NewNop(),
		clock:      domain.SystemClock,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a mutation and returns it with its id assigned. A mutation
// with a CoalesceKey replaces every queued entry of the same owner and key,
// quarantined ones included.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (Mutation, error) {
	if m.Table == "" || len(m.Rows) == 0 {
		return Mutation{}, errors.New("mutation needs a table and rows")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return Mutation{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = q.clock.Now().UTC()
	}
	if m.CoalesceKey != "" {
		entries = q.dropSuperseded(entries, m.OwnerID, m.CoalesceKey)
	}
	entries = append(entries, m)
	if err := q.save(ctx, entries); err != nil {
		return Mutation{}, err
	}
	updateBacklogGauge(entries)
	return m, nil
}

// Drain replays every due, non-quarantined mutation of owner against remote.
// Successful mutations are removed; failures are rescheduled with backoff and
// quarantined once they reach the retry ceiling. The returned error joins the
// individual replay failures.
func (q *Queue) Drain(ctx context.Context, remote remotestore.Store, owner domain.Owner) (DrainResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	var joined error
	now := q.clock.Now().UTC()
	kept := make([]Mutation, 0, len(entries))
	for _, m := range entries {
		if m.OwnerID != owner.Tag() || m.Quarantined() || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			kept = append(kept, m)
			continue
		}

		if err := remote.Upsert(ctx, m.Table, m.Rows, m.ConflictKeys); err != nil {
			m.Attempts++
			m.LastError = err.Error()
			joined = errors.Join(joined, fmt.Errorf("mutation %s: %w", m.ID, err))
			if m.Attempts >= q.maxRetries {
				m.QuarantinedAt = &now
				m.QuarantineReason = "retry limit reached"
				m.NextAttemptAt = nil
				result.Quarantined++
				recordQuarantined(m)
				q.logger.Warn("mutation quarantined",
					zap.String("mutation_id", m.ID),
					zap.String("table", m.Table),
					zap.Int("attempts", m.Attempts),
					zap.Error(err),
				)
			} else {
				next := now.Add(q.backoffDelay(m.Attempts))
				m.NextAttemptAt = &next
				result.Retried++
				recordRetry(m)
			}
			kept = append(kept, m)
			continue
		}

		result.Processed++
		recordProcessed(m)
	}

	if err := q.save(ctx, kept); err != nil {
		return result, errors.Join(joined, err)
	}
	for _, m := range kept {
		if m.OwnerID == owner.Tag() && !m.Quarantined() {
			result.Remaining++
		}
	}
	updateBacklogGauge(kept)
	return result, joined
}

// Pending returns every queued mutation that is not quarantined.
func (q *Queue) Pending(ctx context.Context) ([]Mutation, error) {
	return q.filter(ctx, func(m Mutation) bool { return !m.Quarantined() })
}

// Quarantined returns every quarantined mutation.
func (q *Queue) Quarantined(ctx context.Context) ([]Mutation, error) {
	return q.filter(ctx, Mutation.Quarantined)
}

// Requeue clears the quarantine and retry state of the mutation with id so the
// next Drain attempts it again.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		entries[i].Attempts = 0
		entries[i].NextAttemptAt = nil
		entries[i].QuarantinedAt = nil
		entries[i].QuarantineReason = ""
		recordRequeued(entries[i])
		if err := q.save(ctx, entries); err != nil {
			return err
		}
		updateBacklogGauge(entries)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Supersede removes every queued mutation of ownerID carrying coalesceKey and
// returns how many were removed. Callers use it after writing newer state for
// that key directly.
func (q *Queue) Supersede(ctx context.Context, ownerID, coalesceKey string) (int, error) {
	if coalesceKey == "" {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	kept := q.dropSuperseded(entries, ownerID, coalesceKey)
	removed := len(entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := q.save(ctx, kept); err != nil {
		return 0, err
	}
	updateBacklogGauge(kept)
	return removed, nil
}

func (q *Queue) dropSuperseded(entries []Mutation, ownerID, coalesceKey string) []Mutation {
	kept := entries[:0:0]
	for _, m := range entries {
		if m.OwnerID == ownerID && m.CoalesceKey == coalesceKey {
			q.logger.Debug("mutation superseded",
				zap.String("mutation_id", m.ID),
				zap.String("coalesce_key", coalesceKey),
				zap.Bool("quarantined", m.Quarantined()),
			)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// backoffDelay calculates exponential backoff capped at one hour.
func (q *Queue) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return maxDelay
	}
	delay := time.Duration(1<<uint(attempt-1)) * q.baseDelay
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

func (q *Queue) filter(ctx context.Context, keep func(Mutation) bool) ([]Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Mutation, 0, len(entries))
	for _, m := range entries {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *Queue) load(ctx context.Context) ([]Mutation, error) {
	raw, err := q.store.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if len(raw) == 0 {
		return []Mutation{}, nil
	}
	var entries []Mutation
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &domain.ParseError{Key: Key, Err: err}
	}
	return entries, nil
}

func (q *Queue) save(ctx context.Context, entries []Mutation) error {
	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(ctx, Key, body); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}
