// Package events defines the payloads the sync engine emits and the
// publishers that deliver them.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

// PayloadVersion is stamped on every payload.
const PayloadVersion = "v1"

// Event types.
const (
	TypeSyncCompleted = "sync.completed"
	TypeStreakUpdated = "streak.updated"
)

// Default topics.
const (
	TopicSyncCompleted = "fitsync.sync.completed"
	TopicStreakUpdated = "fitsync.streak.updated"
)

// SyncCompleted is emitted when a sync session finishes, successful or not.
type SyncCompleted struct {
	SessionID  string                                      `json:"session_id"`
	UserID     string                                      `json:"user_id"`
	Success    bool                                        `json:"success"`
	Skipped    bool                                        `json:"skipped,omitempty"`
	RolledBack bool                                        `json:"rolled_back,omitempty"`
	Error      string                                      `json:"error,omitempty"`
	Counts     map[domain.EntityKind]domain.EntityCounters `json:"counts"`
	Queue      QueueOutcome                                `json:"queue"`
	OccurredAt time.Time                                   `json:"occurred_at"`
	Version    string                                      `json:"version"`
}

// QueueOutcome summarizes the offline queue drain of a session.
type QueueOutcome struct {
	Processed   int `json:"processed"`
	Quarantined int `json:"quarantined"`
	Remaining   int `json:"remaining"`
}

// StreakUpdated is emitted when an owner's streak state changes.
type StreakUpdated struct {
	UserID             string    `json:"user_id"`
	CurrentStreak      int       `json:"current_streak"`
	LongestStreak      int       `json:"longest_streak"`
	LastCompletionDate string    `json:"last_completion_date,omitempty"`
	Source             string    `json:"source"`
	OccurredAt         time.Time `json:"occurred_at"`
	Version            string    `json:"version"`
}

// Event is an envelope handed to a Publisher. Key is the partition key.
type Event struct {
	Type    string
	Key     string
	Payload any
}

// NewSyncCompleted wraps payload into an Event keyed by owner.
func NewSyncCompleted(payload SyncCompleted) Event {
	if payload.Version == "" {
		payload.Version = PayloadVersion
	}
	return Event{Type: TypeSyncCompleted, Key: payload.UserID, Payload: payload}
}

// NewStreakUpdated wraps payload into an Event keyed by owner.
func NewStreakUpdated(payload StreakUpdated) Event {
	if payload.Version == "" {
		payload.Version = PayloadVersion
	}
	return Event{Type: TypeStreakUpdated, Key: payload.UserID, Payload: payload}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
