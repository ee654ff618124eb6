package domain

import (
	"maps"
	"time"
)

// EntityCounters tracks one entity type's progress within a session.
type EntityCounters struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
}

// RollbackOutcome records whether a restore was attempted and how it ended.
type RollbackOutcome struct {
	Attempted  bool   `json:"attempted"`
	Successful bool   `json:"successful"`
	Reason     string `json:"reason,omitempty"`
}

// SyncStatus is the observable state of the current or most recent session.
type SyncStatus struct {
	SessionID  string                        `json:"session_id,omitempty"`
	OwnerID    string                        `json:"owner_id,omitempty"`
	InProgress bool                          `json:"in_progress"`
	StartedAt  time.Time                     `json:"started_at,omitzero"`
	LastSyncAt *time.Time                    `json:"last_sync_at,omitempty"`
	Error      string                        `json:"error,omitempty"`
	Entities   map[EntityKind]EntityCounters `json:"entities"`
	Rollback   *RollbackOutcome              `json:"rollback,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (s SyncStatus) Clone() SyncStatus {
	out := s
	out.Entities = maps.Clone(s.Entities)
	if out.Entities == nil {
		out.Entities = map[EntityKind]EntityCounters{}
	}
	if s.LastSyncAt != nil {
		ts := *s.LastSyncAt
		out.LastSyncAt = &ts
	}
	if s.Rollback != nil {
		rb := *s.Rollback
		out.Rollback = &rb
	}
	return out
}

// SyncResult is the primary, user-visible outcome of one session.
type SyncResult struct {
	SessionID string                        `json:"session_id,omitempty"`
	Success   bool                          `json:"success"`
	Skipped   bool                          `json:"skipped,omitempty"`
	Message   string                        `json:"message,omitempty"`
	Counts    map[EntityKind]EntityCounters `json:"counts"`
}
