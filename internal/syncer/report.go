package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/localstore"
	"github.com/OGUN01/fitai-sub001/internal/queue"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

// EntityReport is the per-entity diagnostic section of a Report.
type EntityReport struct {
	Kind       domain.EntityKind     `json:"kind"`
	Counters   domain.EntityCounters `json:"counters"`
	Validation *validate.Summary     `json:"validation,omitempty"`
	ErrorClass string                `json:"error_class,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// QueueReport describes the offline queue drain of a session.
type QueueReport struct {
	Drain       queue.DrainResult `json:"drain"`
	Quarantined []queue.Mutation  `json:"quarantined,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Report holds the per-record diagnostics of the most recent session. The
// primary sync result never carries these details.
type Report struct {
	SessionID     string                  `json:"session_id"`
	OwnerID       string                  `json:"owner_id"`
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    time.Time               `json:"finished_at,omitzero"`
	Success       bool                    `json:"success"`
	SnapshotError string                  `json:"snapshot_error,omitempty"`
	Rebind        localdata.RebindResult  `json:"rebind"`
	Entities      []EntityReport          `json:"entities"`
	Rollback      *domain.RollbackOutcome `json:"rollback,omitempty"`
	Queue         *QueueReport            `json:"queue,omitempty"`
}

// Entity returns the section for kind, if the session reached it.
func (r Report) Entity(kind domain.EntityKind) (EntityReport, bool) {
	for _, e := range r.Entities {
		if e.Kind == kind {
			return e, true
		}
	}
	return EntityReport{}, false
}

// ValidationErrors returns every record dropped by validation in the session.
func (r Report) ValidationErrors() []*domain.ValidationError {
	var out []*domain.ValidationError
	for _, e := range r.Entities {
		if e.Validation != nil {
			out = append(out, e.Validation.ValidationErrors()...)
		}
	}
	return out
}

func saveReport(ctx context.Context, store localstore.Store, report Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode sync report: %w", err)
	}
	return store.Set(ctx, ReportKey, body)
}

func loadReport(ctx context.Context, store localstore.Store) (*Report, error) {
	raw, err := store.Get(ctx, ReportKey)
	if err != nil {
		return nil, fmt.Errorf("read sync report: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, &domain.ParseError{Key: ReportKey, Err: err}
	}
	return &report, nil
}
