package syncer

import (
	"context"
	"fmt"

	"github.com/OGUN01/fitai-sub001/internal/domain"
	"github.com/OGUN01/fitai-sub001/internal/localdata"
	"github.com/OGUN01/fitai-sub001/internal/merge"
	"github.com/OGUN01/fitai-sub001/internal/remotestore"
	"github.com/OGUN01/fitai-sub001/internal/validate"
)

type stepOutcome struct {
	counters  domain.EntityCounters
	summary   validate.Summary
	validated bool
	committed bool
}

func (o *Orchestrator) step(ctx context.Context, s *session, kind domain.EntityKind) (stepOutcome, error) {
	switch kind {
	case domain.KindProfile:
		return o.syncProfiles(ctx, s)
	case domain.KindWorkout:
		return syncRecords[domain.WorkoutCompletion](ctx, o, s, kind)
	case domain.KindMeal:
		return syncRecords[domain.MealCompletion](ctx, o, s, kind)
	case domain.KindBodyMetric:
		return syncRecords[domain.BodyMetric](ctx, o, s, kind)
	}
	return stepOutcome{}, fmt.Errorf("unknown entity kind %q", kind)
}

// syncRecords runs one append-only entity step. The owner's local records
// are merged with the remote ones, invalid records dropped, the rest upserted
// in batches and, once every batch succeeded, written back locally next to
// other owners' records.
func syncRecords[T domain.Syncable[T]](ctx context.Context, o *Orchestrator, s *session, kind domain.EntityKind) (stepOutcome, error) {
	var out stepOutcome
	all, err := localdata.LoadRecords[T](ctx, o.local, kind)
	if err != nil {
		return out, err
	}
	mine, others := localdata.Partition(all, s.owner)

	rows, err := o.queryRemote(ctx, s, kind)
	if err != nil {
		return out, err
	}
	remote := make([]T, 0, len(rows))
	for _, row := range rows {
		var rec T
		if err := remotestore.FromRow(row, &rec); err != nil {
			return out, &domain.TransportError{Kind: kind, Table: kind.Table(), Op: "decode", Err: err}
		}
		remote = append(remote, rec)
	}

	merged := merge.Records(mine, domain.EnsureIDs(remote))
	valid, summary := validate.FilterValid(o.validator, merged)
	out.summary, out.validated = summary, true

	upsertRows := make([]remotestore.Row, 0, len(valid))
	for _, rec := range valid {
		row, err := remotestore.ToRow(rec)
		if err != nil {
			return out, fmt.Errorf("encode %s %s: %w", kind, rec.Meta().ID, err)
		}
		upsertRows = append(upsertRows, row)
	}

	if err := o.upsertBatches(ctx, s, kind, upsertRows, &out); err != nil {
		return out, err
	}

	if len(all) == 0 && len(valid) == 0 {
		return out, nil
	}
	local := make([]T, 0, len(valid)+len(others))
	local = append(local, valid...)
	local = append(local, others...)
	if err := localdata.SaveRecords(ctx, o.local, kind, local); err != nil {
		return out, err
	}
	return out, nil
}

// syncProfiles is the profile step: the owner's local and remote profile
// documents are merged, validated and written to both sides.
func (o *Orchestrator) syncProfiles(ctx context.Context, s *session) (stepOutcome, error) {
	var out stepOutcome
	kind := domain.KindProfile
	all, err := localdata.LoadProfiles(ctx, o.local)
	if err != nil {
		return out, err
	}
	var mine, others []domain.Profile
	for _, p := range all {
		if p.OwnerID == s.owner.Tag() {
			mine = append(mine, p)
		} else {
			others = append(others, p)
		}
	}

	rows, err := o.queryRemote(ctx, s, kind)
	if err != nil {
		return out, err
	}
	remote := make([]domain.Profile, 0, len(rows))
	for _, row := range rows {
		var p domain.Profile
		if err := remotestore.FromRow(row, &p); err != nil {
			return out, &domain.TransportError{Kind: kind, Table: kind.Table(), Op: "decode", Err: err}
		}
		remote = append(remote, p)
	}

	merged := merge.Profiles(mine, remote)
	valid, summary := validate.FilterProfiles(o.validator, merged)
	out.summary, out.validated = summary, true

	upsertRows := make([]remotestore.Row, 0, len(valid))
	for _, p := range valid {
		row, err := remotestore.ToRow(p)
		if err != nil {
			return out, fmt.Errorf("encode profile: %w", err)
		}
		upsertRows = append(upsertRows, row)
	}
	if err := o.upsertBatches(ctx, s, kind, upsertRows, &out); err != nil {
		return out, err
	}

	if len(all) == 0 && len(valid) == 0 {
		return out, nil
	}
	local := make([]domain.Profile, 0, len(valid)+len(others))
	local = append(local, valid...)
	local = append(local, others...)
	if err := localdata.SaveProfiles(ctx, o.local, local); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) queryRemote(ctx context.Context, s *session, kind domain.EntityKind) ([]remotestore.Row, error) {
	rows, err := o.remote.Query(ctx, kind.Table(), remotestore.Filter{remotestore.OwnerColumn: s.owner.Tag()})
	if err != nil {
		return nil, &domain.TransportError{Kind: kind, Table: kind.Table(), Op: "query", Err: err}
	}
	return rows, nil
}

// upsertBatches writes rows in batches and keeps the step counters and the
// session status current. Records dropped by validation count as processed
// and failed. On the first failing batch the remaining records are counted
// failed and a TransportError is returned.
func (o *Orchestrator) upsertBatches(ctx context.Context, s *session, kind domain.EntityKind, rows []remotestore.Row, out *stepOutcome) error {
	out.counters = domain.EntityCounters{
		Total:     out.summary.Total,
		Processed: out.summary.Invalid,
		Failed:    out.summary.Invalid,
	}
	o.setCounters(ctx, kind, out.counters)

	for start := 0; start < len(rows); start += o.batchSize {
		end := min(start+o.batchSize, len(rows))
		if err := o.remote.Upsert(ctx, kind.Table(), rows[start:end], kind.ConflictKeys()); err != nil {
			remaining := len(rows) - start
			out.counters.Processed += remaining
			out.counters.Failed += remaining
			o.setCounters(ctx, kind, out.counters)
			return &domain.TransportError{Kind: kind, Table: kind.Table(), Op: "upsert", Err: err}
		}
		out.committed = true
		out.counters.Processed += end - start
		out.counters.Success += end - start
		o.setCounters(ctx, kind, out.counters)
	}
	return nil
}
