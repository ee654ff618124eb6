// Package merge deterministically combines a local and a remote version of
// profiles and append-only record collections. Every function is commutative
// and idempotent: merging A with B equals merging B with A, and merging A with
// itself returns A.
package merge

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

// Rule names how a field combines when both sides carry it.
type Rule int

const (
	// LastWriterWins keeps the value with the later timestamp.
	LastWriterWins Rule = iota
	// Max keeps the larger number.
	Max
	// LatestDate keeps the later YYYY-MM-DD date.
	LatestDate
	// SetUnion keeps every distinct element from both sides, sorted.
	SetUnion
)

// ProfileRules declares the non-default rules for top-level profile fields.
var ProfileRules = map[string]Rule{
	"streak":               Max,
	"longest_streak":       Max,
	"last_completion_date": LatestDate,
}

// SubDocumentRules declares the non-default rules for sub-document values.
var SubDocumentRules = map[domain.SubDocumentKind]map[string]Rule{
	domain.SubDietPreferences:    {"allergies": SetUnion, "excluded_foods": SetUnion},
	domain.SubWorkoutPreferences: {"training_days": SetUnion, "equipment": SetUnion},
}

// Record merges two versions of the same append-only record: the later
// completion timestamp wins.
func Record[T domain.Syncable[T]](a, b T) T {
	if canonicalEqual(a, b) {
		return a
	}
	ta := completedAt(a.Meta())
	tb := completedAt(b.Meta())
	switch {
	case ta.After(tb):
		return a
	case tb.After(ta):
		return b
	}
	if compareCanonical(a, b) >= 0 {
		return a
	}
	return b
}

// Records merges two collections by identifier. Records present on one side
// only are kept; records on both sides are merged with Record. The result is
// ordered by id. Records without an id are assigned their derived id first.
func Records[T domain.Syncable[T]](local, remote []T) []T {
	byID := make(map[string]T, len(local)+len(remote))
	add := func(rec T) {
		rec = domain.EnsureID(rec)
		id := rec.Meta().ID
		if existing, ok := byID[id]; ok {
			byID[id] = Record(existing, rec)
			return
		}
		byID[id] = rec
	}
	for _, rec := range local {
		add(rec)
	}
	for _, rec := range remote {
		add(rec)
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// Profile merges two versions of one owner's profile. Scalar fields follow
// ProfileRules, falling back to last-writer-wins on the profiles' updated_at.
// Sub-documents are union-merged recursively on their own timestamps.
func Profile(a, b domain.Profile) domain.Profile {
	if canonicalEqual(a, b) {
		return a
	}

	am, err := toMap(a)
	if err != nil {
		return a
	}
	bm, err := toMap(b)
	if err != nil {
		return a
	}

	subKinds := map[string]domain.SubDocumentKind{}
	for kind := range a.SubDocuments() {
		subKinds[string(kind)] = kind
	}

	out := map[string]any{}
	for _, key := range unionKeys(am, bm) {
		av, aok := am[key]
		bv, bok := bm[key]
		switch {
		case !aok:
			out[key] = bv
			continue
		case !bok:
			out[key] = av
			continue
		}

		if key == "updated_at" {
			out[key] = domain.FormatTimestamp(later(a.UpdatedAt, b.UpdatedAt))
			continue
		}
		if kind, ok := subKinds[key]; ok {
			out[key] = mergeSubDocument(kind, a.SubDocuments()[kind], a.UpdatedAt, b.SubDocuments()[kind], b.UpdatedAt)
			continue
		}
		out[key] = apply(ProfileRules[key], av, a.UpdatedAt, bv, b.UpdatedAt)
	}

	var merged domain.Profile
	body, err := json.Marshal(out)
	if err != nil {
		return a
	}
	if err := json.Unmarshal(body, &merged); err != nil {
		return a
	}
	return merged
}

// Profiles merges two profile collections by owner. The result is ordered by
// owner id.
func Profiles(local, remote []domain.Profile) []domain.Profile {
	byOwner := map[string]domain.Profile{}
	for _, side := range [][]domain.Profile{local, remote} {
		for _, p := range side {
			if existing, ok := byOwner[p.OwnerID]; ok {
				byOwner[p.OwnerID] = Profile(existing, p)
				continue
			}
			byOwner[p.OwnerID] = p
		}
	}
	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	out := make([]domain.Profile, 0, len(owners))
	for _, owner := range owners {
		out = append(out, byOwner[owner])
	}
	return out
}

func mergeSubDocument(kind domain.SubDocumentKind, a *domain.SubDocument, aParent time.Time, b *domain.SubDocument, bParent time.Time) *domain.SubDocument {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case canonicalEqual(a, b):
		return a
	}

	ta := effective(a.UpdatedAt, aParent)
	tb := effective(b.UpdatedAt, bParent)

	out := &domain.SubDocument{
		Kind:    kind,
		Version: max(a.Version, b.Version),
		Values:  mergeValues(SubDocumentRules[kind], a.Values, ta, b.Values, tb),
	}
	switch {
	case a.UpdatedAt.Equal(b.UpdatedAt):
		out.UpdatedAt = a.UpdatedAt.UTC()
	case a.UpdatedAt.IsZero() && b.UpdatedAt.IsZero():
	default:
		out.UpdatedAt = later(ta, tb).UTC()
	}
	return out
}

func mergeValues(rules map[string]Rule, a map[string]any, ta time.Time, b map[string]any, tb time.Time) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for _, key := range unionKeys(a, b) {
		av, aok := a[key]
		bv, bok := b[key]
		switch {
		case !aok:
			out[key] = bv
		case !bok:
			out[key] = av
		default:
			am, aIsMap := av.(map[string]any)
			bm, bIsMap := bv.(map[string]any)
			if aIsMap && bIsMap && rules[key] == LastWriterWins {
				out[key] = mergeValues(nil, am, ta, bm, tb)
				continue
			}
			out[key] = apply(rules[key], av, ta, bv, tb)
		}
	}
	return out
}

func apply(rule Rule, a any, ta time.Time, b any, tb time.Time) any {
	if canonicalEqual(a, b) {
		return a
	}
	switch rule {
	case Max:
		af, aok := number(a)
		bf, bok := number(b)
		if aok && bok {
			if af >= bf {
				return a
			}
			return b
		}
	case LatestDate:
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			if as >= bs {
				return a
			}
			return b
		}
	case SetUnion:
		if union, ok := setUnion(a, b); ok {
			return union
		}
	}
	return lastWriter(a, ta, b, tb)
}

func lastWriter(a any, ta time.Time, b any, tb time.Time) any {
	switch {
	case ta.After(tb):
		return a
	case tb.After(ta):
		return b
	}
	if compareCanonical(a, b) >= 0 {
		return a
	}
	return b
}

func setUnion(a, b any) ([]any, bool) {
	as, aok := asSlice(a)
	bs, bok := asSlice(b)
	if !aok || !bok {
		return nil, false
	}
	seen := map[string]any{}
	for _, item := range append(append([]any{}, as...), bs...) {
		seen[string(canonical(item))] = item
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, seen[key])
	}
	return out, true
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	body, err := json.Marshal(v)
	if err != nil || len(body) == 0 || body[0] != '[' {
		return nil, false
	}
	var items []any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false
	}
	return items, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func completedAt(meta domain.Record) time.Time {
	ts, err := domain.ParseTimestamp(meta.CompletedAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func effective(own, parent time.Time) time.Time {
	if own.IsZero() {
		return parent
	}
	return own
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func toMap(v any) (map[string]any, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	return out, json.Unmarshal(body, &out)
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for key := range a {
		keys = append(keys, key)
	}
	for key := range b {
		if _, ok := a[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func canonical(v any) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return body
}

func canonicalEqual(a, b any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

func compareCanonical(a, b any) int {
	return bytes.Compare(canonical(a), canonical(b))
}
