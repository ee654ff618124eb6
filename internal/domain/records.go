// Package domain defines the records, identities and derived state shared by
// the sync engine, the merge engine and the streak engine.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// EntityKind names an independently-synced record category.
type EntityKind string

const (
	KindProfile    EntityKind = "profile"
	KindWorkout    EntityKind = "workout_completion"
	KindMeal       EntityKind = "meal_completion"
	KindBodyMetric EntityKind = "body_metric"
)

// SyncOrder is the fixed dependency order entity types are synced in.
var SyncOrder = []EntityKind{KindProfile, KindWorkout, KindMeal, KindBodyMetric}

// Table returns the remote table backing the entity kind.
func (k EntityKind) Table() string {
	switch k {
	case KindProfile:
		return "profiles"
	case KindWorkout:
		return "workout_completions"
	case KindMeal:
		return "meal_completions"
	case KindBodyMetric:
		return "body_metrics"
	}
	return ""
}

// LocalKey returns the local store key holding the entity collection.
func (k EntityKind) LocalKey() string {
	return LocalDataPrefix + k.Table()
}

// ConflictKeys returns the remote upsert conflict columns for the entity kind.
func (k EntityKind) ConflictKeys() []string {
	if k == KindProfile {
		return []string{"user_id"}
	}
	return []string{"id"}
}

// LocalDataPrefix prefixes every local key holding an entity collection.
const LocalDataPrefix = "data:"

// Record carries the fields common to every append-only syncable record.
type Record struct {
	ID          string `json:"id"`
	OwnerID     string `json:"user_id"`
	Date        string `json:"date"`
	CompletedAt string `json:"completed_at"`
}

// Syncable is implemented by append-only record types. T is the concrete
// record type so WithMeta can return an updated copy.
type Syncable[T any] interface {
	Meta() Record
	WithMeta(Record) T
	Kind() EntityKind
	NaturalKey() string
}

// MealCategory enumerates meal slots.
type MealCategory string

const (
	MealBreakfast MealCategory = "breakfast"
	MealLunch     MealCategory = "lunch"
	MealDinner    MealCategory = "dinner"
	MealSnack     MealCategory = "snack"
)

// Valid reports whether c is one of the known meal categories.
func (c MealCategory) Valid() bool {
	switch c {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// WorkoutCompletion records a completed workout day.
type WorkoutCompletion struct {
	Record
	DayLabel       string  `json:"day_label"`
	PlanID         *string `json:"plan_id,omitempty"`
	CaloriesBurned int     `json:"calories_burned"`
}

func (w WorkoutCompletion) Meta() Record     { return w.Record }
func (w WorkoutCompletion) Kind() EntityKind { return KindWorkout }

func (w WorkoutCompletion) WithMeta(m Record) WorkoutCompletion {
	w.Record = m
	return w
}

func (w WorkoutCompletion) NaturalKey() string {
	plan := ""
	if w.PlanID != nil {
		plan = *w.PlanID
	}
	return w.DayLabel + "/" + plan
}

// MealCompletion records a completed meal.
type MealCompletion struct {
	Record
	MealType MealCategory `json:"meal_type"`
}

func (m MealCompletion) Meta() Record     { return m.Record }
func (m MealCompletion) Kind() EntityKind { return KindMeal }

func (m MealCompletion) WithMeta(r Record) MealCompletion {
	m.Record = r
	return m
}

func (m MealCompletion) NaturalKey() string { return string(m.MealType) }

// BodyMetric records a body measurement. CompletedAt is the measurement time.
type BodyMetric struct {
	Record
	WeightKg   float64  `json:"weight_kg"`
	BodyFatPct *float64 `json:"body_fat_pct,omitempty"`
}

func (b BodyMetric) Meta() Record     { return b.Record }
func (b BodyMetric) Kind() EntityKind { return KindBodyMetric }

func (b BodyMetric) WithMeta(r Record) BodyMetric {
	b.Record = r
	return b
}

func (b BodyMetric) NaturalKey() string { return "" }

var recordNamespace = uuid.MustParse("6f0b5b7e-2a52-4c1e-9a64-3f0c2d1e8b71")

// DeriveID computes the stable identifier assigned to a record that arrived
// without one.
func DeriveID(kind EntityKind, meta Record, naturalKey string) string {
	seed := strings.Join([]string{string(kind), meta.OwnerID, meta.Date, meta.CompletedAt, naturalKey}, "|")
	return uuid.NewSHA1(recordNamespace, []byte(seed)).String()
}

// EnsureID assigns a derived identifier when rec has none.
func EnsureID[T Syncable[T]](rec T) T {
	meta := rec.Meta()
	if strings.TrimSpace(meta.ID) != "" {
		return rec
	}
	meta.ID = DeriveID(rec.Kind(), meta, rec.NaturalKey())
	return rec.WithMeta(meta)
}

// EnsureIDs applies EnsureID to every record, returning a new slice.
func EnsureIDs[T Syncable[T]](records []T) []T {
	out := make([]T, len(records))
	for i, rec := range records {
		out[i] = EnsureID(rec)
	}
	return out
}

// Rebind returns rec owned by owner when it is currently owned by a
// placeholder tag; other records are returned unchanged.
func Rebind[T Syncable[T]](rec T, owner Owner) (T, bool) {
	meta := rec.Meta()
	if !owner.IsBound() || !IsPlaceholderOwner(meta.OwnerID) {
		return rec, false
	}
	meta.OwnerID = owner.Tag()
	return rec.WithMeta(meta), true
}
