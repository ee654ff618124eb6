// Package validate screens records for structural and business-rule
// violations before and after transfer, and repairs local collections.
package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/OGUN01/fitai-sub001/internal/domain"
)

// Category classifies why a record was rejected.
type Category string

const (
	CategoryFutureDated   Category = "future_dated"
	CategoryMissingFields Category = "missing_fields"
	CategoryMalformed     Category = "malformed"
)

const (
	// ClockSkew is how far a completion timestamp may lie in the future.
	ClockSkew = 5 * time.Minute
	// maximum body weight accepted, in kilograms
	maxWeightKg = 700
)

// Issue is one rule violation.
type Issue struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// Result is the outcome of validating one record.
type Result struct {
	Valid    bool     `json:"is_valid"`
	Errors   []Issue  `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Messages returns the error messages of r.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		out = append(out, issue.Message)
	}
	return out
}

// Category returns the category of the first error, or "" for valid records.
func (r Result) Category() Category {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Category
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for date rules.
func WithClock(clock domain.Clock) Option {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithLocation sets the location "today" is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) {
		if loc != nil {
			v.loc = loc
		}
	}
}

// Validator applies the record rules.
type Validator struct {
	clock domain.Clock
	loc   *time.Location
}

// New constructs a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{clock: domain.SystemClock, loc: time.UTC}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type checker struct {
	result Result
}

func (c *checker) fail(category Category, format string, args ...any) {
	c.result.Errors = append(c.result.Errors, Issue{Category: category, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) warn(format string, args ...any) {
	c.result.Warnings = append(c.result.Warnings, fmt.Sprintf(format, args...))
}

func (c *checker) done() Result {
	c.result.Valid = len(c.result.Errors) == 0
	if c.result.Errors == nil {
		c.result.Errors = []Issue{}
	}
	if c.result.Warnings == nil {
		c.result.Warnings = []string{}
	}
	return c.result
}

// Record validates an append-only record.
func Record[T domain.Syncable[T]](v *Validator, rec T) Result {
	c := &checker{}
	meta := rec.Meta()
	v.owner(c, meta.OwnerID)
	v.date(c, meta.Date)
	v.completedAt(c, meta.CompletedAt)

	switch r := any(rec).(type) {
	case domain.MealCompletion:
		switch {
		case r.MealType == "":
			c.fail(CategoryMissingFields, "meal_type is required")
		case !r.MealType.Valid():
			c.fail(CategoryMalformed, "meal_type %q is not one of breakfast, lunch, dinner, snack", r.MealType)
		}
	case domain.WorkoutCompletion:
		if r.CaloriesBurned < 0 {
			c.fail(CategoryMalformed, "calories_burned %d is negative", r.CaloriesBurned)
		}
		if strings.TrimSpace(r.DayLabel) == "" {
			c.warn("day_label is empty")
		}
	case domain.BodyMetric:
		if r.WeightKg <= 0 || r.WeightKg > maxWeightKg {
			c.fail(CategoryMalformed, "weight_kg %.1f is outside (0, %d]", r.WeightKg, maxWeightKg)
		}
		if r.BodyFatPct != nil && (*r.BodyFatPct < 0 || *r.BodyFatPct > 100) {
			c.fail(CategoryMalformed, "body_fat_pct %.1f is outside [0, 100]", *r.BodyFatPct)
		}
	}
	return c.done()
}

// Profile validates a profile document.
func (v *Validator) Profile(p domain.Profile) Result {
	c := &checker{}
	v.owner(c, p.OwnerID)
	if !p.UpdatedAt.IsZero() && p.UpdatedAt.After(v.clock.Now().Add(ClockSkew)) {
		c.fail(CategoryFutureDated, "updated_at %s is in the future", domain.FormatTimestamp(p.UpdatedAt))
	}
	if p.Streak < 0 || p.LongestStreak < 0 {
		c.fail(CategoryMalformed, "streak counters must not be negative")
	}
	if p.LastCompletionDate != "" {
		if _, err := domain.ParseDate(p.LastCompletionDate); err != nil {
			c.fail(CategoryMalformed, "last_completion_date %q is not a YYYY-MM-DD date", p.LastCompletionDate)
		}
	}
	for kind, doc := range p.SubDocuments() {
		if doc != nil && doc.Version > domain.SubDocumentVersion {
			c.warn("%s version %d is newer than supported version %d", kind, doc.Version, domain.SubDocumentVersion)
		}
	}
	return c.done()
}

func (v *Validator) owner(c *checker, owner string) {
	switch {
	case strings.TrimSpace(owner) == "":
		c.fail(CategoryMissingFields, "user_id is required")
	case domain.IsPlaceholderOwner(owner):
		c.fail(CategoryMalformed, "user_id %q is a placeholder owner", owner)
	case !domain.IsCanonicalOwnerID(owner):
		c.fail(CategoryMalformed, "user_id %q is not a canonical identifier", owner)
	}
}

func (v *Validator) date(c *checker, value string) {
	if strings.TrimSpace(value) == "" {
		c.fail(CategoryMissingFields, "date is required")
		return
	}
	date, err := domain.ParseDate(value)
	if err != nil {
		c.fail(CategoryMalformed, "date %q is not a YYYY-MM-DD date", value)
		return
	}
	today, _ := domain.ParseDate(domain.Today(v.clock, v.loc))
	switch {
	case date.After(today):
		c.fail(CategoryFutureDated, "date %s is in the future", value)
	case date.Before(today.AddDate(-2, 0, 0)):
		c.fail(CategoryMalformed, "date %s is more than 2 years old", value)
	case date.Before(today.AddDate(-1, 0, 0)):
		c.warn("date %s is more than 1 year old", value)
	}
}

func (v *Validator) completedAt(c *checker, value string) {
	if strings.TrimSpace(value) == "" {
		c.fail(CategoryMissingFields, "completed_at is required")
		return
	}
	ts, err := domain.ParseTimestamp(value)
	if err != nil {
		c.fail(CategoryMalformed, "completed_at %q is not an RFC 3339 timestamp", value)
		return
	}
	if ts.After(v.clock.Now().Add(ClockSkew)) {
		c.fail(CategoryFutureDated, "completed_at %s is in the future", value)
	}
}
