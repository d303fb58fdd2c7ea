package sla

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Priority is a ticket priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// EscalationLevel is one step of a policy's escalation ladder. Action is
// passed through to the notifier untouched.
type EscalationLevel struct {
	Level  int             `json:"level" validate:"gte=1"`
	Hours  float64         `json:"hours" validate:"gte=0"`
	Action json.RawMessage `json:"action,omitempty"`
}

// Policy represents an SLA policy.
type Policy struct {
	ID         string    `json:"id"`
	Name       string    `json:"name" validate:"required"`
	ClientID   *string   `json:"client_id,omitempty"`
	CategoryID *string   `json:"category_id,omitempty"`
	Priority   *Priority `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical"`

	ResponseTimeHours   float64 `json:"response_time_hours" validate:"gt=0"`
	ResolutionTimeHours float64 `json:"resolution_time_hours" validate:"gt=0"`

	BusinessHoursOnly bool        `json:"business_hours_only"`
	Timezone          string      `json:"timezone,omitempty"`
	BusinessStartHour int         `json:"business_start_hour" validate:"gte=0,lte=24"`
	BusinessEndHour   int         `json:"business_end_hour" validate:"gte=0,lte=24"`
	BusinessDays      []string    `json:"business_days,omitempty"`
	Holidays          []time.Time `json:"holidays,omitempty"`

	EscalationEnabled bool              `json:"escalation_enabled"`
	EscalationLevels  []EscalationLevel `json:"escalation_levels,omitempty" validate:"dive"`

	IsDefault bool      `json:"is_default"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

var validate = validator.New()

// Validate checks field ranges and the cross-field rules that deadline and
// escalation processing depend on. Failures are returned as *ConfigError.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return &ConfigError{PolicyID: p.ID, Reason: ReasonInvalidPolicy, Err: err}
	}
	if p.BusinessHoursOnly {
		if _, err := p.Calendar(); err != nil {
			return err
		}
	}
	if _, err := SortLevels(p.EscalationLevels); err != nil {
		return &ConfigError{PolicyID: p.ID, Reason: ReasonEscalationLevels, Err: err}
	}
	return nil
}

// Calendar builds the business calendar described by the policy.
func (p *Policy) Calendar() (*Calendar, error) {
	days, err := ParseWeekdays(p.BusinessDays)
	if err != nil {
		return nil, &ConfigError{PolicyID: p.ID, Reason: ReasonCalendar, Err: err}
	}
	cal, err := NewCalendar(p.Timezone, p.BusinessStartHour, p.BusinessEndHour, days, p.Holidays)
	if err != nil {
		return nil, &ConfigError{PolicyID: p.ID, Reason: ReasonCalendar, Err: err}
	}
	return cal, nil
}

// Deadline computes the instant duration hours after start under the
// policy's clock: wall time for 24/7 policies, business time otherwise.
func (p *Policy) Deadline(start time.Time, hours float64) (time.Time, error) {
	d := HoursToDuration(hours)
	if !p.BusinessHoursOnly {
		return start.Add(d), nil
	}
	cal, err := p.Calendar()
	if err != nil {
		return time.Time{}, err
	}
	return cal.AddBusinessTime(start, d)
}

// HoursToDuration converts fractional hours to a Duration rounded to the nanosecond.
func HoursToDuration(h float64) time.Duration {
	return time.Duration(math.Round(h * float64(time.Hour)))
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekdays converts weekday names (case-insensitive) to time.Weekday values.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

// SortLevels returns a copy of levels ordered by level number. Duplicate
// level numbers are rejected since the ladder must be strictly increasing.
func SortLevels(levels []EscalationLevel) ([]EscalationLevel, error) {
	out := make([]EscalationLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	for i := range out {
		if out[i].Level < 1 {
			return nil, fmt.Errorf("escalation level %d must be >= 1", out[i].Level)
		}
		if i > 0 && out[i].Level == out[i-1].Level {
			return nil, fmt.Errorf("duplicate escalation level %d", out[i].Level)
		}
	}
	return out, nil
}

// NextLevel returns the smallest configured level above current.
func NextLevel(sorted []EscalationLevel, current int) (EscalationLevel, bool) {
	for _, l := range sorted {
		if l.Level > current {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
