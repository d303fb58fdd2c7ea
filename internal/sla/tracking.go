package sla

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the state of one SLA leg.
type Status string

const (
	StatusPending  Status = "pending"
	StatusMet      Status = "met"
	StatusBreached Status = "breached"
)

// Leg identifies one of the two deadlines tracked per ticket.
type Leg string

const (
	LegResponse   Leg = "response"
	LegResolution Leg = "resolution"
)

// Legs lists both legs in evaluation order.
var Legs = []Leg{LegResponse, LegResolution}

// Tracking is the per-ticket SLA record.
type Tracking struct {
	ID                   string     `json:"id"`
	TicketID             string     `json:"ticket_id"`
	PolicyID             string     `json:"policy_id"`
	ResponseDeadline     time.Time  `json:"response_deadline"`
	ResolutionDeadline   time.Time  `json:"resolution_deadline"`
	FirstResponseAt      *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	ResponseStatus       Status     `json:"response_status"`
	ResolutionStatus     Status     `json:"resolution_status"`
	ResponseBreachedAt   *time.Time `json:"response_breached_at,omitempty"`
	ResolutionBreachedAt *time.Time `json:"resolution_breached_at,omitempty"`
	EscalationLevel      int        `json:"escalation_level"`
	LastEscalationAt     *time.Time `json:"last_escalation_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func (t *Tracking) Deadline(leg Leg) time.Time {
	if leg == LegResponse {
		return t.ResponseDeadline
	}
	return t.ResolutionDeadline
}

func (t *Tracking) Status(leg Leg) Status {
	if leg == LegResponse {
		return t.ResponseStatus
	}
	return t.ResolutionStatus
}

func (t *Tracking) BreachedAt(leg Leg) *time.Time {
	if leg == LegResponse {
		return t.ResponseBreachedAt
	}
	return t.ResolutionBreachedAt
}

// EarliestBreach returns the earlier of the two breach timestamps and the
// leg it belongs to. ok is false when neither leg has breached.
func (t *Tracking) EarliestBreach() (at time.Time, leg Leg, ok bool) {
	r, s := t.ResponseBreachedAt, t.ResolutionBreachedAt
	switch {
	case r != nil && (s == nil || !s.Before(*r)):
		return *r, LegResponse, true
	case s != nil:
		return *s, LegResolution, true
	}
	return time.Time{}, "", false
}

// Ticket carries the fields of a newly created ticket the tracker needs.
type Ticket struct {
	ID         string
	ClientID   *string
	CategoryID *string
	Priority   Priority
	CreatedAt  time.Time
}

// TicketState is the ticket collaborator's view of a ticket.
type TicketState struct {
	ClientID   *string
	CategoryID *string
	Priority   Priority
	IsTerminal bool
}

// Match selects policies at one resolver tier. A nil ClientID or CategoryID
// matches only policies where that scope is unset. Default ignores the
// other fields.
type Match struct {
	ClientID   *string
	CategoryID *string
	Priority   Priority
	Default    bool
}

// EscalationCandidate is a breached tracking row joined with its policy's
// escalation configuration. LevelsErr is set when the stored ladder could
// not be decoded.
type EscalationCandidate struct {
	Tracking   Tracking
	PolicyName string
	Levels     []EscalationLevel
	LevelsErr  error
}

// PolicyStore is the read-only policy collaborator.
type PolicyStore interface {
	// MatchPolicy returns the most recently created active policy matching
	// m, or nil when there is none.
	MatchPolicy(ctx context.Context, m Match) (*Policy, error)
	PolicyByID(ctx context.Context, id string) (*Policy, error)
}

// TrackingStore persists tracking rows. Every Mark/Advance method is a
// single conditional write that reports whether it applied.
type TrackingStore interface {
	InsertTracking(ctx context.Context, t *Tracking) error
	TrackingByTicket(ctx context.Context, ticketID string) (*Tracking, error)
	// MarkMet sets the leg to met if it is still pending.
	MarkMet(ctx context.Context, ticketID string, leg Leg, at time.Time) (bool, error)
	// MarkBreached sets the leg to breached if it is still pending.
	MarkBreached(ctx context.Context, trackingID string, leg Leg, at time.Time) (bool, error)
	// ListOverdue returns rows whose leg is pending with a deadline before now.
	ListOverdue(ctx context.Context, leg Leg, now time.Time) ([]Tracking, error)
	// ListDueBetween returns rows whose leg is pending with a deadline in [from, to].
	ListDueBetween(ctx context.Context, leg Leg, from, to time.Time) ([]Tracking, error)
	// ListEscalationCandidates returns breached rows whose policy has escalation enabled.
	ListEscalationCandidates(ctx context.Context) ([]EscalationCandidate, error)
	// AdvanceEscalation moves the level from -> to if it still equals from.
	AdvanceEscalation(ctx context.Context, trackingID string, from, to int, at time.Time) (bool, error)
}

// TicketStore is the ticket collaborator.
type TicketStore interface {
	TicketState(ctx context.Context, ticketID string) (TicketState, error)
}

// NotificationKind classifies an outbound notification.
type NotificationKind string

const (
	NotifyResponseBreach   NotificationKind = "response_breach"
	NotifyResolutionBreach NotificationKind = "resolution_breach"
	NotifyEscalation       NotificationKind = "escalation"
)

// BreachKind maps a leg to its breach notification kind.
func BreachKind(leg Leg) NotificationKind {
	if leg == LegResponse {
		return NotifyResponseBreach
	}
	return NotifyResolutionBreach
}

type NotificationPayload struct {
	TrackingID string          `json:"tracking_id"`
	PolicyID   string          `json:"policy_id,omitempty"`
	PolicyName string          `json:"policy_name,omitempty"`
	Leg        Leg             `json:"leg"`
	Deadline   time.Time       `json:"deadline"`
	BreachedAt time.Time       `json:"breached_at"`
	Level      int             `json:"level,omitempty"`
	Action     json.RawMessage `json:"action,omitempty"`
}

type Notification struct {
	TicketID string              `json:"ticket_id"`
	Kind     NotificationKind    `json:"kind"`
	Payload  NotificationPayload `json:"payload"`
}

// Notifier delivers notifications. Retries are the implementation's concern.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Event types written through EventRecorder.
const (
	EventConfigurationError = "sla.configuration_error"
	EventBreach             = "sla.breach"
	EventEscalation         = "sla.escalation"
	EventNotificationFailed = "sla.notification_failed"
)

// EventRecorder records an audit event. Best effort; implementations
// swallow their own errors.
type EventRecorder interface {
	Record(ctx context.Context, ticketID, eventType string, data any)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, string, string, any) {}
