package sla

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPolicy is returned by the resolver when no active policy matches at any tier.
	ErrNoPolicy = errors.New("sla: no applicable policy")
	// ErrCalendarExhausted is returned when deadline arithmetic advanced more days than allowed.
	ErrCalendarExhausted = errors.New("sla: business calendar exhausted")
	// ErrTrackingExists is returned when a ticket already has a tracking row.
	ErrTrackingExists = errors.New("sla: tracking already exists")
	// ErrTrackingNotFound is returned when a ticket has no tracking row.
	ErrTrackingNotFound = errors.New("sla: tracking not found")
)

// Configuration error reasons, used as log fields and metric labels.
const (
	ReasonNoPolicy         = "no_policy"
	ReasonInvalidPolicy    = "invalid_policy"
	ReasonCalendar         = "calendar"
	ReasonEscalationLevels = "escalation_levels"
)

// ConfigError reports an administrative misconfiguration. It is logged and
// counted but never surfaced to the caller that created the ticket.
type ConfigError struct {
	PolicyID string
	Reason   string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.PolicyID == "" {
		return fmt.Sprintf("sla configuration (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("sla configuration (%s) policy %s: %v", e.Reason, e.PolicyID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure. Callers of the top-level
// operations decide whether to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "sla store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NotificationError records a failed notification send. The state
// transition that triggered it stays committed.
type NotificationError struct {
	TicketID string
	Kind     NotificationKind
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("sla notify %s for ticket %s: %v", e.Kind, e.TicketID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
