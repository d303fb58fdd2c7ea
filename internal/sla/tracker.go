package sla

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tracker creates tracking rows for new tickets and records the first
// response and resolution transitions.
type Tracker struct {
	resolver *Resolver
	store    TrackingStore
	events   EventRecorder
	log      zerolog.Logger
	now      func() time.Time
}

// NewTracker returns a Tracker. events may be nil.
func NewTracker(resolver *Resolver, store TrackingStore, events EventRecorder, logger zerolog.Logger) *Tracker {
	if events == nil {
		events = nopRecorder{}
	}
	return &Tracker{resolver: resolver, store: store, events: events, log: logger, now: time.Now}
}

// OnTicketCreated resolves the ticket's policy, computes both deadlines and
// inserts a tracking row. Configuration problems are logged and recorded
// and yield (nil, nil) so ticket creation is never blocked by SLA setup.
// A second call for the same ticket returns the existing row.
func (t *Tracker) OnTicketCreated(ctx context.Context, tk Ticket) (*Tracking, error) {
	p, err := t.resolver.Resolve(ctx, tk.ClientID, tk.CategoryID, tk.Priority)
	if errors.Is(err, ErrNoPolicy) {
		t.configError(ctx, tk.ID, &ConfigError{Reason: ReasonNoPolicy, Err: err})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		t.configError(ctx, tk.ID, err)
		return nil, nil
	}

	now := t.now().UTC()
	created := tk.CreatedAt
	if created.IsZero() {
		created = now
	}
	resp, err := p.Deadline(created, p.ResponseTimeHours)
	if err != nil {
		t.configError(ctx, tk.ID, asConfigError(p.ID, err))
		return nil, nil
	}
	res, err := p.Deadline(created, p.ResolutionTimeHours)
	if err != nil {
		t.configError(ctx, tk.ID, asConfigError(p.ID, err))
		return nil, nil
	}

	tr := &Tracking{
		ID:                 uuid.NewString(),
		TicketID:           tk.ID,
		PolicyID:           p.ID,
		ResponseDeadline:   resp.UTC(),
		ResolutionDeadline: res.UTC(),
		ResponseStatus:     StatusPending,
		ResolutionStatus:   StatusPending,
		CreatedAt:          now,
	}
	if err := t.store.InsertTracking(ctx, tr); err != nil {
		if errors.Is(err, ErrTrackingExists) {
			t.log.Info().Str("ticket", tk.ID).Msg("sla tracking already exists")
			existing, err := t.store.TrackingByTicket(ctx, tk.ID)
			return existing, storeErr("get tracking", err)
		}
		return nil, storeErr("insert tracking", err)
	}
	TrackingsCreatedTotal.Inc()
	t.log.Debug().Str("ticket", tk.ID).Str("policy", p.ID).
		Time("response_deadline", tr.ResponseDeadline).
		Time("resolution_deadline", tr.ResolutionDeadline).
		Msg("sla tracking created")
	return tr, nil
}

// OnFirstResponse marks the response leg met. It reports false when the
// leg was no longer pending, which makes repeated calls harmless.
func (t *Tracker) OnFirstResponse(ctx context.Context, ticketID string) (bool, error) {
	return t.markMet(ctx, ticketID, LegResponse)
}

// OnResolution marks the resolution leg met if it is still pending.
func (t *Tracker) OnResolution(ctx context.Context, ticketID string) (bool, error) {
	return t.markMet(ctx, ticketID, LegResolution)
}

func (t *Tracker) markMet(ctx context.Context, ticketID string, leg Leg) (bool, error) {
	applied, err := t.store.MarkMet(ctx, ticketID, leg, t.now().UTC())
	if err != nil {
		return false, storeErr("mark "+string(leg)+" met", err)
	}
	if applied {
		t.log.Debug().Str("ticket", ticketID).Str("leg", string(leg)).Msg("sla leg met")
	}
	return applied, nil
}

// Tracking returns the tracking row for a ticket.
func (t *Tracker) Tracking(ctx context.Context, ticketID string) (*Tracking, error) {
	tr, err := t.store.TrackingByTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ErrTrackingNotFound) {
			return nil, err
		}
		return nil, storeErr("get tracking", err)
	}
	return tr, nil
}

func (t *Tracker) configError(ctx context.Context, ticketID string, err error) {
	reason := ReasonInvalidPolicy
	policyID := ""
	var ce *ConfigError
	if errors.As(err, &ce) {
		reason = ce.Reason
		policyID = ce.PolicyID
	}
	ConfigurationErrorsTotal.WithLabelValues(reason).Inc()
	t.log.Error().Err(err).Str("kind", "configuration").Str("reason", reason).
		Str("ticket", ticketID).Str("policy", policyID).Msg("sla tracking skipped")
	t.events.Record(ctx, ticketID, EventConfigurationError, map[string]string{
		"reason": reason,
		"policy": policyID,
		"error":  err.Error(),
	})
}

func asConfigError(policyID string, err error) error {
	return asConfigErrorReason(policyID, ReasonCalendar, err)
}

func asConfigErrorReason(policyID, reason string, err error) error {
	if IsConfigError(err) {
		return err
	}
	return &ConfigError{PolicyID: policyID, Reason: reason, Err: err}
}
