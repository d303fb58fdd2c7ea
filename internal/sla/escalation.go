package sla

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Escalator advances breached trackings through their policy's escalation
// ladder, at most one level per row per call.
type Escalator struct {
	trackings TrackingStore
	tickets   TicketStore
	notifier  Notifier
	events    EventRecorder
	log       zerolog.Logger
	workers   int
}

// NewEscalator returns an Escalator. tickets, notifier and events may be nil.
func NewEscalator(trackings TrackingStore, tickets TicketStore, notifier Notifier, events EventRecorder, logger zerolog.Logger, workers int) *Escalator {
	if events == nil {
		events = nopRecorder{}
	}
	return &Escalator{
		trackings: trackings,
		tickets:   tickets,
		notifier:  notifier,
		events:    events,
		log:       logger,
		workers:   workers,
	}
}

// Escalation describes one applied level change.
type Escalation struct {
	TrackingID string          `json:"tracking_id"`
	TicketID   string          `json:"ticket_id"`
	PolicyName string          `json:"policy_name"`
	Leg        Leg             `json:"leg"`
	BreachedAt time.Time       `json:"breached_at"`
	FromLevel  int             `json:"from_level"`
	ToLevel    int             `json:"to_level"`
	Action     json.RawMessage `json:"action,omitempty"`
	Notified   bool            `json:"notified"`
}

// ProcessEscalations advances every due candidate by one level. The time
// since breach is measured from the earlier of the two breach timestamps.
func (e *Escalator) ProcessEscalations(ctx context.Context, now time.Time) ([]Escalation, error) {
	start := time.Now()
	defer func() { ScanDuration.WithLabelValues("escalations").Observe(time.Since(start).Seconds()) }()

	cands, err := e.trackings.ListEscalationCandidates(ctx)
	if err != nil {
		return nil, storeErr("list escalation candidates", err)
	}
	var (
		mu  sync.Mutex
		out []Escalation
	)
	errs := forEach(ctx, e.workers, cands, func(ctx context.Context, c EscalationCandidate) error {
		esc, err := e.escalate(ctx, c, now)
		if err != nil {
			e.log.Error().Err(err).Str("ticket", c.Tracking.TicketID).Str("tracking", c.Tracking.ID).
				Msg("sla escalation")
			return err
		}
		if esc != nil {
			mu.Lock()
			out = append(out, *esc)
			mu.Unlock()
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TicketID < out[j].TicketID })
	return out, errors.Join(errs...)
}

func (e *Escalator) escalate(ctx context.Context, c EscalationCandidate, now time.Time) (*Escalation, error) {
	tr := c.Tracking
	if tr.ResolutionStatus == StatusMet {
		return nil, nil
	}
	breachedAt, leg, ok := tr.EarliestBreach()
	if !ok {
		return nil, nil
	}
	levels, err := SortLevels(c.Levels)
	if c.LevelsErr != nil {
		err = c.LevelsErr
	}
	if err != nil {
		ConfigurationErrorsTotal.WithLabelValues(ReasonEscalationLevels).Inc()
		e.log.Error().Err(asConfigErrorReason(tr.PolicyID, ReasonEscalationLevels, err)).
			Str("kind", "configuration").Str("ticket", tr.TicketID).Msg("sla escalation skipped")
		return nil, nil
	}
	next, ok := NextLevel(levels, tr.EscalationLevel)
	if !ok {
		return nil, nil
	}
	if now.Sub(breachedAt) < HoursToDuration(next.Hours) {
		return nil, nil
	}
	if e.tickets != nil {
		state, err := e.tickets.TicketState(ctx, tr.TicketID)
		if err != nil {
			return nil, storeErr("ticket state", err)
		}
		if state.IsTerminal {
			return nil, nil
		}
	}
	applied, err := e.trackings.AdvanceEscalation(ctx, tr.ID, tr.EscalationLevel, next.Level, now)
	if err != nil {
		return nil, storeErr("advance escalation", err)
	}
	if !applied {
		return nil, nil
	}
	EscalationsTotal.WithLabelValues(strconv.Itoa(next.Level)).Inc()
	esc := &Escalation{
		TrackingID: tr.ID,
		TicketID:   tr.TicketID,
		PolicyName: c.PolicyName,
		Leg:        leg,
		BreachedAt: breachedAt,
		FromLevel:  tr.EscalationLevel,
		ToLevel:    next.Level,
		Action:     next.Action,
	}
	e.log.Warn().Str("ticket", tr.TicketID).Int("level", next.Level).Str("leg", string(leg)).Msg("sla escalated")
	e.events.Record(ctx, tr.TicketID, EventEscalation, esc)
	esc.Notified = send(ctx, e.notifier, e.events, e.log, Notification{
		TicketID: tr.TicketID,
		Kind:     NotifyEscalation,
		Payload: NotificationPayload{
			TrackingID: tr.ID,
			PolicyID:   tr.PolicyID,
			PolicyName: c.PolicyName,
			Leg:        leg,
			Deadline:   tr.Deadline(leg),
			BreachedAt: breachedAt,
			Level:      next.Level,
			Action:     next.Action,
		},
	})
	return esc, nil
}
