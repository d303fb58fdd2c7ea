package sla

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scanner finds overdue legs and transitions them to breached, and reports
// legs approaching their deadline.
type Scanner struct {
	trackings TrackingStore
	tickets   TicketStore
	policies  PolicyStore
	notifier  Notifier
	events    EventRecorder
	log       zerolog.Logger
	workers   int
}

// NewScanner returns a Scanner. notifier and events may be nil; workers <= 0
// selects the default parallelism.
func NewScanner(trackings TrackingStore, tickets TicketStore, policies PolicyStore, notifier Notifier, events EventRecorder, logger zerolog.Logger, workers int) *Scanner {
	if events == nil {
		events = nopRecorder{}
	}
	return &Scanner{
		trackings: trackings,
		tickets:   tickets,
		policies:  policies,
		notifier:  notifier,
		events:    events,
		log:       logger,
		workers:   workers,
	}
}

// BreachEvent describes one leg that was transitioned to breached.
type BreachEvent struct {
	TrackingID string    `json:"tracking_id"`
	TicketID   string    `json:"ticket_id"`
	PolicyID   string    `json:"policy_id"`
	Leg        Leg       `json:"leg"`
	Deadline   time.Time `json:"deadline"`
	BreachedAt time.Time `json:"breached_at"`
	Notified   bool      `json:"notified"`
}

// ScanBreaches transitions every overdue pending leg of a non-terminal
// ticket to breached. Legs are evaluated independently. Rows that fail are
// skipped and their errors joined into the returned error; the events for
// rows that succeeded are always returned.
func (s *Scanner) ScanBreaches(ctx context.Context, now time.Time) ([]BreachEvent, error) {
	start := time.Now()
	defer func() { ScanDuration.WithLabelValues("breaches").Observe(time.Since(start).Seconds()) }()

	var (
		mu   sync.Mutex
		out  []BreachEvent
		errs []error
	)
	for _, leg := range Legs {
		rows, err := s.trackings.ListOverdue(ctx, leg, now)
		if err != nil {
			return out, storeErr("list overdue "+string(leg), err)
		}
		errs = append(errs, forEach(ctx, s.workers, rows, func(ctx context.Context, tr Tracking) error {
			ev, err := s.breach(ctx, tr, leg, now)
			if err != nil {
				s.log.Error().Err(err).Str("ticket", tr.TicketID).Str("tracking", tr.ID).
					Str("leg", string(leg)).Msg("sla breach transition")
				return err
			}
			if ev != nil {
				mu.Lock()
				out = append(out, *ev)
				mu.Unlock()
			}
			return nil
		})...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TicketID != out[j].TicketID {
			return out[i].TicketID < out[j].TicketID
		}
		return out[i].Leg > out[j].Leg
	})
	return out, errors.Join(errs...)
}

func (s *Scanner) breach(ctx context.Context, tr Tracking, leg Leg, now time.Time) (*BreachEvent, error) {
	state, err := s.tickets.TicketState(ctx, tr.TicketID)
	if err != nil {
		return nil, storeErr("ticket state", err)
	}
	if state.IsTerminal {
		return nil, nil
	}
	applied, err := s.trackings.MarkBreached(ctx, tr.ID, leg, now)
	if err != nil {
		return nil, storeErr("mark "+string(leg)+" breached", err)
	}
	if !applied {
		return nil, nil
	}
	BreachesTotal.WithLabelValues(string(leg)).Inc()
	ev := &BreachEvent{
		TrackingID: tr.ID,
		TicketID:   tr.TicketID,
		PolicyID:   tr.PolicyID,
		Leg:        leg,
		Deadline:   tr.Deadline(leg),
		BreachedAt: now,
	}
	s.log.Warn().Str("ticket", tr.TicketID).Str("leg", string(leg)).
		Time("deadline", ev.Deadline).Msg("sla breached")
	s.events.Record(ctx, tr.TicketID, EventBreach, ev)
	ev.Notified = send(ctx, s.notifier, s.events, s.log, Notification{
		TicketID: tr.TicketID,
		Kind:     BreachKind(leg),
		Payload: NotificationPayload{
			TrackingID: tr.ID,
			PolicyID:   tr.PolicyID,
			Leg:        leg,
			Deadline:   ev.Deadline,
			BreachedAt: now,
		},
	})
	return ev, nil
}

// Warning is a pending leg whose deadline falls inside the lookahead window.
type Warning struct {
	Tracking  Tracking      `json:"tracking"`
	Leg       Leg           `json:"leg"`
	Deadline  time.Time     `json:"deadline"`
	Remaining time.Duration `json:"remaining"`
}

// ScanWarnings returns pending legs due between now and now+lookaheadHours.
// It never changes tracking state. Remaining is business time for
// business-hours policies and wall time otherwise.
func (s *Scanner) ScanWarnings(ctx context.Context, now time.Time, lookaheadHours float64) ([]Warning, error) {
	start := time.Now()
	defer func() { ScanDuration.WithLabelValues("warnings").Observe(time.Since(start).Seconds()) }()

	until := now.Add(HoursToDuration(lookaheadHours))
	calendars := map[string]*Calendar{}
	var out []Warning
	for _, leg := range Legs {
		rows, err := s.trackings.ListDueBetween(ctx, leg, now, until)
		if err != nil {
			return out, storeErr("list due "+string(leg), err)
		}
		WarningsPending.WithLabelValues(string(leg)).Set(float64(len(rows)))
		for _, tr := range rows {
			deadline := tr.Deadline(leg)
			remaining := deadline.Sub(now)
			if cal := s.calendar(ctx, calendars, tr.PolicyID); cal != nil {
				remaining = cal.BusinessDuration(now, deadline)
			}
			out = append(out, Warning{Tracking: tr, Leg: leg, Deadline: deadline, Remaining: remaining})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	return out, nil
}

// calendar returns the business calendar of a policy, memoized per scan.
// A nil result means wall time applies.
func (s *Scanner) calendar(ctx context.Context, memo map[string]*Calendar, policyID string) *Calendar {
	if s.policies == nil {
		return nil
	}
	if cal, ok := memo[policyID]; ok {
		return cal
	}
	var cal *Calendar
	p, err := s.policies.PolicyByID(ctx, policyID)
	switch {
	case err != nil:
		s.log.Error().Err(err).Str("policy", policyID).Msg("load policy calendar")
	case p != nil && p.BusinessHoursOnly:
		if cal, err = p.Calendar(); err != nil {
			s.log.Error().Err(err).Str("policy", policyID).Msg("policy calendar")
		}
	}
	memo[policyID] = cal
	return cal
}
