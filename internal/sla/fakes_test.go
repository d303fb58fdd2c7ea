package sla

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

func strp(s string) *string { return &s }

func prio(p Priority) *Priority { return &p }

func timep(t time.Time) *time.Time { return &t }

type memPolicies struct {
	mu       sync.Mutex
	policies []*Policy
	calls    int
	err      error
}

func (m *memPolicies) MatchPolicy(ctx context.Context, q Match) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var best *Policy
	for _, p := range m.policies {
		if !p.IsActive || !matches(p, q) {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			best = p
		}
	}
	return best, nil
}

func matches(p *Policy, q Match) bool {
	if q.Default {
		return p.IsDefault
	}
	if p.Priority == nil || *p.Priority != q.Priority {
		return false
	}
	return sameScope(p.ClientID, q.ClientID) && sameScope(p.CategoryID, q.CategoryID)
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (m *memPolicies) PolicyByID(ctx context.Context, id string) (*Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("policy not found")
}

// memTrackings enforces the same compare-and-set predicates as the SQL store.
type memTrackings struct {
	mu       sync.Mutex
	rows     map[string]*Tracking
	policies *memPolicies
	failMark error
	failList error
}

func newMemTrackings(p *memPolicies) *memTrackings {
	return &memTrackings{rows: map[string]*Tracking{}, policies: p}
}

func (m *memTrackings) InsertTracking(ctx context.Context, t *Tracking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TicketID == t.TicketID {
			return ErrTrackingExists
		}
	}
	cp := *t
	m.rows[t.ID] = &cp
	return nil
}

func (m *memTrackings) put(t Tracking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[t.ID] = &t
}

func (m *memTrackings) get(id string) Tracking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

func (m *memTrackings) TrackingByTicket(ctx context.Context, ticketID string) (*Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TicketID == ticketID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrTrackingNotFound
}

func (m *memTrackings) MarkMet(ctx context.Context, ticketID string, leg Leg, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TicketID != ticketID || r.Status(leg) != StatusPending {
			continue
		}
		if leg == LegResponse {
			r.ResponseStatus, r.FirstResponseAt = StatusMet, timep(at)
		} else {
			r.ResolutionStatus, r.ResolvedAt = StatusMet, timep(at)
		}
		return true, nil
	}
	return false, nil
}

func (m *memTrackings) MarkBreached(ctx context.Context, id string, leg Leg, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark != nil {
		return false, m.failMark
	}
	r, ok := m.rows[id]
	if !ok || r.Status(leg) != StatusPending {
		return false, nil
	}
	if leg == LegResponse {
		r.ResponseStatus, r.ResponseBreachedAt = StatusBreached, timep(at)
	} else {
		r.ResolutionStatus, r.ResolutionBreachedAt = StatusBreached, timep(at)
	}
	return true, nil
}

func (m *memTrackings) list(pred func(*Tracking) bool) []Tracking {
	var out []Tracking
	for _, r := range m.rows {
		if pred(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memTrackings) ListOverdue(ctx context.Context, leg Leg, now time.Time) ([]Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	return m.list(func(r *Tracking) bool {
		return r.Status(leg) == StatusPending && r.Deadline(leg).Before(now)
	}), nil
}

func (m *memTrackings) ListDueBetween(ctx context.Context, leg Leg, from, to time.Time) ([]Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(r *Tracking) bool {
		d := r.Deadline(leg)
		return r.Status(leg) == StatusPending && !d.Before(from) && !d.After(to)
	}), nil
}

func (m *memTrackings) ListEscalationCandidates(ctx context.Context) ([]EscalationCandidate, error) {
	m.mu.Lock()
	rows := m.list(func(r *Tracking) bool {
		return r.ResponseBreachedAt != nil || r.ResolutionBreachedAt != nil
	})
	m.mu.Unlock()
	var out []EscalationCandidate
	for _, r := range rows {
		p, err := m.policies.PolicyByID(ctx, r.PolicyID)
		if err != nil || !p.EscalationEnabled {
			continue
		}
		out = append(out, EscalationCandidate{Tracking: r, PolicyName: p.Name, Levels: p.EscalationLevels})
	}
	return out, nil
}

func (m *memTrackings) AdvanceEscalation(ctx context.Context, id string, from, to int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.EscalationLevel != from {
		return false, nil
	}
	r.EscalationLevel, r.LastEscalationAt = to, timep(at)
	return true, nil
}

type memTickets struct {
	mu       sync.Mutex
	terminal map[string]bool
	err      error
}

func (m *memTickets) TicketState(ctx context.Context, id string) (TicketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return TicketState{}, m.err
	}
	return TicketState{Priority: PriorityHigh, IsTerminal: m.terminal[id]}, nil
}

type recNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

type recEvents struct {
	mu    sync.Mutex
	types []string
}

func (r *recEvents) Record(ctx context.Context, ticketID, eventType string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recEvents) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}
