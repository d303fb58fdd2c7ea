package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

const uniqueViolation = "23505"

const trackingColumns = `t.id::text, t.ticket_id::text, t.policy_id::text,
       t.response_deadline, t.resolution_deadline, t.first_response_at, t.resolved_at,
       t.response_status, t.resolution_status, t.response_breached_at, t.resolution_breached_at,
       t.escalation_level, t.last_escalation_at, t.created_at`

const insertTrackingSQL = `insert into sla_trackings (id, ticket_id, policy_id, response_deadline, resolution_deadline,
    response_status, resolution_status, escalation_level, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const trackingByTicketSQL = `select ` + trackingColumns + ` from sla_trackings t where t.ticket_id=$1`

// Conditional writes. Each WHERE clause re-asserts the state the caller
// expects so concurrent writers cannot both apply.
var (
	markMetSQL = map[sla.Leg]string{
		sla.LegResponse: `update sla_trackings set response_status='met', first_response_at=$2, updated_at=now()
where ticket_id=$1 and response_status='pending'`,
		sla.LegResolution: `update sla_trackings set resolution_status='met', resolved_at=$2, updated_at=now()
where ticket_id=$1 and resolution_status='pending'`,
	}
	markBreachedSQL = map[sla.Leg]string{
		sla.LegResponse: `update sla_trackings set response_status='breached', response_breached_at=$2, updated_at=now()
where id=$1 and response_status='pending'`,
		sla.LegResolution: `update sla_trackings set resolution_status='breached', resolution_breached_at=$2, updated_at=now()
where id=$1 and resolution_status='pending'`,
	}
	listOverdueSQL = map[sla.Leg]string{
		sla.LegResponse: `select ` + trackingColumns + ` from sla_trackings t
where t.response_status='pending' and t.response_deadline < $1 order by t.response_deadline`,
		sla.LegResolution: `select ` + trackingColumns + ` from sla_trackings t
where t.resolution_status='pending' and t.resolution_deadline < $1 order by t.resolution_deadline`,
	}
	listDueSQL = map[sla.Leg]string{
		sla.LegResponse: `select ` + trackingColumns + ` from sla_trackings t
where t.response_status='pending' and t.response_deadline between $1 and $2 order by t.response_deadline`,
		sla.LegResolution: `select ` + trackingColumns + ` from sla_trackings t
where t.resolution_status='pending' and t.resolution_deadline between $1 and $2 order by t.resolution_deadline`,
	}
)

const listEscalationSQL = `select ` + trackingColumns + `, p.name, p.escalation_levels
from sla_trackings t
join sla_policies p on p.id = t.policy_id
where p.escalation_enabled
  and (t.response_breached_at is not null or t.resolution_breached_at is not null)
  and t.resolution_status <> 'met'
order by t.id`

const advanceEscalationSQL = `update sla_trackings set escalation_level=$3, last_escalation_at=$4, updated_at=now()
where id=$1 and escalation_level=$2 and $3 > escalation_level`

func scanTracking(row pgx.Row, extra ...any) (*sla.Tracking, error) {
	var (
		t          sla.Tracking
		respStatus string
		resStatus  string
	)
	dest := []any{&t.ID, &t.TicketID, &t.PolicyID,
		&t.ResponseDeadline, &t.ResolutionDeadline, &t.FirstResponseAt, &t.ResolvedAt,
		&respStatus, &resStatus, &t.ResponseBreachedAt, &t.ResolutionBreachedAt,
		&t.EscalationLevel, &t.LastEscalationAt, &t.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	t.ResponseStatus = sla.Status(respStatus)
	t.ResolutionStatus = sla.Status(resStatus)
	return &t, nil
}

func (s *Store) InsertTracking(ctx context.Context, t *sla.Tracking) error {
	_, err := s.db.Exec(ctx, insertTrackingSQL, t.ID, t.TicketID, t.PolicyID,
		t.ResponseDeadline, t.ResolutionDeadline, string(t.ResponseStatus), string(t.ResolutionStatus),
		t.EscalationLevel, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sla.ErrTrackingExists
		}
		return fmt.Errorf("insert tracking: %w", err)
	}
	return nil
}

func (s *Store) TrackingByTicket(ctx context.Context, ticketID string) (*sla.Tracking, error) {
	t, err := scanTracking(s.db.QueryRow(ctx, trackingByTicketSQL, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sla.ErrTrackingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return t, nil
}

func (s *Store) conditional(ctx context.Context, op, sql string, args ...any) (bool, error) {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkMet(ctx context.Context, ticketID string, leg sla.Leg, at time.Time) (bool, error) {
	return s.conditional(ctx, "mark "+string(leg)+" met", markMetSQL[leg], ticketID, at)
}

func (s *Store) MarkBreached(ctx context.Context, trackingID string, leg sla.Leg, at time.Time) (bool, error) {
	return s.conditional(ctx, "mark "+string(leg)+" breached", markBreachedSQL[leg], trackingID, at)
}

func (s *Store) AdvanceEscalation(ctx context.Context, trackingID string, from, to int, at time.Time) (bool, error) {
	return s.conditional(ctx, "advance escalation", advanceEscalationSQL, trackingID, from, to, at)
}

func (s *Store) listTrackings(ctx context.Context, op, sql string, args ...any) ([]sla.Tracking, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	out := []sla.Tracking{}
	for rows.Next() {
		t, err := scanTracking(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListOverdue(ctx context.Context, leg sla.Leg, now time.Time) ([]sla.Tracking, error) {
	return s.listTrackings(ctx, "list overdue", listOverdueSQL[leg], now)
}

func (s *Store) ListDueBetween(ctx context.Context, leg sla.Leg, from, to time.Time) ([]sla.Tracking, error) {
	return s.listTrackings(ctx, "list due", listDueSQL[leg], from, to)
}

func (s *Store) ListEscalationCandidates(ctx context.Context) ([]sla.EscalationCandidate, error) {
	rows, err := s.db.Query(ctx, listEscalationSQL)
	if err != nil {
		return nil, fmt.Errorf("list escalation candidates: %w", err)
	}
	defer rows.Close()
	out := []sla.EscalationCandidate{}
	for rows.Next() {
		var (
			name   string
			levels []byte
		)
		t, err := scanTracking(rows, &name, &levels)
		if err != nil {
			return nil, fmt.Errorf("list escalation candidates: scan: %w", err)
		}
		c := sla.EscalationCandidate{Tracking: *t, PolicyName: name}
		if len(levels) > 0 {
			if err := json.Unmarshal(levels, &c.Levels); err != nil {
				c.Levels = nil
				c.LevelsErr = &sla.ConfigError{PolicyID: t.PolicyID, Reason: sla.ReasonEscalationLevels, Err: err}
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ sla.TrackingStore = (*Store)(nil)
