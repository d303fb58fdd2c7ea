// Package pgstore implements the SLA policy and tracking stores on Postgres.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

// DB is the subset of pgxpool.Pool used by the stores.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements sla.PolicyStore and sla.TrackingStore.
type Store struct {
	db DB
}

func New(db DB) *Store { return &Store{db: db} }

const policyColumns = `id::text, name, client_id, category_id, priority,
       response_time_hours, resolution_time_hours,
       business_hours_only, coalesce(timezone, ''), business_start_hour, business_end_hour,
       business_days, holidays, escalation_enabled, escalation_levels,
       is_default, is_active, created_at`

const (
	matchScopedSQL = `select ` + policyColumns + ` from sla_policies
where is_active
  and priority = $1
  and client_id is not distinct from $2
  and category_id is not distinct from $3
order by created_at desc limit 1`

	matchDefaultSQL = `select ` + policyColumns + ` from sla_policies
where is_active and is_default
order by created_at desc limit 1`

	policyByIDSQL = `select ` + policyColumns + ` from sla_policies where id=$1`

	listPoliciesSQL = `select ` + policyColumns + ` from sla_policies order by is_default desc, created_at`
)

func scanPolicy(row pgx.Row) (*sla.Policy, error) {
	var (
		p        sla.Policy
		priority *string
		levels   []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.ClientID, &p.CategoryID, &priority,
		&p.ResponseTimeHours, &p.ResolutionTimeHours,
		&p.BusinessHoursOnly, &p.Timezone, &p.BusinessStartHour, &p.BusinessEndHour,
		&p.BusinessDays, &p.Holidays, &p.EscalationEnabled, &levels,
		&p.IsDefault, &p.IsActive, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if priority != nil {
		pr := sla.Priority(*priority)
		p.Priority = &pr
	}
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &p.EscalationLevels); err != nil {
			return nil, &sla.ConfigError{PolicyID: p.ID, Reason: sla.ReasonEscalationLevels, Err: err}
		}
	}
	return &p, nil
}

// MatchPolicy returns the newest active policy for one resolver tier, or
// nil when the tier has no match.
func (s *Store) MatchPolicy(ctx context.Context, m sla.Match) (*sla.Policy, error) {
	var row pgx.Row
	if m.Default {
		row = s.db.QueryRow(ctx, matchDefaultSQL)
	} else {
		row = s.db.QueryRow(ctx, matchScopedSQL, string(m.Priority), m.ClientID, m.CategoryID)
	}
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match policy: %w", err)
	}
	return p, nil
}

// PolicyByID returns a policy regardless of its active flag, since
// trackings keep the policy they were created with.
func (s *Store) PolicyByID(ctx context.Context, id string) (*sla.Policy, error) {
	p, err := scanPolicy(s.db.QueryRow(ctx, policyByIDSQL, id))
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", id, err)
	}
	return p, nil
}

// ListPolicies returns all SLA policies, defaults first.
func (s *Store) ListPolicies(ctx context.Context) ([]sla.Policy, error) {
	rows, err := s.db.Query(ctx, listPoliciesSQL)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()
	out := []sla.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

var _ sla.PolicyStore = (*Store)(nil)
