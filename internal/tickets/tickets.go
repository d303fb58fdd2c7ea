// Package tickets reads the helpdesk ticket fields the SLA engine depends on.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

// ErrNotFound is returned when the ticket does not exist.
var ErrNotFound = errors.New("ticket not found")

// DB is the subset of pgxpool.Pool used here.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db DB
}

func New(db DB) *Store { return &Store{db: db} }

// Statuses after which SLA clocks no longer run.
var terminal = map[string]bool{
	"resolved":  true,
	"closed":    true,
	"cancelled": true,
	"canceled":  true,
}

// IsTerminal reports whether a ticket status ends SLA processing.
func IsTerminal(status string) bool {
	return terminal[strings.ToLower(strings.TrimSpace(status))]
}

// PriorityFromLevel maps the helpdesk's numeric priority (1 = most urgent)
// to an SLA priority. Out of range values map to medium.
func PriorityFromLevel(n int16) sla.Priority {
	switch n {
	case 1:
		return sla.PriorityCritical
	case 2:
		return sla.PriorityHigh
	case 4:
		return sla.PriorityLow
	default:
		return sla.PriorityMedium
	}
}

const ticketSQL = `select id::text, status, priority, client_id::text, category_id::text, created_at
from tickets where id=$1`

func (s *Store) load(ctx context.Context, id string) (sla.Ticket, string, error) {
	var (
		tk       sla.Ticket
		status   string
		priority int16
	)
	err := s.db.QueryRow(ctx, ticketSQL, id).Scan(&tk.ID, &status, &priority, &tk.ClientID, &tk.CategoryID, &tk.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tk, "", fmt.Errorf("ticket %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return tk, "", fmt.Errorf("get ticket %s: %w", id, err)
	}
	tk.Priority = PriorityFromLevel(priority)
	tk.CreatedAt = tk.CreatedAt.UTC()
	return tk, status, nil
}

// Ticket returns the creation view of a ticket used to start tracking.
func (s *Store) Ticket(ctx context.Context, id string) (sla.Ticket, error) {
	tk, _, err := s.load(ctx, id)
	return tk, err
}

// TicketState implements sla.TicketStore. A ticket that no longer exists
// is reported terminal so scans stop touching it.
func (s *Store) TicketState(ctx context.Context, id string) (sla.TicketState, error) {
	tk, status, err := s.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return sla.TicketState{IsTerminal: true}, nil
	}
	if err != nil {
		return sla.TicketState{}, err
	}
	return sla.TicketState{
		ClientID:   tk.ClientID,
		CategoryID: tk.CategoryID,
		Priority:   tk.Priority,
		IsTerminal: IsTerminal(status),
	}, nil
}

var _ sla.TicketStore = (*Store)(nil)
