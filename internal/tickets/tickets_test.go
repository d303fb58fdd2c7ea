package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

type fakeRow struct {
	id, status       string
	priority         int16
	client, category *string
	created          time.Time
	err              error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	*dest[1].(*string) = r.status
	*dest[2].(*int16) = r.priority
	*dest[3].(**string) = r.client
	*dest[4].(**string) = r.category
	*dest[5].(*time.Time) = r.created
	return nil
}

type fakeDB struct {
	row  fakeRow
	args []any
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.args = args
	return db.row
}

func TestTicket(t *testing.T) {
	client := "acme"
	ny, _ := time.LoadLocation("America/New_York")
	db := &fakeDB{row: fakeRow{id: "k1", status: "New", priority: 2, client: &client,
		created: time.Date(2024, 3, 1, 9, 0, 0, 0, ny)}}
	tk, err := New(db).Ticket(context.Background(), "k1")
	if err != nil {
		t.Fatal(err)
	}
	if tk.Priority != sla.PriorityHigh || tk.ClientID == nil || *tk.ClientID != "acme" || tk.CategoryID != nil {
		t.Fatalf("unexpected ticket %+v", tk)
	}
	if tk.CreatedAt.Location() != time.UTC || tk.CreatedAt.Hour() != 14 {
		t.Fatalf("expected UTC creation time, got %v", tk.CreatedAt)
	}
	if db.args[0] != "k1" {
		t.Fatalf("unexpected args %v", db.args)
	}
}

func TestTicketNotFound(t *testing.T) {
	s := New(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})
	if _, err := s.Ticket(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	st, err := s.TicketState(context.Background(), "x")
	if err != nil || !st.IsTerminal {
		t.Fatalf("missing ticket should be terminal, got %+v %v", st, err)
	}
}

func TestTicketStateTerminal(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{"New", false},
		{"Open", false},
		{"Pending", false},
		{"Resolved", true},
		{"closed", true},
		{" Cancelled ", true},
	}
	for _, tc := range cases {
		s := New(&fakeDB{row: fakeRow{id: "k", status: tc.status, priority: 3}})
		st, err := s.TicketState(context.Background(), "k")
		if err != nil {
			t.Fatal(err)
		}
		if st.IsTerminal != tc.want {
			t.Errorf("%q: terminal = %v, want %v", tc.status, st.IsTerminal, tc.want)
		}
		if st.Priority != sla.PriorityMedium {
			t.Errorf("%q: priority = %s", tc.status, st.Priority)
		}
	}
}

func TestTicketStateError(t *testing.T) {
	boom := errors.New("down")
	if _, err := New(&fakeDB{row: fakeRow{err: boom}}).TicketState(context.Background(), "k"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestPriorityFromLevel(t *testing.T) {
	want := map[int16]sla.Priority{1: sla.PriorityCritical, 2: sla.PriorityHigh, 3: sla.PriorityMedium, 4: sla.PriorityLow, 0: sla.PriorityMedium, 9: sla.PriorityMedium}
	for in, p := range want {
		if got := PriorityFromLevel(in); got != p {
			t.Errorf("PriorityFromLevel(%d) = %s, want %s", in, got, p)
		}
	}
}
