package notify

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Execer is the subset of pgxpool.Pool used by Recorder.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes SLA audit events to sla_events. Best effort; failures
// are logged and dropped.
type Recorder struct {
	db Execer
}

func NewRecorder(db Execer) *Recorder { return &Recorder{db: db} }

const insertEventSQL = `insert into sla_events (ticket_id, event_type, payload) values ($1, $2, $3)`

func (r *Recorder) Record(ctx context.Context, ticketID, eventType string, data any) {
	if r == nil || r.db == nil {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	if _, err := r.db.Exec(ctx, insertEventSQL, ticketID, eventType, b); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("ticket", ticketID).Str("event", eventType).Msg("record sla event")
	}
}
