// Package notify delivers SLA notifications through the helpdesk's Redis
// job queue and event channel, and records SLA audit events in Postgres.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

const (
	// JobsQueue is the list the helpdesk workers consume.
	JobsQueue = "jobs"
	// EventsChannel is the pub/sub channel relayed to connected agents.
	EventsChannel = "events"

	JobNotification = "sla_notification"
	EventWarning    = "sla_warning"
)

// Job is the envelope pushed onto JobsQueue.
type Job struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is the envelope published on EventsChannel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Limiter throttles repeated warnings for the same key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis implements sla.Notifier.
type Redis struct {
	rdb      *redis.Client
	attempts int
	backoff  time.Duration
	warnings Limiter
}

// Option configures a Redis notifier.
type Option func(*Redis)

// WithRetry sets how many times a push is attempted and the delay between
// attempts, doubled after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Redis) {
		r.attempts = attempts
		r.backoff = backoff
	}
}

// WithWarningLimiter suppresses warnings the limiter rejects.
func WithWarningLimiter(l Limiter) Option {
	return func(r *Redis) { r.warnings = l }
}

func NewRedis(rdb *redis.Client, opts ...Option) *Redis {
	r := &Redis{rdb: rdb, attempts: 3, backoff: 100 * time.Millisecond}
	for _, o := range opts {
		o(r)
	}
	if r.attempts < 1 {
		r.attempts = 1
	}
	return r
}

// Notify enqueues n for delivery and broadcasts it to subscribers. Only a
// failed enqueue is reported; the broadcast is best effort.
func (r *Redis) Notify(ctx context.Context, n sla.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	job, err := json.Marshal(Job{Type: JobNotification, Data: data})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := r.push(ctx, job); err != nil {
		return err
	}
	r.publish(ctx, Event{Type: "sla_" + string(n.Kind), Data: n})
	return nil
}

func (r *Redis) push(ctx context.Context, job []byte) error {
	delay := r.backoff
	var err error
	for i := 0; i < r.attempts; i++ {
		if err = r.rdb.RPush(ctx, JobsQueue, job).Err(); err == nil {
			return nil
		}
		if i == r.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("enqueue notification: %w", err)
}

func (r *Redis) publish(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, EventsChannel, b).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("type", ev.Type).Msg("publish event")
	}
}

// PublishWarnings broadcasts approaching deadlines and returns how many
// were published. Each ticket leg is announced at most once per limiter
// window when a limiter is configured.
func (r *Redis) PublishWarnings(ctx context.Context, ws []sla.Warning) int {
	n := 0
	for _, w := range ws {
		if r.warnings != nil {
			ok, err := r.warnings.Allow(ctx, w.Tracking.TicketID+":"+string(w.Leg))
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("ticket", w.Tracking.TicketID).Msg("warning limiter")
			}
			if err == nil && !ok {
				continue
			}
		}
		r.publish(ctx, Event{Type: EventWarning, Data: warningPayload{
			TicketID:  w.Tracking.TicketID,
			Leg:       w.Leg,
			Deadline:  w.Deadline,
			Remaining: w.Remaining.Round(time.Second).String(),
		}})
		n++
	}
	return n
}

type warningPayload struct {
	TicketID  string    `json:"ticket_id"`
	Leg       sla.Leg   `json:"leg"`
	Deadline  time.Time `json:"deadline"`
	Remaining string    `json:"remaining"`
}

var _ sla.Notifier = (*Redis)(nil)
