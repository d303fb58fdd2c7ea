package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

// Ticket lifecycle jobs pushed by the helpdesk API.
const (
	jobTicketCreated       = "ticket_created"
	jobTicketFirstResponse = "ticket_first_response"
	jobTicketResolved      = "ticket_resolved"
)

// popTimeout bounds each BLPOP so shutdown is noticed promptly.
const popTimeout = 5 * time.Second

type Job struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type TicketJob struct {
	TicketID string `json:"ticket_id"`
}

type lifecycle interface {
	OnTicketCreated(ctx context.Context, tk sla.Ticket) (*sla.Tracking, error)
	OnFirstResponse(ctx context.Context, ticketID string) (bool, error)
	OnResolution(ctx context.Context, ticketID string) (bool, error)
}

type ticketLoader interface {
	Ticket(ctx context.Context, id string) (sla.Ticket, error)
}

type jobHandler struct {
	tracker lifecycle
	tickets ticketLoader
}

// processQueueJob waits for one job on queue and handles it. It returns nil
// when the wait times out or ctx is done.
func processQueueJob(ctx context.Context, rdb *redis.Client, queue string, h *jobHandler) error {
	res, err := rdb.BLPop(ctx, popTimeout, queue).Result()
	if errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blpop: %w", err)
	}
	if len(res) < 2 {
		return nil
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return fmt.Errorf("unmarshal job: %w", err)
	}
	return h.handle(ctx, job)
}

func (h *jobHandler) handle(ctx context.Context, job Job) error {
	var tj TicketJob
	if err := json.Unmarshal(job.Data, &tj); err != nil {
		return fmt.Errorf("unmarshal %s job: %w", job.Type, err)
	}
	if tj.TicketID == "" {
		return fmt.Errorf("%s job without ticket_id", job.Type)
	}
	logger := log.Ctx(ctx).With().Str("job", job.Type).Str("ticket", tj.TicketID).Logger()
	switch job.Type {
	case jobTicketCreated:
		tk, err := h.tickets.Ticket(ctx, tj.TicketID)
		if err != nil {
			return err
		}
		tr, err := h.tracker.OnTicketCreated(ctx, tk)
		if err != nil {
			return err
		}
		if tr != nil {
			logger.Info().Time("response_deadline", tr.ResponseDeadline).
				Time("resolution_deadline", tr.ResolutionDeadline).Msg("sla tracking started")
		}
	case jobTicketFirstResponse:
		applied, err := h.tracker.OnFirstResponse(ctx, tj.TicketID)
		if err != nil {
			return err
		}
		logger.Debug().Bool("applied", applied).Msg("first response")
	case jobTicketResolved:
		applied, err := h.tracker.OnResolution(ctx, tj.TicketID)
		if err != nil {
			return err
		}
		logger.Debug().Bool("applied", applied).Msg("resolution")
	default:
		logger.Warn().Msg("unknown job type")
	}
	return nil
}
