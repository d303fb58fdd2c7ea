package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

type breachScanner interface {
	ScanBreaches(ctx context.Context, now time.Time) ([]sla.BreachEvent, error)
	ScanWarnings(ctx context.Context, now time.Time, lookaheadHours float64) ([]sla.Warning, error)
}

type escalator interface {
	ProcessEscalations(ctx context.Context, now time.Time) ([]sla.Escalation, error)
}

type warningPublisher interface {
	PublishWarnings(ctx context.Context, ws []sla.Warning) int
}

type worker struct {
	cfg       Config
	scanner   breachScanner
	escalator escalator
	warnings  warningPublisher
	jobs      *jobHandler
}

func (w *worker) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		w.runOnce(ctx, time.Now().UTC())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runSummary counts what one scan pass did.
type runSummary struct {
	Breaches    int
	Warnings    int
	Published   int
	Escalations int
	Failed      bool
}

// runOnce runs breaches, then warnings, then escalations. A failing step is
// logged and the next step still runs.
func (w *worker) runOnce(ctx context.Context, now time.Time) runSummary {
	if w.cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.ScanTimeout)
		defer cancel()
	}
	logger := log.Ctx(ctx).With().Str("run", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)
	var sum runSummary

	breaches, err := w.scanner.ScanBreaches(ctx, now)
	sum.Breaches = len(breaches)
	if err != nil {
		sum.Failed = true
		logger.Error().Err(err).Int("breaches", len(breaches)).Msg("sla breach scan")
	}

	warnings, err := w.scanner.ScanWarnings(ctx, now, w.cfg.LookaheadHours)
	sum.Warnings = len(warnings)
	if err != nil {
		sum.Failed = true
		logger.Error().Err(err).Msg("sla warning scan")
	}
	if w.warnings != nil && len(warnings) > 0 {
		sum.Published = w.warnings.PublishWarnings(ctx, warnings)
	}

	escs, err := w.escalator.ProcessEscalations(ctx, now)
	sum.Escalations = len(escs)
	if err != nil {
		sum.Failed = true
		logger.Error().Err(err).Msg("sla escalations")
	}

	logger.Info().Int("breaches", sum.Breaches).Int("warnings", sum.Warnings).
		Int("published", sum.Published).Int("escalations", sum.Escalations).Msg("sla scan")
	return sum
}
