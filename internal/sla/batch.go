package sla

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

// forEach runs fn over items with at most workers in flight. A failing item
// never stops the others; its error is collected. Once ctx is done no new
// items are started and rows already processed stay committed.
func forEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = defaultWorkers
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(workers)
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		it := it
		g.Go(func() error {
			if err := fn(ctx, it); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// send delivers n and reports whether it went out. Failures are logged,
// counted and recorded, never returned.
func send(ctx context.Context, notifier Notifier, events EventRecorder, logger zerolog.Logger, n Notification) bool {
	if notifier == nil {
		return false
	}
	err := notifier.Notify(ctx, n)
	if err == nil {
		return true
	}
	nerr := &NotificationError{TicketID: n.TicketID, Kind: n.Kind, Err: err}
	NotificationFailuresTotal.WithLabelValues(string(n.Kind)).Inc()
	logger.Warn().Err(nerr).Str("ticket", n.TicketID).Str("kind", string(n.Kind)).Msg("sla notification failed")
	events.Record(ctx, n.TicketID, EventNotificationFailed, map[string]string{
		"kind":  string(n.Kind),
		"error": err.Error(),
	})
	return false
}
