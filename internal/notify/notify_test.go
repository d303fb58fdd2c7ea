package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/mark3748/helpdesk-sla/internal/sla"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func subscribe(t *testing.T, rdb *redis.Client) <-chan *redis.Message {
	t.Helper()
	ctx := context.Background()
	sub := rdb.Subscribe(ctx, EventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return sub.Channel()
}

func receive(t *testing.T, ch <-chan *redis.Message) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatal(err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestNotifyEnqueuesAndPublishes(t *testing.T) {
	mr, rdb := newRedis(t)
	ch := subscribe(t, rdb)
	n := sla.Notification{TicketID: "k1", Kind: sla.NotifyEscalation, Payload: sla.NotificationPayload{
		TrackingID: "t1", PolicyName: "Gold", Leg: sla.LegResponse, Level: 2,
		Action: json.RawMessage(`{"notify":"manager"}`),
	}}
	if err := NewRedis(rdb).Notify(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	items, err := mr.List(JobsQueue)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(items))
	}
	var job Job
	if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.Type != JobNotification {
		t.Fatalf("unexpected job type %q", job.Type)
	}
	var got sla.Notification
	if err := json.Unmarshal(job.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.TicketID != "k1" || got.Payload.Level != 2 || string(got.Payload.Action) != `{"notify":"manager"}` {
		t.Fatalf("unexpected notification %+v", got)
	}

	if ev := receive(t, ch); ev.Type != "sla_escalation" {
		t.Fatalf("unexpected event type %q", ev.Type)
	}
}

func TestNotifyQueuesInArrivalOrder(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	r := NewRedis(rdb)
	for _, id := range []string{"k1", "k2", "k3"} {
		if err := r.Notify(ctx, sla.Notification{TicketID: id, Kind: sla.NotifyResponseBreach}); err != nil {
			t.Fatal(err)
		}
	}
	// drain the way the worker does
	for _, want := range []string{"k1", "k2", "k3"} {
		res, err := rdb.BLPop(ctx, time.Second, JobsQueue).Result()
		if err != nil {
			t.Fatal(err)
		}
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			t.Fatal(err)
		}
		var got sla.Notification
		if err := json.Unmarshal(job.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.TicketID != want {
			t.Fatalf("expected %s next, got %s", want, got.TicketID)
		}
	}
}

func TestNotifyFailsWhenQueueUnavailable(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	r := NewRedis(rdb, WithRetry(2, time.Millisecond))
	err := r.Notify(context.Background(), sla.Notification{TicketID: "k1", Kind: sla.NotifyResponseBreach})
	if err == nil {
		t.Fatal("expected enqueue error")
	}
}

func TestNotifyStopsRetryingOnCancel(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRedis(rdb, WithRetry(5, time.Hour))
	if err := r.Notify(ctx, sla.Notification{TicketID: "k1"}); err == nil {
		t.Fatal("expected error")
	}
}

type onceLimiter struct{ seen map[string]bool }

func (l *onceLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.seen[key] {
		return false, nil
	}
	l.seen[key] = true
	return true, nil
}

func TestPublishWarnings(t *testing.T) {
	_, rdb := newRedis(t)
	ch := subscribe(t, rdb)
	r := NewRedis(rdb, WithWarningLimiter(&onceLimiter{seen: map[string]bool{}}))
	deadline := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ws := []sla.Warning{
		{Tracking: sla.Tracking{TicketID: "k1"}, Leg: sla.LegResponse, Deadline: deadline, Remaining: 90 * time.Minute},
		{Tracking: sla.Tracking{TicketID: "k1"}, Leg: sla.LegResolution, Deadline: deadline, Remaining: time.Hour},
	}
	if got := r.PublishWarnings(context.Background(), ws); got != 2 {
		t.Fatalf("expected 2 published, got %d", got)
	}
	ev := receive(t, ch)
	if ev.Type != EventWarning {
		t.Fatalf("unexpected event %q", ev.Type)
	}
	data := ev.Data.(map[string]any)
	if data["ticket_id"] != "k1" || data["leg"] != "response" || data["remaining"] != "1h30m0s" {
		t.Fatalf("unexpected payload %v", data)
	}
	receive(t, ch)

	if got := r.PublishWarnings(context.Background(), ws); got != 0 {
		t.Fatalf("repeat warnings should be suppressed, got %d", got)
	}
}

type execRec struct {
	sql  string
	args []any
	err  error
}

func (e *execRec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.CommandTag{}, e.err
}

func TestRecorder(t *testing.T) {
	db := &execRec{}
	NewRecorder(db).Record(context.Background(), "k1", sla.EventBreach, map[string]string{"leg": "response"})
	if db.sql != insertEventSQL {
		t.Fatalf("unexpected sql %q", db.sql)
	}
	if db.args[0] != "k1" || db.args[1] != sla.EventBreach || string(db.args[2].([]byte)) != `{"leg":"response"}` {
		t.Fatalf("unexpected args %v", db.args)
	}

	db.err = errors.New("down")
	NewRecorder(db).Record(context.Background(), "k1", sla.EventBreach, nil)

	var nilRec *Recorder
	nilRec.Record(context.Background(), "k1", sla.EventBreach, nil)
}
