package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEnqueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := enqueue(context.Background(), rdb, "resolved", "k1"); err != nil {
		t.Fatal(err)
	}
	items, err := mr.List("sla_jobs")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one job, got %v %v", items, err)
	}
	var job struct {
		Type string `json:"type"`
		Data struct {
			TicketID string `json:"ticket_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.Type != "ticket_resolved" || job.Data.TicketID != "k1" {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := enqueue(context.Background(), rdb, "reopened", "k1"); err == nil {
		t.Fatal("expected unknown job error")
	}
}

func TestRunFlushCache(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDR", mr.Addr())
	mr.Set("sla:policy:acme:-:high", "{}")
	var out bytes.Buffer
	if err := run(context.Background(), []string{"flush-cache"}, &out); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("sla:policy:acme:-:high") {
		t.Fatal("expected cached policy removed")
	}
	if !strings.Contains(out.String(), "flushed") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "usage:") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := run(context.Background(), []string{"bogus"}, &out); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(context.Background(), []string{"status"}, &out); err == nil {
		t.Fatal("expected error without ticket id")
	}
}
