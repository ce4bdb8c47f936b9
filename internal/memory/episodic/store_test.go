package episodic

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/megaagent/memcore/internal/config"
	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
	"github.com/megaagent/memcore/internal/postgres"
	"github.com/megaagent/memcore/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MEMCORE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEMCORE_TEST_DATABASE_URL not set")
	}

	cfg, err := config.FromEnv(func(key string) string {
		if key == "POSTGRES_DSN" {
			return dsn
		}
		return ""
	})
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg, observability.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		pool.DB().Exec(context.Background(),
			`DELETE FROM mega_agent.episodic_events WHERE thread_id LIKE $1`, "test_"+t.Name()+"%")
		pool.Close()
	})
	return New(pool, observability.Nop())
}

func threadID(t *testing.T) string {
	return "test_" + t.Name()
}

func TestAppendAndThreadOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := threadID(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		err := store.Append(ctx, &models.AuditEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			ThreadID:  thread,
			UserID:    "u1",
			Source:    "workflow_node",
			Action:    fmt.Sprintf("step_%d", i),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	events, err := store.GetThreadEvents(ctx, thread, 0)
	if err != nil {
		t.Fatalf("GetThreadEvents() error = %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Errorf("events out of order at %d", i)
		}
	}
	if events[len(events)-1].Action != "step_4" {
		t.Errorf("last event = %s", events[len(events)-1].Action)
	}

	limited, err := store.GetThreadEvents(ctx, thread, 2)
	if err != nil {
		t.Fatalf("GetThreadEvents(limit) error = %v", err)
	}
	if len(limited) != 2 || limited[0].Action != "step_3" || limited[1].Action != "step_4" {
		t.Errorf("limited = %v", limited)
	}
}

func TestAppendValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Append(ctx, &models.AuditEvent{Action: "x"})
	if memerr.KindOf(err) != memerr.KindValidation {
		t.Errorf("empty source: %v", err)
	}
	err = store.Append(ctx, &models.AuditEvent{Source: "x"})
	if memerr.KindOf(err) != memerr.KindValidation {
		t.Errorf("empty action: %v", err)
	}
}

func TestAppendDefaultsThreadToGlobal(t *testing.T) {
	store := newTestStore(t)

	e := &models.AuditEvent{Source: "s", Action: "a"}
	if err := store.Append(context.Background(), e); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if e.ThreadID != models.GlobalThread {
		t.Errorf("thread = %q, want global", e.ThreadID)
	}
	if e.EventID == "" || e.Timestamp.IsZero() {
		t.Error("id or timestamp not assigned")
	}
}

func TestQueryWindowAndTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := threadID(t)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	events := []*models.AuditEvent{
		{Timestamp: base, ThreadID: thread, UserID: "u1", Source: "s", Action: "old", Tags: []string{"Milestone"}},
		{Timestamp: base.Add(30 * time.Minute), ThreadID: thread, UserID: "u1", Source: "s", Action: "mid", Tags: []string{"preference"}},
		{Timestamp: base.Add(50 * time.Minute), ThreadID: thread, UserID: "u2", Source: "s", Action: "new"},
	}
	for _, e := range events {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := store.Query(ctx, models.EpisodicQuery{
		ThreadID: thread,
		Since:    base.Add(10 * time.Minute),
		Until:    base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 || got[0].Action != "mid" || got[1].Action != "new" {
		t.Errorf("window query = %v", got)
	}
	for _, e := range got {
		if e.Timestamp.Before(base.Add(10*time.Minute)) || e.Timestamp.After(base.Add(time.Hour)) {
			t.Errorf("event %s outside window", e.Action)
		}
	}

	tagged, err := store.Query(ctx, models.EpisodicQuery{ThreadID: thread, Tags: []string{"milestone"}})
	if err != nil {
		t.Fatalf("Query(tags) error = %v", err)
	}
	if len(tagged) != 1 || tagged[0].Action != "old" {
		t.Errorf("tag intersection should be case-insensitive: %v", tagged)
	}

	byUser, err := store.Query(ctx, models.EpisodicQuery{ThreadID: thread, UserID: "u2"})
	if err != nil {
		t.Fatalf("Query(user) error = %v", err)
	}
	if len(byUser) != 1 || byUser[0].Action != "new" {
		t.Errorf("user filter = %v", byUser)
	}

	limited, err := store.Query(ctx, models.EpisodicQuery{ThreadID: thread, Limit: 1})
	if err != nil {
		t.Fatalf("Query(limit) error = %v", err)
	}
	if len(limited) != 1 || limited[0].Action != "new" {
		t.Errorf("limit should keep the latest: %v", limited)
	}
}

func TestGetAllReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := threadID(t)

	if err := store.Append(ctx, &models.AuditEvent{ThreadID: thread, Source: "s", Action: "a"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	first, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	delete(first, thread)

	again, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(again[thread]) == 0 {
		t.Error("mutating GetAll result affected the store")
	}
}

func TestPurgeBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	thread := threadID(t)

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := store.Append(ctx, &models.AuditEvent{Timestamp: old, ThreadID: thread, Source: "s", Action: "stale"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, &models.AuditEvent{ThreadID: thread, Source: "s", Action: "fresh"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	deleted, err := store.PurgeBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeBefore() error = %v", err)
	}
	if deleted < 1 {
		t.Errorf("deleted = %d, want >= 1", deleted)
	}

	events, err := store.GetThreadEvents(ctx, thread, 0)
	if err != nil {
		t.Fatalf("GetThreadEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Action != "fresh" {
		t.Errorf("remaining = %v", events)
	}
}
