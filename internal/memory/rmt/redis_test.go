package rmt

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/megaagent/memcore/internal/memerr"
	"github.com/megaagent/memcore/internal/observability"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, observability.Nop()), mr
}

func TestRedisSetGetRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	slots := map[string]string{
		"persona":        "helpful paralegal",
		"open_loops":     "waiting on RFE response",
		"custom_scratch": "unknown slots survive",
	}
	if err := store.SetBuffer(ctx, "t1", slots, 0); err != nil {
		t.Fatalf("SetBuffer() error = %v", err)
	}

	buf, found, err := store.GetBuffer(ctx, "t1")
	if err != nil || !found {
		t.Fatalf("GetBuffer() = (%v, %v, %v)", buf, found, err)
	}
	for k, v := range slots {
		if buf.Slots[k] != v {
			t.Errorf("slot %s = %q, want %q", k, buf.Slots[k], v)
		}
	}
	if buf.ExpiresAt != nil {
		t.Error("no TTL requested but ExpiresAt set")
	}
}

func TestRedisLastWriterWins(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	store.SetBuffer(ctx, "t1", map[string]string{"persona": "v1", "extra": "gone"}, 0)
	store.SetBuffer(ctx, "t1", map[string]string{"persona": "v2"}, 0)

	buf, _, err := store.GetBuffer(ctx, "t1")
	if err != nil {
		t.Fatalf("GetBuffer() error = %v", err)
	}
	if buf.Slots["persona"] != "v2" {
		t.Errorf("persona = %q, want v2", buf.Slots["persona"])
	}
	if _, stale := buf.Slots["extra"]; stale {
		t.Error("full replacement expected, found stale slot")
	}
}

func TestRedisAbsentSentinel(t *testing.T) {
	store, _ := newRedisStore(t)

	buf, found, err := store.GetBuffer(context.Background(), "nope")
	if buf != nil || found || err != nil {
		t.Errorf("absent buffer = (%v, %v, %v), want (nil, false, nil)", buf, found, err)
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.SetBuffer(ctx, "t1", map[string]string{"persona": "x"}, time.Minute); err != nil {
		t.Fatalf("SetBuffer() error = %v", err)
	}
	if _, found, _ := store.GetBuffer(ctx, "t1"); !found {
		t.Fatal("buffer missing before expiry")
	}

	mr.FastForward(2 * time.Minute)

	if _, found, _ := store.GetBuffer(ctx, "t1"); found {
		t.Error("buffer survived its TTL")
	}
}

func TestRedisDeleteAndList(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	store.SetBuffer(ctx, "a", map[string]string{"persona": "1"}, 0)
	store.SetBuffer(ctx, "b", map[string]string{"persona": "2"}, 0)

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListAll() = %d buffers, want 2", len(all))
	}

	if err := store.DeleteBuffer(ctx, "a"); err != nil {
		t.Fatalf("DeleteBuffer() error = %v", err)
	}
	if _, found, _ := store.GetBuffer(ctx, "a"); found {
		t.Error("buffer survived delete")
	}
	// Deleting again is not an error.
	if err := store.DeleteBuffer(ctx, "a"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}

func TestRedisValidation(t *testing.T) {
	store, _ := newRedisStore(t)
	err := store.SetBuffer(context.Background(), "", map[string]string{}, 0)
	if memerr.KindOf(err) != memerr.KindValidation {
		t.Errorf("empty thread: %v", err)
	}
}

func TestSweeperRunsOnInterval(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	store.SetBuffer(ctx, "t1", map[string]string{"persona": "x"}, time.Minute)
	mr.FastForward(2 * time.Minute)

	sweeper := NewSweeper(store, 10*time.Millisecond, observability.Nop(), nil)
	sweeper.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()
	// Redis expires natively; the sweep must complete without error and the
	// buffer must be gone.
	if _, found, _ := store.GetBuffer(ctx, "t1"); found {
		t.Error("expired buffer still visible after sweep window")
	}
}
