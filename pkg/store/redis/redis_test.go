package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	psyclient "github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/store"
)

var (
	_ psyclient.Cache     = (*ExperimentCache)(nil)
	_ store.CompileLocker = (*CompileLocker)(nil)
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestExperimentCache(t *testing.T) {
	mr, client := newTestClient(t)
	cache := NewExperimentCache(client, time.Minute, nil)
	ctx := context.Background()

	exp := &store.Experiment{
		ID:         "exp-1",
		Name:       "Stroop",
		PsyexpData: json.RawMessage(`{"component_props":{}}`),
		Revision:   4,
		Status:     store.StatusDraft,
	}

	t.Run("miss", func(t *testing.T) {
		if _, ok := cache.Get(ctx, "exp-1"); ok {
			t.Fatal("expected miss on empty cache")
		}
	})

	t.Run("set and get", func(t *testing.T) {
		cache.Set(ctx, exp)
		got, ok := cache.Get(ctx, "exp-1")
		if !ok {
			t.Fatal("expected hit")
		}
		if got.Name != exp.Name || got.Revision != 4 || string(got.PsyexpData) != string(exp.PsyexpData) {
			t.Errorf("got %+v, want %+v", got, exp)
		}
	})

	t.Run("ttl", func(t *testing.T) {
		cache.Set(ctx, exp)
		mr.FastForward(2 * time.Minute)
		if _, ok := cache.Get(ctx, "exp-1"); ok {
			t.Error("expected entry to expire")
		}
	})

	t.Run("invalidate", func(t *testing.T) {
		cache.Set(ctx, exp)
		cache.Invalidate(ctx, "exp-1")
		if _, ok := cache.Get(ctx, "exp-1"); ok {
			t.Error("expected miss after invalidate")
		}
	})

	t.Run("clear", func(t *testing.T) {
		cache.Set(ctx, exp)
		cache.Set(ctx, &store.Experiment{ID: "exp-2"})
		cache.Clear(ctx)
		if mr.Exists(experimentsSet) {
			t.Error("index set survived clear")
		}
		if _, ok := cache.Get(ctx, "exp-2"); ok {
			t.Error("expected miss after clear")
		}
	})

	t.Run("corrupt entry", func(t *testing.T) {
		mr.Set(cache.makeKey("bad"), "{not json")
		if _, ok := cache.Get(ctx, "bad"); ok {
			t.Error("corrupt entry served")
		}
	})
}

func TestCompileLocker(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewCompileLocker(client)
	ctx := context.Background()

	ok, err := locks.LockCompile(ctx, "exp-1", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("LockCompile = %v, %v", ok, err)
	}
	ok, err = locks.LockCompile(ctx, "exp-1", "b", time.Second)
	if err != nil || ok {
		t.Fatalf("second holder took a live lock: %v, %v", ok, err)
	}

	// Relocking as the holder extends the ttl.
	ok, err = locks.LockCompile(ctx, "exp-1", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("relock by holder = %v, %v", ok, err)
	}
	if ttl := mr.TTL(locks.makeKey("exp-1")); ttl <= time.Second {
		t.Errorf("expected ttl extended, got %v", ttl)
	}

	lock, err := locks.CompileLockOf(ctx, "exp-1")
	if err != nil || lock == nil || lock.Holder != "a" {
		t.Fatalf("CompileLockOf = %+v, %v", lock, err)
	}

	if err := locks.UnlockCompile(ctx, "exp-1", "b"); err != nil {
		t.Errorf("UnlockCompile by stranger = %v", err)
	}
	if lock, _ := locks.CompileLockOf(ctx, "exp-1"); lock == nil {
		t.Fatal("a stranger removed the lock")
	}

	mr.FastForward(2 * time.Minute)
	if lock, _ := locks.CompileLockOf(ctx, "exp-1"); lock != nil {
		t.Errorf("expired lock still reported: %+v", lock)
	}
	ok, err = locks.LockCompile(ctx, "exp-1", "b", time.Second)
	if err != nil || !ok {
		t.Fatalf("takeover after expiry = %v, %v", ok, err)
	}
	if err := locks.UnlockCompile(ctx, "exp-1", "b"); err != nil {
		t.Fatalf("UnlockCompile failed: %v", err)
	}
	if lock, _ := locks.CompileLockOf(ctx, "exp-1"); lock != nil {
		t.Errorf("lock still present after unlock: %+v", lock)
	}
}
