package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmax-ai/psyflow/pkg/store"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	if _, ok := c.Get(ctx, "a"); ok {
		t.Fatal("empty cache returned a hit")
	}

	exp := &store.Experiment{ID: "a", Name: "first", PsyexpData: json.RawMessage(`{}`)}
	c.Set(ctx, exp)
	exp.Name = "mutated"
	exp.PsyexpData[0] = '['

	got, ok := c.Get(ctx, "a")
	if !ok || got.Name != "first" || string(got.PsyexpData) != `{}` {
		t.Fatalf("cache did not copy the record: %+v", got)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted")
	}

	c.Set(ctx, &store.Experiment{ID: "b"})
	c.Invalidate(ctx, "b")
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("invalidated entry returned")
	}

	c.Set(ctx, nil)
	c.Set(ctx, &store.Experiment{})
	if c.Len() != 0 {
		t.Errorf("records without id cached")
	}
}

func TestCachedReader(t *testing.T) {
	var reads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reads.Add(1)
		json.NewEncoder(w).Encode(store.Experiment{ID: "exp-1", Revision: int64(reads.Load())})
	}))
	defer server.Close()

	ctx := context.Background()
	r := NewCachedReader(NewClient(server.URL), NewMemoryCache(0))

	first, err := r.ReadExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 1 || first.Revision != second.Revision {
		t.Fatalf("second read was not served from cache (reads=%d)", reads.Load())
	}

	r.Invalidate(ctx, "exp-1")
	third, err := r.ReadExperiment(ctx, "exp-1")
	if err != nil {
		t.Fatal(err)
	}
	if reads.Load() != 2 || third.Revision != 2 {
		t.Errorf("read after invalidate not refetched (reads=%d rev=%d)", reads.Load(), third.Revision)
	}
}
