// +build integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog"
)

// newTestRedis connects two stores to a fresh key on the test server
func newTestRedis(t *testing.T, ctx context.Context) (*Redis, *Redis) {
	t.Helper()
	addr := os.Getenv("NOWPLAYING_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: NOWPLAYING_TEST_REDIS_ADDR must be set")
	}

	opts := RedisOptions{Addr: addr, Key: "nowplaying:test:" + uuid.NewString()}
	a, err := NewRedis(ctx, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	b, err := NewRedis(ctx, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() {
		a.client.Del(context.Background(), opts.Key)
		a.Close()
		b.Close()
	})
	return a, b
}

// TestIntegration_Redis round-trips a record through a live server
// Run with: go test -tags=integration -v ./internal/store/
// Requires: NOWPLAYING_TEST_REDIS_ADDR (e.g. 127.0.0.1:6379)
func TestIntegration_Redis(t *testing.T) {
	addr := os.Getenv("NOWPLAYING_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping integration test: NOWPLAYING_TEST_REDIS_ADDR must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "nowplaying:test:" + uuid.NewString()
	r, err := NewRedis(ctx, RedisOptions{Addr: addr, Key: key}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()
	defer r.client.Del(context.Background(), key)

	if _, ok, err := r.Load(ctx); err != nil || ok {
		t.Fatalf("Load on fresh key = ok %v err %v, want false nil", ok, err)
	}

	want := testRecord()
	if err := r.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := r.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load = ok %v err %v", ok, err)
	}
	assertRecord(t, got, want)
}

// TestIntegration_RedisCorruptHash checks an undecodable hash reads as empty
func TestIntegration_RedisCorruptHash(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, _ := newTestRedis(t, ctx)

	if err := r.Save(ctx, testRecord()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := r.client.HSet(ctx, r.key, "current_index", "two").Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	if _, ok, err := r.Load(ctx); err != nil || ok {
		t.Errorf("Load = ok %v err %v, want false nil", ok, err)
	}
}

// TestIntegration_RedisConcurrentUpdates races two stores on one hash
func TestIntegration_RedisConcurrentUpdates(t *testing.T) {
	const perStore = 25

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, b := newTestRedis(t, ctx)

	increment := func(rec player.Record, ok bool) (player.Record, bool, error) {
		rec.Index++
		return rec, true, nil
	}

	// One writer per store, as each server process serializes its own
	var wg sync.WaitGroup
	errs := make(chan error, 2*perStore)
	for _, r := range []*Redis{a, b} {
		wg.Add(1)
		go func(r *Redis) {
			defer wg.Done()
			for i := 0; i < perStore; i++ {
				if err := r.Update(ctx, increment); err != nil {
					errs <- err
				}
			}
		}(r)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Update: %v", err)
	}
	rec, _, err := a.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Index != 2*perStore {
		t.Errorf("index = %d, want %d", rec.Index, 2*perStore)
	}
}
