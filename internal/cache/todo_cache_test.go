package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"todo-api/internal/domain"
)

func newTestCache(t *testing.T) (*TodoCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewTodoCache(rdb, time.Minute), mr
}

func TestTodoCacheListRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	if _, ok, err := c.GetList(ctx, 1, "all"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	list := []domain.Todo{
		{ID: 2, UserID: 1, Title: "b", Priority: domain.PriorityHigh, CreatedAt: now, UpdatedAt: now, CompletedAt: &now, Completed: true},
		{ID: 1, UserID: 1, Title: "a", Priority: domain.PriorityLow, CreatedAt: now, UpdatedAt: now},
	}
	if err := c.SetList(ctx, 1, "all", 0, list); err != nil {
		t.Fatalf("set list: %v", err)
	}

	got, ok, err := c.GetList(ctx, 1, "all")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[0].CompletedAt == nil || !got[0].CompletedAt.Equal(now) {
		t.Errorf("unexpected cached list %+v", got)
	}

	if _, ok, _ := c.GetList(ctx, 1, "priority"); ok {
		t.Error("other views must not share a field")
	}
	if _, ok, _ := c.GetList(ctx, 2, "all"); ok {
		t.Error("other users must not share a key")
	}
}

func TestTodoCacheStatsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	if err := c.SetStats(ctx, 5, 0, domain.NewTodoStats(1, 2)); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	if err := c.SetList(ctx, 5, "all", 0, []domain.Todo{{ID: 1}}); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if ttl := mr.TTL(userKey(5)); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}

	stats, ok, err := c.GetStats(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("expected stats hit, ok=%v err=%v", ok, err)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Pending != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if err := c.Invalidate(ctx, 5); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.GetStats(ctx, 5); ok {
		t.Error("stats survived invalidation")
	}
	if _, ok, _ := c.GetList(ctx, 5, "all"); ok {
		t.Error("list survived invalidation")
	}
}

func TestTodoCacheExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	if err := c.SetStats(ctx, 9, 0, domain.NewTodoStats(0, 1)); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.GetStats(ctx, 9); ok {
		t.Error("expected entry to expire")
	}
}

func TestTodoCacheDropsFillAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	before, err := c.Version(ctx, 3)
	if err != nil || before != 0 {
		t.Fatalf("version = %d, %v", before, err)
	}
	if err := c.Invalidate(ctx, 3); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if err := c.SetList(ctx, 3, "all", before, []domain.Todo{{ID: 1, Title: "old"}}); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if err := c.SetStats(ctx, 3, before, domain.NewTodoStats(0, 1)); err != nil {
		t.Fatalf("set stats: %v", err)
	}
	if _, ok, _ := c.GetList(ctx, 3, "all"); ok {
		t.Error("list loaded before the invalidation was cached")
	}
	if _, ok, _ := c.GetStats(ctx, 3); ok {
		t.Error("stats loaded before the invalidation were cached")
	}

	after, err := c.Version(ctx, 3)
	if err != nil || after != before+1 {
		t.Fatalf("version after invalidate = %d, %v", after, err)
	}
	if err := c.SetList(ctx, 3, "all", after, []domain.Todo{{ID: 1, Title: "new"}}); err != nil {
		t.Fatalf("set list: %v", err)
	}
	got, ok, err := c.GetList(ctx, 3, "all")
	if err != nil || !ok || got[0].Title != "new" {
		t.Fatalf("current fill not cached: ok=%v err=%v %+v", ok, err, got)
	}
	if _, ok, _ := c.GetList(ctx, 4, "all"); ok {
		t.Error("other users must not share a version")
	}
}

func TestTodoCacheCloseReleasesClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewTodoCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Version(context.Background(), 1); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("version after close = %v, want %v", err, redis.ErrClosed)
	}
}
