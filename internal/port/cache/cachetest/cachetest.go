// Package cachetest holds the behavioral suite every cache.Cache adapter runs.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/flowboard/internal/port/cache"
)

// Run exercises the cache contract against c.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, cache.SeriesKey("b1"), []byte(`[{"date":"2025-03-01"}]`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, cache.SeriesKey("b1"))
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `[{"date":"2025-03-01"}]` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, cache.SeriesKey("never-set"))
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := cache.SeriesKey("del")
		_ = c.Set(ctx, key, []byte("x"), time.Minute)
		if err := c.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, key); found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := c.Delete(ctx, cache.SeriesKey("missing")); err != nil {
			t.Fatalf("Delete of a missing key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := cache.SeriesKey("ow")
		_ = c.Set(ctx, key, []byte("v1"), time.Minute)
		_ = c.Set(ctx, key, []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, key)
		if err != nil || !found || string(val) != "v2" {
			t.Fatalf("expected v2, got %q found=%v err=%v", val, found, err)
		}
	})

	t.Run("UnusualBoardID", func(t *testing.T) {
		key := cache.SeriesKey("team a/ops*")
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatal(err)
		}
		if _, found, err := c.Get(ctx, key); err != nil || !found {
			t.Fatalf("expected hit, found=%v err=%v", found, err)
		}
	})
}
