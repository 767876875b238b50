package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Buckets are anchored on the current day so Redis key expiry keeps them.
var (
	day  = time.Now().UTC().Truncate(24 * time.Hour)
	hour = time.Now().UTC().Truncate(time.Hour)
)

func testBucket(target, period string, start time.Time, length time.Duration) *Bucket {
	return &Bucket{
		Key:         fmt.Sprintf("%s|%s|%d", target, period, start.Unix()),
		Target:      target,
		Period:      period,
		PeriodStart: start,
		PeriodEnd:   start.Add(length),
		Feature:     "content_publishing",
		Action:      "content_update",
		UpdatedAt:   start.Add(time.Minute),
	}
}

type backendFactory func(t *testing.T) Backend

func backends(t *testing.T) map[string]backendFactory {
	factories := map[string]backendFactory{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend(0) },
		"sqlite": func(t *testing.T) Backend { return newTestSQLiteBackend(t) },
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		factories["redis"] = func(t *testing.T) Backend {
			client := redis.NewClient(&redis.Options{Addr: addr})
			prefix := fmt.Sprintf("governor-test:%d:", time.Now().UnixNano())
			return NewRedisBackendWithClient(client, prefix)
		}
	}
	return factories
}

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")})
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			b := factory(t)
			defer b.Close()
			fn(t, b)
		})
	}
}

func TestBackend_AddAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		bucket := testBucket("feature:content_publishing", "daily", day, 24*time.Hour)

		got, err := b.Get(ctx, bucket.Key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != nil {
			t.Fatalf("Expected nil for missing bucket, got %+v", got)
		}

		if _, err := b.Add(ctx, bucket, Counters{Actions: 1, Spend: 250}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		out, err := b.Add(ctx, bucket, Counters{Actions: 1, DBWrites: 3})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}

		want := Counters{Actions: 2, Spend: 250, DBWrites: 3}
		if out.Counters != want {
			t.Errorf("Expected totals %+v, got %+v", want, out.Counters)
		}

		got, err = b.Get(ctx, bucket.Key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got == nil || got.Counters != want {
			t.Errorf("Expected stored totals %+v, got %+v", want, got)
		}
		if !got.PeriodEnd.Equal(bucket.PeriodEnd) {
			t.Errorf("Expected period end %v, got %v", bucket.PeriodEnd, got.PeriodEnd)
		}
		if got.Feature != "content_publishing" {
			t.Errorf("Expected feature content_publishing, got %s", got.Feature)
		}
	})
}

func TestBackend_AddClampsAtZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		bucket := testBucket("global", "hourly", hour, time.Hour)

		if _, err := b.Add(ctx, bucket, Counters{Actions: 2}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		out, err := b.Add(ctx, bucket, Counters{Actions: -5})
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if out.Actions != 0 {
			t.Errorf("Expected actions clamped to 0, got %d", out.Actions)
		}
	})
}

func TestBackend_ReserveExactCap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		daily := testBucket("feature:content_publishing", "daily", day, 24*time.Hour)
		hourly := testBucket("feature:content_publishing", "hourly", hour, time.Hour)
		limit := Counters{Actions: 10, Spend: 1000}

		reservations := []Reservation{{Bucket: hourly}, {Bucket: daily, Limit: &limit}}

		for i := 0; i < 7; i++ {
			res, err := b.Reserve(ctx, reservations, Counters{Actions: 1})
			if err != nil {
				t.Fatalf("Reserve failed: %v", err)
			}
			if !res.Granted {
				t.Fatalf("Expected reservation %d to be granted", i+1)
			}
		}

		// Exactly the remaining headroom is allowed.
		res, err := b.Reserve(ctx, reservations, Counters{Actions: 3})
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if !res.Granted || res.Buckets[1].Actions != 10 {
			t.Fatalf("Expected remaining headroom to be granted, got %+v", res)
		}

		res, err = b.Reserve(ctx, reservations, Counters{Actions: 1})
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if res.Granted {
			t.Fatal("Expected reservation past the cap to be denied")
		}
		if res.Denied != 1 {
			t.Errorf("Expected denial on reservation 1, got %d", res.Denied)
		}
		if len(res.Exceeded) != 1 || res.Exceeded[0] != "actions" {
			t.Errorf("Expected actions to be exceeded, got %v", res.Exceeded)
		}

		// A dimension with zero delta never blocks.
		res, err = b.Reserve(ctx, reservations, Counters{Spend: 100})
		if err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
		if !res.Granted {
			t.Error("Expected spend-only reservation to be granted")
		}

		// Denied reservations apply nothing, including to the unlimited bucket.
		got, _ := b.Get(ctx, hourly.Key)
		if got.Actions != 10 {
			t.Errorf("Expected hourly actions 10, got %d", got.Actions)
		}
	})
}

func TestBackend_ConcurrentReserveNeverOverAllows(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		bucket := testBucket("feature:ai_generation", "daily", day, 24*time.Hour)
		limit := Counters{Actions: 50}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					res, err := b.Reserve(ctx, []Reservation{{Bucket: bucket, Limit: &limit}}, Counters{Actions: 1})
					if err != nil {
						t.Errorf("Reserve failed: %v", err)
						return
					}
					if res.Granted {
						mu.Lock()
						granted++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		if granted != 50 {
			t.Errorf("Expected exactly 50 grants, got %d", granted)
		}
		got, _ := b.Get(ctx, bucket.Key)
		if got.Actions != 50 {
			t.Errorf("Expected 50 actions recorded, got %d", got.Actions)
		}
	})
}

func TestBackend_ListAndDeleteExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		old := testBucket("global", "daily", day.AddDate(0, 0, -1), 24*time.Hour)
		current := testBucket("global", "daily", day, 24*time.Hour)
		other := testBucket("feature:translation", "daily", day, 24*time.Hour)

		for _, bk := range []*Bucket{old, current, other} {
			if _, err := b.Add(ctx, bk, Counters{Actions: 1}); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
		}

		global, err := b.List(ctx, "global")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(global) != 2 {
			t.Errorf("Expected 2 global buckets, got %d", len(global))
		}

		all, _ := b.List(ctx, "")
		if len(all) != 3 {
			t.Errorf("Expected 3 buckets, got %d", len(all))
		}

		removed, err := b.DeleteExpired(ctx, day.Add(time.Second))
		if err != nil {
			t.Fatalf("DeleteExpired failed: %v", err)
		}
		if removed != 1 {
			t.Errorf("Expected 1 bucket removed, got %d", removed)
		}
		if got, _ := b.Get(ctx, old.Key); got != nil {
			t.Error("Expected old bucket to be gone")
		}
		if got, _ := b.Get(ctx, current.Key); got == nil {
			t.Error("Expected current bucket to remain")
		}
	})
}

func TestMemoryBackend_EvictsEndedBucketsFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(2)

	ended := testBucket("global", "hourly", day, time.Hour)
	live := testBucket("global", "daily", day, 24*time.Hour)
	next := testBucket("global", "hourly", day.Add(time.Hour), time.Hour)

	for _, bk := range []*Bucket{ended, live, next} {
		if _, err := m.Add(ctx, bk, Counters{Actions: 1}); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	if m.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", m.Len())
	}
	if got, _ := m.Get(ctx, ended.Key); got != nil {
		t.Error("Expected the ended hourly bucket to be evicted")
	}
	if got, _ := m.Get(ctx, live.Key); got == nil || got.Actions != 1 {
		t.Error("Expected the live daily bucket to be kept")
	}
}

func TestSQLiteBackend_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	bucket := testBucket("global", "monthly", day, 31*24*time.Hour)

	b1, err := NewSQLiteBackend(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if _, err := b1.Add(ctx, bucket, Counters{Spend: 900}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := b1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := b1.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	b2, err := NewSQLiteBackend(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("Failed to reopen backend: %v", err)
	}
	defer b2.Close()

	got, err := b2.Get(ctx, bucket.Key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Spend != 900 {
		t.Errorf("Expected spend 900 after reopen, got %+v", got)
	}
}

func TestSQLiteBackend_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteBackend(SQLiteConfig{}); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestCounters_Exceeds(t *testing.T) {
	cur := Counters{Actions: 9, Spend: 100}
	limit := Counters{Actions: 10, Spend: 100}

	if got := cur.Exceeds(Counters{Actions: 1}, limit); len(got) != 0 {
		t.Errorf("Expected exact cap to fit, got %v", got)
	}
	if got := cur.Exceeds(Counters{Actions: 2, Spend: 1}, limit); len(got) != 2 {
		t.Errorf("Expected two exceeded dimensions, got %v", got)
	}
	if got := cur.Exceeds(Counters{}, Counters{}); len(got) != 0 {
		t.Errorf("Expected zero delta never to exceed, got %v", got)
	}
}
