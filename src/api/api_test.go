package api

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"usage-cache/src/cache"
)

// memoryRanker is an in-memory stand-in for *cache.Cache.
type memoryRanker struct {
	mu       sync.Mutex
	counts   map[cache.Kind]map[string]int
	fail     error
	cleanups int
	blockCh  chan struct{}
}

func newMemoryRanker() *memoryRanker {
	return &memoryRanker{counts: make(map[cache.Kind]map[string]int)}
}

func (m *memoryRanker) TrackUsage(_ context.Context, itemID string, kind cache.Kind) error {
	if m.blockCh != nil {
		<-m.blockCh
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.counts[kind] == nil {
		m.counts[kind] = make(map[string]int)
	}
	m.counts[kind][itemID]++
	return nil
}

func (m *memoryRanker) MostFrequent(_ context.Context, kind cache.Kind, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	ids := make([]string, 0, len(m.counts[kind]))
	for id := range m.counts[kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := m.counts[kind][ids[i]], m.counts[kind][ids[j]]
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memoryRanker) Recent(ctx context.Context, kind cache.Kind, limit int) ([]string, error) {
	return m.MostFrequent(ctx, kind, limit)
}

func (m *memoryRanker) Cleanup(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return 0, m.fail
}

func (m *memoryRanker) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.counts = make(map[cache.Kind]map[string]int)
	return nil
}

type category struct {
	Name string
}

func (c category) ID() string { return c.Name }

func TestTrackIsAppliedInBackground(t *testing.T) {
	ranker := newMemoryRanker()
	client := NewClient(ranker, nil, 0)

	for i := 0; i < 3; i++ {
		if !client.Track("food", cache.KindCategory) {
			t.Fatal("Expected Track to queue the event")
		}
	}
	client.Track("rent", cache.KindCategory)
	client.Close()

	if got := ranker.counts[cache.KindCategory]["food"]; got != 3 {
		t.Errorf("Expected 3 food events, got %d", got)
	}
	if client.Track("late", cache.KindTag) {
		t.Error("Expected Track after Close to be dropped")
	}
}

func TestTrackDropsWhenQueueIsFull(t *testing.T) {
	ranker := newMemoryRanker()
	ranker.blockCh = make(chan struct{})
	client := NewClient(ranker, nil, 1)

	// The worker takes the first event and blocks; the second fills the queue.
	client.Track("a", cache.KindTag)
	deadline := time.Now().Add(time.Second)
	for len(client.tasks) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !client.Track("b", cache.KindTag) {
		t.Fatal("Expected second event to be queued")
	}
	if client.Track("c", cache.KindTag) {
		t.Error("Expected third event to be dropped")
	}

	close(ranker.blockCh)
	client.Close()
	if _, ok := ranker.counts[cache.KindTag]["c"]; ok {
		t.Error("Dropped event was recorded")
	}
}

func TestTrackFailureNeverReachesCaller(t *testing.T) {
	ranker := newMemoryRanker()
	ranker.fail = errors.New("quota exceeded")
	client := NewClient(ranker, nil, 0)

	if !client.Track("food", cache.KindCategory) {
		t.Error("Expected Track to accept the event even though the write will fail")
	}
	client.Close()
}

func TestQueriesFallBackOnError(t *testing.T) {
	ranker := newMemoryRanker()
	client := NewClient(ranker, nil, 0)
	defer client.Close()

	ranker.fail = errors.New("transaction aborted")
	ctx := context.Background()

	if ids := client.MostFrequent(ctx, cache.KindCategory, 5); ids != nil {
		t.Errorf("Expected nil ranking on error, got %v", ids)
	}
	if ids := client.Recent(ctx, cache.KindCategory, 5); ids != nil {
		t.Errorf("Expected nil recent list on error, got %v", ids)
	}

	input := []category{{"b"}, {"a"}, {"c"}}
	got := Order(ctx, client, input, cache.KindCategory)
	if !slices.Equal(got, input) {
		t.Errorf("Expected unranked fallback %v, got %v", input, got)
	}
	if err := client.Reset(ctx); err == nil {
		t.Error("Expected Reset to report the failure")
	}
}

func TestOrderAgainstCache(t *testing.T) {
	store := cache.New(cache.CacheConfig{Path: filepath.Join(t.TempDir(), "usage.db")})
	defer store.Close()

	client := NewClient(store, nil, 0)
	for i := 0; i < 3; i++ {
		client.Track("groceries", cache.KindCategory)
	}
	client.Track("salary", cache.KindCategory)
	client.Close()

	ctx := context.Background()
	input := []category{{"utilities"}, {"salary"}, {"groceries"}, {"travel"}}
	got := Order(ctx, client, input, cache.KindCategory)
	want := []category{{"groceries"}, {"salary"}, {"utilities"}, {"travel"}}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	names := OrderFunc(ctx, client, []string{"travel", "salary"}, cache.KindCategory, func(s string) string { return s })
	if !slices.Equal(names, []string{"salary", "travel"}) {
		t.Errorf("Expected [salary travel], got %v", names)
	}

	if err := client.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if ids := client.MostFrequent(ctx, cache.KindCategory, 5); len(ids) != 0 {
		t.Errorf("Expected empty ranking after reset, got %v", ids)
	}
}

func TestMaintenanceRunsCleanup(t *testing.T) {
	ranker := newMemoryRanker()
	client := NewClient(ranker, nil, 0)
	client.StartMaintenance(5 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ranker.mu.Lock()
		n := ranker.cleanups
		ranker.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.Close()

	ranker.mu.Lock()
	defer ranker.mu.Unlock()
	if ranker.cleanups == 0 {
		t.Error("Expected maintenance to run Cleanup at least once")
	}
}
