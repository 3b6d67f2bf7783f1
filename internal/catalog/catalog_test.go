package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/canteen-station/internal/model"
)

func menu() []model.CatalogEntry {
	return []model.CatalogEntry{
		{ID: "1", Name: "Veg Burger", UnitPrice: decimal.NewFromInt(50), AvailableQuantity: 5, Category: "Meals"},
		{ID: "2", Name: "Masala Chai", UnitPrice: decimal.NewFromInt(10), AvailableQuantity: 0, Category: "Drinks"},
		{ID: "3", Name: "Chicken Burger", UnitPrice: decimal.NewFromInt(80), AvailableQuantity: 2, Category: "Meals"},
		{ID: "4", Name: "Samosa", UnitPrice: decimal.NewFromInt(15), AvailableQuantity: 9, Category: "Snacks"},
	}
}

func ids(entries []model.CatalogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestSnapshot_Categories(t *testing.T) {
	s := NewSnapshot(menu(), time.Now())
	assert.Equal(t, []string{"All", "Meals", "Drinks", "Snacks"}, s.Categories())

	var empty *Snapshot
	assert.Equal(t, []string{"All"}, empty.Categories())
}

func TestSnapshot_Filter(t *testing.T) {
	s := NewSnapshot(menu(), time.Now())

	tests := []struct {
		name     string
		category string
		query    string
		want     []string
	}{
		{name: "everything", category: "All", want: []string{"1", "2", "3", "4"}},
		{name: "empty category", category: "", want: []string{"1", "2", "3", "4"}},
		{name: "by category", category: "Meals", want: []string{"1", "3"}},
		{name: "by query case insensitive", category: "All", query: "BURGER", want: []string{"1", "3"}},
		{name: "category and query", category: "Meals", query: "chicken", want: []string{"3"}},
		{name: "nothing found", category: "Drinks", query: "burger", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(s.Filter(tt.category, tt.query)))
		})
	}
}

func TestSnapshot_IsolatedFromSource(t *testing.T) {
	src := menu()
	s := NewSnapshot(src, time.Now())
	src[0].AvailableQuantity = 0

	e, ok := s.Lookup("1")
	require.True(t, ok)
	assert.Equal(t, 5, e.AvailableQuantity)

	_, ok = s.Lookup("missing")
	assert.False(t, ok)
}

type stubFetcher struct {
	calls   atomic.Int32
	entries []model.CatalogEntry
	err     error
	gate    chan struct{}
}

func (f *stubFetcher) FetchMenu(ctx context.Context) ([]model.CatalogEntry, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.entries, f.err
}

func TestStore_RefreshAndKeepOnError(t *testing.T) {
	f := &stubFetcher{entries: menu()}
	s := NewStore(f)

	assert.Nil(t, s.Current())

	snap, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Entries(), 4)
	assert.Same(t, snap, s.Current())

	f.err = errors.New("boom")
	_, err = s.Refresh(context.Background())
	require.Error(t, err)
	assert.Same(t, snap, s.Current())
}

func TestStore_EnsureFetchesOnce(t *testing.T) {
	f := &stubFetcher{entries: menu()}
	s := NewStore(f)

	_, err := s.Ensure(context.Background())
	require.NoError(t, err)
	_, err = s.Ensure(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.calls.Load())
}

func TestStore_ConcurrentRefreshSharesRequest(t *testing.T) {
	f := &stubFetcher{entries: menu(), gate: make(chan struct{})}
	s := NewStore(f)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Refresh(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.LessOrEqual(t, f.calls.Load(), int32(5))
	assert.NotNil(t, s.Current())
}

func TestStore_CancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	f := &stubFetcher{entries: menu(), gate: make(chan struct{})}
	s := NewStore(f)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		snap *Snapshot
		err  error
	}
	second := make(chan result, 1)
	go func() {
		snap, err := s.Refresh(context.Background())
		second <- result{snap, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(f.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.snap.Entries(), 4)
	assert.Same(t, res.snap, s.Current())
}

func TestStore_RefreshIsBoundedByTimeout(t *testing.T) {
	f := &stubFetcher{entries: menu(), gate: make(chan struct{})}
	defer close(f.gate)
	s := NewStore(f)
	s.fetchTimeout = 20 * time.Millisecond

	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, s.Current())
}
