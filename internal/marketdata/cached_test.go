package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
)

// countingProvider records upstream calls
type countingProvider struct {
	mu     sync.Mutex
	daily  int
	price  int
	chains int
}

func (p *countingProvider) DailyCandles(ctx context.Context, symbol string, daysBack int) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.daily++
	return []Candle{{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: optional.Some(10.0)}}, nil
}

func (p *countingProvider) WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]Candle, error) {
	return []Candle{{Open: 1, High: 2, Low: 0.5, Close: 1.5}}, nil
}

func (p *countingProvider) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price++
	return optional.Some(1.5), nil
}

func (p *countingProvider) OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chains++
	return []map[string]interface{}{{"ticker": "O:X"}}, nil
}

// mockStore is an in-memory Store
type mockStore struct {
	mu      sync.Mutex
	healthy bool
	data    map[string]string
	sets    int
}

func newMockStore(healthy bool) *mockStore {
	return &mockStore{healthy: healthy, data: map[string]string{}}
}

func (m *mockStore) IsHealthy() bool { return m.healthy }

func (m *mockStore) GetJSON(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal([]byte(v), dest)
}

func (m *mockStore) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = string(b)
	m.sets++
	return nil
}

func TestCachedProviderUsesStore(t *testing.T) {
	up := &countingProvider{}
	store := newMockStore(true)
	cp := NewCachedProvider(up, store, CacheTTLs{})
	ctx := context.Background()

	first, _ := cp.DailyCandles(ctx, "SPY", 60)
	second, err := cp.DailyCandles(ctx, "SPY", 60)
	if err != nil {
		t.Fatalf("DailyCandles failed: %v", err)
	}
	if up.daily != 1 {
		t.Errorf("Expected one upstream call, got %d", up.daily)
	}
	if store.sets != 1 {
		t.Errorf("Expected one store write, got %d", store.sets)
	}
	if len(second) != 1 || second[0].Close != first[0].Close || second[0].Volume.TakeOr(0) != 10 {
		t.Errorf("Cached candles differ: %+v vs %+v", second, first)
	}

	cp.OptionChain(ctx, "SPY")
	cp.OptionChain(ctx, "SPY")
	if up.chains != 1 {
		t.Errorf("Expected chain to be cached, got %d upstream calls", up.chains)
	}
}

func TestCachedProviderFallsBackToMemory(t *testing.T) {
	up := &countingProvider{}
	store := newMockStore(false)
	cp := NewCachedProvider(up, store, CacheTTLs{Candles: time.Minute})
	ctx := context.Background()

	cp.DailyCandles(ctx, "SPY", 60)
	cp.DailyCandles(ctx, "SPY", 60)

	if up.daily != 1 {
		t.Errorf("Expected in-memory cache hit, got %d upstream calls", up.daily)
	}
	if store.sets != 0 {
		t.Error("Unhealthy store should not be written")
	}
}

func TestCachedProviderNeverCachesPrice(t *testing.T) {
	up := &countingProvider{}
	cp := NewCachedProvider(up, nil, CacheTTLs{})

	cp.LastTradePrice(context.Background(), "SPY")
	cp.LastTradePrice(context.Background(), "SPY")

	if up.price != 2 {
		t.Errorf("Expected every price request upstream, got %d", up.price)
	}
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)
	tc := NewTTLCache()
	tc.now = func() time.Time { return now }

	tc.Set("a", 1, time.Minute)
	if v, ok := tc.Get("a"); !ok || v.(int) != 1 {
		t.Fatal("Expected fresh entry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := tc.Get("a"); ok {
		t.Error("Expected entry to expire")
	}
	if removed := tc.CleanupExpired(); removed != 1 || tc.Len() != 0 {
		t.Errorf("Expected cleanup to drop 1 entry, got %d (len %d)", removed, tc.Len())
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	a := NewMockProvider()
	b := NewMockProvider()
	fixed := func() time.Time { return time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC) }
	a.now, b.now = fixed, fixed
	ctx := context.Background()

	da, _ := a.DailyCandles(ctx, "SPY", 60)
	db, _ := b.DailyCandles(ctx, "SPY", 60)
	if len(da) == 0 || len(da) != len(db) {
		t.Fatalf("Unexpected lengths %d and %d", len(da), len(db))
	}
	for i := range da {
		if da[i].Close != db[i].Close {
			t.Fatalf("Series differ at %d", i)
		}
		if i > 0 && !da[i-1].Timestamp.Before(da[i].Timestamp) {
			t.Fatalf("Series not ascending at %d", i)
		}
		if da[i].High < da[i].Low {
			t.Fatalf("High below low at %d", i)
		}
	}

	chain, _ := a.OptionChain(ctx, "SPY")
	if len(chain) == 0 {
		t.Error("Expected a synthetic chain")
	}
}
