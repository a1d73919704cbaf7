package marketdata

import (
	"context"
	"time"

	"github.com/moznion/go-optional"

	"strat-scanner/internal/cache"
	"strat-scanner/internal/logging"
)

// Store is the shared cache used by CachedProvider. *cache.CacheService satisfies it.
type Store interface {
	IsHealthy() bool
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CacheTTLs controls how long provider responses are reused
type CacheTTLs struct {
	Candles time.Duration
	Chain   time.Duration
}

// CachedProvider wraps a Provider with Redis caching and an in-memory fallback.
// The last trade price always goes to the upstream provider.
type CachedProvider struct {
	upstream Provider
	store    Store // may be nil
	local    *TTLCache
	ttls     CacheTTLs
	logger   *logging.Logger
}

// NewCachedProvider creates a caching wrapper. store may be nil.
func NewCachedProvider(upstream Provider, store Store, ttls CacheTTLs) *CachedProvider {
	if ttls.Candles <= 0 {
		ttls.Candles = cache.DefaultCandlesTTL
	}
	if ttls.Chain <= 0 {
		ttls.Chain = cache.DefaultChainTTL
	}
	return &CachedProvider{
		upstream: upstream,
		store:    store,
		local:    NewTTLCache(),
		ttls:     ttls,
		logger:   logging.WithComponent("marketdata"),
	}
}

// DailyCandles returns cached daily candles or fetches them
func (cp *CachedProvider) DailyCandles(ctx context.Context, symbol string, daysBack int) ([]Candle, error) {
	key := cache.DailyCandlesKey(symbol, daysBack)
	var candles []Candle
	if cp.load(ctx, key, &candles) {
		return candles, nil
	}

	candles, err := cp.upstream.DailyCandles(ctx, symbol, daysBack)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		cp.save(ctx, key, candles, cp.ttls.Candles)
	}
	return candles, nil
}

// WeeklyCandles returns cached weekly candles or fetches them
func (cp *CachedProvider) WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]Candle, error) {
	key := cache.WeeklyCandlesKey(symbol, weeksBack)
	var candles []Candle
	if cp.load(ctx, key, &candles) {
		return candles, nil
	}

	candles, err := cp.upstream.WeeklyCandles(ctx, symbol, weeksBack)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		cp.save(ctx, key, candles, cp.ttls.Candles)
	}
	return candles, nil
}

// LastTradePrice is never cached
func (cp *CachedProvider) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	return cp.upstream.LastTradePrice(ctx, symbol)
}

// OptionChain returns a cached snapshot or fetches one
func (cp *CachedProvider) OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error) {
	key := cache.OptionChainKey(symbol)
	var chain []map[string]interface{}
	if cp.load(ctx, key, &chain) {
		return chain, nil
	}

	chain, err := cp.upstream.OptionChain(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(chain) > 0 {
		cp.save(ctx, key, chain, cp.ttls.Chain)
	}
	return chain, nil
}

// load fills dest from Redis when healthy, otherwise from the local cache
func (cp *CachedProvider) load(ctx context.Context, key string, dest interface{}) bool {
	if cp.redisUsable() {
		if err := cp.store.GetJSON(ctx, key, dest); err == nil {
			return true
		}
	}

	v, ok := cp.local.Get(key)
	if !ok {
		return false
	}
	switch d := dest.(type) {
	case *[]Candle:
		c, ok := v.([]Candle)
		if ok {
			*d = c
		}
		return ok
	case *[]map[string]interface{}:
		c, ok := v.([]map[string]interface{})
		if ok {
			*d = c
		}
		return ok
	}
	return false
}

func (cp *CachedProvider) save(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if cp.redisUsable() {
		err := cp.store.SetJSON(ctx, key, value, ttl)
		if err == nil {
			return
		}
		cp.logger.Debug("Redis write failed, caching locally", "key", key, "error", err)
	}
	cp.local.Set(key, value, ttl)
}

func (cp *CachedProvider) redisUsable() bool {
	return cp.store != nil && cp.store.IsHealthy()
}
