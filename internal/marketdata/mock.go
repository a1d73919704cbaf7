package marketdata

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/moznion/go-optional"
)

// MockProvider produces deterministic synthetic market data for development.
// The same symbol on the same day always yields the same series.
type MockProvider struct {
	mu     sync.RWMutex
	prices map[string]float64
	now    func() time.Time
}

// NewMockProvider creates a mock provider with realistic base prices
func NewMockProvider() *MockProvider {
	return &MockProvider{
		prices: map[string]float64{
			"SPY":  520.00,
			"QQQ":  440.00,
			"IWM":  205.00,
			"NVDA": 900.00,
			"TSLA": 175.00,
			"AAPL": 185.00,
			"MSFT": 415.00,
			"AMZN": 180.00,
			"META": 470.00,
			"AMD":  155.00,
			"AVGO": 1300.00,
		},
		now: time.Now,
	}
}

func (mp *MockProvider) rng(symbol, salt string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(strings.ToUpper(symbol)))
	h.Write([]byte(salt))
	h.Write([]byte(mp.now().UTC().Format("2006-01-02")))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func (mp *MockProvider) basePrice(symbol string) float64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	if p, ok := mp.prices[strings.ToUpper(symbol)]; ok {
		return p
	}
	return 100.0
}

func (mp *MockProvider) series(symbol, salt string, n int, step time.Duration, volatility float64) []Candle {
	r := mp.rng(symbol, salt)
	base := mp.basePrice(symbol)
	end := mp.now().UTC().Truncate(24 * time.Hour)

	candles := make([]Candle, n)
	price := base
	for i := 0; i < n; i++ {
		open := price
		change := (r.Float64() - 0.5) * volatility * 2
		closePrice := open * (1 + change)
		high := math.Max(open, closePrice) * (1 + r.Float64()*volatility*0.5)
		low := math.Min(open, closePrice) * (1 - r.Float64()*volatility*0.5)

		candles[i] = Candle{
			Timestamp: end.Add(-time.Duration(n-1-i) * step),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(closePrice),
			Volume:    optional.Some(math.Round(1_000_000 * (0.5 + r.Float64()))),
		}
		price = closePrice
	}
	return candles
}

// DailyCandles returns roughly daysBack trading days of bars
func (mp *MockProvider) DailyCandles(ctx context.Context, symbol string, daysBack int) ([]Candle, error) {
	n := daysBack * 5 / 7
	if n < 1 {
		n = 1
	}
	return mp.series(symbol, "day", n, 24*time.Hour, 0.015), nil
}

// WeeklyCandles returns weeksBack weekly bars
func (mp *MockProvider) WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]Candle, error) {
	if weeksBack < 1 {
		weeksBack = 1
	}
	return mp.series(symbol, "week", weeksBack, 7*24*time.Hour, 0.03), nil
}

// LastTradePrice is the latest daily close
func (mp *MockProvider) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	daily, _ := mp.DailyCandles(ctx, symbol, 60)
	if len(daily) == 0 {
		return optional.None[float64](), nil
	}
	return optional.Some(daily[len(daily)-1].Close), nil
}

// OptionChain lists weekly calls and puts within 10% of the last price
// for the next four Fridays
func (mp *MockProvider) OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error) {
	priceOpt, _ := mp.LastTradePrice(ctx, symbol)
	price := priceOpt.TakeOr(mp.basePrice(symbol))
	r := mp.rng(symbol, "chain")

	step := 1.0
	if price > 500 {
		step = 5.0
	}

	today := mp.now().UTC().Truncate(24 * time.Hour)
	friday := today
	for friday.Weekday() != time.Friday {
		friday = friday.AddDate(0, 0, 1)
	}

	var chain []map[string]interface{}
	for week := 0; week < 4; week++ {
		exp := friday.AddDate(0, 0, 7*week)
		for strike := math.Floor(price*0.9/step) * step; strike <= price*1.1; strike += step {
			for _, typ := range []string{"call", "put"} {
				mid := math.Max(0.05, math.Abs(price-strike)*0.3+float64(week+1)*0.4)
				spread := mid * (0.02 + r.Float64()*0.3)
				chain = append(chain, map[string]interface{}{
					"ticker":             optionTicker(symbol, exp, typ, strike),
					"contract_type":      typ,
					"expiration_date":    exp.Format("2006-01-02"),
					"strike_price":       strike,
					"open_interest":      float64(r.Intn(2000)),
					"bid":                round2(mid - spread/2),
					"ask":                round2(mid + spread/2),
					"implied_volatility": round2(0.15 + r.Float64()*0.25),
				})
			}
		}
	}
	return chain, nil
}

func optionTicker(symbol string, exp time.Time, typ string, strike float64) string {
	cp := "C"
	if typ == "put" {
		cp = "P"
	}
	return "O:" + strings.ToUpper(symbol) + exp.Format("060102") + cp + padStrike(strike)
}

func padStrike(strike float64) string {
	s := []byte("00000000")
	v := int64(math.Round(strike * 1000))
	for i := len(s) - 1; i >= 0 && v > 0; i-- {
		s[i] = byte('0' + v%10)
		v /= 10
	}
	return string(s)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
