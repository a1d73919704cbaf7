package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/moznion/go-optional"
)

var (
	// ErrNotFound is returned when the provider has no data for a ticker
	ErrNotFound = errors.New("marketdata: no data returned")
	// ErrCircuitOpen is returned while the provider circuit breaker is open
	ErrCircuitOpen = errors.New("marketdata: provider circuit open")
)

// Candle is one OHLCV bar. Volume is absent when the provider omits it.
type Candle struct {
	Timestamp time.Time                `json:"timestamp"`
	Open      float64                  `json:"open"`
	High      float64                  `json:"high"`
	Low       float64                  `json:"low"`
	Close     float64                  `json:"close"`
	Volume    optional.Option[float64] `json:"volume"`
}

// Provider is the market-data collaborator consumed by the scanner.
// Candles are returned in ascending timestamp order.
type Provider interface {
	DailyCandles(ctx context.Context, symbol string, daysBack int) ([]Candle, error)
	WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]Candle, error)
	LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error)
	OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error)
}
