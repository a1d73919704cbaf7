package scanner

import (
	"context"
	"math/rand"
	"time"

	"strat-scanner/internal/patterns"
)

// Dispatcher hands an alerted signal to the messaging side
type Dispatcher interface {
	Dispatch(ctx context.Context, signal patterns.Signal) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, signal patterns.Signal) error

// Dispatch calls f
func (f DispatcherFunc) Dispatch(ctx context.Context, signal patterns.Signal) error {
	return f(ctx, signal)
}

type scanIDKey struct{}

// WithScanID attaches the running scan id to ctx for dispatchers
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey{}, scanID)
}

// ScanIDFromContext returns the scan id set by WithScanID, or ""
func ScanIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(scanIDKey{}).(string)
	return id
}

// Shuffler reorders the ticker list in place before a cycle
type Shuffler func(tickers []string)

// NewRandomShuffler returns a seeded Shuffler
func NewRandomShuffler(seed int64) Shuffler {
	r := rand.New(rand.NewSource(seed))
	return func(tickers []string) {
		r.Shuffle(len(tickers), func(i, j int) {
			tickers[i], tickers[j] = tickers[j], tickers[i]
		})
	}
}

// ScanResult summarizes one scan cycle
type ScanResult struct {
	ScanID          string                  `json:"scan_id"`
	TradingDate     string                  `json:"trading_date"`
	StartTime       time.Time               `json:"start_time"`
	EndTime         time.Time               `json:"end_time"`
	Duration        time.Duration           `json:"duration"`
	TickerCount     int                     `json:"ticker_count"`
	TickersScanned  int                     `json:"tickers_scanned"`
	SignalsDetected int                     `json:"signals_detected"`
	SignalsAlerted  int                     `json:"signals_alerted"`
	Errors          int                     `json:"errors"`
	CapReached      bool                    `json:"cap_reached"`
	SignalTickers   []string                `json:"signal_tickers"`
	Skips           map[string]int          `json:"skips"`
	Alerts          []patterns.AlertPayload `json:"alerts"`
}

// Summary is the key/value view logged and published at the end of a cycle
func (r *ScanResult) Summary() map[string]interface{} {
	return map[string]interface{}{
		"trading_date":     r.TradingDate,
		"ticker_count":     r.TickerCount,
		"tickers_scanned":  r.TickersScanned,
		"signals_detected": r.SignalsDetected,
		"signals_alerted":  r.SignalsAlerted,
		"signals_count":    len(r.Alerts),
		"signal_tickers":   r.SignalTickers,
		"errors":           r.Errors,
		"cap_reached":      r.CapReached,
		"duration_ms":      r.Duration.Milliseconds(),
	}
}

// ScannerConfig holds scanner configuration
type ScannerConfig struct {
	Tickers           []string
	DaysLookback      int
	WeeksLookback     int
	MaxSignalsPerScan int
	CooldownDays      int
	Shuffle           bool
	ScanInterval      time.Duration
	Location          *time.Location // market timezone that defines the trading date
}

// DefaultScannerConfig returns the production defaults
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Tickers:           []string{"SPY", "QQQ", "IWM", "NVDA", "TSLA", "AAPL", "MSFT", "AMZN", "META", "AMD", "AVGO"},
		DaysLookback:      60,
		WeeksLookback:     12,
		MaxSignalsPerScan: 50,
		CooldownDays:      0,
		Shuffle:           true,
		ScanInterval:      300 * time.Second,
		Location:          time.UTC,
	}
}
