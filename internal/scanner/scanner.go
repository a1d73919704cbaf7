package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"

	"strat-scanner/internal/events"
	"strat-scanner/internal/logging"
	"strat-scanner/internal/marketdata"
	"strat-scanner/internal/metrics"
	"strat-scanner/internal/options"
	"strat-scanner/internal/patterns"
)

// Scanner runs Strat scan cycles over the configured tickers and gates
// signals through the cap, per-cycle symbol, cooldown and day-dedup checks.
type Scanner struct {
	provider   marketdata.Provider
	detector   *patterns.PatternDetector
	selector   *options.Selector
	dispatcher Dispatcher
	bus        *events.EventBus
	config     ScannerConfig
	logger     *logging.Logger

	state   *ScanState
	shuffle Shuffler
	now     func() time.Time

	runMu      sync.Mutex // one cycle at a time; guards state
	mu         sync.RWMutex
	lastResult *ScanResult

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScanner creates a new scanner instance
func NewScanner(
	provider marketdata.Provider,
	selector *options.Selector,
	dispatcher Dispatcher,
	bus *events.EventBus,
	config ScannerConfig,
	logger *logging.Logger,
) *Scanner {
	if logger == nil {
		logger = logging.Default()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	sc := &Scanner{
		provider:   provider,
		detector:   patterns.NewPatternDetector(logger),
		selector:   selector,
		dispatcher: dispatcher,
		bus:        bus,
		config:     config,
		logger:     logger.WithComponent("scanner"),
		state:      NewScanState(),
		now:        time.Now,
		stopChan:   make(chan struct{}),
	}
	if config.Shuffle {
		sc.shuffle = NewRandomShuffler(time.Now().UnixNano())
	}
	return sc
}

// SetShuffler replaces the ticker shuffle. nil keeps the configured order.
func (sc *Scanner) SetShuffler(s Shuffler) {
	sc.runMu.Lock()
	defer sc.runMu.Unlock()
	sc.shuffle = s
}

// SetClock overrides the time source used for the trading date
func (sc *Scanner) SetClock(now func() time.Time) {
	sc.runMu.Lock()
	defer sc.runMu.Unlock()
	sc.now = now
}

// Start begins the background scan loop
func (sc *Scanner) Start(ctx context.Context) {
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		sc.Run(ctx)
	}()
	sc.logger.Info("Strat scanner started",
		"tickers", len(sc.config.Tickers),
		"interval", sc.config.ScanInterval,
	)
}

// Run executes a cycle immediately and then every ScanInterval until ctx is
// cancelled or Stop is called. A panicking cycle is logged and the loop continues.
func (sc *Scanner) Run(ctx context.Context) {
	interval := sc.config.ScanInterval
	if interval <= 0 {
		interval = DefaultScannerConfig().ScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sc.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			sc.runCycle(ctx)
		case <-ctx.Done():
			sc.logger.Info("Strat scanner stopped", "reason", ctx.Err())
			return
		case <-sc.stopChan:
			sc.logger.Info("Strat scanner stopped")
			return
		}
	}
}

// Stop gracefully shuts down the scan loop
func (sc *Scanner) Stop() {
	sc.stopOnce.Do(func() { close(sc.stopChan) })
	sc.wg.Wait()
}

func (sc *Scanner) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Error("Scan cycle aborted", "panic", fmt.Sprint(r))
			sc.bus.PublishError("scanner", "scan cycle aborted", fmt.Errorf("%v", r))
		}
	}()

	sc.Scan(ctx)
}

// Scan executes a single scan cycle (public method for manual triggering)
func (sc *Scanner) Scan(ctx context.Context) *ScanResult {
	sc.runMu.Lock()
	defer sc.runMu.Unlock()

	start := sc.now()
	today := start.In(sc.config.Location)
	scanID := uuid.NewString()
	log := logging.ScanContext(sc.logger, scanID)
	ctx = WithScanID(logging.NewContext(ctx, log), scanID)

	if sc.state.Rollover(today) {
		log.Info("New trading date, clearing seen signals", "trading_date", sc.state.CurrentDate())
	}
	sc.state.BeginCycle()

	tickers := make([]string, len(sc.config.Tickers))
	copy(tickers, sc.config.Tickers)
	if sc.shuffle != nil {
		sc.shuffle(tickers)
	}

	result := &ScanResult{
		ScanID:        scanID,
		TradingDate:   sc.state.CurrentDate(),
		StartTime:     start,
		TickerCount:   len(tickers),
		SignalTickers: []string{},
		Skips:         map[string]int{},
		Alerts:        []patterns.AlertPayload{},
	}

	metrics.IncScans()
	sc.bus.PublishScanStarted(scanID, len(tickers))
	log.Info("Starting Strat scan", "ticker_count", len(tickers), "trading_date", result.TradingDate)

	for _, symbol := range tickers {
		if sc.capReached(result, log) {
			break
		}
		if ctx.Err() != nil {
			log.Warn("Scan cancelled", "error", ctx.Err())
			break
		}
		sc.scanSymbol(ctx, log, symbol, today, result)
	}

	result.EndTime = sc.now()
	result.Duration = result.EndTime.Sub(start)
	metrics.ObserveScanDuration(result.Duration)

	sc.mu.Lock()
	sc.lastResult = result
	sc.mu.Unlock()

	summary := result.Summary()
	log.WithFields(summary).Info("Strat scan completed")
	sc.bus.PublishScanCompleted(scanID, summary)

	return result
}

// capReached logs the cap once per cycle
func (sc *Scanner) capReached(result *ScanResult, log *logging.Logger) bool {
	if result.SignalsAlerted < sc.config.MaxSignalsPerScan {
		return false
	}
	if !result.CapReached {
		result.CapReached = true
		metrics.IncGateSkip(metrics.GateCap)
		result.Skips[metrics.GateCap]++
		log.Warn("Max signals per scan reached", "max_signals", sc.config.MaxSignalsPerScan)
	}
	return true
}

// scanSymbol evaluates one ticker. Failures are contained here.
func (sc *Scanner) scanSymbol(ctx context.Context, log *logging.Logger, symbol string, today time.Time, result *ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Errors++
			log.Error("Error scanning ticker", "ticker", symbol, "panic", fmt.Sprint(r))
		}
	}()

	result.TickersScanned++

	daily, err := sc.provider.DailyCandles(ctx, symbol, sc.config.DaysLookback)
	if err != nil {
		sc.providerError(log, result, "daily_candles", symbol, err)
		return
	}
	if len(daily) < patterns.MinDailyCandles {
		log.Warn("Not enough daily candles", "ticker", symbol, "candles", len(daily))
		return
	}

	weekly, err := sc.provider.WeeklyCandles(ctx, symbol, sc.config.WeeksLookback)
	if err != nil {
		sc.providerError(log, result, "weekly_candles", symbol, err)
		return
	}

	price, err := sc.provider.LastTradePrice(ctx, symbol)
	if err != nil {
		sc.providerError(log, result, "last_trade", symbol, err)
		price = optional.None[float64]()
	}
	if price.IsNone() {
		log.Warn("No last trade price, using latest daily close", "ticker", symbol)
	}

	signals := sc.detector.Detect(symbol, daily, weekly, price)
	for _, sig := range signals {
		result.SignalsDetected++
		metrics.IncSignalDetected(sig.PatternName, string(sig.Direction))
	}

	for _, sig := range signals {
		if sc.capReached(result, log) {
			return
		}
		sc.gateAndDispatch(ctx, log, sig, today, result)
	}
}

func (sc *Scanner) gateAndDispatch(ctx context.Context, log *logging.Logger, sig patterns.Signal, today time.Time, result *ScanResult) {
	slog := logging.SignalContext(log, sig.Symbol, string(sig.Direction), sig.PatternName)
	date := sc.state.CurrentDate()

	if sc.state.AlertedThisCycle(sig.Symbol) {
		sc.skip(slog, result, metrics.GateSymbolCycle, "Symbol already alerted this scan")
		return
	}

	if sc.state.InCooldown(sig.Symbol, today, sc.config.CooldownDays) {
		last, _ := sc.state.LastAlertDate(sig.Symbol)
		sc.skip(slog, result, metrics.GateCooldown, "Symbol in cooldown",
			"last_alert_date", last.Format(dateLayout),
			"cooldown_days", sc.config.CooldownDays,
		)
		return
	}

	key := SignalKey(sig, date)
	if sc.state.Seen(key) {
		sc.skip(slog, result, metrics.GateDedup, "Signal already alerted today", "key", key)
		return
	}

	chain, err := sc.provider.OptionChain(ctx, sig.Symbol)
	if err != nil {
		sc.providerError(log, result, "option_chain", sig.Symbol, err)
		chain = nil
	}

	selected, outcome := sc.selector.SelectAt(sig, chain, today)
	metrics.IncOptionSelection(string(outcome))

	// A gated signal is recorded either way, so its send must not inherit
	// cancellation of the scan.
	if err := sc.dispatcher.Dispatch(context.WithoutCancel(ctx), selected); err != nil {
		slog.Error("Alert delivery failed", "error", err)
	}

	// Marked seen even after a failed send so a transient error never double-alerts
	sc.state.Record(key, sig.Symbol, today)
	result.SignalsAlerted++
	result.SignalTickers = append(result.SignalTickers, sig.Symbol)
	result.Alerts = append(result.Alerts, selected.Payload(sc.now()))
	metrics.IncSignalAlerted(sig.PatternName, string(sig.Direction))

	slog.Info("Signal alerted",
		"entry", sig.EntryLevel,
		"stop", sig.StopLevel,
		"option_result", string(outcome),
		"key", key,
	)
}

func (sc *Scanner) skip(log *logging.Logger, result *ScanResult, gate, msg string, args ...interface{}) {
	result.Skips[gate]++
	metrics.IncGateSkip(gate)
	log.Info(msg, append([]interface{}{"gate", gate}, args...)...)
}

func (sc *Scanner) providerError(log *logging.Logger, result *ScanResult, call, symbol string, err error) {
	if errors.Is(err, marketdata.ErrNotFound) {
		log.Warn("No market data for ticker", "ticker", symbol, "call", call)
		return
	}
	result.Errors++
	metrics.IncProviderErrors()
	log.Warn("Market data request failed", "ticker", symbol, "call", call, "error", err)
}

// GetLastResult returns the most recent scan result
func (sc *Scanner) GetLastResult() *ScanResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastResult
}

// Tickers returns the configured ticker list
func (sc *Scanner) Tickers() []string {
	out := make([]string, len(sc.config.Tickers))
	copy(out, sc.config.Tickers)
	return out
}
