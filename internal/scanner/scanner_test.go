package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"

	"strat-scanner/internal/logging"
	"strat-scanner/internal/marketdata"
	"strat-scanner/internal/options"
	"strat-scanner/internal/patterns"
)

func ohlc(o, h, l, c float64) marketdata.Candle {
	return marketdata.Candle{Open: o, High: h, Low: l, Close: c}
}

var weeklyUp = []marketdata.Candle{ohlc(90, 106, 89, 105)}

// only the 1-2-2 shape
func setup122() []marketdata.Candle {
	return []marketdata.Candle{
		ohlc(95, 100, 90, 96),
		ohlc(96, 105, 95, 104),
		ohlc(102, 103, 97, 99),
		ohlc(99, 104, 96, 100),
	}
}

// both continuation shapes on the same bars
func setupBoth() []marketdata.Candle {
	return []marketdata.Candle{
		ohlc(95, 100, 90, 96),
		ohlc(96, 105, 95, 104),
		ohlc(102, 103, 97, 99),
		ohlc(99, 106, 98, 105),
	}
}

type fakeProvider struct {
	mu        sync.Mutex
	daily     map[string][]marketdata.Candle
	dailyErr  map[string]error
	panics    map[string]bool
	chainErr  error
	chain     []map[string]interface{}
	calls     []string
	chainHits map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		daily:     map[string][]marketdata.Candle{},
		dailyErr:  map[string]error{},
		panics:    map[string]bool{},
		chainHits: map[string]int{},
	}
}

func (f *fakeProvider) DailyCandles(ctx context.Context, symbol string, daysBack int) ([]marketdata.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, symbol)
	if f.panics[symbol] {
		panic("provider exploded")
	}
	if err := f.dailyErr[symbol]; err != nil {
		return nil, err
	}
	return f.daily[symbol], nil
}

func (f *fakeProvider) WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]marketdata.Candle, error) {
	return weeklyUp, nil
}

func (f *fakeProvider) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	return optional.None[float64](), nil
}

func (f *fakeProvider) OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainHits[symbol]++
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return f.chain, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []patterns.Signal
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, s patterns.Signal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, s)
	return d.err
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advanceDays(n int) { c.t = c.t.AddDate(0, 0, n) }

func newTestScanner(p *fakeProvider, d Dispatcher, cfg ScannerConfig, clock *testClock) *Scanner {
	sel := options.NewSelector(options.DefaultThresholds(), time.UTC, logging.Nop())
	sel.SetClock(clock.now)
	cfg.Location = time.UTC
	cfg.Shuffle = false
	sc := NewScanner(p, sel, d, nil, cfg, logging.Nop())
	sc.SetClock(clock.now)
	return sc
}

func baseConfig(tickers ...string) ScannerConfig {
	cfg := DefaultScannerConfig()
	cfg.Tickers = tickers
	return cfg
}

func TestSameDayReplayAlertsOnce(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	first := sc.Scan(context.Background())
	clock.t = clock.t.Add(5 * time.Minute)
	second := sc.Scan(context.Background())

	if len(d.sent) != 1 {
		t.Fatalf("Expected 1 alert across replays, got %d", len(d.sent))
	}
	if first.SignalsAlerted != 1 || second.SignalsAlerted != 0 {
		t.Errorf("Unexpected alert counts %d, %d", first.SignalsAlerted, second.SignalsAlerted)
	}
	if second.Skips["dedup"] != 1 {
		t.Errorf("Expected dedup skip on replay, got %v", second.Skips)
	}
}

func TestDayRolloverClearsSeen(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	sc.Scan(context.Background())
	clock.advanceDays(1)
	res := sc.Scan(context.Background())

	if len(d.sent) != 2 {
		t.Errorf("Expected the same signal to alert again on a new day, got %d alerts", len(d.sent))
	}
	if res.TradingDate != "2024-05-07" {
		t.Errorf("Expected trading date 2024-05-07, got %s", res.TradingDate)
	}
}

func TestTradingDateUsesMarketTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	p := newFakeProvider()
	clock := &testClock{t: time.Date(2024, 5, 7, 2, 0, 0, 0, time.UTC)} // 22:00 on the 6th in New York
	sc := newTestScanner(p, &recordingDispatcher{}, baseConfig("SPY"), clock)
	sc.config.Location = ny

	if res := sc.Scan(context.Background()); res.TradingDate != "2024-05-06" {
		t.Errorf("Expected New York trading date 2024-05-06, got %s", res.TradingDate)
	}
}

func TestCooldownBlocksUntilElapsed(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	cfg := baseConfig("SPY")
	cfg.CooldownDays = 3
	sc := newTestScanner(p, d, cfg, clock)

	sc.Scan(context.Background())

	// a different qualifying pattern the next day
	p.daily["SPY"] = setupBoth()
	clock.advanceDays(1)
	if res := sc.Scan(context.Background()); res.SignalsAlerted != 0 || res.Skips["cooldown"] == 0 {
		t.Errorf("Day D+1 should be blocked by cooldown, got alerted=%d skips=%v", res.SignalsAlerted, res.Skips)
	}

	clock.advanceDays(1)
	if res := sc.Scan(context.Background()); res.SignalsAlerted != 0 {
		t.Errorf("Day D+2 should be blocked by cooldown, got %d alerts", res.SignalsAlerted)
	}

	clock.advanceDays(1)
	if res := sc.Scan(context.Background()); res.SignalsAlerted != 1 {
		t.Errorf("Day D+3 should alert, got %d alerts", res.SignalsAlerted)
	}
}

func TestCapStopsEvaluation(t *testing.T) {
	p := newFakeProvider()
	for _, s := range []string{"AAA", "BBB", "CCC"} {
		p.daily[s] = setup122()
	}
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	cfg := baseConfig("AAA", "BBB", "CCC")
	cfg.MaxSignalsPerScan = 1
	sc := newTestScanner(p, d, cfg, clock)

	res := sc.Scan(context.Background())

	if len(d.sent) != 1 || d.sent[0].Symbol != "AAA" {
		t.Fatalf("Expected a single alert for AAA, got %+v", d.sent)
	}
	if !res.CapReached {
		t.Error("Expected cap to be reported")
	}
	if p.chainHits["BBB"] != 0 || p.chainHits["CCC"] != 0 {
		t.Errorf("No chain fetch expected after the cap, got %v", p.chainHits)
	}
	if len(p.calls) != 1 {
		t.Errorf("Expected only AAA to be evaluated, got %v", p.calls)
	}
}

func TestPerCycleSymbolGate(t *testing.T) {
	p := newFakeProvider()
	p.daily["NVDA"] = setupBoth()
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("NVDA"), clock)

	res := sc.Scan(context.Background())

	if res.SignalsDetected != 2 {
		t.Errorf("Expected 2 detected signals, got %d", res.SignalsDetected)
	}
	if len(d.sent) != 1 {
		t.Errorf("Expected one alert per symbol per cycle, got %d", len(d.sent))
	}
	if res.Skips["symbol_cycle"] != 1 {
		t.Errorf("Expected one symbol gate skip, got %v", res.Skips)
	}
}

func TestProviderErrorIsolated(t *testing.T) {
	p := newFakeProvider()
	p.dailyErr["BAD"] = errors.New("timeout")
	p.panics["BOOM"] = true
	p.daily["SPY"] = setup122()
	p.daily["SHORT"] = setup122()[:2]
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("BAD", "BOOM", "SHORT", "SPY"), clock)

	res := sc.Scan(context.Background())

	if res.Errors != 2 {
		t.Errorf("Expected 2 errors, got %d", res.Errors)
	}
	if res.TickersScanned != 4 {
		t.Errorf("Expected all 4 tickers scanned, got %d", res.TickersScanned)
	}
	if len(d.sent) != 1 || d.sent[0].Symbol != "SPY" {
		t.Errorf("Expected SPY to alert despite earlier failures, got %+v", d.sent)
	}
}

func TestDeliveryFailureStillMarksSeen(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &recordingDispatcher{err: errors.New("telegram down")}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	sc.Scan(context.Background())
	sc.Scan(context.Background())

	if len(d.sent) != 1 {
		t.Errorf("Expected a single delivery attempt, got %d", len(d.sent))
	}
}

func TestChainFailureAlertsWithoutOption(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	p.chainErr = errors.New("snapshot unavailable")
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	res := sc.Scan(context.Background())

	if len(d.sent) != 1 || d.sent[0].HasOption() {
		t.Fatalf("Expected one alert without an option, got %+v", d.sent)
	}
	if res.Errors != 1 {
		t.Errorf("Expected chain failure to count as an error, got %d", res.Errors)
	}
}

func TestOptionAttachedToDispatch(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	p.chain = []map[string]interface{}{
		{
			"contract_type":   "call",
			"expiration_date": "2024-05-10",
			"strike_price":    103.0,
			"open_interest":   900.0,
			"bid":             1.0,
			"ask":             1.1,
			"ticker":          "O:SPY240510C00103000",
		},
	}
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	res := sc.Scan(context.Background())

	if len(d.sent) != 1 || d.sent[0].Option == nil || d.sent[0].Option.Ticker != "O:SPY240510C00103000" {
		t.Fatalf("Expected mapped option on the dispatched signal, got %+v", d.sent)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Option == nil {
		t.Errorf("Expected alert payload with option, got %+v", res.Alerts)
	}
}

func TestInjectedShuffleOrder(t *testing.T) {
	p := newFakeProvider()
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, &recordingDispatcher{}, baseConfig("A", "B", "C"), clock)
	sc.SetShuffler(func(t []string) {
		for i, j := 0, len(t)-1; i < j; i, j = i+1, j-1 {
			t[i], t[j] = t[j], t[i]
		}
	})

	sc.Scan(context.Background())

	want := []string{"C", "B", "A"}
	if len(p.calls) != 3 {
		t.Fatalf("Expected 3 calls, got %v", p.calls)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("Expected order %v, got %v", want, p.calls)
			break
		}
	}
	if sc.Tickers()[0] != "A" {
		t.Error("Shuffle should not reorder the configured list")
	}
}

func TestSeededShufflerIsDeterministic(t *testing.T) {
	a := []string{"SPY", "QQQ", "IWM", "NVDA", "TSLA"}
	b := append([]string(nil), a...)

	NewRandomShuffler(42)(a)
	NewRandomShuffler(42)(b)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Same seed produced different orders: %v vs %v", a, b)
		}
	}
}

func TestGetLastResult(t *testing.T) {
	p := newFakeProvider()
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, &recordingDispatcher{}, baseConfig("SPY"), clock)

	if sc.GetLastResult() != nil {
		t.Error("Expected no result before the first scan")
	}
	res := sc.Scan(context.Background())
	if sc.GetLastResult() != res {
		t.Error("Expected last result to be the latest scan")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newFakeProvider()
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	cfg := baseConfig("SPY")
	cfg.ScanInterval = time.Hour
	sc := newTestScanner(p, &recordingDispatcher{}, cfg, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sc.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sc.GetLastResult() == nil {
		select {
		case <-deadline:
			t.Fatal("First cycle did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// slowProvider stalls on the last trade and can cancel the caller mid-ticker
type slowProvider struct {
	*fakeProvider
	delay   time.Duration
	onPrice func()
}

func (p *slowProvider) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	time.Sleep(p.delay)
	if p.onPrice != nil {
		p.onPrice()
	}
	return optional.None[float64](), nil
}

type ctxDispatcher struct {
	mu   sync.Mutex
	errs []error
}

func (d *ctxDispatcher) Dispatch(ctx context.Context, s patterns.Signal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, ctx.Err())
	return ctx.Err()
}

func TestSlowCycleStillDelivers(t *testing.T) {
	fp := newFakeProvider()
	fp.daily["SPY"] = setup122()
	p := &slowProvider{fakeProvider: fp, delay: 30 * time.Millisecond}
	d := &ctxDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}

	sel := options.NewSelector(options.DefaultThresholds(), time.UTC, logging.Nop())
	sel.SetClock(clock.now)
	cfg := baseConfig("SPY")
	cfg.Shuffle = false
	sc := NewScanner(p, sel, d, nil, cfg, logging.Nop())
	sc.SetClock(clock.now)

	sc.runCycle(context.Background())

	if len(d.errs) != 1 || d.errs[0] != nil {
		t.Fatalf("Expected one delivery on a live context, got %v", d.errs)
	}
	if res := sc.GetLastResult(); res.SignalsAlerted != 1 {
		t.Errorf("Expected the signal alerted, got %+v", res)
	}
}

func TestCancelledScanStillSendsGatedSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fp := newFakeProvider()
	fp.daily["SPY"] = setup122()
	fp.daily["QQQ"] = setup122()
	p := &slowProvider{fakeProvider: fp, onPrice: cancel}
	d := &ctxDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}

	sel := options.NewSelector(options.DefaultThresholds(), time.UTC, logging.Nop())
	sel.SetClock(clock.now)
	cfg := baseConfig("SPY", "QQQ")
	cfg.Shuffle = false
	sc := NewScanner(p, sel, d, nil, cfg, logging.Nop())
	sc.SetClock(clock.now)

	res := sc.Scan(ctx)

	if len(d.errs) != 1 || d.errs[0] != nil {
		t.Fatalf("Expected the in-flight signal sent on an uncancelled context, got %v", d.errs)
	}
	if res.TickersScanned != 1 {
		t.Errorf("Expected remaining tickers skipped after cancel, got %d scanned", res.TickersScanned)
	}
}

func TestPanickingCycleDoesNotStopNext(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)
	sc.SetShuffler(func([]string) { panic("shuffle exploded") })

	sc.runCycle(context.Background())

	if len(d.sent) != 0 || sc.GetLastResult() != nil {
		t.Fatalf("Expected the first cycle abandoned, got %d sends", len(d.sent))
	}

	sc.SetShuffler(nil)
	sc.runCycle(context.Background())

	if len(d.sent) != 1 {
		t.Errorf("Expected the next cycle to alert, got %d sends", len(d.sent))
	}
}

type panicOnceDispatcher struct {
	calls int
	sent  []patterns.Signal
}

func (d *panicOnceDispatcher) Dispatch(ctx context.Context, s patterns.Signal) error {
	d.calls++
	if d.calls == 1 {
		panic("notifier exploded")
	}
	d.sent = append(d.sent, s)
	return nil
}

func TestDispatcherPanicRetriedNextCycle(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	d := &panicOnceDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}
	sc := newTestScanner(p, d, baseConfig("SPY"), clock)

	sc.runCycle(context.Background())
	if res := sc.GetLastResult(); res == nil || res.Errors != 1 || res.SignalsAlerted != 0 {
		t.Fatalf("Expected the panic counted and nothing alerted, got %+v", res)
	}

	sc.runCycle(context.Background())
	if len(d.sent) != 1 || d.sent[0].Symbol != "SPY" {
		t.Errorf("Expected SPY alerted on the next cycle, got %+v", d.sent)
	}
}

func TestOptionWindowFollowsScanClock(t *testing.T) {
	p := newFakeProvider()
	p.daily["SPY"] = setup122()
	p.chain = []map[string]interface{}{
		{
			"contract_type":   "call",
			"expiration_date": "2024-05-10",
			"strike_price":    103.0,
			"open_interest":   900.0,
			"bid":             1.0,
			"ask":             1.1,
			"ticker":          "O:SPY240510C00103000",
		},
	}
	d := &recordingDispatcher{}
	clock := &testClock{t: time.Date(2024, 5, 6, 15, 0, 0, 0, time.UTC)}

	sel := options.NewSelector(options.DefaultThresholds(), time.UTC, logging.Nop())
	// selector's own clock is a month ahead; the scan's trading date must win
	sel.SetClock(func() time.Time { return clock.now().AddDate(0, 1, 0) })
	cfg := baseConfig("SPY")
	cfg.Shuffle = false
	sc := NewScanner(p, sel, d, nil, cfg, logging.Nop())
	sc.SetClock(clock.now)

	sc.Scan(context.Background())

	if len(d.sent) != 1 || d.sent[0].Option == nil {
		t.Fatalf("Expected the option chosen against the scan date, got %+v", d.sent)
	}
}
