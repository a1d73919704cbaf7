package patterns

import (
	"github.com/moznion/go-optional"

	"strat-scanner/internal/logging"
	"strat-scanner/internal/marketdata"
)

// MinDailyCandles is the shortest daily series either recognizer accepts
const MinDailyCandles = 4

// PatternDetector recognizes the daily Strat continuation setups
type PatternDetector struct {
	logger *logging.Logger
}

// NewPatternDetector creates a detector. A nil logger uses the default one.
func NewPatternDetector(logger *logging.Logger) *PatternDetector {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatternDetector{logger: logger.WithComponent("patterns")}
}

// window is the last four daily bars: ref=idx-4, c0=idx-3, c1=idx-2, c2=idx-1
type window struct {
	ref, c0, c1, c2 marketdata.Candle
}

func lastFour(daily []marketdata.Candle) (window, bool) {
	n := len(daily)
	if n < MinDailyCandles {
		return window{}, false
	}
	return window{ref: daily[n-4], c0: daily[n-3], c1: daily[n-2], c2: daily[n-1]}, true
}

// Detect runs every recognizer over the same series. Both shapes may fire together.
func (pd *PatternDetector) Detect(symbol string, daily, weekly []marketdata.Candle, price optional.Option[float64]) []Signal {
	signals := pd.Detect122(symbol, daily, weekly, price)
	signals = append(signals, pd.Detect212(symbol, daily, weekly, price)...)
	return signals
}

// Detect122 finds daily 1-2-2 continuations: a 2 bar, an inside bar, then a
// break of the inside bar in the same direction as the weekly bar.
func (pd *PatternDetector) Detect122(symbol string, daily, weekly []marketdata.Candle, price optional.Option[float64]) []Signal {
	w, ok := lastFour(daily)
	if !ok {
		pd.logger.Debug("Not enough candles for 1-2-2 detection", "symbol", symbol, "candles", len(daily))
		return nil
	}

	t0 := Classify(w.c0, w.ref)
	t1 := Classify(w.c1, w.c0)
	bias := WeeklyBias(weekly)

	var signals []Signal

	if t0 == TwoUp && t1 == Inside && bias == BiasUp && w.c2.High > w.c1.High {
		signals = append(signals, pd.build(symbol, DirectionCall, PatternDaily122Up, w.c1.High, w.c1.Low, daily, price))
	}

	if t0 == TwoDown && t1 == Inside && bias == BiasDown && w.c2.Low < w.c1.Low {
		signals = append(signals, pd.build(symbol, DirectionPut, PatternDaily122Down, w.c1.Low, w.c1.High, daily, price))
	}

	return signals
}

// Detect212 finds daily 2-1-2 continuations where the final 2 bar clears the first one
func (pd *PatternDetector) Detect212(symbol string, daily, weekly []marketdata.Candle, price optional.Option[float64]) []Signal {
	w, ok := lastFour(daily)
	if !ok {
		pd.logger.Debug("Not enough candles for 2-1-2 detection", "symbol", symbol, "candles", len(daily))
		return nil
	}

	t0 := Classify(w.c0, w.ref)
	t1 := Classify(w.c1, w.c0)
	t2 := Classify(w.c2, w.c1)
	bias := WeeklyBias(weekly)

	var signals []Signal

	if t0 == TwoUp && t1 == Inside && t2 == TwoUp && bias == BiasUp && w.c2.High > w.c0.High {
		signals = append(signals, pd.build(symbol, DirectionCall, PatternDaily212, w.c2.High, w.c1.Low, daily, price))
	}

	if t0 == TwoDown && t1 == Inside && t2 == TwoDown && bias == BiasDown && w.c2.Low < w.c0.Low {
		signals = append(signals, pd.build(symbol, DirectionPut, PatternDaily212, w.c2.Low, w.c1.High, daily, price))
	}

	return signals
}

func (pd *PatternDetector) build(
	symbol string,
	direction Direction,
	pattern string,
	entry, stop float64,
	daily []marketdata.Candle,
	price optional.Option[float64],
) Signal {
	// No usable quote means the latest daily close stands in
	underlying := price.TakeOr(0)
	if underlying <= 0 {
		underlying = daily[len(daily)-1].Close
	}

	s := Signal{
		Symbol:          symbol,
		Direction:       direction,
		PatternName:     pattern,
		Timeframe:       TimeframeDaily,
		BiasTimeframe:   TimeframeWeekly,
		EntryLevel:      entry,
		StopLevel:       stop,
		TargetLevel:     optional.None[float64](),
		UnderlyingPrice: underlying,
	}

	s.PctToEntry = PctToEntry(optional.Some(underlying), optional.Some(entry))
	s.RiskReward = RiskReward(direction, optional.Some(entry), optional.Some(stop), optional.Some(underlying))
	s.VolumeVsAvgPct = VolumeVsAvgPct(daily)

	pd.logger.Debug("Strat signal detected",
		"symbol", symbol,
		"pattern", pattern,
		"direction", string(direction),
		"entry", entry,
		"stop", stop,
	)

	return s
}
