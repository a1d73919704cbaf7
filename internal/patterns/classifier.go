package patterns

import "strat-scanner/internal/marketdata"

// CandleType is the Strat classification of a bar against its predecessor
type CandleType string

const (
	Inside  CandleType = "1"
	TwoUp   CandleType = "2U"
	TwoDown CandleType = "2D"
	Outside CandleType = "3"
)

// Classify compares current against previous. Rules are ordered; an exact
// range match is INSIDE because rule 1 is checked before rule 2.
func Classify(current, previous marketdata.Candle) CandleType {
	if current.High <= previous.High && current.Low >= previous.Low {
		return Inside
	}

	if current.High >= previous.High && current.Low <= previous.Low {
		return Outside
	}

	tookHigh := current.High > previous.High
	tookLow := current.Low < previous.Low

	if tookHigh && !tookLow {
		return TwoUp
	}
	if tookLow && !tookHigh {
		return TwoDown
	}

	return Outside
}

// Bias is the higher-timeframe directional filter
type Bias string

const (
	BiasUp      Bias = "up"
	BiasDown    Bias = "down"
	BiasNeutral Bias = "neutral"
)

// WeeklyBias reads only the most recent weekly bar
func WeeklyBias(weekly []marketdata.Candle) Bias {
	if len(weekly) == 0 {
		return BiasNeutral
	}
	current := weekly[len(weekly)-1]
	switch {
	case current.Close > current.Open:
		return BiasUp
	case current.Close < current.Open:
		return BiasDown
	default:
		return BiasNeutral
	}
}
