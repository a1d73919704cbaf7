package patterns

import (
	"math"

	"github.com/moznion/go-optional"

	"strat-scanner/internal/marketdata"
)

// VolumeWindow is the number of bars preceding the latest one used for relative volume
const VolumeWindow = 20

// PctToEntry is the distance of the current price from the entry, in percent.
// None when either input is missing or the entry is zero.
func PctToEntry(currentPrice, entry optional.Option[float64]) optional.Option[float64] {
	cur, err := currentPrice.Take()
	if err != nil {
		return optional.None[float64]()
	}
	e, err := entry.Take()
	if err != nil || e == 0 {
		return optional.None[float64]()
	}
	return optional.Some((cur - e) / e * 100)
}

// RiskReward measures reward available from the current price against the
// entry/stop risk. None whenever risk or reward is not strictly positive, and
// None once price has already traded through the stop.
func RiskReward(direction Direction, entry, stop, currentPrice optional.Option[float64]) optional.Option[float64] {
	e, errE := entry.Take()
	s, errS := stop.Take()
	cur, errC := currentPrice.Take()
	if errE != nil || errS != nil || errC != nil {
		return optional.None[float64]()
	}

	risk := math.Abs(e - s)
	if risk <= 0 {
		return optional.None[float64]()
	}

	var reward float64
	switch direction {
	case DirectionCall:
		if cur <= s {
			return optional.None[float64]()
		}
		reward = math.Max(cur, e) - s
	case DirectionPut:
		if cur >= s {
			return optional.None[float64]()
		}
		reward = e - math.Min(cur, e)
	default:
		return optional.None[float64]()
	}
	if reward <= 0 {
		return optional.None[float64]()
	}
	return optional.Some(reward / risk)
}

// VolumeVsAvgPct compares the latest bar's volume to the average of the
// VolumeWindow bars before it. Every volume involved must be present and positive.
func VolumeVsAvgPct(daily []marketdata.Candle) optional.Option[float64] {
	if len(daily) < VolumeWindow+1 {
		return optional.None[float64]()
	}

	last := len(daily) - 1
	today, err := daily[last].Volume.Take()
	if err != nil || today <= 0 {
		return optional.None[float64]()
	}

	var sum float64
	for _, c := range daily[last-VolumeWindow : last] {
		v, err := c.Volume.Take()
		if err != nil || v <= 0 {
			return optional.None[float64]()
		}
		sum += v
	}

	avg := sum / VolumeWindow
	return optional.Some((today - avg) / avg * 100)
}
