package patterns

import (
	"time"

	"github.com/moznion/go-optional"
)

// Direction of the option idea attached to a signal
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// OptionType returns the chain contract type matching the direction
func (d Direction) OptionType() string {
	if d == DirectionPut {
		return "put"
	}
	return "call"
}

// Pattern names
const (
	PatternDaily122Up   = "Daily 1-2U continuation"
	PatternDaily122Down = "Daily 1-2D continuation"
	PatternDaily212     = "Daily 2-1-2 continuation"
)

// Timeframe labels
const (
	TimeframeDaily  = "1D"
	TimeframeWeekly = "1W"
)

// MappedOption is the contract chosen for a signal
type MappedOption struct {
	Ticker            string                   `json:"ticker"`
	Strike            float64                  `json:"strike"`
	Expiration        string                   `json:"expiration"` // YYYY-MM-DD
	Type              string                   `json:"type"`       // "call" or "put"
	Bid               float64                  `json:"bid"`
	Ask               float64                  `json:"ask"`
	ImpliedVolatility optional.Option[float64] `json:"iv"`
	OpenInterest      int64                    `json:"open_interest"`
	Volume            optional.Option[float64] `json:"volume"`
	Delta             optional.Option[float64] `json:"delta"`
	Relaxed           bool                     `json:"relaxed"` // chosen by the fallback pass
}

// Signal is a Strat setup on the underlying, with an optional mapped contract
type Signal struct {
	Symbol          string                   `json:"symbol"`
	Direction       Direction                `json:"direction"`
	PatternName     string                   `json:"pattern_name"`
	Timeframe       string                   `json:"timeframe"`
	BiasTimeframe   string                   `json:"bias_timeframe"`
	EntryLevel      float64                  `json:"entry_level"`
	StopLevel       float64                  `json:"stop_level"`
	TargetLevel     optional.Option[float64] `json:"target_level"`
	UnderlyingPrice float64                  `json:"underlying_price"`
	PctToEntry      optional.Option[float64] `json:"pct_to_entry"`
	RiskReward      optional.Option[float64] `json:"risk_reward"`
	VolumeVsAvgPct  optional.Option[float64] `json:"volume_vs_avg_pct"`
	Option          *MappedOption            `json:"option,omitempty"`
}

// HasOption reports whether a contract was mapped onto the signal
func (s *Signal) HasOption() bool {
	return s.Option != nil
}

// AlertPayload is the canonical alert record used for logs, the journal and the websocket stream
type AlertPayload struct {
	Timestamp       time.Time                `json:"timestamp"`
	Symbol          string                   `json:"symbol"`
	Direction       Direction                `json:"direction"`
	PatternName     string                   `json:"pattern_name"`
	Timeframe       string                   `json:"timeframe"`
	BiasTimeframe   string                   `json:"bias_timeframe"`
	EntryLevel      float64                  `json:"entry_level"`
	StopLevel       float64                  `json:"stop_level"`
	TargetLevel     optional.Option[float64] `json:"target_level"`
	UnderlyingPrice float64                  `json:"underlying_price"`
	PctToEntry      optional.Option[float64] `json:"pct_to_entry"`
	RiskReward      optional.Option[float64] `json:"risk_reward"`
	VolumeVsAvgPct  optional.Option[float64] `json:"volume_vs_avg_pct"`
	Option          *MappedOption            `json:"option"`
}

// Payload converts the signal to its alert record
func (s *Signal) Payload(now time.Time) AlertPayload {
	return AlertPayload{
		Timestamp:       now.UTC(),
		Symbol:          s.Symbol,
		Direction:       s.Direction,
		PatternName:     s.PatternName,
		Timeframe:       s.Timeframe,
		BiasTimeframe:   s.BiasTimeframe,
		EntryLevel:      s.EntryLevel,
		StopLevel:       s.StopLevel,
		TargetLevel:     s.TargetLevel,
		UnderlyingPrice: s.UnderlyingPrice,
		PctToEntry:      s.PctToEntry,
		RiskReward:      s.RiskReward,
		VolumeVsAvgPct:  s.VolumeVsAvgPct,
		Option:          s.Option,
	}
}
