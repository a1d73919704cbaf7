package options

import (
	"errors"
	"math"
	"sort"
	"time"

	"strat-scanner/internal/logging"
	"strat-scanner/internal/patterns"
)

// Result says which pass produced the mapped contract
type Result string

const (
	ResultPrimary Result = "primary"
	ResultRelaxed Result = "relaxed"
	ResultNone    Result = "none"
)

// Thresholds are the liquidity and moneyness filters
type Thresholds struct {
	MaxDaysToExpiration int     `json:"max_days_to_expiration"`
	CallMinStrikeRatio  float64 `json:"call_min_strike_ratio"` // call strike >= ratio * underlying
	PutMaxStrikeRatio   float64 `json:"put_max_strike_ratio"`  // put strike <= ratio * underlying
	MinOpenInterest     int64   `json:"min_open_interest"`
	MaxSpreadPct        float64 `json:"max_spread_pct"`

	RelaxedBandPct         float64 `json:"relaxed_band_pct"` // |strike - underlying| <= pct * underlying
	RelaxedMinOpenInterest int64   `json:"relaxed_min_open_interest"`
	RelaxedMaxSpreadPct    float64 `json:"relaxed_max_spread_pct"`
}

// DefaultThresholds returns the production filter values
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDaysToExpiration:    21,
		CallMinStrikeRatio:     0.97,
		PutMaxStrikeRatio:      1.03,
		MinOpenInterest:        50,
		MaxSpreadPct:           0.25,
		RelaxedBandPct:         0.05,
		RelaxedMinOpenInterest: 10,
		RelaxedMaxSpreadPct:    0.35,
	}
}

// Selector maps a signal to the best short-dated contract in a chain
type Selector struct {
	thresholds Thresholds
	location   *time.Location
	now        func() time.Time
	logger     *logging.Logger
}

// NewSelector creates a selector. "Today" for the expiration window is taken in loc.
func NewSelector(thresholds Thresholds, loc *time.Location, logger *logging.Logger) *Selector {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Selector{
		thresholds: thresholds,
		location:   loc,
		now:        time.Now,
		logger:     logger.WithComponent("options"),
	}
}

// SetClock overrides the time source
func (s *Selector) SetClock(now func() time.Time) {
	s.now = now
}

type candidate struct {
	contract Contract
	dte      int
}

// Select returns a copy of signal with the chosen contract attached. When
// neither pass finds a contract the signal comes back unchanged with ResultNone.
// Neither the signal nor the chain is modified.
func (s *Selector) Select(signal patterns.Signal, chain []map[string]interface{}) (patterns.Signal, Result) {
	return s.SelectAt(signal, chain, s.now())
}

// SelectAt is Select with the expiration window anchored on the civil date of
// today in the selector's location. The scanner passes its cycle time so both
// agree on the trading date.
func (s *Selector) SelectAt(signal patterns.Signal, chain []map[string]interface{}, today time.Time) (patterns.Signal, Result) {
	if len(chain) == 0 {
		s.logger.Warn("No options chain data available", "symbol", signal.Symbol)
		return signal, ResultNone
	}

	desired := signal.Direction.OptionType()
	pool := s.expirationPool(signal, chain, desired, civilDate(today.In(s.location)))

	primary := s.filter(pool, func(c Contract) bool { return s.passesPrimary(c, signal.UnderlyingPrice) })
	if len(primary) > 0 {
		return s.attach(signal, s.best(primary, signal.EntryLevel), false), ResultPrimary
	}

	relaxed := s.filter(pool, func(c Contract) bool { return s.passesRelaxed(c, signal.UnderlyingPrice) })
	if len(relaxed) > 0 {
		s.logger.Info("Using relaxed option filters", "symbol", signal.Symbol, "candidates", len(relaxed))
		return s.attach(signal, s.best(relaxed, signal.EntryLevel), true), ResultRelaxed
	}

	s.logger.Warn("No option contracts passed filters",
		"symbol", signal.Symbol,
		"chain_size", len(chain),
		"expiration_pool", len(pool),
	)
	return signal, ResultNone
}

// expirationPool parses the chain and keeps type-matched contracts inside the window
func (s *Selector) expirationPool(signal patterns.Signal, chain []map[string]interface{}, desired string, today time.Time) []candidate {
	pool := make([]candidate, 0, len(chain))
	malformed := 0

	for _, raw := range chain {
		c, err := ParseContract(raw)
		if err != nil {
			if errors.Is(err, ErrMalformedContract) {
				malformed++
			}
			continue
		}
		if c.Type != desired {
			continue
		}
		dte := int(math.Round(c.Expiration.Sub(today).Hours() / 24))
		if dte < 0 || dte > s.thresholds.MaxDaysToExpiration {
			continue
		}
		pool = append(pool, candidate{contract: c, dte: dte})
	}

	if malformed > 0 {
		s.logger.Debug("Discarded malformed contracts", "symbol", signal.Symbol, "count", malformed)
	}
	return pool
}

func (s *Selector) filter(pool []candidate, keep func(Contract) bool) []candidate {
	var out []candidate
	for _, c := range pool {
		if keep(c.contract) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Selector) passesPrimary(c Contract, underlying float64) bool {
	t := s.thresholds
	switch c.Type {
	case "call":
		if c.Strike < t.CallMinStrikeRatio*underlying {
			return false
		}
	case "put":
		if c.Strike > t.PutMaxStrikeRatio*underlying {
			return false
		}
	default:
		return false
	}
	if c.OpenInterest < t.MinOpenInterest {
		return false
	}
	spread, err := c.Spread().Take()
	return err == nil && spread <= t.MaxSpreadPct
}

func (s *Selector) passesRelaxed(c Contract, underlying float64) bool {
	t := s.thresholds
	if math.Abs(c.Strike-underlying) > t.RelaxedBandPct*underlying {
		return false
	}
	if c.OpenInterest < t.RelaxedMinOpenInterest {
		return false
	}
	spread, err := c.Spread().Take()
	return err == nil && spread <= t.RelaxedMaxSpreadPct
}

// best orders by days to expiration, then strike distance from entry
func (s *Selector) best(candidates []candidate, entry float64) Contract {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dte != candidates[j].dte {
			return candidates[i].dte < candidates[j].dte
		}
		return math.Abs(candidates[i].contract.Strike-entry) < math.Abs(candidates[j].contract.Strike-entry)
	})
	return candidates[0].contract
}

func (s *Selector) attach(signal patterns.Signal, c Contract, relaxed bool) patterns.Signal {
	signal.Option = &patterns.MappedOption{
		Ticker:            c.Ticker,
		Strike:            c.Strike,
		Expiration:        c.Expiration.Format("2006-01-02"),
		Type:              c.Type,
		Bid:               c.Bid,
		Ask:               c.Ask,
		ImpliedVolatility: c.ImpliedVolatility,
		OpenInterest:      c.OpenInterest,
		Volume:            c.Volume,
		Delta:             c.Delta,
		Relaxed:           relaxed,
	}

	s.logger.Info("Option contract selected for signal",
		"symbol", signal.Symbol,
		"direction", string(signal.Direction),
		"option_ticker", c.Ticker,
		"strike", c.Strike,
		"expiration", signal.Option.Expiration,
		"relaxed", relaxed,
	)
	return signal
}
