package options

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedContract marks a record with a non-numeric strike, open interest, bid or ask
	ErrMalformedContract = errors.New("options: malformed contract")
	// ErrIncompleteContract marks a record missing its type, expiration or strike
	ErrIncompleteContract = errors.New("options: incomplete contract")
)

// Contract is a normalized option chain record
type Contract struct {
	Ticker            string
	Type              string    // "call" or "put"
	Expiration        time.Time // date only, midnight UTC
	Strike            float64
	OpenInterest      int64
	Bid               float64
	Ask               float64
	ImpliedVolatility optional.Option[float64]
	Volume            optional.Option[float64]
	Delta             optional.Option[float64]
}

// Spread is (ask-bid)/ask. None when the ask is not positive.
func (c Contract) Spread() optional.Option[float64] {
	if c.Ask <= 0 {
		return optional.None[float64]()
	}
	return optional.Some((c.Ask - c.Bid) / c.Ask)
}

// Field aliases, checked in order
var (
	typeKeys       = []string{"contract_type", "type", "option_type"}
	expirationKeys = []string{"expiration_date", "expiration"}
	strikeKeys     = []string{"strike_price", "strike"}
	oiKeys         = []string{"open_interest", "oi"}
	bidKeys        = []string{"bid_price", "bid"}
	askKeys        = []string{"ask_price", "ask"}
	tickerKeys     = []string{"symbol", "contract_symbol", "ticker"}
)

// ParseContract normalizes one raw chain record. Records come either flat or
// in the nested snapshot form (details, last_quote, greeks, day).
// The raw map is never modified.
func ParseContract(raw map[string]interface{}) (Contract, error) {
	details := nested(raw, "details")
	quote := nested(raw, "last_quote")
	greeks := nested(raw, "greeks")
	day := nested(raw, "day")

	var c Contract

	typ, ok := lookup(typeKeys, raw, details)
	if !ok {
		return c, fmt.Errorf("%w: missing contract type", ErrIncompleteContract)
	}
	c.Type = strings.ToLower(strings.TrimSpace(fmt.Sprint(typ)))

	expRaw, ok := lookup(expirationKeys, raw, details)
	if !ok {
		return c, fmt.Errorf("%w: missing expiration", ErrIncompleteContract)
	}
	exp, err := parseExpiration(expRaw)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrIncompleteContract, err)
	}
	c.Expiration = exp

	strikeRaw, ok := lookup(strikeKeys, raw, details)
	if !ok {
		return c, fmt.Errorf("%w: missing strike", ErrIncompleteContract)
	}
	if c.Strike, err = toFloat(strikeRaw); err != nil {
		return c, fmt.Errorf("%w: strike: %v", ErrMalformedContract, err)
	}

	if v, ok := lookup(oiKeys, raw); ok {
		oi, err := toFloat(v)
		if err != nil {
			return c, fmt.Errorf("%w: open interest: %v", ErrMalformedContract, err)
		}
		c.OpenInterest = int64(oi)
	}

	if v, ok := lookup(bidKeys, raw, quote); ok {
		if c.Bid, err = toFloat(v); err != nil {
			return c, fmt.Errorf("%w: bid: %v", ErrMalformedContract, err)
		}
	}
	if v, ok := lookup(askKeys, raw, quote); ok {
		if c.Ask, err = toFloat(v); err != nil {
			return c, fmt.Errorf("%w: ask: %v", ErrMalformedContract, err)
		}
	}

	if v, ok := lookup(tickerKeys, raw, details); ok {
		c.Ticker = fmt.Sprint(v)
	}

	c.ImpliedVolatility = optionalFloat(raw, "implied_volatility")
	c.Volume = optionalFloat(raw, "volume")
	if c.Volume.IsNone() {
		c.Volume = optionalFloat(day, "volume")
	}
	c.Delta = optionalFloat(raw, "delta")
	if c.Delta.IsNone() {
		c.Delta = optionalFloat(greeks, "delta")
	}

	return c, nil
}

func nested(raw map[string]interface{}, key string) map[string]interface{} {
	if m, ok := raw[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// lookup returns the first non-empty value for any key, searching maps in order
func lookup(keys []string, maps ...map[string]interface{}) (interface{}, bool) {
	for _, m := range maps {
		if m == nil {
			continue
		}
		for _, k := range keys {
			v, ok := m[k]
			if !ok || v == nil {
				continue
			}
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func optionalFloat(m map[string]interface{}, key string) optional.Option[float64] {
	if m == nil {
		return optional.None[float64]()
	}
	v, ok := lookup([]string{key}, m)
	if !ok {
		return optional.None[float64]()
	}
	f, err := toFloat(v)
	if err != nil {
		return optional.None[float64]()
	}
	return optional.Some(f)
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

var expirationLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseExpiration keeps only the calendar date as listed
func parseExpiration(v interface{}) (time.Time, error) {
	switch e := v.(type) {
	case time.Time:
		return civilDate(e), nil
	case string:
		s := strings.TrimSpace(e)
		for _, layout := range expirationLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return civilDate(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable expiration %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported expiration type %T", v)
	}
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
