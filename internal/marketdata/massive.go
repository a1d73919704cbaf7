package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"golang.org/x/time/rate"

	"strat-scanner/internal/circuit"
	"strat-scanner/internal/logging"
)

const (
	DefaultMassiveBaseURL = "https://api.massive.com"
	maxSnapshotPages      = 20
)

// MassiveConfig configures the Massive REST client
type MassiveConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Breaker           *circuit.CircuitBreakerConfig
}

// MassiveClient fetches aggregates, trades and option snapshots from Massive
type MassiveClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.CircuitBreaker
	now        func() time.Time
}

// NewMassiveClient creates a client. An empty API key is an error.
func NewMassiveClient(cfg MassiveConfig) (*MassiveClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("MASSIVE_API_KEY is not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMassiveBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &MassiveClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		breaker:    circuit.NewCircuitBreaker("massive", cfg.Breaker),
		now:        time.Now,
	}, nil
}

// Breaker exposes the client's circuit breaker for status and callbacks
func (c *MassiveClient) Breaker() *circuit.CircuitBreaker {
	return c.breaker
}

type aggsResponse struct {
	Status  string                   `json:"status"`
	Results []map[string]interface{} `json:"results"`
}

// DailyCandles fetches daily aggregates for the last daysBack calendar days
func (c *MassiveClient) DailyCandles(ctx context.Context, symbol string, daysBack int) ([]Candle, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -daysBack)
	return c.aggregates(ctx, symbol, "day", start, end, daysBack+5)
}

// WeeklyCandles fetches weekly aggregates for the last weeksBack weeks
func (c *MassiveClient) WeeklyCandles(ctx context.Context, symbol string, weeksBack int) ([]Candle, error) {
	end := c.now().UTC()
	start := end.AddDate(0, 0, -7*weeksBack)
	return c.aggregates(ctx, symbol, "week", start, end, weeksBack+5)
}

func (c *MassiveClient) aggregates(ctx context.Context, symbol, timespan string, start, end time.Time, limit int) ([]Candle, error) {
	log := logging.ProviderContext("aggs", symbol)
	log.Debug("Requesting aggregates", "timespan", timespan)

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%s/%s",
		url.PathEscape(symbol), timespan, start.Format("2006-01-02"), end.Format("2006-01-02"))
	params := url.Values{}
	params.Set("adjusted", "true")
	params.Set("sort", "asc")
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, c.baseURL+path, params)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s aggregates for %s: %w", timespan, symbol, err)
	}

	var resp aggsResponse
	if err := decode(body, &resp); err != nil {
		return nil, fmt.Errorf("error parsing %s aggregates for %s: %w", timespan, symbol, err)
	}
	if len(resp.Results) == 0 {
		log.Warn("No aggregates returned", "timespan", timespan)
		return []Candle{}, nil
	}

	candles := make([]Candle, 0, len(resp.Results))
	for _, row := range resp.Results {
		candles = append(candles, candleFromAgg(row))
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

// LastTradePrice fetches the last trade. None when the provider has no trade.
func (c *MassiveClient) LastTradePrice(ctx context.Context, symbol string) (optional.Option[float64], error) {
	log := logging.ProviderContext("last_trade", symbol)
	log.Debug("Requesting last trade")

	body, err := c.get(ctx, c.baseURL+"/v2/last/trade/"+url.PathEscape(symbol), nil)
	if err != nil {
		return optional.None[float64](), fmt.Errorf("error fetching last trade for %s: %w", symbol, err)
	}

	var resp map[string]interface{}
	if err := decode(body, &resp); err != nil {
		return optional.None[float64](), fmt.Errorf("error parsing last trade for %s: %w", symbol, err)
	}

	trade := resp
	if results, ok := resp["results"].(map[string]interface{}); ok {
		trade = results
	}
	for _, key := range []string{"price", "p", "last", "last_price"} {
		if v, ok := number(trade[key]); ok {
			return optional.Some(v), nil
		}
	}

	log.Warn("No last trade returned")
	return optional.None[float64](), nil
}

type snapshotResponse struct {
	Status  string                   `json:"status"`
	Results []map[string]interface{} `json:"results"`
	Data    []map[string]interface{} `json:"data"`
	NextURL string                   `json:"next_url"`
}

// OptionChain fetches the options chain snapshot, following next_url pages
func (c *MassiveClient) OptionChain(ctx context.Context, symbol string) ([]map[string]interface{}, error) {
	log := logging.ProviderContext("options_snapshot", symbol)
	log.Debug("Requesting options chain snapshot")

	params := url.Values{}
	params.Set("limit", "250")
	endpoint := c.baseURL + "/v3/snapshot/options/" + url.PathEscape(symbol)

	var chain []map[string]interface{}
	for page := 0; endpoint != "" && page < maxSnapshotPages; page++ {
		body, err := c.get(ctx, endpoint, params)
		if err != nil {
			return nil, fmt.Errorf("error fetching options chain for %s: %w", symbol, err)
		}

		var resp snapshotResponse
		if err := decode(body, &resp); err != nil {
			return nil, fmt.Errorf("error parsing options chain for %s: %w", symbol, err)
		}
		chain = append(chain, resp.Results...)
		chain = append(chain, resp.Data...)

		// next_url already carries the cursor
		endpoint, params = resp.NextURL, nil
	}

	if len(chain) == 0 {
		log.Warn("Empty options chain snapshot")
	}
	return chain, nil
}

// get performs a rate-limited GET guarded by the circuit breaker
func (c *MassiveClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if ok, reason := c.breaker.Allow(); !ok {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, reason)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure(err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure(err)
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.breaker.RecordSuccess()
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.RecordSuccess()
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		apiErr := fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(body, 200))
		c.breaker.RecordFailure(apiErr)
		return nil, apiErr
	default:
		// client errors say nothing about upstream health
		c.breaker.RecordSuccess()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

func decode(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func candleFromAgg(row map[string]interface{}) Candle {
	c := Candle{
		Timestamp: parseTimestamp(first(row, "t", "timestamp")),
		Open:      numberOr(first(row, "o", "open")),
		High:      numberOr(first(row, "h", "high")),
		Low:       numberOr(first(row, "l", "low")),
		Close:     numberOr(first(row, "c", "close")),
	}
	if v, ok := number(first(row, "v", "volume")); ok {
		c.Volume = optional.Some(v)
	}
	return c
}

func first(row map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func numberOr(v interface{}) float64 {
	f, _ := number(v)
	return f
}

// parseTimestamp accepts epoch seconds, epoch milliseconds or RFC 3339
func parseTimestamp(v interface{}) time.Time {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	f, ok := number(v)
	if !ok {
		return time.Time{}
	}
	if f > 10_000_000_000 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
