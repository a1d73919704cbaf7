package scanner

import (
	"fmt"
	"strconv"
	"time"

	"strat-scanner/internal/patterns"
)

const dateLayout = "2006-01-02"

// ScanState is the dedup and cooldown bookkeeping carried across cycles.
// It lives in memory for the process lifetime.
type ScanState struct {
	currentDate string
	seen        map[string]struct{}
	lastAlert   map[string]time.Time
	cycle       map[string]struct{}
}

// NewScanState creates empty state
func NewScanState() *ScanState {
	return &ScanState{
		seen:      make(map[string]struct{}),
		lastAlert: make(map[string]time.Time),
		cycle:     make(map[string]struct{}),
	}
}

// Rollover clears the seen set when the trading date advances. Returns true on a reset.
func (s *ScanState) Rollover(today time.Time) bool {
	date := today.Format(dateLayout)
	if date == s.currentDate {
		return false
	}
	s.currentDate = date
	s.seen = make(map[string]struct{})
	return true
}

// CurrentDate is the trading date the seen set belongs to
func (s *ScanState) CurrentDate() string {
	return s.currentDate
}

// BeginCycle resets the per-cycle symbol set
func (s *ScanState) BeginCycle() {
	s.cycle = make(map[string]struct{})
}

// AlertedThisCycle reports whether symbol already alerted in the running cycle
func (s *ScanState) AlertedThisCycle(symbol string) bool {
	_, ok := s.cycle[symbol]
	return ok
}

// InCooldown reports whether fewer than days calendar days have passed since
// the symbol's last alert. A non-positive cooldown never blocks.
func (s *ScanState) InCooldown(symbol string, today time.Time, days int) bool {
	if days <= 0 {
		return false
	}
	last, ok := s.lastAlert[symbol]
	if !ok {
		return false
	}
	return daysBetween(last, today) < days
}

// Seen reports whether key was already alerted today
func (s *ScanState) Seen(key string) bool {
	_, ok := s.seen[key]
	return ok
}

// Record marks an alert as sent
func (s *ScanState) Record(key, symbol string, today time.Time) {
	s.seen[key] = struct{}{}
	s.lastAlert[symbol] = dateOf(today)
	s.cycle[symbol] = struct{}{}
}

// LastAlertDate returns the last alert date for symbol
func (s *ScanState) LastAlertDate(symbol string) (time.Time, bool) {
	d, ok := s.lastAlert[symbol]
	return d, ok
}

// SignalKey identifies a signal within one trading day
func SignalKey(sig patterns.Signal, date string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s",
		sig.Symbol,
		sig.PatternName,
		sig.Direction,
		strconv.FormatFloat(sig.EntryLevel, 'f', -1, 64),
		date,
	)
}

// dateOf truncates t to its calendar date in its own location
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOf(to).Sub(dateOf(from)).Hours() / 24)
}
