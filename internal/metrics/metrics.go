// Package metrics exposes Prometheus series for the scanner.
//
//   - strat_scans_total                              scan cycles run
//   - strat_signals_detected_total{pattern,direction} candidate signals from the detector
//   - strat_signals_alerted_total{pattern,direction}  signals that passed every gate
//   - strat_gate_skips_total{gate}                    candidates dropped by cap, symbol, cooldown or dedup
//   - strat_provider_errors_total                     market-data failures
//   - strat_option_selection_total{result}            primary|relaxed|none
//   - strat_last_scan_duration_seconds                wall time of the last cycle
//
// Series are registered in init() and served at /metrics by the API server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	scansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strat_scans_total",
			Help: "Scan cycles run",
		},
	)

	signalsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strat_signals_detected_total",
			Help: "Candidate signals produced by pattern detection",
		},
		[]string{"pattern", "direction"},
	)

	signalsAlerted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strat_signals_alerted_total",
			Help: "Signals handed to the alert dispatcher",
		},
		[]string{"pattern", "direction"},
	)

	gateSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strat_gate_skips_total",
			Help: "Candidate signals dropped by a scan gate",
		},
		[]string{"gate"},
	)

	providerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strat_provider_errors_total",
			Help: "Market-data provider failures",
		},
	)

	optionSelections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strat_option_selection_total",
			Help: "Option selection outcomes",
		},
		[]string{"result"},
	)

	lastScanDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strat_last_scan_duration_seconds",
			Help: "Duration of the most recent scan cycle",
		},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, lastScanDuration, providerErrors)
	prometheus.MustRegister(signalsDetected, signalsAlerted)
	prometheus.MustRegister(gateSkips, optionSelections)
}

// Gate labels
const (
	GateCap         = "cap"
	GateSymbolCycle = "symbol_cycle"
	GateCooldown    = "cooldown"
	GateDedup       = "dedup"
)

func IncScans()                   { scansTotal.Inc() }
func IncProviderErrors()          { providerErrors.Inc() }
func IncGateSkip(gate string)     { gateSkips.WithLabelValues(gate).Inc() }
func IncOptionSelection(r string) { optionSelections.WithLabelValues(r).Inc() }

func IncSignalDetected(pattern, direction string) {
	signalsDetected.WithLabelValues(pattern, direction).Inc()
}

func IncSignalAlerted(pattern, direction string) {
	signalsAlerted.WithLabelValues(pattern, direction).Inc()
}

// ObserveScanDuration records the wall time of a finished cycle
func ObserveScanDuration(d time.Duration) {
	lastScanDuration.Set(d.Seconds())
}
