package notification

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"strat-scanner/internal/patterns"
)

const noOptionLine = "• No suitable liquid contract found. Consider ATM weekly manually.\n"

// FormatSignalMessage renders the multi-line Telegram alert body for a signal
func FormatSignalMessage(sig patterns.Signal, now time.Time) string {
	var b strings.Builder

	b.WriteString("⚡ STRAT SIGNAL — " + sig.Symbol + "\n")
	b.WriteString("📅 " + now.UTC().Format(time.RFC3339) + "\n")

	b.WriteString("🎯 Pattern: " + sig.PatternName + "\n")
	b.WriteString("🕒 TF: " + sig.Timeframe + " (Bias: " + sig.BiasTimeframe + ")\n")
	b.WriteString("📈 Direction: " + string(sig.Direction) + "\n\n")

	b.WriteString("📊 Levels\n")
	b.WriteString("• Entry: " + fixed(sig.EntryLevel, 2) + "\n")
	b.WriteString("• Stop: " + fixed(sig.StopLevel, 2) + "\n")
	b.WriteString("• Underlying: " + fixed(sig.UnderlyingPrice, 2) + "\n")
	if target, err := sig.TargetLevel.Take(); err == nil {
		b.WriteString("• Target: " + fixed(target, 2) + "\n")
	}

	writeMetrics(&b, sig)

	b.WriteString("\n📝 Option Idea\n")
	opt := sig.Option
	if opt == nil {
		b.WriteString(noOptionLine)
		return b.String()
	}

	b.WriteString("• " + strings.ToUpper(opt.Type) + " " + fixed(opt.Strike, 2) + " exp " + opt.Expiration + "\n")
	b.WriteString("• Bid/Ask: " + fixed(opt.Bid, 2) + " / " + fixed(opt.Ask, 2) + "\n")
	if iv, err := opt.ImpliedVolatility.Take(); err == nil {
		// chain IV is a fraction
		b.WriteString("• IV: " + fixed(iv*100, 1) + "%\n")
	}
	return b.String()
}

func writeMetrics(b *strings.Builder, sig patterns.Signal) {
	lines := make([]string, 0, 3)
	if v, err := sig.PctToEntry.Take(); err == nil {
		lines = append(lines, "• To entry: "+fixed(v, 2)+"%")
	}
	if v, err := sig.RiskReward.Take(); err == nil {
		lines = append(lines, "• R:R: "+fixed(v, 2))
	}
	if v, err := sig.VolumeVsAvgPct.Take(); err == nil {
		lines = append(lines, "• Volume vs 20d avg: "+signed(v))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n📐 Metrics\n")
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func signed(v float64) string {
	s := fixed(v, 1) + "%"
	if v > 0 {
		return "+" + s
	}
	return s
}
