package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"

	"strat-scanner/internal/events"
	"strat-scanner/internal/patterns"
	"strat-scanner/internal/scanner"
)

var fixedNow = time.Date(2024, 5, 6, 15, 30, 0, 0, time.UTC)

func testSignal() patterns.Signal {
	return patterns.Signal{
		Symbol:          "SPY",
		Direction:       patterns.DirectionCall,
		PatternName:     patterns.PatternDaily122Up,
		Timeframe:       patterns.TimeframeDaily,
		BiasTimeframe:   patterns.TimeframeWeekly,
		EntryLevel:      101,
		StopLevel:       95,
		TargetLevel:     optional.None[float64](),
		UnderlyingPrice: 100,
		PctToEntry:      optional.Some(1.0),
		RiskReward:      optional.None[float64](),
		VolumeVsAvgPct:  optional.Some(12.5),
	}
}

func TestFormatSignalMessageWithoutOption(t *testing.T) {
	msg := FormatSignalMessage(testSignal(), fixedNow)

	for _, want := range []string{
		"⚡ STRAT SIGNAL — SPY\n📅 2024-05-06T15:30:00Z\n",
		"🎯 Pattern: Daily 1-2U continuation\n",
		"🕒 TF: 1D (Bias: 1W)\n",
		"📈 Direction: CALL\n\n",
		"• Entry: 101.00\n",
		"• Stop: 95.00\n",
		"• Underlying: 100.00\n",
		"• To entry: 1.00%\n",
		"• Volume vs 20d avg: +12.5%\n",
		"\n📝 Option Idea\n• No suitable liquid contract found. Consider ATM weekly manually.\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message missing %q\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "Target") {
		t.Error("Absent target should not be rendered")
	}
	if strings.Contains(msg, "R:R") {
		t.Error("Absent risk/reward should not be rendered")
	}
}

func TestFormatSignalMessageWithOption(t *testing.T) {
	sig := testSignal()
	sig.TargetLevel = optional.Some(110.0)
	sig.Option = &patterns.MappedOption{
		Ticker:            "O:SPY240510C00101000",
		Strike:            101,
		Expiration:        "2024-05-10",
		Type:              "call",
		Bid:               1.2,
		Ask:               1.3,
		ImpliedVolatility: optional.Some(0.234),
	}

	msg := FormatSignalMessage(sig, fixedNow)

	for _, want := range []string{
		"• Target: 110.00\n",
		"• CALL 101.00 exp 2024-05-10\n",
		"• Bid/Ask: 1.20 / 1.30\n",
		"• IV: 23.4%\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Message missing %q\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "No suitable liquid contract") {
		t.Error("Fallback line should not appear with an option")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier(TelegramConfig{BotToken: "token", ChatID: "42", Enabled: true, APIURL: srv.URL})
	if err := tn.Send(context.Background(), &Notification{Message: "hello"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "hello" || got["parse_mode"] != "Markdown" {
		t.Errorf("Unexpected payload %v", got)
	}
}

func TestTelegramNotifierNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	tn := NewTelegramNotifier(TelegramConfig{BotToken: "token", ChatID: "42", Enabled: true, APIURL: srv.URL})
	if err := tn.Send(context.Background(), &Notification{Message: "hello"}); err == nil {
		t.Error("Expected error on non-200 response")
	}
}

func TestTelegramNotConfigured(t *testing.T) {
	tn := NewTelegramNotifier(TelegramConfig{Enabled: true})
	if tn.IsEnabled() {
		t.Error("Notifier without token should be disabled")
	}

	m := NewManager()
	m.AddNotifier(tn)
	if err := m.Send(context.Background(), &Notification{Message: "x"}); err != nil {
		t.Errorf("Unconfigured manager should skip silently, got %v", err)
	}
}

func TestDiscordNotifier(t *testing.T) {
	var got map[string][]map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dn := NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true})
	err := dn.Send(context.Background(), &Notification{
		Type: NotifySignal, Message: "body", Symbol: "QQQ", Direction: "PUT", Price: 440, Timestamp: fixedNow,
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	embed := got["embeds"][0]
	if embed["title"] != "Strat signal: QQQ" {
		t.Errorf("Unexpected title %v", embed["title"])
	}
	if embed["color"].(float64) != 0xFF0000 {
		t.Errorf("PUT alert should be red, got %v", embed["color"])
	}
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*Notification
	err  error
}

func (f *fakeNotifier) Name() string    { return "fake" }
func (f *fakeNotifier) IsEnabled() bool { return true }
func (f *fakeNotifier) Send(ctx context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

type fakeJournal struct {
	alerts  []patterns.AlertPayload
	scanIDs []string
	err     error
}

func (j *fakeJournal) RecordAlert(ctx context.Context, alert patterns.AlertPayload, scanID string) error {
	j.alerts = append(j.alerts, alert)
	j.scanIDs = append(j.scanIDs, scanID)
	return j.err
}

func TestAlertDispatcher(t *testing.T) {
	fn := &fakeNotifier{}
	m := NewManager()
	m.AddNotifier(fn)
	journal := &fakeJournal{}
	bus := events.NewEventBus()

	received := make(chan events.Event, 1)
	bus.Subscribe(events.EventSignalAlerted, func(e events.Event) { received <- e })

	d := NewAlertDispatcher(m, journal, bus)
	d.SetClock(func() time.Time { return fixedNow })

	ctx := scanner.WithScanID(context.Background(), "scan-1")
	if err := d.Dispatch(ctx, testSignal()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(fn.sent) != 1 || fn.sent[0].Type != NotifySignal || fn.sent[0].Symbol != "SPY" {
		t.Fatalf("Unexpected notifications %+v", fn.sent)
	}
	if !strings.HasPrefix(fn.sent[0].Message, "⚡ STRAT SIGNAL — SPY") {
		t.Errorf("Unexpected message %q", fn.sent[0].Message)
	}
	if len(journal.alerts) != 1 || journal.scanIDs[0] != "scan-1" {
		t.Errorf("Expected alert journaled with scan id, got %v", journal.scanIDs)
	}
	if !journal.alerts[0].Timestamp.Equal(fixedNow) {
		t.Errorf("Unexpected alert timestamp %v", journal.alerts[0].Timestamp)
	}

	select {
	case e := <-received:
		alert, ok := e.Data["alert"].(patterns.AlertPayload)
		if !ok || alert.Symbol != "SPY" {
			t.Errorf("Unexpected event data %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Error("Expected SIGNAL_ALERTED event")
	}
}

func TestAlertDispatcherErrors(t *testing.T) {
	sendErr := errors.New("telegram down")
	fn := &fakeNotifier{err: sendErr}
	m := NewManager()
	m.AddNotifier(fn)

	d := NewAlertDispatcher(m, &fakeJournal{err: errors.New("db down")}, nil)
	err := d.Dispatch(context.Background(), testSignal())
	if !errors.Is(err, sendErr) {
		t.Errorf("Expected notifier error, got %v", err)
	}
	if len(fn.sent) != 1 {
		t.Error("Journal failure should not block delivery")
	}
}
