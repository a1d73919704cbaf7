package notification

import (
	"context"
	"time"

	"strat-scanner/internal/events"
	"strat-scanner/internal/logging"
	"strat-scanner/internal/patterns"
	"strat-scanner/internal/scanner"
)

// Journal stores alerted signals for audit
type Journal interface {
	RecordAlert(ctx context.Context, alert patterns.AlertPayload, scanID string) error
}

// AlertDispatcher delivers alerted signals: journal, event stream, then the
// configured notifiers. It satisfies scanner.Dispatcher.
type AlertDispatcher struct {
	manager *Manager
	journal Journal // may be nil
	bus     *events.EventBus
	now     func() time.Time
}

// NewAlertDispatcher creates a dispatcher. journal and bus may be nil.
func NewAlertDispatcher(manager *Manager, journal Journal, bus *events.EventBus) *AlertDispatcher {
	if manager == nil {
		manager = NewManager()
	}
	return &AlertDispatcher{
		manager: manager,
		journal: journal,
		bus:     bus,
		now:     time.Now,
	}
}

// SetClock overrides the alert timestamp source
func (d *AlertDispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch sends one alert. Only a notifier failure is returned; journal
// failures are logged so they never block delivery.
func (d *AlertDispatcher) Dispatch(ctx context.Context, sig patterns.Signal) error {
	now := d.now()
	alert := sig.Payload(now)
	log := logging.SignalContext(logging.FromContext(ctx), sig.Symbol, string(sig.Direction), sig.PatternName)

	log.Info("Signal alert generated")
	log.Debug("Signal alert payload", "alert", alert)

	if d.journal != nil {
		if err := d.journal.RecordAlert(ctx, alert, scanner.ScanIDFromContext(ctx)); err != nil {
			log.Warn("Failed to journal alert", "error", err)
		}
	}
	d.bus.PublishSignalAlerted(alert)

	return d.manager.Send(ctx, &Notification{
		Type:      NotifySignal,
		Message:   FormatSignalMessage(sig, now),
		Symbol:    sig.Symbol,
		Direction: string(sig.Direction),
		Price:     sig.EntryLevel,
		Timestamp: now,
	})
}

var _ scanner.Dispatcher = (*AlertDispatcher)(nil)
