package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"strat-scanner/internal/logging"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal NotificationType = "signal"
	NotifyError  NotificationType = "error"
	NotifyInfo   NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Direction string
	Price     float64
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewManager creates a new notification manager
func NewManager() *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logging.WithComponent("notification"),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Enabled reports whether at least one provider can send
func (m *Manager) Enabled() bool {
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			return true
		}
	}
	return false
}

// Send sends a notification to all enabled providers and returns the last error.
// With no provider configured the message is skipped without error.
func (m *Manager) Send(ctx context.Context, notification *Notification) error {
	if !m.Enabled() {
		m.logger.Info("No notifier configured; skipping message send", "type", string(notification.Type))
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, notification); err != nil {
			logging.NotificationContext(n.Name(), notification.Symbol).Warn("Notification send failed", "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// SendError sends an operational error notification
func (m *Manager) SendError(ctx context.Context, title, message string) error {
	return m.Send(ctx, &Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiURL   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIURL   string // defaults to api.telegram.org
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	apiURL := config.APIURL
	if apiURL == "" {
		apiURL = defaultTelegramAPI
	}
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		apiURL:   strings.TrimRight(apiURL, "/"),
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := notification.Message
	if notification.Title != "" {
		message = fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)
	resp, err := postJSON(ctx, t.client, url, payload)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00 // Green
	if notification.Type == NotifyError || notification.Direction == "PUT" {
		color = 0xFF0000 // Red
	}

	title := notification.Title
	if title == "" && notification.Symbol != "" {
		title = "Strat signal: " + notification.Symbol
	}

	embed := map[string]interface{}{
		"title":       title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
		}
		if notification.Direction != "" {
			fields = append(fields, map[string]interface{}{
				"name": "Direction", "value": notification.Direction, "inline": true,
			})
		}
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Entry", "value": fmt.Sprintf("%.2f", notification.Price), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	resp, err := postJSON(ctx, d.client, d.webhookURL, payload)
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
