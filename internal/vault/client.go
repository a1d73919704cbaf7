package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"strat-scanner/config"
)

// Secrets are the credentials the scanner can read from Vault
type Secrets struct {
	MassiveAPIKey    string `json:"massive_api_key"`
	TelegramBotToken string `json:"telegram_bot_token"`
	DiscordWebhook   string `json:"discord_webhook"`
	JWTSecret        string `json:"jwt_secret"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  *Secrets
}

// NewClient creates a new Vault client. A disabled config yields a client
// backed only by its local cache.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		cfg.SecretPath = "strat-scanner"
	}
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// GetSecrets reads the scanner secrets, serving from cache after the first read
func (c *Client) GetSecrets(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cache != nil {
		cached := *c.cache
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("secrets not found and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.dataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secrets not found at %s", c.dataPath())
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	secrets := &Secrets{
		MassiveAPIKey:    getString(data, "massive_api_key"),
		TelegramBotToken: getString(data, "telegram_bot_token"),
		DiscordWebhook:   getString(data, "discord_webhook"),
		JWTSecret:        getString(data, "jwt_secret"),
	}

	c.mu.Lock()
	c.cache = secrets
	c.mu.Unlock()

	out := *secrets
	return &out, nil
}

// StoreSecrets writes the scanner secrets. With Vault disabled they are only cached.
func (c *Client) StoreSecrets(ctx context.Context, secrets Secrets) error {
	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"massive_api_key":    secrets.MassiveAPIKey,
				"telegram_bot_token": secrets.TelegramBotToken,
				"discord_webhook":    secrets.DiscordWebhook,
				"jwt_secret":         secrets.JWTSecret,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.dataPath(), secretData); err != nil {
			return fmt.Errorf("failed to store secrets in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache = &secrets
	c.mu.Unlock()
	return nil
}

// Apply overlays non-empty secrets onto cfg
func (s *Secrets) Apply(cfg *config.Config) {
	if s.MassiveAPIKey != "" {
		cfg.Provider.APIKey = s.MassiveAPIKey
	}
	if s.TelegramBotToken != "" {
		cfg.Notification.Telegram.BotToken = s.TelegramBotToken
	}
	if s.DiscordWebhook != "" {
		cfg.Notification.Discord.WebhookURL = s.DiscordWebhook
	}
	if s.JWTSecret != "" {
		cfg.Auth.JWTSecret = s.JWTSecret
	}
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

func (c *Client) dataPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
