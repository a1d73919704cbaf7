package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // MARKET_TIMEZONE must resolve in minimal images

	"github.com/joho/godotenv"
)

// DefaultTickers is the watchlist scanned when SCAN_TICKERS is unset
const DefaultTickers = "SPY,QQQ,IWM,NVDA,TSLA,AAPL,MSFT,AMZN,META,AMD,AVGO"

type Config struct {
	Environment  string             `json:"environment"`
	Provider     ProviderConfig     `json:"provider"`
	Scanner      ScannerConfig      `json:"scanner"`
	Options      OptionsConfig      `json:"options"`
	Notification NotificationConfig `json:"notification"`
	Logging      LoggingConfig      `json:"logging"`
	Server       ServerConfig       `json:"server"`
	Auth         AuthConfig         `json:"auth"`
	Vault        VaultConfig        `json:"vault"`
	Redis        RedisConfig        `json:"redis"`
	Database     DatabaseConfig     `json:"database"`
}

// ProviderConfig holds market-data provider configuration
type ProviderConfig struct {
	APIKey            string  `json:"api_key"`
	BaseURL           string  `json:"base_url"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	MockMode          bool    `json:"mock_mode"`
	BreakerEnabled    bool    `json:"breaker_enabled"`
	BreakerMaxFails   int     `json:"breaker_max_fails"`
	BreakerCooldown   int     `json:"breaker_cooldown_seconds"`
	CandlesCacheTTL   int     `json:"candles_cache_ttl_seconds"`
	ChainCacheTTL     int     `json:"chain_cache_ttl_seconds"`
}

// ScannerConfig holds scan loop configuration
type ScannerConfig struct {
	Tickers           []string `json:"tickers"`
	DaysLookback      int      `json:"days_lookback"`
	WeeksLookback     int      `json:"weeks_lookback"`
	IntervalSeconds   int      `json:"interval_seconds"`
	MaxSignalsPerScan int      `json:"max_signals_per_scan"`
	CooldownDays      int      `json:"cooldown_days"`
	Shuffle           bool     `json:"shuffle"`
	ShuffleSeed       int64    `json:"shuffle_seed"` // 0 seeds from the clock
	MarketTimezone    string   `json:"market_timezone"`
}

// OptionsConfig holds contract selection thresholds
type OptionsConfig struct {
	MaxDaysToExpiration    int     `json:"max_days_to_expiration"`
	CallMinStrikeRatio     float64 `json:"call_min_strike_ratio"`
	PutMaxStrikeRatio      float64 `json:"put_max_strike_ratio"`
	MinOpenInterest        int64   `json:"min_open_interest"`
	MaxSpreadPct           float64 `json:"max_spread_pct"`
	RelaxedBandPct         float64 `json:"relaxed_band_pct"`
	RelaxedMinOpenInterest int64   `json:"relaxed_min_open_interest"`
	RelaxedMaxSpreadPct    float64 `json:"relaxed_max_spread_pct"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// DiscordConfig holds Discord webhook settings
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig protects operator endpoints
type AuthConfig struct {
	Enabled       bool          `json:"enabled"`
	JWTSecret     string        `json:"jwt_secret"`
	TokenDuration time.Duration `json:"token_duration"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path of the scanner secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for the market-data cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds the alert journal connection
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
}

// Load reads config.json when present, then applies environment overrides.
// With ENVIRONMENT=dev a local .env file is loaded first.
func Load() (*Config, error) {
	if strings.EqualFold(getEnvOrDefault("ENVIRONMENT", "prod"), "dev") {
		// a missing .env is fine
		_ = godotenv.Load()
	}

	cfg, err := loadFromFile(getEnvOrDefault("CONFIG_FILE", "config.json"))
	if err != nil {
		cfg = &Config{Scanner: ScannerConfig{Shuffle: true}}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by an absent or partial config file
func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "prod"
	}

	p := &cfg.Provider
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = 15
	}
	if p.RequestsPerSecond == 0 {
		p.RequestsPerSecond = 5
	}
	if p.Burst == 0 {
		p.Burst = 5
	}
	if p.BreakerMaxFails == 0 {
		p.BreakerEnabled = true
		p.BreakerMaxFails = 5
	}
	if p.BreakerCooldown == 0 {
		p.BreakerCooldown = 60
	}
	if p.CandlesCacheTTL == 0 {
		p.CandlesCacheTTL = 300
	}
	if p.ChainCacheTTL == 0 {
		p.ChainCacheTTL = 120
	}

	s := &cfg.Scanner
	if len(s.Tickers) == 0 {
		s.Tickers = ParseTickers(DefaultTickers)
	}
	if s.DaysLookback == 0 {
		s.DaysLookback = 60
	}
	if s.WeeksLookback == 0 {
		s.WeeksLookback = 12
	}
	if s.IntervalSeconds == 0 {
		s.IntervalSeconds = 300
	}
	if s.MaxSignalsPerScan == 0 {
		s.MaxSignalsPerScan = 50
	}
	if s.MarketTimezone == "" {
		s.MarketTimezone = "America/New_York"
	}

	o := &cfg.Options
	if o.MaxDaysToExpiration == 0 {
		o.MaxDaysToExpiration = 21
	}
	if o.CallMinStrikeRatio == 0 {
		o.CallMinStrikeRatio = 0.97
	}
	if o.PutMaxStrikeRatio == 0 {
		o.PutMaxStrikeRatio = 1.03
	}
	if o.MinOpenInterest == 0 {
		o.MinOpenInterest = 50
	}
	if o.MaxSpreadPct == 0 {
		o.MaxSpreadPct = 0.25
	}
	if o.RelaxedBandPct == 0 {
		o.RelaxedBandPct = 0.05
	}
	if o.RelaxedMinOpenInterest == 0 {
		o.RelaxedMinOpenInterest = 10
	}
	if o.RelaxedMaxSpreadPct == 0 {
		o.RelaxedMaxSpreadPct = 0.35
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.AllowedOrigins == "" {
		cfg.Server.AllowedOrigins = "*"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.Vault.Address == "" {
		cfg.Vault.Address = "http://localhost:8200"
	}
	if cfg.Vault.MountPath == "" {
		cfg.Vault.MountPath = "secret"
	}
	if cfg.Vault.SecretPath == "" {
		cfg.Vault.SecretPath = "strat-scanner"
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "strat_scanner"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	cfg.Environment = getEnvOrDefault("ENVIRONMENT", cfg.Environment)

	// Provider config
	p := &cfg.Provider
	p.APIKey = strings.TrimSpace(getEnvOrDefault("MASSIVE_API_KEY", p.APIKey))
	p.BaseURL = getEnvOrDefault("MASSIVE_BASE_URL", p.BaseURL)
	p.TimeoutSeconds = getEnvIntOrDefault("MASSIVE_TIMEOUT_SECONDS", p.TimeoutSeconds)
	p.RequestsPerSecond = getEnvFloatOrDefault("MASSIVE_REQUESTS_PER_SECOND", p.RequestsPerSecond)
	p.Burst = getEnvIntOrDefault("MASSIVE_BURST", p.Burst)
	p.MockMode = getEnvBoolOrDefault("MOCK_MODE", p.MockMode)
	p.BreakerEnabled = getEnvBoolOrDefault("PROVIDER_BREAKER_ENABLED", p.BreakerEnabled)
	p.BreakerMaxFails = getEnvIntOrDefault("PROVIDER_BREAKER_MAX_FAILS", p.BreakerMaxFails)
	p.BreakerCooldown = getEnvIntOrDefault("PROVIDER_BREAKER_COOLDOWN_SECONDS", p.BreakerCooldown)
	p.CandlesCacheTTL = getEnvIntOrDefault("CANDLES_CACHE_TTL_SECONDS", p.CandlesCacheTTL)
	p.ChainCacheTTL = getEnvIntOrDefault("CHAIN_CACHE_TTL_SECONDS", p.ChainCacheTTL)

	// Scanner config
	s := &cfg.Scanner
	if raw := os.Getenv("SCAN_TICKERS"); raw != "" {
		s.Tickers = ParseTickers(raw)
	}
	s.DaysLookback = getEnvIntOrDefault("TIMEFRAME_DAYS_LOOKBACK", s.DaysLookback)
	s.WeeksLookback = getEnvIntOrDefault("WEEKS_LOOKBACK", s.WeeksLookback)
	s.IntervalSeconds = getEnvIntOrDefault("SCAN_INTERVAL_SECONDS", s.IntervalSeconds)
	s.MaxSignalsPerScan = getEnvIntOrDefault("MAX_SIGNALS_PER_SCAN", s.MaxSignalsPerScan)
	s.CooldownDays = getEnvIntOrDefault("COOLDOWN_DAYS", s.CooldownDays)
	s.Shuffle = getEnvBoolOrDefault("SCAN_SHUFFLE", s.Shuffle)
	s.ShuffleSeed = int64(getEnvIntOrDefault("SCAN_SHUFFLE_SEED", int(s.ShuffleSeed)))
	s.MarketTimezone = getEnvOrDefault("MARKET_TIMEZONE", s.MarketTimezone)

	// Option selection thresholds
	o := &cfg.Options
	o.MaxDaysToExpiration = getEnvIntOrDefault("OPTION_MAX_DTE", o.MaxDaysToExpiration)
	o.MinOpenInterest = int64(getEnvIntOrDefault("OPTION_MIN_OPEN_INTEREST", int(o.MinOpenInterest)))
	o.MaxSpreadPct = getEnvFloatOrDefault("OPTION_MAX_SPREAD_PCT", o.MaxSpreadPct)
	o.RelaxedMinOpenInterest = int64(getEnvIntOrDefault("OPTION_RELAXED_MIN_OPEN_INTEREST", int(o.RelaxedMinOpenInterest)))
	o.RelaxedMaxSpreadPct = getEnvFloatOrDefault("OPTION_RELAXED_MAX_SPREAD_PCT", o.RelaxedMaxSpreadPct)

	// Notification config. A token and chat id are enough to enable Telegram.
	tg := &cfg.Notification.Telegram
	tg.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", tg.BotToken)
	tg.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", tg.ChatID)
	tg.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", tg.Enabled || (tg.BotToken != "" && tg.ChatID != ""))
	dc := &cfg.Notification.Discord
	dc.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", dc.WebhookURL)
	dc.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", dc.Enabled || dc.WebhookURL != "")

	// Logging config. DEBUG_MODE forces debug level with caller info.
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)
	if getEnvBoolOrDefault("DEBUG_MODE", false) {
		cfg.Logging.Level = "DEBUG"
		cfg.Logging.IncludeFile = true
	}

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	// Auth config
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenDuration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", cfg.Auth.TokenDuration)

	// Vault config
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)
	cfg.Vault.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.Vault.TLSEnabled)
	cfg.Vault.CACert = getEnvOrDefault("VAULT_CACERT", cfg.Vault.CACert)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.Redis.PoolSize)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)
}

// Validate rejects values the scanner cannot run with
func (c *Config) Validate() error {
	if len(c.Scanner.Tickers) == 0 {
		return fmt.Errorf("no tickers configured")
	}
	if c.Scanner.DaysLookback < 4 {
		return fmt.Errorf("TIMEFRAME_DAYS_LOOKBACK must be at least 4, got %d", c.Scanner.DaysLookback)
	}
	if c.Scanner.IntervalSeconds <= 0 {
		return fmt.Errorf("SCAN_INTERVAL_SECONDS must be positive, got %d", c.Scanner.IntervalSeconds)
	}
	if c.Scanner.MaxSignalsPerScan < 0 || c.Scanner.CooldownDays < 0 {
		return fmt.Errorf("MAX_SIGNALS_PER_SCAN and COOLDOWN_DAYS must not be negative")
	}
	if _, err := time.LoadLocation(c.Scanner.MarketTimezone); err != nil {
		return fmt.Errorf("invalid MARKET_TIMEZONE %q: %w", c.Scanner.MarketTimezone, err)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && !c.Vault.Enabled {
		return fmt.Errorf("AUTH_ENABLED requires AUTH_JWT_SECRET")
	}
	return nil
}

// IsDev reports whether ENVIRONMENT is dev
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "dev")
}

// ParseTickers splits a comma separated list, trimming and uppercasing
// each symbol and dropping blanks
func ParseTickers(raw string) []string {
	parts := strings.Split(raw, ",")
	tickers := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault accepts 1/true/yes/y as true, anything else set as false
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	cfg := &Config{Scanner: ScannerConfig{Shuffle: true}}
	applyDefaults(cfg)
	cfg.Provider.APIKey = "your_massive_api_key_here"
	cfg.Provider.MockMode = true
	cfg.Logging.JSONFormat = true

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
