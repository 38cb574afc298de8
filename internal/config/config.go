// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Board    BoardConfig    `mapstructure:"board"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	DB       DBConfig       `mapstructure:"db"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Trigger  TriggerConfig  `mapstructure:"trigger"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BoardConfig describes the notice board being polled.
type BoardConfig struct {
	ListURL       string `mapstructure:"list_url"`
	ViewBaseURL   string `mapstructure:"view_base_url"`
	BoardActionID string `mapstructure:"action_id"`
	RowSelector   string `mapstructure:"row_selector"`
	TitleSelector string `mapstructure:"title_selector"`
	IDPattern     string `mapstructure:"id_pattern"`
	Window        int    `mapstructure:"window"`
}

// FetchConfig configures the listing fetcher and its retry schedule.
type FetchConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	BaseDelayMs     int    `mapstructure:"base_delay_ms"`
	MaxDelayMs      int    `mapstructure:"max_delay_ms"`
	InitialJitterMs int    `mapstructure:"initial_jitter_ms"`
}

// DBConfig controls access to the relational ledger.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RequireSSL      bool          `mapstructure:"require_ssl"`
	Migrate         bool          `mapstructure:"migrate"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// NotifierConfig selects and configures the outbound chat transport.
type NotifierConfig struct {
	Transport   string         `mapstructure:"transport"`
	Recipients  []string       `mapstructure:"recipients"`
	Concurrency int            `mapstructure:"concurrency"`
	RatePerSec  float64        `mapstructure:"rate_per_sec"`
	Burst       int            `mapstructure:"burst"`
	Line        LineConfig     `mapstructure:"line"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// LineConfig holds LINE Messaging API credentials.
type LineConfig struct {
	APIBase            string `mapstructure:"api_base"`
	ChannelAccessToken string `mapstructure:"channel_access_token"`
	ChannelSecret      string `mapstructure:"channel_secret"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
}

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig toggles the inbound command webhook.
type WebhookConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TriggerConfig guards the crawl trigger endpoint and configures the trigger CLI.
type TriggerConfig struct {
	Token          string `mapstructure:"token"`
	ServiceURL     string `mapstructure:"service_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Schedule       string `mapstructure:"schedule"`
}

// AdminConfig guards the admin endpoint.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// SnapshotConfig sets where unparseable listings are archived.
type SnapshotConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTICEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyPlatformEnv(&cfg)
	cfg.Notifier.Recipients = SplitRecipients(cfg.Notifier.Recipients)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("board.list_url", "https://www.hoseo.ac.kr/Home//BBSList.mbz?action=MAPP_1708240139&pageIndex=1")
	v.SetDefault("board.view_base_url", "https://www.hoseo.ac.kr/Home//BBSView.mbz")
	v.SetDefault("board.action_id", "MAPP_1708240139")
	v.SetDefault("board.row_selector", ".ui-list tbody tr.board_new")
	v.SetDefault("board.title_selector", ".board-list-title a")
	v.SetDefault("board.id_pattern", `fn_viewData\('(\d+)'\)`)
	v.SetDefault("board.window", 10)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.timeout_seconds", 10)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.base_delay_ms", 1000)
	v.SetDefault("fetch.max_delay_ms", 30000)
	v.SetDefault("fetch.initial_jitter_ms", 1000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.require_ssl", false)
	v.SetDefault("db.migrate", true)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("notifier.transport", "line")
	v.SetDefault("notifier.recipients", []string{})
	v.SetDefault("notifier.concurrency", 1)
	v.SetDefault("notifier.rate_per_sec", 0)
	v.SetDefault("notifier.burst", 1)
	v.SetDefault("notifier.line.api_base", "https://api.line.me")
	v.SetDefault("notifier.line.timeout_seconds", 10)
	v.SetDefault("notifier.line.channel_access_token", "")
	v.SetDefault("notifier.line.channel_secret", "")
	v.SetDefault("notifier.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifier.telegram.bot_token", "")
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("trigger.service_url", "http://localhost:8080")
	v.SetDefault("trigger.timeout_seconds", 60)
	v.SetDefault("trigger.token", "")
	v.SetDefault("trigger.schedule", "")
	v.SetDefault("admin.token", "")
	v.SetDefault("snapshot.backend", "none")
	v.SetDefault("snapshot.prefix", "listings")
	v.SetDefault("snapshot.local_dir", "")
	v.SetDefault("snapshot.gcs_bucket", "")
}

// applyPlatformEnv honors the plain environment variables hosting platforms
// and the original deployment used.
func applyPlatformEnv(cfg *Config) {
	if raw := os.Getenv("PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			cfg.Server.Port = port
		}
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.DB.DSN == "" {
		cfg.DB.DSN = dsn
	}
	if ids := os.Getenv("TARGET_CHAT_IDS"); ids != "" && len(cfg.Notifier.Recipients) == 0 {
		cfg.Notifier.Recipients = []string{ids}
	}
	if url := os.Getenv("SERVICE_URL"); url != "" {
		if _, set := os.LookupEnv("NOTICEBOT_TRIGGER_SERVICE_URL"); !set {
			cfg.Trigger.ServiceURL = url
		}
	}
	if token := os.Getenv("SCHEDULER_TOKEN"); token != "" && cfg.Trigger.Token == "" {
		cfg.Trigger.Token = token
	}
	if token := os.Getenv("ADMIN_TOKEN"); token != "" && cfg.Admin.Token == "" {
		cfg.Admin.Token = token
	}
	if token := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"); token != "" && cfg.Notifier.Line.ChannelAccessToken == "" {
		cfg.Notifier.Line.ChannelAccessToken = token
	}
	if secret := os.Getenv("LINE_CHANNEL_SECRET"); secret != "" && cfg.Notifier.Line.ChannelSecret == "" {
		cfg.Notifier.Line.ChannelSecret = secret
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Notifier.Telegram.BotToken == "" {
		cfg.Notifier.Telegram.BotToken = token
	}
	cfg.Notifier.Line.ChannelAccessToken = NormalizeSecret(cfg.Notifier.Line.ChannelAccessToken)
	cfg.Notifier.Line.ChannelSecret = NormalizeSecret(cfg.Notifier.Line.ChannelSecret)
	cfg.Notifier.Telegram.BotToken = NormalizeSecret(cfg.Notifier.Telegram.BotToken)
}

// SplitRecipients flattens comma-separated entries, trims them, and drops
// empties and duplicates while keeping first-seen order.
func SplitRecipients(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, entry := range in {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// NormalizeSecret strips surrounding whitespace and quotes that tend to sneak
// into tokens pasted into dashboards.
func NormalizeSecret(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Board.ListURL == "" {
		return fmt.Errorf("board.list_url must be set")
	}
	if c.Board.ViewBaseURL == "" || c.Board.BoardActionID == "" {
		return fmt.Errorf("board.view_base_url and board.action_id must be set")
	}
	if c.Board.Window < 1 {
		return fmt.Errorf("board.window must be >= 1")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be >= 1")
	}
	if c.Fetch.BaseDelayMs < 0 || c.Fetch.MaxDelayMs < 0 || c.Fetch.InitialJitterMs < 0 {
		return fmt.Errorf("fetch delays must be >= 0")
	}
	if c.Notifier.Concurrency < 1 {
		return fmt.Errorf("notifier.concurrency must be >= 1")
	}
	switch c.Notifier.Transport {
	case "line", "telegram":
	default:
		return fmt.Errorf("notifier.transport must be line or telegram, got %q", c.Notifier.Transport)
	}
	switch c.Snapshot.Backend {
	case "memory", "local", "gcs", "none":
	default:
		return fmt.Errorf("snapshot.backend must be memory, local, gcs or none, got %q", c.Snapshot.Backend)
	}
	if c.Snapshot.Backend == "local" && c.Snapshot.LocalDir == "" {
		return fmt.Errorf("snapshot.local_dir must be set when snapshot.backend is local")
	}
	if c.Snapshot.Backend == "gcs" && c.Snapshot.GCSBucket == "" {
		return fmt.Errorf("snapshot.gcs_bucket must be set when snapshot.backend is gcs")
	}
	return nil
}

// FetchTimeout returns the per-request fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeout <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Server.RequestTimeout) * time.Second
}
