// Package config loads the bot configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"herald/pkg/herald"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidMode reports a BOT_MODE outside prod and test.
var ErrInvalidMode = errors.New("config: BOT_MODE must be prod or test")

// Config is the fully resolved runtime configuration.
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN" required:"true"`
	AppID       int    `envconfig:"APP_ID" required:"true"`
	AppHash     string `envconfig:"APP_HASH" required:"true"`
	SessionFile string `envconfig:"SESSION_FILE" default:"data/session.json"`

	ProjectName     string `envconfig:"PROJECT_NAME" default:"Technology Universe"`
	StorageURL      string `envconfig:"STORAGE_URL" default:"https://example.com/storage"`
	FAQURL          string `envconfig:"FAQ_URL"`
	SupportURL      string `envconfig:"SUPPORT_URL"`
	WelcomeImageURL string `envconfig:"WELCOME_IMAGE_URL"`
	CatalogFile     string `envconfig:"CATALOG_FILE"`

	AutoDeleteSeconds   int    `envconfig:"AUTO_DELETE_SECONDS" default:"60"`
	MuteSeconds         int    `envconfig:"MUTE_SECONDS" default:"120"`
	MuteNewUsersRaw     string `envconfig:"MUTE_NEW_USERS" default:"true"`
	WelcomeDelaySeconds int    `envconfig:"WELCOME_DELAY_SECONDS" default:"3"`
	// Zero keeps the uniform AUTO_DELETE_SECONDS lifetime for the kind.
	WelcomeMessageTTL int `envconfig:"WELCOME_MESSAGE_TTL"`
	RulesMessageTTL   int `envconfig:"RULES_MESSAGE_TTL"`

	WelcomeDedupSeconds  int `envconfig:"WELCOME_DEDUP_SECONDS" default:"300"`
	RulesDedupSeconds    int `envconfig:"RULES_DEDUP_SECONDS" default:"300"`
	TriggerDedupSeconds  int `envconfig:"TRIGGER_DEDUP_SECONDS" default:"300"`
	DedupCacheMax        int `envconfig:"DEDUP_CACHE_MAX" default:"10000"`
	SweepIntervalSeconds int `envconfig:"SWEEP_INTERVAL_SECONDS" default:"5"`
	PruneIntervalSeconds int `envconfig:"PRUNE_INTERVAL_SECONDS" default:"300"`

	AdminIDsRaw       string `envconfig:"ADMIN_IDS"`
	AllowedChatIDsRaw string `envconfig:"ALLOWED_CHAT_IDS"`
	BotModeRaw        string `envconfig:"BOT_MODE" default:"prod"`

	RegistryFile     string `envconfig:"REGISTRY_FILE" default:"data/users.json"`
	RegistryReadOnly bool   `envconfig:"REGISTRY_READ_ONLY" default:"true"`
	LockFile         string `envconfig:"LOCK_FILE" default:"data/herald.pid"`

	MetricsListen string  `envconfig:"METRICS_LISTEN"`
	LogLevel      string  `envconfig:"LOG_LEVEL" default:"info"`
	OutboundRate  float64 `envconfig:"OUTBOUND_RATE" default:"20"`
	OutboundBurst int     `envconfig:"OUTBOUND_BURST" default:"5"`

	Mode           herald.BotMode `ignored:"true"`
	MuteNewUsers   bool           `ignored:"true"`
	AdminIDs       []int64        `ignored:"true"`
	AllowedChatIDs []int64        `ignored:"true"`
	// Warnings lists ignored malformed values, logged at startup.
	Warnings []string `ignored:"true"`
}

// Load reads envFile when it exists, then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &cfg, nil
}

// resolve validates raw values and fills derived fields.
func (c *Config) resolve() error {
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("BOT_TOKEN is empty")
	}

	mode, err := herald.ParseBotMode(strings.ToLower(strings.TrimSpace(c.BotModeRaw)))
	if err != nil {
		return fmt.Errorf("%w: got %q", ErrInvalidMode, c.BotModeRaw)
	}
	c.Mode = mode
	c.MuteNewUsers = strings.EqualFold(strings.TrimSpace(c.MuteNewUsersRaw), "true")

	for name, value := range map[string]int{
		"AUTO_DELETE_SECONDS":    c.AutoDeleteSeconds,
		"MUTE_SECONDS":           c.MuteSeconds,
		"WELCOME_DELAY_SECONDS":  c.WelcomeDelaySeconds,
		"WELCOME_MESSAGE_TTL":    c.WelcomeMessageTTL,
		"RULES_MESSAGE_TTL":      c.RulesMessageTTL,
		"WELCOME_DEDUP_SECONDS":  c.WelcomeDedupSeconds,
		"RULES_DEDUP_SECONDS":    c.RulesDedupSeconds,
		"TRIGGER_DEDUP_SECONDS":  c.TriggerDedupSeconds,
		"SWEEP_INTERVAL_SECONDS": c.SweepIntervalSeconds,
		"PRUNE_INTERVAL_SECONDS": c.PruneIntervalSeconds,
	} {
		if value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, value)
		}
	}
	if c.DedupCacheMax <= 0 {
		return fmt.Errorf("DEDUP_CACHE_MAX must be positive, got %d", c.DedupCacheMax)
	}

	var warnings []string
	c.AdminIDs, warnings = parseIDList(c.AdminIDsRaw, "admin id")
	c.Warnings = append(c.Warnings, warnings...)
	c.AllowedChatIDs, warnings = parseIDList(c.AllowedChatIDsRaw, "chat id")
	c.Warnings = append(c.Warnings, warnings...)

	return nil
}

// parseIDList splits a comma separated id list, skipping malformed entries.
func parseIDList(raw string, label string) ([]int64, []string) {
	var (
		ids      []int64
		warnings []string
	)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s ignored: %s", label, part))
			continue
		}
		ids = append(ids, id)
	}

	return ids, warnings
}

// StartupWarnings returns operator warnings about the resolved configuration.
func (c *Config) StartupWarnings() []string {
	warnings := append([]string(nil), c.Warnings...)
	if len(c.AdminIDs) == 0 {
		warnings = append(warnings, "ADMIN_IDS is empty")
	}
	if len(c.AllowedChatIDs) == 0 {
		warnings = append(warnings, "ALLOWED_CHAT_IDS is empty (all chats allowed)")
	}

	return warnings
}

// AutoDelete returns the default message lifetime.
func (c *Config) AutoDelete() time.Duration {
	return seconds(c.AutoDeleteSeconds)
}

// MuteDuration returns how long new members stay muted.
func (c *Config) MuteDuration() time.Duration {
	return seconds(c.MuteSeconds)
}

// WelcomeDelay returns the pause before the welcome message.
func (c *Config) WelcomeDelay() time.Duration {
	return seconds(c.WelcomeDelaySeconds)
}

// KindTTLOverrides returns per-kind lifetimes explicitly configured.
func (c *Config) KindTTLOverrides() map[herald.MessageKind]time.Duration {
	overrides := make(map[herald.MessageKind]time.Duration)
	if c.WelcomeMessageTTL > 0 {
		overrides[herald.MessageKindWelcome] = seconds(c.WelcomeMessageTTL)
	}
	if c.RulesMessageTTL > 0 {
		overrides[herald.MessageKindRules] = seconds(c.RulesMessageTTL)
	}

	return overrides
}

// InitialFeatures returns the toggle states at startup.
func (c *Config) InitialFeatures() map[herald.Feature]bool {
	return map[herald.Feature]bool{
		herald.FeatureWelcome:    true,
		herald.FeatureMute:       c.MuteNewUsers,
		herald.FeatureAutodelete: c.AutoDeleteSeconds > 0,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
