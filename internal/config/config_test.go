package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"herald/pkg/herald"
)

func TestParseIDList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		wantIDs      []int64
		wantWarnings int
	}{
		{name: "empty", raw: ""},
		{name: "spaces and blanks", raw: " 1, ,2 ,", wantIDs: []int64{1, 2}},
		{name: "channel ids", raw: "-1001234567890", wantIDs: []int64{-1001234567890}},
		{name: "malformed skipped", raw: "1,abc,3", wantIDs: []int64{1, 3}, wantWarnings: 1},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			ids, warnings := parseIDList(testCase.raw, "admin id")
			if !reflect.DeepEqual(ids, testCase.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, testCase.wantIDs)
			}
			if len(warnings) != testCase.wantWarnings {
				t.Fatalf("warnings = %v, want %d", warnings, testCase.wantWarnings)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			BotToken:          "token",
			BotModeRaw:        "prod",
			MuteNewUsersRaw:   "true",
			AutoDeleteSeconds: 60,
			DedupCacheMax:     10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:   "mode is case insensitive",
			mutate: func(c *Config) { c.BotModeRaw = " TEST " },
			check: func(t *testing.T, cfg Config) {
				if cfg.Mode != herald.BotModeTest {
					t.Fatalf("mode = %q, want test", cfg.Mode)
				}
			},
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.BotModeRaw = "staging" },
			wantErr: ErrInvalidMode,
		},
		{
			name:   "mute flag accepts only true",
			mutate: func(c *Config) { c.MuteNewUsersRaw = "yes" },
			check: func(t *testing.T, cfg Config) {
				if cfg.MuteNewUsers {
					t.Fatal("mute enabled for non-true value")
				}
			},
		},
		{
			name:   "mute flag upper case",
			mutate: func(c *Config) { c.MuteNewUsersRaw = "TRUE" },
			check: func(t *testing.T, cfg Config) {
				if !cfg.MuteNewUsers {
					t.Fatal("mute disabled for TRUE")
				}
			},
		},
		{
			name: "invalid ids become warnings",
			mutate: func(c *Config) {
				c.AdminIDsRaw = "1,x"
				c.AllowedChatIDsRaw = "-100,y"
			},
			check: func(t *testing.T, cfg Config) {
				if len(cfg.Warnings) != 2 {
					t.Fatalf("warnings = %v, want 2", cfg.Warnings)
				}
				if !reflect.DeepEqual(cfg.AdminIDs, []int64{1}) {
					t.Fatalf("admin ids = %v", cfg.AdminIDs)
				}
			},
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.RulesMessageTTL = -1 },
			wantErr: errAny,
		},
		{
			name:    "zero dedup cache",
			mutate:  func(c *Config) { c.DedupCacheMax = 0 },
			wantErr: errAny,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			testCase.mutate(&cfg)
			err := cfg.resolve()
			switch {
			case testCase.wantErr == errAny:
				if err == nil {
					t.Fatal("expected error")
				}
				return
			case testCase.wantErr != nil:
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("error = %v, want %v", err, testCase.wantErr)
				}
				return
			case err != nil:
				t.Fatalf("resolve failed: %v", err)
			}
			if testCase.check != nil {
				testCase.check(t, cfg)
			}
		})
	}
}

var errAny = errors.New("any error")

func TestDerivedValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		AutoDeleteSeconds:   60,
		MuteSeconds:         120,
		WelcomeDelaySeconds: 3,
		RulesMessageTTL:     30,
		MuteNewUsers:        false,
		LogLevel:            "DEBUG",
	}

	if cfg.AutoDelete() != time.Minute {
		t.Fatalf("auto delete = %v", cfg.AutoDelete())
	}
	if cfg.MuteDuration() != 2*time.Minute {
		t.Fatalf("mute = %v", cfg.MuteDuration())
	}
	if cfg.WelcomeDelay() != 3*time.Second {
		t.Fatalf("welcome delay = %v", cfg.WelcomeDelay())
	}

	overrides := cfg.KindTTLOverrides()
	if len(overrides) != 1 || overrides[herald.MessageKindRules] != 30*time.Second {
		t.Fatalf("overrides = %v", overrides)
	}

	flags := cfg.InitialFeatures()
	if !flags[herald.FeatureWelcome] || flags[herald.FeatureMute] || !flags[herald.FeatureAutodelete] {
		t.Fatalf("initial features = %v", flags)
	}

	if cfg.SlogLevel().String() != "DEBUG" {
		t.Fatalf("level = %v", cfg.SlogLevel())
	}

	warnings := cfg.StartupWarnings()
	if len(warnings) != 2 {
		t.Fatalf("startup warnings = %v, want admin and chat warnings", warnings)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "BOT_TOKEN=file-token\nAPP_ID=42\nAPP_HASH=hash\nBOT_MODE=test\nADMIN_IDS=7\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// godotenv never overrides variables that are already set.
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("APP_ID", "")
	t.Setenv("APP_HASH", "")
	t.Setenv("BOT_MODE", "")
	t.Setenv("ADMIN_IDS", "")
	for _, key := range []string{"APP_ID", "APP_HASH", "BOT_MODE", "ADMIN_IDS"} {
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BotToken != "env-token" {
		t.Fatalf("bot token = %q, want env value", cfg.BotToken)
	}
	if cfg.AppID != 42 || cfg.Mode != herald.BotModeTest {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.AdminIDs, []int64{7}) {
		t.Fatalf("admin ids = %v", cfg.AdminIDs)
	}
	if cfg.AutoDeleteSeconds != 60 || !cfg.RegistryReadOnly || cfg.DedupCacheMax != 10000 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadMissingEnvFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("APP_ID", "1")
	t.Setenv("APP_HASH", "hash")
	t.Setenv("BOT_MODE", "prod")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("Load with missing env file failed: %v", err)
	}
}
