package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultRuntimePublishTimeout = 2 * time.Second
	defaultRuntimeAuthTimeout    = time.Minute
	defaultRuntimeUpdateBuffer   = 256
)

// RuntimeConfig carries the credentials and limits of one bot session.
type RuntimeConfig struct {
	BotToken    string
	AppID       int
	AppHash     string
	SessionFile string
	// OutboundRate and OutboundBurst bound outbound calls; zero keeps the defaults.
	OutboundRate  float64
	OutboundBurst int
	// PeerCacheSize bounds remembered peers; zero keeps DefaultPeerCacheSize.
	PeerCacheSize  int
	PublishTimeout time.Duration
	AuthTimeout    time.Duration
	UpdateBuffer   int
}

// Runtime is one wired Telegram bot session.
type Runtime struct {
	Driver     *Driver
	Dispatcher *SinkDispatcher
	Peers      *PeerCache
}

// BuildRuntime wires the gotd client, update pipeline, and outbound dispatcher.
//
// Nothing connects until the driver starts; the bot token is exchanged for a
// session on first run and reused from SessionFile afterwards.
func BuildRuntime(cfg RuntimeConfig, logger *slog.Logger, options ...OutboundOption) (*Runtime, error) {
	cfg, err := normalizeRuntimeConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	updateChannel := NewGotdUpdateChannel(cfg.UpdateBuffer)
	sessionStorage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers, err := NewPeerCache(cfg.PeerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	reportError := func(_ context.Context, err error) {
		logger.Error("telegram driver async error", "error", err)
	}
	source, err := NewGotdSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
		reportError,
	)
	if err != nil {
		return nil, fmt.Errorf("new gotd source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(reportError),
	)
	if err != nil {
		return nil, fmt.Errorf("new telegram driver: %w", err)
	}

	dispatcherOptions := []OutboundOption{WithOutboundLogger(logger)}
	if cfg.OutboundRate > 0 && cfg.OutboundBurst > 0 {
		dispatcherOptions = append(dispatcherOptions, WithOutboundRateLimit(cfg.OutboundRate, cfg.OutboundBurst))
	}
	dispatcherOptions = append(dispatcherOptions, options...)
	dispatcher, err := NewOutboundDispatcher(client, peers, dispatcherOptions...)
	if err != nil {
		return nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return &Runtime{
		Driver:     driver,
		Dispatcher: dispatcher,
		Peers:      peers,
	}, nil
}

func normalizeRuntimeConfig(cfg RuntimeConfig) (RuntimeConfig, error) {
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.AppHash = strings.TrimSpace(cfg.AppHash)
	cfg.SessionFile = strings.TrimSpace(cfg.SessionFile)

	if cfg.BotToken == "" {
		return RuntimeConfig{}, fmt.Errorf("bot token is required")
	}
	if cfg.AppID <= 0 {
		return RuntimeConfig{}, fmt.Errorf("app id must be > 0")
	}
	if cfg.AppHash == "" {
		return RuntimeConfig{}, fmt.Errorf("app hash is required")
	}
	if cfg.SessionFile == "" {
		return RuntimeConfig{}, fmt.Errorf("session file is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultRuntimePublishTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultRuntimeAuthTimeout
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultRuntimeUpdateBuffer
	}

	return cfg, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

// authenticateBot restores a stored session or signs in with the bot token.
func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg RuntimeConfig,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.AuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.SessionFile)
		return nil
	}

	if _, err := client.Auth().Bot(authCtx, cfg.BotToken); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	logger.Info("telegram bot authorized", "session_file", cfg.SessionFile)

	return nil
}
