package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"herald/internal/config"
	"herald/internal/dedup"
	"herald/internal/driver/telegram"
	"herald/internal/features"
	"herald/internal/kernel"
	"herald/internal/lifecycle"
	"herald/internal/metrics"
	"herald/internal/pidlock"
	"herald/internal/userstore"
	"herald/modules/admin"
	"herald/modules/help"
	"herald/modules/info"
	"herald/modules/triggers"
	"herald/modules/welcome"
	"herald/pkg/catalog"
	"herald/pkg/herald"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// version is reported by /version, /health and the version subcommand.
const version = "1.2.16"

const (
	defaultEnvFile         = ".env"
	metricsShutdownTimeout = 5 * time.Second
)

func newApp() *cli.App {
	envFileFlag := &cli.StringFlag{
		Name:    "env-file",
		Usage:   "dotenv file loaded before the process environment",
		Value:   defaultEnvFile,
		EnvVars: []string{"HERALD_ENV_FILE"},
	}

	return &cli.App{
		Name:    "herald",
		Usage:   "community welcome and moderation bot",
		Version: version,
		Flags:   []cli.Flag{envFileFlag},
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to Telegram and serve events",
				Action: runAction,
			},
			{
				Name:  "version",
				Usage: "print the bot version",
				Action: func(cctx *cli.Context) error {
					_, err := fmt.Fprintln(cctx.App.Writer, renderVersion())
					return err
				},
			},
			{
				Name:  "check-config",
				Usage: "validate the configuration and the text catalog, then exit",
				Action: func(cctx *cli.Context) error {
					return checkConfig(cctx.App.Writer, cctx.String("env-file"))
				},
			},
		},
	}
}

func renderVersion() string {
	return "herald " + version
}

func checkConfig(out io.Writer, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if _, err := catalog.Load(cfg.CatalogFile); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	for _, warning := range cfg.StartupWarnings() {
		if _, err := fmt.Fprintf(out, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "configuration ok (mode %s)\n", cfg.Mode)

	return err
}

func runAction(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("env-file"))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	return run(cctx.Context, cfg, logger)
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	warnings := cfg.StartupWarnings()
	for _, warning := range warnings {
		logger.Warn("configuration warning", "warning", warning)
	}

	lock, err := pidlock.Acquire(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release process lock failed", "path", lock.Path(), "error", err)
		}
	}()

	texts, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	instruments := metrics.New()

	telegramRuntime, err := telegram.BuildRuntime(telegram.RuntimeConfig{
		BotToken:      cfg.BotToken,
		AppID:         cfg.AppID,
		AppHash:       cfg.AppHash,
		SessionFile:   cfg.SessionFile,
		OutboundRate:  cfg.OutboundRate,
		OutboundBurst: cfg.OutboundBurst,
	}, logger, telegram.WithOutboundObserver(instruments))
	if err != nil {
		return fmt.Errorf("build telegram runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := assemble(ctx, cfg, logger, texts, instruments, telegramRuntime.Dispatcher, warnings)
	if err != nil {
		return err
	}
	if err := app.kernel.RegisterDriver(telegramRuntime.Driver); err != nil {
		return fmt.Errorf("register driver %s: %w", telegramRuntime.Driver.Name(), err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := app.kernel.Run(groupCtx); err != nil {
			return fmt.Errorf("run kernel: %w", err)
		}
		// A clean kernel exit ends the other tasks too.
		stop()
		return nil
	})
	group.Go(func() error { return app.sweeper.Run(groupCtx) })
	group.Go(func() error { return app.pruner.Run(groupCtx) })
	if cfg.MetricsListen != "" {
		group.Go(func() error { return serveMetrics(groupCtx, cfg.MetricsListen, instruments.Handler(), logger) })
	}
	logger.Info("herald started", "version", version, "mode", cfg.Mode)

	runErr := group.Wait()
	if err := app.users.Flush(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("flush user registry: %w", err))
	}
	logger.Info("herald stopped")

	return runErr
}

// application is the assembled runtime minus the platform driver.
type application struct {
	kernel   *kernel.Kernel
	messages *lifecycle.Registry
	sweeper  *lifecycle.Sweeper
	pruner   *lifecycle.Pruner
	users    *userstore.Store
	flags    *features.Flags
}

func assemble(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	texts *catalog.Catalog,
	instruments *metrics.Metrics,
	dispatcher herald.SinkDispatcher,
	warnings []string,
) (*application, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("assemble: nil sink dispatcher")
	}

	newGate := func(name string) *dedup.Gate {
		return dedup.New(
			name,
			dedup.WithMaxEntries(cfg.DedupCacheMax),
			dedup.WithLogger(logger),
			dedup.WithObserver(instruments),
		)
	}
	welcomeGate := newGate("welcome")
	rulesGate := newGate("rules")
	triggerGate := newGate("trigger")

	messages := lifecycle.NewRegistry(lifecycle.TTLPolicy{
		Mode:      cfg.Mode,
		Default:   cfg.AutoDelete(),
		Overrides: cfg.KindTTLOverrides(),
	})
	instruments.RegisterActiveMessages(messages)

	users, err := userstore.Open(
		cfg.RegistryFile,
		userstore.WithReadOnly(cfg.RegistryReadOnly),
		userstore.WithLogger(logger),
		userstore.WithObserver(instruments),
	)
	if err != nil {
		return nil, fmt.Errorf("open user registry: %w", err)
	}
	flags := features.NewFlags(cfg.InitialFeatures())

	kernelRuntime := kernel.New(
		kernel.WithLogger(logger),
		kernel.WithPublishObserver(instruments.EventPublished),
	)
	services := []struct {
		name    string
		service any
	}{
		{herald.ServiceSinkDispatcher, dispatcher},
		{herald.ServiceLogger, logger},
		{herald.ServiceFeatureFlags, herald.FeatureFlags(flags)},
		{herald.ServiceAccessPolicy, herald.AccessPolicy(features.NewPolicy(cfg.AdminIDs, cfg.AllowedChatIDs))},
		{herald.ServiceMessageRegistry, herald.MessageRegistry(messages)},
		{herald.ServiceUserRegistry, herald.UserRegistry(users)},
		{herald.ServiceWelcomeGate, herald.DedupGate(welcomeGate)},
		{herald.ServiceRulesGate, herald.DedupGate(rulesGate)},
		{herald.ServiceTriggerGate, herald.DedupGate(triggerGate)},
	}
	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return nil, fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	modules, err := buildModules(cfg, texts, warnings)
	if err != nil {
		return nil, err
	}
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return nil, fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return &application{
		kernel:   kernelRuntime,
		messages: messages,
		sweeper: lifecycle.NewSweeper(
			messages,
			dispatcher,
			lifecycle.WithSweepInterval(time.Duration(cfg.SweepIntervalSeconds)*time.Second),
			lifecycle.WithSweepLogger(logger),
			lifecycle.WithSweepObserver(instruments),
		),
		pruner: lifecycle.NewPruner(
			[]lifecycle.Prunable{welcomeGate, rulesGate, triggerGate},
			lifecycle.WithPruneInterval(time.Duration(cfg.PruneIntervalSeconds)*time.Second),
			lifecycle.WithPruneLogger(logger),
		),
		users: users,
		flags: flags,
	}, nil
}

func buildModules(cfg *config.Config, texts *catalog.Catalog, warnings []string) ([]herald.Module, error) {
	welcomeModule, err := welcome.New(welcome.Config{
		Catalog: texts,
		Mode:    cfg.Mode,
		Project: cfg.ProjectName,
		Links: catalog.Links{
			Storage: cfg.StorageURL,
			FAQ:     cfg.FAQURL,
			Support: cfg.SupportURL,
		},
		ImageURL:    cfg.WelcomeImageURL,
		Delay:       cfg.WelcomeDelay(),
		MuteFor:     cfg.MuteDuration(),
		DedupWindow: time.Duration(cfg.WelcomeDedupSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	infoModule, err := info.New(info.Config{
		Catalog:     texts,
		Mode:        cfg.Mode,
		Project:     cfg.ProjectName,
		StorageURL:  cfg.StorageURL,
		DedupWindow: time.Duration(cfg.RulesDedupSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	triggersModule, err := triggers.New(triggers.Config{
		Catalog:     texts,
		Mode:        cfg.Mode,
		Project:     cfg.ProjectName,
		StorageURL:  cfg.StorageURL,
		DedupWindow: time.Duration(cfg.TriggerDedupSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	adminModule, err := admin.New(admin.Config{
		Catalog:   texts,
		Mode:      cfg.Mode,
		Version:   version,
		StartedAt: time.Now(),
		Warnings:  warnings,
	})
	if err != nil {
		return nil, err
	}
	helpModule, err := help.New(texts, cfg.Mode)
	if err != nil {
		return nil, err
	}

	return []herald.Module{welcomeModule, infoModule, triggersModule, adminModule, helpModule}, nil
}

func serveMetrics(ctx context.Context, listen string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logger.Info("metrics server listening", "addr", listen)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve metrics on %s: %w", listen, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	return nil
}
