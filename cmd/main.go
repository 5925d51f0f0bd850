package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"moonlight/internal/cache"
	"moonlight/internal/config"
	"moonlight/internal/database"
	"moonlight/internal/domain"
	"moonlight/internal/github"
	"moonlight/internal/publisher"
	"moonlight/internal/scheduler"
	"moonlight/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := newApp(log).Run(os.Args); err != nil {
		log.Error("Failed to run",
			"error", err)

		os.Exit(1)
	}
}

func newApp(log *slog.Logger) *cli.App {
	return &cli.App{
		Name:  "moonlight",
		Usage: "Moonlight - RSS Feed Generator",
		Description: strings.Join([]string{
			`Builds one RSS feed per configured GitHub repository from its announcement`,
			`issues and prints "commit" when at least one feed document changed, "skip"`,
			`otherwise.`,
			``,
			`Paths and behaviour are configured via environment variables, e.g.:`,
			``,
			`  CONFIG_PATH=config.json ASSETS_DIR=assets FORCE_UPDATE=true`,
		}, "\n"),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Usage:   "GitHub Authentication Token",
				EnvVars: []string{"GITHUB_TOKEN"},
			},
			&cli.BoolFlag{
				Name:    "cache",
				Aliases: []string{"c"},
				Usage:   "Enable Etag Cache",
				EnvVars: []string{"ENABLE_CACHE"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, log)
		},
	}
}

func run(c *cli.Context, log *slog.Logger) error {
	ctx := c.Context

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	token := strings.TrimSpace(c.String("token"))
	if token != "" {
		log.InfoContext(ctx, "GitHub token is detected")
	}

	if cfg.ForceUpdate {
		log.InfoContext(ctx, "Force update is enabled")
	}

	feeds, err := config.LoadFeeds(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load feeds: %w", err)
	}
	log.InfoContext(ctx, "Feeds are loaded",
		"configPath", cfg.ConfigPath,
		"feedCount", len(feeds))

	cacheEnabled := c.Bool("cache")

	backend, closeBackend, err := initCacheBackend(ctx, cfg, cacheEnabled, log)
	if err != nil {
		return fmt.Errorf("init cache backend: %w", err)
	}
	defer closeBackend()

	source := github.NewClient(github.Options{
		APIURL:   cfg.GitHubAPIURL,
		Label:    cfg.IssueLabel,
		PageSize: cfg.PageSize,
		Timeout:  cfg.FetchTimeout,
	}, log)
	documents := store.New(cfg.AssetsDir, cfg.Namespace(), log)
	feedNames := lo.Map(feeds, func(f domain.FeedConfig, _ int) string { return f.Name })
	opts := publisher.Options{Token: token, Force: cfg.ForceUpdate}

	runOnce := func(ctx context.Context) error {
		requestCache, openErr := cache.Open(ctx, backend, cacheEnabled, feedNames, log)
		if openErr != nil {
			return fmt.Errorf("open request cache: %w", openErr)
		}

		report, runErr := publisher.New(feeds, source, documents, requestCache, opts, log).Run(ctx)
		if runErr != nil {
			return fmt.Errorf("run publisher: %w", runErr)
		}

		_, printErr := fmt.Fprintln(c.App.Writer, report.Signal())

		return printErr
	}

	if strings.TrimSpace(cfg.Schedule) == "" {
		return runOnce(ctx)
	}

	return runScheduled(ctx, cfg.Schedule, runOnce, log)
}

func runScheduled(ctx context.Context, spec string, runOnce scheduler.RunFunc, log *slog.Logger) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(ctx, spec, runOnce, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler (spec = %s): %w", spec, err)
	}
	log.InfoContext(ctx, "Scheduler is started",
		"spec", spec,
		"timezone", scheduler.Timezone)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	log.InfoContext(ctx, "Shutdown signal is received",
		"signal", sig.String())
	cancel()

	sched.Stop()
	log.InfoContext(ctx, "Scheduler is stopped",
		"uptimeSeconds", time.Since(start).Seconds())

	return nil
}

func initCacheBackend(
	ctx context.Context,
	cfg config.Config,
	enabled bool,
	log *slog.Logger,
) (cache.Backend, func(), error) {
	noop := func() {}

	switch cfg.CacheBackend {
	case config.CacheBackendJSON:
		return cache.NewJSONFile(cfg.CachePath, log), noop, nil
	case config.CacheBackendSQLite:
		if !enabled {
			return cache.NewJSONFile(cfg.CachePath, log), noop, nil
		}

		if err := os.MkdirAll(filepath.Dir(cfg.CacheDBPath), 0o755); err != nil {
			return nil, noop, fmt.Errorf("create cache dir: %w", err)
		}

		db, err := database.New(ctx, cfg.CacheDBPath, log)
		if err != nil {
			return nil, noop, fmt.Errorf("open cache DB (dbPath = %s): %w", cfg.CacheDBPath, err)
		}

		return db, func() {
			if err = db.Close(); err != nil {
				log.ErrorContext(ctx, "Failed to close db",
					"error", err,
					"dbPath", cfg.CacheDBPath)
			}
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
