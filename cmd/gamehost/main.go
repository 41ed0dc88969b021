// Package main runs the game host: the chat gateway, the per-community
// session managers, and the admin diagnostics server.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamehost/internal/access"
	"github.com/cory-johannsen/gamehost/internal/admin"
	"github.com/cory-johannsen/gamehost/internal/bot"
	"github.com/cory-johannsen/gamehost/internal/chat"
	"github.com/cory-johannsen/gamehost/internal/command"
	"github.com/cory-johannsen/gamehost/internal/config"
	"github.com/cory-johannsen/gamehost/internal/dice"
	"github.com/cory-johannsen/gamehost/internal/games/guessing"
	"github.com/cory-johannsen/gamehost/internal/gateway"
	"github.com/cory-johannsen/gamehost/internal/observability"
	"github.com/cory-johannsen/gamehost/internal/plugin"
	"github.com/cory-johannsen/gamehost/internal/scripting"
	"github.com/cory-johannsen/gamehost/internal/server"
	"github.com/cory-johannsen/gamehost/internal/session"
	"github.com/cory-johannsen/gamehost/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	ctx := context.Background()

	// A missing .env is not an error.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, level, err := observability.NewLeveledLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game host",
		zap.String("gateway_addr", cfg.Gateway.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		logger.Fatal("registering metrics", zap.Error(err))
	}

	var whitelist *access.Whitelist
	if cfg.Whitelist.Enabled {
		whitelist, err = access.LoadWhitelist(cfg.Whitelist.File)
		if err != nil {
			logger.Fatal("loading whitelist", zap.Error(err))
		}
		logger.Info("whitelist loaded", zap.Int("communities", len(whitelist.IDs())))
	}

	commands, err := command.LoadFile(cfg.Bot.Commands)
	if err != nil {
		logger.Fatal("loading commands", zap.Error(err))
	}

	libStart := time.Now()
	catalog, err := loadLibrary(logger, cfg.Library)
	if err != nil {
		logger.Fatal("loading game library", zap.Error(err))
	}
	logger.Info("game library ready",
		zap.Strings("games", catalog.Refs()),
		zap.Duration("elapsed", time.Since(libStart)),
	)

	lifecycle := server.NewLifecycle(logger)

	platform := chat.NewMemory(chat.WithHistoryLimit(cfg.Gateway.HistoryLimit))
	managerOpts := session.Options{
		Catalog:  catalog,
		Platform: platform,
		Config: session.Config{
			IdleTimeout:  cfg.Manager.IdleTimeout,
			TickInterval: cfg.Manager.TickInterval,
			ScreenSize:   cfg.Library.ScreenSize,
		},
		Logger:  logger,
		Dice:    dice.NewRoller(dice.NewCryptoSource(), logger),
		Metrics: metrics,
	}

	var (
		history bot.History
		pool    *postgres.Pool
	)
	if cfg.Database.Enabled {
		dbStart := time.Now()
		if err := postgres.MigrateUp(cfg.Database.DSN()); err != nil {
			logger.Fatal("migrating database", zap.Error(err))
		}
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		archive := postgres.NewSessionArchive(pool.DB())
		managerOpts.Archiver = archive
		history = archive

		healthStop := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				t := time.NewTicker(30 * time.Second)
				defer t.Stop()
				for {
					select {
					case <-healthStop:
						return nil
					case <-t.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(healthStop)
			},
		})
	}

	managers := session.NewRegistry(managerOpts)

	dispatcher := bot.NewDispatcher(bot.Options{
		Prefix:    cfg.Bot.Prefix,
		Commands:  commands,
		Whitelist: whitelist,
		Managers:  managers,
		Catalog:   catalog,
		Platform:  platform,
		History:   history,
		Logger:    logger,
	})

	lifecycle.Add("reaper", session.NewReaper(managers, cfg.Manager.ReapInterval))
	lifecycle.Add("admin", admin.NewServer(cfg.Admin.Addr(), managers, nil, logger))
	lifecycle.Add("gateway", gateway.NewServer(gateway.Options{
		Addr:       cfg.Gateway.Addr(),
		Token:      cfg.Gateway.Token,
		Platform:   platform,
		Dispatcher: dispatcher,
		Gatherer:   reg,
		LogLevel:   level,
		Logger:     logger,
	}))

	// Sessions end before the pool closes so their stats are archived.
	lifecycle.OnShutdown("sessions", managers.Close)
	if pool != nil {
		lifecycle.OnShutdown("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
	}

	logger.Info("game host initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadLibrary resolves the game manifest against the built-in Go games and
// the Lua provider.
func loadLibrary(logger *zap.Logger, cfg config.LibraryConfig) (*plugin.Catalog, error) {
	builtins := plugin.NewBuiltins()
	guessing.Register(builtins)
	loader := plugin.NewLoader(logger,
		builtins,
		scripting.NewProvider(logger, cfg.InstructionLimit),
	)
	return loader.Load(cfg.Manifest)
}
