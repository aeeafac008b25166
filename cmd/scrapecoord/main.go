// Command scrapecoord runs the judicial case-file scrape coordination
// engine: a periodic Scheduler, a pool of dispatch workers pulling
// from the JobStore, and an inbound control API (spec §4, §6).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/aaron-0406/lolo-cej-scraping/internal/clock"
	"github.com/aaron-0406/lolo-cej-scraping/internal/config"
	"github.com/aaron-0406/lolo-cej-scraping/internal/database"
	"github.com/aaron-0406/lolo-cej-scraping/internal/httpapi"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/browserpool"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/captcha"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/changedetect"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/extract"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/jobstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/metrics"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/normalize"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/objectstore"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/orchestration"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/orchestration/opsalert"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/portal"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/repository"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/scheduler"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/worker"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := newLogger(cfg.Logging)
	logger.WithField("configPath", configPath).Info("configuration loaded")

	c, err := clock.New(cfg.Timezone)
	if err != nil {
		logger.WithError(err).Fatal("failed to load configured timezone")
	}

	db, err := database.Connect(&database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to the repository database")
	}
	defer db.Close()

	repo := repository.NewPostgres(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.JobStore.RedisAddr,
		Password: cfg.JobStore.RedisPassword,
	})
	defer redisClient.Close()

	queue := jobstore.New(redisClient, cfg.JobStore.RateLimitMax, cfg.JobStore.RateLimitWindow, logger)

	pool := browserpool.New(browserpool.Config{
		Size:               cfg.Browser.PoolSize,
		MaxPagesPerSession: cfg.Browser.MaxPagesPerBrowser,
		PageTimeout:        cfg.Browser.PageTimeout,
		NavigationTimeout:  cfg.Browser.NavigationTimeout,
		Headless:           true,
	}, logger)

	promMetrics := metrics.NewMetrics()

	solver := captcha.NewHTTPSolver(captcha.DefaultHTTPSolverConfig(cfg.Portal.BaseURL, cfg.Captcha.ImageSolverAPIKey))
	captchaSel := captcha.DefaultSelectors()
	chain := buildCaptchaChain(cfg.Captcha.StrategyOrder, captchaSel, solver, logger)
	chain.SetMetrics(promMetrics)

	form := portal.New(portal.DefaultConfig(cfg.Portal.BaseURL), portal.DefaultSelectors())

	objects := objectstore.NewFilesystem(cfg.ObjectStore.Root)
	norm := normalize.NewNormalizer(c.Location())
	detector := changedetect.NewChangeDetector(normalize.NewHasher())

	w := worker.New(
		worker.Config{WorkerID: "scrapecoord", TenantPrefix: cfg.ObjectStore.Prefix},
		worker.NewPagePool(pool),
		form,
		chain,
		repo,
		objects,
		norm,
		detector,
		logger,
	)
	w.SetMetrics(promMetrics)

	sched := scheduler.New(scheduler.DefaultConfig(), repo, queue, c, logger)

	alerts := opsalert.New(cfg.OpsAlert.BotToken, cfg.OpsAlert.Channel, logger)

	orch := orchestration.New(
		orchestration.Config{
			WorkerConcurrency: cfg.JobStore.WorkerConcurrency,
			ShutdownDeadline:  30 * time.Second,
		},
		sched,
		queue,
		pool,
		w,
		alerts,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	logger.Info("scrape coordination engine started")

	server := httpapi.NewServer(httpapi.Config{
		Port:          cfg.Server.Port,
		ServiceSecret: cfg.Server.ServiceSecret,
	}, queue, pool, db, redisClient, c, promMetrics, logger)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("control API server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("control API server shutdown did not complete cleanly")
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("orchestrator shutdown did not complete cleanly")
	}

	logger.Info("scrape coordination engine stopped")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// buildCaptchaChain orders the three reference strategies per
// cfg.Captcha.StrategyOrder (spec §4.5); an unrecognized name is
// skipped rather than failing startup.
func buildCaptchaChain(order []string, sel captcha.Selectors, solver captcha.Solver, logger *logrus.Logger) *captcha.Chain {
	strategies := make([]extract.Strategy, 0, len(order))
	for _, name := range order {
		switch name {
		case "audio":
			strategies = append(strategies, captcha.NewAudioStrategy(sel))
		case "image":
			strategies = append(strategies, captcha.NewImageStrategy(sel, solver))
		case "interactive":
			strategies = append(strategies, captcha.NewInteractiveStrategy(sel, solver))
		default:
			logger.WithField("strategy", name).Warn("unrecognized captcha strategy name, skipping")
		}
	}
	return captcha.New(logger, strategies...)
}
