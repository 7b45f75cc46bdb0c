package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/msme-risk/internal/api"
	"github.com/opensource-finance/msme-risk/internal/bus"
	"github.com/opensource-finance/msme-risk/internal/cache"
	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
	"github.com/opensource-finance/msme-risk/internal/profile"
	"github.com/opensource-finance/msme-risk/internal/repository"
	"github.com/opensource-finance/msme-risk/internal/rules"
	"github.com/opensource-finance/msme-risk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Starts the HTTP API and, when enabled, the async worker",
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	if err := initLogging(cfg.Logging.Level, cfg.Logging.Format, os.Stdout); err != nil {
		return err
	}

	slog.Info("starting msmerisk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(cfg.Rules.MaxWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	if err := loadRules(ctx, repo, engine); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	registry, err := profile.NewRegistry(repo, cacheImpl, cfg.Cache.LocalTTL, cfg.Scoring)
	if err != nil {
		return fmt.Errorf("failed to initialize profile registry: %w", err)
	}
	if err := registry.Load(ctx, profile.GlobalTenant); err != nil {
		return fmt.Errorf("failed to load scoring profiles: %w", err)
	}
	slog.Info("profile registry initialized", "profiles", registry.Names(profile.GlobalTenant))

	p := pipeline.New(registry, engine, decision.NewProcessor())

	var asyncWorker *worker.Worker
	if cfg.Edition == domain.EditionPro || cfg.Worker.Enabled {
		asyncWorker = worker.New(busImpl, p)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.Tenants}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenants", cfg.Worker.Tenants)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Rules:    engine,
		Profiles: registry,
		Pipeline: p,
		Version:  Version,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		// Stop async worker first
		if asyncWorker != nil {
			if err := asyncWorker.Stop(); err != nil {
				slog.Error("failed to stop async worker", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("msmerisk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("msmerisk shutdown complete")
	return nil
}

// loadRules loads the global policy rules, seeding the starter set into an
// empty repository first.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		return err
	}

	if len(stored) == 0 {
		stored = rules.StarterRules()
		for _, r := range stored {
			if err := repo.SaveRuleConfig(ctx, api.GlobalTenantID, r); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
			}
		}
		slog.Info("seeded starter policy rules", "count", len(stored))
	}

	return engine.LoadRules(stored)
}

func printBanner(cmd *cli.Command, cfg *domain.Config) {
	w := writer(cmd)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  MSME Credit Risk Engine")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  Edition:  %s\n", cfg.Edition)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /assess             - Score a business record")
	fmt.Fprintln(w, "    POST /assess/async       - Queue a record for the worker")
	fmt.Fprintln(w, "    GET  /rules              - List policy rules")
	fmt.Fprintln(w, "    POST /rules              - Create a policy rule")
	fmt.Fprintln(w, "    POST /rules/reload       - Hot-reload rules from database")
	fmt.Fprintln(w, "    GET  /profiles           - List scoring profiles")
	fmt.Fprintln(w, "    POST /profiles           - Create a scoring profile")
	fmt.Fprintln(w, "    POST /profiles/reload    - Hot-reload profiles from database")
	fmt.Fprintln(w, "    GET  /health             - Health check")
	fmt.Fprintln(w, "    GET  /metrics            - Prometheus metrics")
	fmt.Fprintln(w)
}
