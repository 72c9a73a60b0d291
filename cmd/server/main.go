package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inboxkit/mailflow/internal/action"
	"github.com/inboxkit/mailflow/internal/action/webhook"
	"github.com/inboxkit/mailflow/internal/api"
	"github.com/inboxkit/mailflow/internal/condition"
	"github.com/inboxkit/mailflow/internal/config"
	"github.com/inboxkit/mailflow/internal/engine"
	"github.com/inboxkit/mailflow/internal/execlog"
	"github.com/inboxkit/mailflow/internal/rule"
	"github.com/inboxkit/mailflow/internal/scheduler"
	"github.com/inboxkit/mailflow/internal/template"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	cfgPath := flag.String("config", "configs/mailflow.yaml", "Path to YAML config")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	// ── Action registry ───────────────────────────────────────────────────────
	reg := action.NewRegistry()
	for _, h := range action.MutationHandlers() {
		reg.Register(h)
	}
	reg.Register(webhook.New(nil))
	reg.Register(&action.NotifyHandler{Notifier: &logNotifier{}})
	reg.Register(&action.CRMSyncHandler{Client: &logCRM{}})
	reg.Register(&action.CreateTaskHandler{Tracker: &logTasks{}})
	reg.Register(&action.ForwardHandler{Forwarder: &logForwarder{}})

	if err := config.Validate(cfg, reg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	var store rule.Store
	if path := cfg.Storage.RulesDB; path != "" {
		s, err := rule.NewSQLiteStore(path)
		if err != nil {
			slog.Error("failed to open rule store", "err", err)
			os.Exit(1)
		}
		defer s.Close()
		store = s
	} else {
		store = rule.NewInMemoryStore()
	}

	var log execlog.Log
	if path := cfg.Storage.LogDB; path != "" {
		l, err := execlog.NewSQLiteLog(path)
		if err != nil {
			slog.Error("failed to open execution log", "err", err)
			os.Exit(1)
		}
		defer l.Close()
		log = l
	} else {
		log = execlog.NewMemoryLog(cfg.Storage.LogBuffer)
	}

	// ── Engine pipeline ───────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	locks := rule.NewLockTable()
	eval := condition.NewEvaluator(condition.WithClassifier(&keywordClassifier{}))
	runner := action.NewRunner(reg, eval,
		action.WithParallelLimit(cfg.Executor.ParallelBranchLimit),
		action.WithLogger(logger),
	)
	sched := scheduler.New(store, locks, eval, runner, log, scheduler.WithLogger(logger))
	eng := engine.New(ctx, sched, cfg.Engine)

	seed := func(c *config.Config) error {
		return seedRules(ctx, c, store, locks, reg)
	}
	if err := seed(cfg); err != nil {
		slog.Error("failed to seed rules", "err", err)
		os.Exit(1)
	}
	slog.Info("rules seeded", "count", len(cfg.Rules))

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		if err := config.Validate(newCfg, reg); err != nil {
			slog.Warn("hot-reload skipped: config invalid", "err", err)
			return
		}
		if err := seed(newCfg); err != nil {
			slog.Warn("hot-reload skipped: seeding failed", "err", err)
			return
		}
		slog.Info("rules hot-reloaded", "count", len(newCfg.Rules))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Template catalog ──────────────────────────────────────────────────────
	catalog, err := template.Load()
	if err != nil {
		slog.Error("failed to load preset catalog", "err", err)
		os.Exit(1)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(api.Deps{
		Engine:    eng,
		Scheduler: sched,
		Store:     store,
		Locks:     locks,
		Registry:  reg,
		Log:       log,
		Catalog:   catalog,
		Reload: func() error {
			newCfg, err := loader.Reload()
			if err != nil {
				return err
			}
			if err := config.Validate(newCfg, reg); err != nil {
				return err
			}
			return seed(newCfg)
		},
	})
	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop worker pool
	eng.Shutdown()
	slog.Info("goodbye")
}

// seedRules upserts the config file's declarative rules into the
// store. Rules created through the API are left untouched.
func seedRules(ctx context.Context, cfg *config.Config, store rule.Store, locks *rule.LockTable, vocab rule.ActionVocabulary) error {
	for _, r := range cfg.Rules {
		if errs := rule.Validate(r, vocab); len(errs) > 0 {
			return errs
		}
		if _, err := store.Get(ctx, r.ID); err == nil {
			locks.Lock(r.ID)
			err = store.Update(ctx, r)
			locks.Unlock(r.ID)
			if err != nil {
				return err
			}
			continue
		}
		if err := store.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
