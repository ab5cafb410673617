package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	appcfg "github.com/mkarlsen/chess-openings-live/internal/config"
	"github.com/mkarlsen/chess-openings-live/internal/domain"
	"github.com/mkarlsen/chess-openings-live/internal/index"
	"github.com/mkarlsen/chess-openings-live/internal/lichess"
	"github.com/mkarlsen/chess-openings-live/internal/obslog"
	"github.com/mkarlsen/chess-openings-live/internal/opening"
	"github.com/mkarlsen/chess-openings-live/internal/registry"
	"github.com/mkarlsen/chess-openings-live/internal/statstore"
	"github.com/mkarlsen/chess-openings-live/internal/view"
	"github.com/mkarlsen/chess-openings-live/internal/webserver"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	defs, err := opening.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		obslog.L().Fatal("catalog_load_failed", zap.Error(err))
	}
	tree, err := opening.Build(defs)
	if err != nil {
		obslog.L().Fatal("tree_build_failed", zap.Error(err))
	}
	obslog.L().Info("catalog_loaded",
		zap.Int("definitions", len(defs)),
		zap.Int("labels", len(tree.Labels())),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hooks, closeStores := buildHooks(ctx, cfg)
	defer closeStores()

	agg := index.New(tree.Labels())
	reg := registry.New(tree, agg, registry.Options{
		StaleAfter: cfg.StaleAfter,
		Hooks:      hooks,
	})
	agg.SetTruth(reg.Truth)
	svc := view.New(reg, agg)

	go registry.NewSweeper(reg, cfg.SweepInterval).Run(ctx)

	client := lichess.NewClient(cfg.LichessBaseURL)
	poller := lichess.NewPoller(client, reg, cfg.Source, cfg.GameLimit, cfg.PollInterval)
	go poller.Run(ctx)

	app := webserver.NewApp(svc, reg)
	go func() {
		obslog.L().Info("server_listening", zap.String("addr", cfg.HTTPAddr))
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			obslog.L().Fatal("server_failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("shutting_down")
	cancel()
	_ = app.Shutdown()
}

// buildHooks wires optional persistence. Redis keeps cumulative opening
// counters; Postgres archives finished games. Both are skipped when their
// URLs are unset.
func buildHooks(ctx context.Context, cfg *appcfg.AppConfig) (registry.Hooks, func()) {
	var (
		hooks   registry.Hooks
		store   *statstore.Store
		repo    *statstore.Repository
		err     error
		closers []func()
	)

	if cfg.RedisURL != "" {
		store, err = statstore.NewStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			obslog.L().Fatal("redis_init_failed", zap.Error(err))
		}
		closers = append(closers, func() { _ = store.Close() })
	}
	if cfg.DatabaseURL != "" {
		repo, err = statstore.NewRepository(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Fatal("database_init_failed", zap.Error(err))
		}
		closers = append(closers, func() { _ = repo.Close() })
	}

	if store != nil || repo != nil {
		hooks.GameFinished = func(g domain.Game) {
			if store != nil && g.Classification.Classified() {
				if err := store.RecordFinished(ctx, g.Classification.Code, g.Classification.Name); err != nil {
					obslog.L().Warn("stats_record_failed", zap.String("game_id", g.ID), zap.Error(err))
				}
			}
			if repo != nil {
				if err := repo.SaveFinished(ctx, g); err != nil {
					obslog.L().Warn("archive_failed", zap.String("game_id", g.ID), zap.Error(err))
				}
			}
		}
	}
	if store != nil {
		hooks.GameEvicted = func(g domain.Game) {
			if err := store.IncrCounter(ctx, "evictions"); err != nil {
				obslog.L().Warn("stats_record_failed", zap.String("game_id", g.ID), zap.Error(err))
			}
		}
	}

	return hooks, func() {
		for _, fn := range closers {
			fn()
		}
	}
}
