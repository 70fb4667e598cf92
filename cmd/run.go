package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/embed"
	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/ingest"
	"github.com/finds-group/catalog-ingest/internal/render"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

var (
	runSites   string
	runLimit   int
	runDryRun  bool
	runSync    bool
	runNoEmbed bool
)

func init() {
	runCmd.Flags().StringVar(&runSites, "sites", "all", "comma-separated brand list, or 'all'")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max rows per site (0 = unlimited)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "extract and normalize but skip store writes")
	runCmd.Flags().BoolVar(&runSync, "sync", false, "purge stored rows not observed this run (per-site partition)")
	runCmd.Flags().BoolVar(&runNoEmbed, "no-embed", false, "skip image embedding")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest configured sites into the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		specs, err := sitespec.Load(cfg.Sites.Path)
		if err != nil {
			return eris.Wrapf(err, "load sites from %s", cfg.Sites.Path)
		}
		selected := sitespec.Select(specs, runSites)
		if len(selected) == 0 {
			zap.L().Warn("no sites matched selection", zap.String("sites", runSites))
			return nil
		}

		fetcher := fetch.NewClient(fetch.Options{
			UserAgent:     cfg.HTTP.UserAgent,
			Timeout:       time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
			MaxRetries:    cfg.HTTP.MaxRetries,
			HostRPS:       cfg.HTTP.HostRPS,
			RespectRobots: sitespec.RespectRobots(selected),
		})

		browser := render.NewBrowser(render.Options{
			Bin:         cfg.Browser.Bin,
			UserAgent:   cfg.HTTP.UserAgent,
			Timeout:     time.Duration(cfg.Browser.TimeoutSecs) * time.Second,
			ScrollSteps: cfg.Browser.ScrollSteps,
		})
		defer browser.Close()

		embedder, closeEmbedder := initEmbedder()
		defer closeEmbedder()

		deps := ingest.Deps{
			Fetcher:  fetcher,
			Renderer: browser,
			Embedder: embedder,
			Headers:  cfg.HTTP.Headers,
		}
		if !runDryRun {
			store, closeStore, err := initStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			deps.Store = store
		}

		engine := ingest.New(deps, ingest.Options{
			Limit:  runLimit,
			DryRun: runDryRun,
			Sync:   runSync,
		})
		summary := engine.Run(ctx, selected)

		// Per-site failures are logged in the summary; only configuration
		// problems exit non-zero.
		zap.L().Info("ingest complete",
			zap.String("run_id", summary.RunID),
			zap.Int("sites", len(summary.Sites)),
			zap.Int("failed", summary.Failed),
			zap.Int("total_rows", summary.TotalRows),
		)
		return nil
	},
}

// initEmbedder builds the embedding chain: HTTP service, optionally
// wrapped in the SQLite cache. Falls back to the nop embedder when
// embedding is disabled or unconfigured.
func initEmbedder() (embed.Embedder, func()) {
	if runNoEmbed || cfg.Embedder.BaseURL == "" {
		return embed.NopEmbedder{}, func() {}
	}

	var embedder embed.Embedder = embed.NewService(embed.Options{
		BaseURL:    cfg.Embedder.BaseURL,
		Key:        cfg.Embedder.Key,
		Model:      cfg.Embedder.Model,
		Timeout:    time.Duration(cfg.Embedder.TimeoutSecs) * time.Second,
		ImageWidth: cfg.Embedder.ImageWidth,
		RetryWidth: cfg.Embedder.RetryWidth,
	})

	if cfg.Embedder.CachePath != "" {
		cache, err := embed.NewCache(cfg.Embedder.CachePath, embedder)
		if err != nil {
			zap.L().Warn("embedding cache unavailable, continuing without it", zap.Error(err))
			return embedder, func() {}
		}
		return cache, func() { _ = cache.Close() }
	}
	return embedder, func() {}
}
