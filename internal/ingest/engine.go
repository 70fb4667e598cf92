// Package ingest orchestrates the per-site pipeline: extract, normalize,
// embed, upsert, and optionally sync-delete. The engine holds no business
// logic of its own; it sequences the collaborators and keeps one site's
// failure from touching the next.
package ingest

import (
	"context"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finds-group/catalog-ingest/internal/catalog"
	"github.com/finds-group/catalog-ingest/internal/embed"
	"github.com/finds-group/catalog-ingest/internal/extract"
	"github.com/finds-group/catalog-ingest/internal/fetch"
	"github.com/finds-group/catalog-ingest/internal/model"
	"github.com/finds-group/catalog-ingest/internal/normalize"
	"github.com/finds-group/catalog-ingest/internal/render"
	"github.com/finds-group/catalog-ingest/internal/sitespec"
)

// Deps are the engine's collaborators.
type Deps struct {
	Fetcher  fetch.Getter
	Renderer render.Renderer // nil disables browser escalation
	Embedder embed.Embedder
	Store    catalog.Store

	// Headers are the run-wide default request headers; site specs
	// overlay their own on top.
	Headers map[string]string
}

// Options tune one run.
type Options struct {
	// Limit caps rows per site; <= 0 means no cap.
	Limit int
	// DryRun skips all store writes.
	DryRun bool
	// Sync purges rows in each site's partition not observed this run.
	Sync bool
}

// SiteResult is one site's outcome.
type SiteResult struct {
	Brand     string
	Extracted int
	Upserted  int
	Deleted   int
	Err       error
}

// Summary is the end-of-run report.
type Summary struct {
	RunID     string
	Sites     []SiteResult
	TotalRows int
	Failed    int
}

// Engine runs the ingestion pipeline over a list of site specs.
type Engine struct {
	deps Deps
	opts Options
}

// New creates an Engine.
func New(deps Deps, opts Options) *Engine {
	if deps.Embedder == nil {
		deps.Embedder = embed.NopEmbedder{}
	}
	return &Engine{deps: deps, opts: opts}
}

// Run processes sites sequentially. Each site's failures are logged and
// recorded; the run only stops early when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, specs []sitespec.Spec) Summary {
	summary := Summary{RunID: uuid.NewString()}
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("run_id", summary.RunID),
	)
	log.Info("run starting",
		zap.Int("sites", len(specs)),
		zap.Bool("dry_run", e.opts.DryRun),
		zap.Bool("sync", e.opts.Sync),
	)

	for i := range specs {
		if ctx.Err() != nil {
			log.Warn("run interrupted", zap.Int("remaining", len(specs)-i))
			break
		}
		res := e.runSite(ctx, &specs[i])
		summary.Sites = append(summary.Sites, res)
		summary.TotalRows += res.Upserted
		if res.Err != nil {
			summary.Failed++
			log.Error("site failed", zap.String("brand", res.Brand), zap.Error(res.Err))
		} else {
			log.Info("site done",
				zap.String("brand", res.Brand),
				zap.Int("extracted", res.Extracted),
				zap.Int("upserted", res.Upserted),
				zap.Int("deleted", res.Deleted),
			)
		}
	}

	log.Info("run finished",
		zap.Int("sites", len(summary.Sites)),
		zap.Int("failed", summary.Failed),
		zap.Int("total_rows", summary.TotalRows),
	)
	return summary
}

// runSite executes the full pipeline for one site. Panics in extractor or
// store code are converted to the site's error.
func (e *Engine) runSite(ctx context.Context, spec *sitespec.Spec) (res SiteResult) {
	res.Brand = spec.Brand
	defer func() {
		if r := recover(); r != nil {
			res.Err = eris.Errorf("ingest: site %s panicked: %v", spec.Brand, r)
			zap.L().Error("ingest: site panic",
				zap.String("brand", spec.Brand),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if err := spec.Validate(); err != nil {
		res.Err = err
		return res
	}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("brand", spec.Brand))

	extractor := extract.ForSpec(extract.Deps{
		Fetcher:  e.deps.Fetcher,
		Renderer: e.deps.Renderer,
		Headers:  e.deps.Headers,
	}, spec)

	records, err := extractor.Extract(ctx, spec, e.opts.Limit)
	if err != nil {
		res.Err = eris.Wrapf(err, "ingest: extract %s", spec.Brand)
		return res
	}
	res.Extracted = len(records)
	if len(records) == 0 {
		log.Warn("no records extracted")
		return res
	}

	normalizer := normalize.New(spec)
	rows := make([]model.CanonicalRow, 0, len(records))
	seenIDs := make([]string, 0, len(records))
	for _, rec := range records {
		row := normalizer.Normalize(rec)
		if row.ImageURL != "" {
			vec, err := e.deps.Embedder.Embed(ctx, row.ImageURL)
			if err != nil {
				log.Debug("embedding failed, row continues without vector",
					zap.String("id", row.ID), zap.Error(err))
			} else {
				row.Embedding = vec
			}
		}
		rows = append(rows, row)
		seenIDs = append(seenIDs, row.ID)
	}

	if e.opts.DryRun {
		log.Info("dry run, skipping store writes", zap.Int("rows", len(rows)))
		return res
	}

	upserted, err := e.deps.Store.Upsert(ctx, rows)
	res.Upserted = upserted
	if err != nil {
		res.Err = eris.Wrapf(err, "ingest: upsert %s", spec.Brand)
		return res
	}

	if e.opts.Sync {
		deleted, err := e.deps.Store.SyncDelete(ctx, catalog.Scope{
			Source:   spec.SourceTag(),
			Merchant: spec.MerchantName(),
			Country:  spec.Country,
		}, seenIDs)
		res.Deleted = deleted
		if err != nil {
			// The site's rows are already stored; sync failure is its own line.
			log.Warn("sync delete failed", zap.Error(err))
		}
	}
	return res
}
