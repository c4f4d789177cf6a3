package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/astradocs/astra/internal/excerpt"
	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/observability"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
)

// AnalysisWorker drives documents through the analysis pipeline: text
// extraction, description generation, metadata generation, embedding, and
// index upsert. It processes one document at a time.
type AnalysisWorker struct {
	store    *store.Store
	provider llm.Provider
	index    vector.Index
	fallback *vector.FallbackStore
	cfg      Config
	metrics  *observability.PipelineMetrics
	log      *slog.Logger
}

// NewAnalysisWorker builds an analysis worker. fallback and metrics may be
// nil; logging falls back to slog.Default.
func NewAnalysisWorker(st *store.Store, provider llm.Provider, index vector.Index, fallback *vector.FallbackStore, cfg Config, metrics *observability.PipelineMetrics, log *slog.Logger) *AnalysisWorker {
	if log == nil {
		log = slog.Default()
	}
	return &AnalysisWorker{
		store:    st,
		provider: provider,
		index:    index,
		fallback: fallback,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		log:      log.With("pipeline", "analysis"),
	}
}

// Run polls for claimable documents until ctx is done. A claim failure from
// infrastructure backs off with ErrorInterval; an empty poll sleeps
// PollInterval. Processing errors fail the document but never stop the loop.
func (w *AnalysisWorker) Run(ctx context.Context) {
	w.log.Info("analysis worker starting")

	if err := w.index.EnsureCollection(ctx, llm.EmbedDim); err != nil {
		w.log.Error("ensuring index collection", "error", err)
	}

	for {
		if ctx.Err() != nil {
			w.log.Info("analysis worker stopping")
			return
		}

		id, ok, err := w.store.ClaimNextItem(ctx, w.cfg.StaleAfter)
		if err != nil {
			w.log.Error("claiming item", "error", err)
			sleep(ctx, w.cfg.ErrorInterval)
			continue
		}
		if !ok {
			sleep(ctx, w.cfg.PollInterval)
			continue
		}

		if w.metrics != nil {
			w.metrics.Claims.Inc()
		}
		start := time.Now()
		w.log.Info("processing item", "item_id", id)
		if err := w.processItem(ctx, id); err != nil {
			w.log.Error("processing item", "item_id", id, "error", err)
			if w.metrics != nil {
				w.metrics.Failures.Inc()
			}
			if failErr := w.store.FailItem(ctx, id, err.Error()); failErr != nil {
				w.log.Error("marking item failed", "item_id", id, "error", failErr)
			}
		} else if w.metrics != nil {
			w.metrics.Completions.Inc()
		}
		if w.metrics != nil {
			w.metrics.ProcessTime.ObserveDuration(start)
		}
	}
}

// processItem runs the stages for one claimed document. Extraction and text
// generation degrade in place (empty excerpt, placeholder text); only local
// failures like a dead store or a failed embedding escape as errors.
func (w *AnalysisWorker) processItem(ctx context.Context, id string) error {
	ctx, span := observability.StartJobSpan(ctx, "analysis", id)
	start := time.Now()
	var retErr error
	defer func() { observability.EndSpan(span, start, retErr) }()

	item, err := w.store.GetItem(ctx, id)
	if err != nil {
		retErr = fmt.Errorf("loading item: %w", err)
		return retErr
	}

	ex, err := excerpt.Extract(item.Path)
	if err != nil {
		w.log.Error("extracting text", "item_id", id, "filename", item.Filename, "path", item.Path, "error", err)
		ex = excerpt.Excerpt{}
	}
	if ex.Text == "" {
		w.log.Warn("extracted excerpt is empty; prompts may lack context", "item_id", id, "filename", item.Filename)
	}

	rawB64, rawTruncated, err := excerpt.RawBase64(item.Path)
	if err != nil {
		w.log.Warn("reading raw file bytes for prompt", "item_id", id, "path", item.Path, "error", err)
		rawB64, rawTruncated = "", false
	}

	descPrompt := buildDescriptionPrompt(item.Filename, ex.Text, ex.Truncated, rawB64, rawTruncated)
	desc, err := w.provider.Generate(ctx, w.cfg.DescriptionModel, descPrompt)
	if err != nil {
		desc = fmt.Sprintf("[desc error: %v]", err)
	}
	if err := w.store.SetItemDescription(ctx, id, desc); err != nil {
		retErr = err
		return retErr
	}

	metaPrompt := buildMetadataPrompt(item.Filename, desc, ex.Text, ex.Truncated, rawB64, rawTruncated)
	metadata, err := w.provider.Generate(ctx, w.cfg.MetadataModel, metaPrompt)
	if err != nil {
		metadata = fmt.Sprintf("[vector error: %v]", err)
	}

	vec, err := w.provider.Embed(ctx, metadata)
	if err != nil {
		retErr = fmt.Errorf("embedding metadata: %w", err)
		return retErr
	}
	payload := map[string]string{"filename": item.Filename, "path": item.Path}
	if err := w.index.Upsert(ctx, id, vec, payload); err != nil {
		w.log.Error("index upsert failed; retaining embedding locally", "item_id", id, "error", err)
		if w.fallback != nil {
			w.fallback.Put(id, vec)
		}
	}

	if err := w.store.CompleteItem(ctx, id); err != nil {
		retErr = err
		return retErr
	}
	return nil
}
