package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/observability"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
)

// DefaultTopK is the number of index hits considered when a query does not
// specify top_k.
const DefaultTopK = 5

// QueryRequest is the validated payload of a query task.
type QueryRequest struct {
	Q    string `json:"q"`
	TopK int    `json:"top_k,omitempty"`
}

// RelatedFile is one index hit resolved against the document store. Only
// documents whose analysis has completed appear here.
type RelatedFile struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	Path        string  `json:"path"`
	Description *string `json:"description"`
	Score       float32 `json:"score"`
}

// QueryResult is the persisted outcome of a completed query task.
type QueryResult struct {
	Summary       string        `json:"summary"`
	RelatedFiles  []RelatedFile `json:"related_files"`
	Relationships string        `json:"relationships"`
	FinalAnswer   string        `json:"final_answer"`
}

// QueryWorker executes queued query tasks: embed the query text, search the
// index, resolve hits against completed documents, then generate relationship
// analysis and a final answer. Cancellation is cooperative; the worker checks
// the task status between stages and every terminal write is conditional on
// InProgress, so an external cancel always wins.
type QueryWorker struct {
	store    *store.Store
	provider llm.Provider
	index    vector.Index
	cfg      Config
	metrics  *observability.PipelineMetrics
	log      *slog.Logger

	lastReclaim time.Time
}

// NewQueryWorker builds a query worker. metrics may be nil; logging falls
// back to slog.Default.
func NewQueryWorker(st *store.Store, provider llm.Provider, index vector.Index, cfg Config, metrics *observability.PipelineMetrics, log *slog.Logger) *QueryWorker {
	if log == nil {
		log = slog.Default()
	}
	return &QueryWorker{
		store:    st,
		provider: provider,
		index:    index,
		cfg:      cfg.withDefaults(),
		metrics:  metrics,
		log:      log.With("pipeline", "query"),
	}
}

// Run polls for claimable tasks until ctx is done. Stale InProgress tasks are
// requeued at startup and periodically thereafter.
func (w *QueryWorker) Run(ctx context.Context) {
	w.log.Info("query worker starting")

	if err := w.index.EnsureCollection(ctx, llm.EmbedDim); err != nil {
		w.log.Error("ensuring index collection", "error", err)
	}
	w.reclaimStale(ctx)

	for {
		if ctx.Err() != nil {
			w.log.Info("query worker stopping")
			return
		}
		if time.Since(w.lastReclaim) >= w.cfg.StaleAfter {
			w.reclaimStale(ctx)
		}

		task, ok, err := w.store.ClaimNextTask(ctx)
		if err != nil {
			w.log.Error("claiming task", "error", err)
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
		w.log.Info("processing task", "task_id", task.ID)
		if err := w.processTask(ctx, task); err != nil {
			w.log.Error("processing task", "task_id", task.ID, "error", err)
			if w.metrics != nil {
				w.metrics.Failures.Inc()
			}
			if failErr := w.store.FailTask(ctx, task.ID, err.Error()); failErr != nil {
				w.log.Error("marking task failed", "task_id", task.ID, "error", failErr)
			}
		}
		if w.metrics != nil {
			w.metrics.ProcessTime.ObserveDuration(start)
		}
	}
}

func (w *QueryWorker) reclaimStale(ctx context.Context) {
	n, err := w.store.ReclaimStaleTasks(ctx, w.cfg.StaleAfter)
	if err != nil {
		w.log.Error("reclaiming stale tasks", "error", err)
		return
	}
	w.lastReclaim = time.Now()
	if n > 0 {
		w.log.Info("requeued stale tasks", "count", n)
		if w.metrics != nil {
			w.metrics.Reclaims.Add(float64(n))
		}
	}
}

// processTask runs the stages for one claimed task. A nil return with no
// result written means the task was cancelled mid-flight.
func (w *QueryWorker) processTask(ctx context.Context, task *store.Task) error {
	ctx, span := observability.StartJobSpan(ctx, "query", task.ID)
	start := time.Now()
	var retErr error
	defer func() { observability.EndSpan(span, start, retErr) }()

	if err := w.store.MarkTaskInProgress(ctx, task.ID); err != nil {
		retErr = err
		return retErr
	}

	req := parseRequest(task.Payload)

	vec, err := w.provider.Embed(ctx, req.Q)
	if err != nil {
		retErr = fmt.Errorf("embedding query: %w", err)
		return retErr
	}

	if cancelled, err := w.checkpoint(ctx, task.ID); err != nil || cancelled {
		retErr = err
		return retErr
	}

	hits, err := w.index.Search(ctx, vec, req.TopK)
	if err != nil {
		w.log.Error("index search failed; continuing with no hits", "task_id", task.ID, "error", err)
		hits = nil
	}

	if cancelled, err := w.checkpoint(ctx, task.ID); err != nil || cancelled {
		retErr = err
		return retErr
	}

	files, err := w.resolveHits(ctx, hits)
	if err != nil {
		retErr = err
		return retErr
	}

	relationships, err := w.provider.Generate(ctx, w.cfg.AnswerModel, buildRelationshipsPrompt(req.Q, files))
	if err != nil {
		relationships = fmt.Sprintf("[demo] relationships error: %v", err)
	}
	finalAnswer, err := w.provider.Generate(ctx, w.cfg.AnswerModel, buildFinalAnswerPrompt(req.Q, files, relationships))
	if err != nil {
		finalAnswer = fmt.Sprintf("[demo] final answer error: %v", err)
	}

	result := QueryResult{
		Summary:       fmt.Sprintf("Found %d related files", len(files)),
		RelatedFiles:  files,
		Relationships: relationships,
		FinalAnswer:   finalAnswer,
	}
	raw, err := json.Marshal(result)
	if err != nil {
		retErr = fmt.Errorf("encoding result: %w", err)
		return retErr
	}

	wrote, err := w.store.CompleteTask(ctx, task.ID, raw)
	if err != nil {
		retErr = err
		return retErr
	}
	if !wrote {
		// A cancel landed after the last checkpoint; its status stands.
		w.log.Info("task reached terminal state during processing; result discarded", "task_id", task.ID)
		if w.metrics != nil {
			w.metrics.Cancellations.Inc()
		}
		return nil
	}
	if w.metrics != nil {
		w.metrics.Completions.Inc()
	}
	return nil
}

// checkpoint reports whether the task has been cancelled. When it has, the
// pipeline stops without writing anything further.
func (w *QueryWorker) checkpoint(ctx context.Context, id string) (bool, error) {
	cancelled, err := w.store.IsTaskCancelled(ctx, id)
	if err != nil {
		return false, err
	}
	if cancelled {
		w.log.Info("task cancelled; abandoning processing", "task_id", id)
		if w.metrics != nil {
			w.metrics.Cancellations.Inc()
		}
	}
	return cancelled, nil
}

// resolveHits loads document metadata for index hits, dropping hits whose
// document is missing or still pending analysis.
func (w *QueryWorker) resolveHits(ctx context.Context, hits []vector.Hit) ([]RelatedFile, error) {
	var files []RelatedFile
	for _, h := range hits {
		item, err := w.store.GetCompletedItem(ctx, h.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving hit %s: %w", h.ID, err)
		}
		files = append(files, RelatedFile{
			ID:          item.ID,
			Filename:    item.Filename,
			Path:        item.Path,
			Description: item.Description,
			Score:       h.Score,
		})
	}
	return files, nil
}

func parseRequest(payload json.RawMessage) QueryRequest {
	var req QueryRequest
	if len(payload) > 0 {
		// A malformed payload degrades to an empty query rather than
		// failing the task.
		_ = json.Unmarshal(payload, &req)
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	return req
}
