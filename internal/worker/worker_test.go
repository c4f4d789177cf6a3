package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
)

// mockProvider scripts Generate and Embed behavior per test.
type mockProvider struct {
	mu       sync.Mutex
	generate func(model, prompt string) (string, error)
	embed    func(text string) ([]float32, error)
	prompts  []string
	models   []string
	embedded []string
}

func (m *mockProvider) Generate(_ context.Context, model, prompt string) (string, error) {
	m.mu.Lock()
	m.models = append(m.models, model)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.generate != nil {
		return m.generate(model, prompt)
	}
	return "generated text", nil
}

func (m *mockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.embedded = append(m.embedded, text)
	m.mu.Unlock()
	if m.embed != nil {
		return m.embed(text)
	}
	return llm.FoldEmbedding(text), nil
}

func (m *mockProvider) Name() string { return "mock" }

// mockIndex records upserts in memory and returns scripted search hits.
type mockIndex struct {
	mu        sync.Mutex
	upserts   map[string][]float32
	upsertErr error
	hits      []vector.Hit
	searchErr error
	searched  []int
}

func newMockIndex() *mockIndex {
	return &mockIndex{upserts: make(map[string][]float32)}
}

func (m *mockIndex) EnsureCollection(context.Context, int) error { return nil }

func (m *mockIndex) Upsert(_ context.Context, id string, vec []float32, _ map[string]string) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[id] = vec
	return nil
}

func (m *mockIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.upserts, id)
	return nil
}

func (m *mockIndex) Search(_ context.Context, _ []float32, k int) ([]vector.Hit, error) {
	m.mu.Lock()
	m.searched = append(m.searched, k)
	m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.hits, nil
}

func (m *mockIndex) Close() error { return nil }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeTestFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func testConfig() Config {
	return Config{
		PollInterval:     10 * time.Millisecond,
		ErrorInterval:    10 * time.Millisecond,
		StaleAfter:       10 * time.Minute,
		DescriptionModel: "flash-test",
		MetadataModel:    "pro-test",
		AnswerModel:      "pro-test",
	}
}

func claimItem(t *testing.T, s *store.Store, want string) string {
	t.Helper()
	id, ok, err := s.ClaimNextItem(context.Background(), 10*time.Minute)
	if err != nil || !ok {
		t.Fatalf("claiming item: ok=%v err=%v", ok, err)
	}
	if want != "" && id != want {
		t.Fatalf("claimed %q, want %q", id, want)
	}
	return id
}

func TestAnalysisProcessItem(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := writeTestFile(t, "doc1.txt", "The quarterly report covers revenue and churn.")
	if err := s.InsertItem(ctx, "doc1", "doc1.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "doc1")

	provider := &mockProvider{
		generate: func(model, prompt string) (string, error) {
			if model == "flash-test" {
				return "a quarterly report", nil
			}
			return "themes: revenue, churn", nil
		},
	}
	index := newMockIndex()
	w := NewAnalysisWorker(s, provider, index, nil, testConfig(), nil, nil)

	if err := w.processItem(ctx, "doc1"); err != nil {
		t.Fatalf("processItem: %v", err)
	}

	item, err := s.GetItem(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("status = %s, want Completed", item.AnalysisStatus)
	}
	if item.PendingAnalysis {
		t.Error("pending_analysis still set after completion")
	}
	if item.Description == nil || *item.Description != "a quarterly report" {
		t.Errorf("description = %v, want generated description", item.Description)
	}
	if vec, ok := index.upserts["doc1"]; !ok {
		t.Error("no vector upserted for doc1")
	} else if len(vec) != llm.EmbedDim {
		t.Errorf("vector dim = %d, want %d", len(vec), llm.EmbedDim)
	}

	// The description prompt carries the file content; the metadata prompt
	// carries the description.
	if len(provider.prompts) != 2 {
		t.Fatalf("got %d prompts, want 2", len(provider.prompts))
	}
	if !strings.Contains(provider.prompts[0], "quarterly report covers revenue") {
		t.Error("description prompt missing extracted text")
	}
	if !strings.Contains(provider.prompts[1], "a quarterly report") {
		t.Error("metadata prompt missing description")
	}
	if provider.models[0] != "flash-test" || provider.models[1] != "pro-test" {
		t.Errorf("model sequence = %v", provider.models)
	}
}

func TestAnalysisDegradedProviderStillCompletes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := writeTestFile(t, "doc.txt", "content")
	if err := s.InsertItem(ctx, "doc", "doc.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "doc")

	// The provider degrades to placeholder strings rather than erroring,
	// mirroring an unconfigured backend.
	provider := &mockProvider{
		generate: func(model, _ string) (string, error) {
			return "[demo] Gemini (" + model + ") not configured.", nil
		},
	}
	w := NewAnalysisWorker(s, provider, newMockIndex(), nil, testConfig(), nil, nil)

	if err := w.processItem(ctx, "doc"); err != nil {
		t.Fatalf("processItem: %v", err)
	}
	item, _ := s.GetItem(ctx, "doc")
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("status = %s, want Completed despite degraded provider", item.AnalysisStatus)
	}
	if item.Description == nil || !strings.HasPrefix(*item.Description, "[demo]") {
		t.Errorf("description = %v, want placeholder", item.Description)
	}
}

func TestAnalysisMissingFileStillCompletes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertItem(ctx, "gone", "gone.txt", "/nonexistent/gone.txt", nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "gone")

	provider := &mockProvider{}
	w := NewAnalysisWorker(s, provider, newMockIndex(), nil, testConfig(), nil, nil)

	// Extraction failure degrades to an empty excerpt; the pipeline runs on
	// filename alone.
	if err := w.processItem(ctx, "gone"); err != nil {
		t.Fatalf("processItem: %v", err)
	}
	item, _ := s.GetItem(ctx, "gone")
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("status = %s, want Completed", item.AnalysisStatus)
	}
	if !strings.Contains(provider.prompts[0], "gone.txt") {
		t.Error("description prompt missing filename")
	}
}

func TestAnalysisUpsertFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := writeTestFile(t, "doc.txt", "content")
	if err := s.InsertItem(ctx, "doc", "doc.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "doc")

	index := newMockIndex()
	index.upsertErr = errors.New("qdrant unreachable")
	fallback, err := vector.NewFallbackStore(8)
	if err != nil {
		t.Fatal(err)
	}
	w := NewAnalysisWorker(s, &mockProvider{}, index, fallback, testConfig(), nil, nil)

	if err := w.processItem(ctx, "doc"); err != nil {
		t.Fatalf("processItem: %v", err)
	}
	item, _ := s.GetItem(ctx, "doc")
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("status = %s, want Completed despite index failure", item.AnalysisStatus)
	}
	if vec, ok := fallback.Get("doc"); !ok || len(vec) != llm.EmbedDim {
		t.Error("embedding not retained in fallback store")
	}
}

func TestAnalysisEmbedErrorFailsItem(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := writeTestFile(t, "doc.txt", "content")
	if err := s.InsertItem(ctx, "doc", "doc.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "doc")

	provider := &mockProvider{
		embed: func(string) ([]float32, error) { return nil, errors.New("embed exploded") },
	}
	w := NewAnalysisWorker(s, provider, newMockIndex(), nil, testConfig(), nil, nil)

	err := w.processItem(ctx, "doc")
	if err == nil {
		t.Fatal("processItem succeeded, want error")
	}
	if failErr := s.FailItem(ctx, "doc", err.Error()); failErr != nil {
		t.Fatal(failErr)
	}
	item, _ := s.GetItem(ctx, "doc")
	if item.AnalysisStatus != store.StatusFailed {
		t.Errorf("status = %s, want Failed", item.AnalysisStatus)
	}
	if !item.PendingAnalysis {
		t.Error("pending_analysis cleared on failure")
	}
	// The generated description was persisted before embedding failed, so
	// the failure reason must not replace it.
	if item.Description == nil || *item.Description != "generated text" {
		t.Errorf("description = %v, want earlier generated description kept", item.Description)
	}
}

func TestAnalysisDuplicateClaimerLoses(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	path := writeTestFile(t, "doc.txt", "content")
	if err := s.InsertItem(ctx, "doc", "doc.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, "doc")

	// Another worker that also claimed the stale item completes it while
	// this one is still generating metadata.
	provider := &mockProvider{
		generate: func(model, prompt string) (string, error) {
			if model == "pro-test" {
				if err := s.SetItemDescription(ctx, "doc", "winner description"); err != nil {
					t.Fatal(err)
				}
				if err := s.CompleteItem(ctx, "doc"); err != nil {
					t.Fatal(err)
				}
			}
			return "generated text", nil
		},
	}
	w := NewAnalysisWorker(s, provider, newMockIndex(), nil, testConfig(), nil, nil)

	err := w.processItem(ctx, "doc")
	if err == nil {
		t.Fatal("processItem succeeded, want lost-race error")
	}
	if failErr := s.FailItem(ctx, "doc", err.Error()); failErr != nil {
		t.Fatal(failErr)
	}

	// The first terminal write wins; the loser's failure must not revert it.
	item, _ := s.GetItem(ctx, "doc")
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("status = %s, want Completed", item.AnalysisStatus)
	}
	if item.PendingAnalysis {
		t.Error("completed item reverted to pending")
	}
	if item.Description == nil || *item.Description != "winner description" {
		t.Errorf("description = %v, want winner's description kept", item.Description)
	}
}

func insertCompletedItem(t *testing.T, s *store.Store, id, filename, desc string) {
	t.Helper()
	ctx := context.Background()
	if err := s.InsertItem(ctx, id, filename, "/data/"+filename, nil); err != nil {
		t.Fatal(err)
	}
	claimItem(t, s, id)
	if err := s.SetItemDescription(ctx, id, desc); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteItem(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func claimTask(t *testing.T, s *store.Store) *store.Task {
	t.Helper()
	task, ok, err := s.ClaimNextTask(context.Background())
	if err != nil || !ok {
		t.Fatalf("claiming task: ok=%v err=%v", ok, err)
	}
	return task
}

func TestQueryProcessTask(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insertCompletedItem(t, s, "doc1", "report.pdf", "the quarterly report")

	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"what changed last quarter?","top_k":3}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	index := newMockIndex()
	index.hits = []vector.Hit{{ID: "doc1", Score: 0.93}}
	provider := &mockProvider{
		generate: func(_, prompt string) (string, error) {
			if strings.Contains(prompt, "analyzing relationships") {
				return "relationship analysis", nil
			}
			return "the final answer", nil
		},
	}
	w := NewQueryWorker(s, provider, index, testConfig(), nil, nil)

	if err := w.processTask(ctx, task); err != nil {
		t.Fatalf("processTask: %v", err)
	}

	got, err := s.GetTask(ctx, "q1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want Completed", got.Status)
	}
	var res QueryResult
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if res.Summary != "Found 1 related files" {
		t.Errorf("summary = %q", res.Summary)
	}
	if len(res.RelatedFiles) != 1 || res.RelatedFiles[0].ID != "doc1" {
		t.Fatalf("related_files = %+v", res.RelatedFiles)
	}
	rf := res.RelatedFiles[0]
	if rf.Filename != "report.pdf" || rf.Score != 0.93 {
		t.Errorf("related file = %+v", rf)
	}
	if rf.Description == nil || *rf.Description != "the quarterly report" {
		t.Errorf("description = %v", rf.Description)
	}
	if res.Relationships != "relationship analysis" || res.FinalAnswer != "the final answer" {
		t.Errorf("relationships=%q final=%q", res.Relationships, res.FinalAnswer)
	}
	if len(index.searched) != 1 || index.searched[0] != 3 {
		t.Errorf("search k = %v, want [3]", index.searched)
	}
}

func TestQueryTopKDefault(t *testing.T) {
	req := parseRequest(json.RawMessage(`{"q":"hello"}`))
	if req.TopK != DefaultTopK {
		t.Errorf("top_k = %d, want %d", req.TopK, DefaultTopK)
	}
	req = parseRequest(json.RawMessage(`{"q":"hello","top_k":12}`))
	if req.TopK != 12 {
		t.Errorf("top_k = %d, want 12", req.TopK)
	}
	req = parseRequest(json.RawMessage(`not json`))
	if req.Q != "" || req.TopK != DefaultTopK {
		t.Errorf("malformed payload: %+v", req)
	}
}

func TestQueryCancelledAtCheckpointWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	// The cancel lands while the query embedding is being computed, so the
	// first checkpoint observes it.
	provider := &mockProvider{
		embed: func(text string) ([]float32, error) {
			if _, err := s.CancelTask(ctx, "q1"); err != nil {
				t.Fatal(err)
			}
			return llm.FoldEmbedding(text), nil
		},
	}
	index := newMockIndex()
	w := NewQueryWorker(s, provider, index, testConfig(), nil, nil)

	if err := w.processTask(ctx, task); err != nil {
		t.Fatalf("processTask: %v", err)
	}
	got, _ := s.GetTask(ctx, "q1")
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want Cancelled", got.Status)
	}
	if len(got.Result) != 0 {
		t.Errorf("result = %s, want none", got.Result)
	}
	if len(index.searched) != 0 {
		t.Error("search ran after cancellation")
	}
	if len(provider.prompts) != 0 {
		t.Error("generation ran after cancellation")
	}
}

func TestQueryCancelBeforeFinalWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	// The cancel lands after the last checkpoint, during answer synthesis.
	// The conditional completion write must lose to it.
	provider := &mockProvider{
		generate: func(_, prompt string) (string, error) {
			if strings.Contains(prompt, "compose a final answer") {
				if _, err := s.CancelTask(ctx, "q1"); err != nil {
					t.Fatal(err)
				}
			}
			return "text", nil
		},
	}
	w := NewQueryWorker(s, provider, newMockIndex(), testConfig(), nil, nil)

	if err := w.processTask(ctx, task); err != nil {
		t.Fatalf("processTask: %v", err)
	}
	got, _ := s.GetTask(ctx, "q1")
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want Cancelled", got.Status)
	}
	if len(got.Result) != 0 {
		t.Errorf("result = %s, want discarded", got.Result)
	}
}

func TestQueryExcludesPendingDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	insertCompletedItem(t, s, "done", "done.txt", "finished")
	if err := s.InsertItem(ctx, "pending", "pending.txt", "/data/pending.txt", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	index := newMockIndex()
	index.hits = []vector.Hit{
		{ID: "pending", Score: 0.99},
		{ID: "done", Score: 0.42},
		{ID: "never-stored", Score: 0.10},
	}
	w := NewQueryWorker(s, &mockProvider{}, index, testConfig(), nil, nil)

	if err := w.processTask(ctx, task); err != nil {
		t.Fatalf("processTask: %v", err)
	}
	got, _ := s.GetTask(ctx, "q1")
	var res QueryResult
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.RelatedFiles) != 1 || res.RelatedFiles[0].ID != "done" {
		t.Errorf("related_files = %+v, want only the completed document", res.RelatedFiles)
	}
}

func TestQuerySearchFailureYieldsEmptyResult(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	index := newMockIndex()
	index.searchErr = errors.New("qdrant unreachable")
	w := NewQueryWorker(s, &mockProvider{}, index, testConfig(), nil, nil)

	if err := w.processTask(ctx, task); err != nil {
		t.Fatalf("processTask: %v", err)
	}
	got, _ := s.GetTask(ctx, "q1")
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %s, want Completed", got.Status)
	}
	var res QueryResult
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.Summary != "Found 0 related files" {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestQueryEmbedErrorFailsTask(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}
	task := claimTask(t, s)

	provider := &mockProvider{
		embed: func(string) ([]float32, error) { return nil, errors.New("embed exploded") },
	}
	w := NewQueryWorker(s, provider, newMockIndex(), testConfig(), nil, nil)

	err := w.processTask(ctx, task)
	if err == nil {
		t.Fatal("processTask succeeded, want error")
	}
	if failErr := s.FailTask(ctx, "q1", err.Error()); failErr != nil {
		t.Fatal(failErr)
	}
	got, _ := s.GetTask(ctx, "q1")
	if got.Status != store.StatusFailed {
		t.Errorf("status = %s, want Failed", got.Status)
	}
	var res map[string]string
	if err := json.Unmarshal(got.Result, &res); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res["error"], "embed exploded") {
		t.Errorf("error result = %q", res["error"])
	}
}

func TestRunLoopsDrainQueues(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := openTestStore(t)
	path := writeTestFile(t, "doc.txt", "content")
	if err := s.InsertItem(ctx, "doc", "doc.txt", path, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertTask(ctx, "q1", json.RawMessage(`{"q":"x"}`)); err != nil {
		t.Fatal(err)
	}

	index := newMockIndex()
	provider := &mockProvider{}
	aw := NewAnalysisWorker(s, provider, index, nil, testConfig(), nil, nil)
	qw := NewQueryWorker(s, provider, index, testConfig(), nil, nil)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() { aw.Run(runCtx); done <- struct{}{} }()
	go func() { qw.Run(runCtx); done <- struct{}{} }()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		item, err := s.GetItem(ctx, "doc")
		if err != nil {
			t.Fatal(err)
		}
		status, err := s.TaskStatus(ctx, "q1")
		if err != nil {
			t.Fatal(err)
		}
		if item.AnalysisStatus == store.StatusCompleted && status == store.StatusCompleted {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	stop()
	<-done
	<-done

	item, _ := s.GetItem(ctx, "doc")
	if item.AnalysisStatus != store.StatusCompleted {
		t.Errorf("item status = %s, want Completed", item.AnalysisStatus)
	}
	status, _ := s.TaskStatus(ctx, "q1")
	if status != store.StatusCompleted {
		t.Errorf("task status = %s, want Completed", status)
	}
}
