// Package e2e exercises the full flow: upload through the HTTP API, analysis
// by the pipeline, query creation, query execution, and result retrieval.
// The text service and vector index are in-memory fakes; the store and blob
// layers are real.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astradocs/astra/internal/blob"
	"github.com/astradocs/astra/internal/llm"
	"github.com/astradocs/astra/internal/server"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
	"github.com/astradocs/astra/internal/worker"
)

// fakeProvider generates deterministic text keyed by prompt role.
type fakeProvider struct{}

func (fakeProvider) Generate(_ context.Context, model, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "concise, factual description"):
		return "description by " + model, nil
	case strings.Contains(prompt, "vector search metadata"):
		return "metadata by " + model, nil
	case strings.Contains(prompt, "analyzing relationships"):
		return "relationships by " + model, nil
	default:
		return "answer by " + model, nil
	}
}

func (fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return llm.FoldEmbedding(text), nil
}

func (fakeProvider) Name() string { return "fake" }

// memIndex stores vectors in memory; search returns stored ids in insertion
// order, which is enough to drive the pipeline end to end.
type memIndex struct {
	mu      sync.Mutex
	order   []string
	vectors map[string][]float32
}

func newMemIndex() *memIndex {
	return &memIndex{vectors: make(map[string][]float32)}
}

func (m *memIndex) EnsureCollection(context.Context, int) error { return nil }

func (m *memIndex) Upsert(_ context.Context, id string, vec []float32, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[id]; !ok {
		m.order = append(m.order, id)
	}
	m.vectors[id] = vec
	return nil
}

func (m *memIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vectors, id)
	return nil
}

func (m *memIndex) Search(_ context.Context, _ []float32, k int) ([]vector.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []vector.Hit
	for i, id := range m.order {
		if _, ok := m.vectors[id]; !ok {
			continue
		}
		if len(hits) >= k {
			break
		}
		hits = append(hits, vector.Hit{ID: id, Score: 1 - float32(i)*0.01})
	}
	return hits, nil
}

func (m *memIndex) Close() error { return nil }

type stack struct {
	store   *store.Store
	handler http.Handler
}

func startStack(t *testing.T) *stack {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	blobs, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening blob store: %v", err)
	}

	index := newMemIndex()
	provider := fakeProvider{}
	cfg := worker.Config{
		PollInterval:  10 * time.Millisecond,
		ErrorInterval: 10 * time.Millisecond,
		StaleAfter:    10 * time.Minute,
	}

	ctx, stop := context.WithCancel(context.Background())
	go worker.NewAnalysisWorker(st, provider, index, nil, cfg, nil, nil).Run(ctx)
	go worker.NewQueryWorker(st, provider, index, cfg, nil, nil).Run(ctx)

	t.Cleanup(func() {
		stop()
		st.Close()
	})
	return &stack{
		store:   st,
		handler: server.NewAPI(st, blobs, index, 0, nil).Handler(),
	}
}

func (s *stack) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) map[string]any {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("%s %s: status %d, body %s", method, target, w.Code, w.Body)
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decoding body %s: %v", method, target, w.Body, err)
	}
	return out
}

func (s *stack) upload(t *testing.T, filename, contents string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(contents))
	mw.Close()

	resp := s.do(t, http.MethodPost, "/files", &buf, mw.FormDataContentType())
	ids, _ := resp["ids"].([]any)
	if len(ids) != 1 {
		t.Fatalf("upload response = %v", resp)
	}
	return ids[0].(string)
}

func (s *stack) waitForItem(t *testing.T, id string) *store.Item {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := s.store.GetItem(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if item.AnalysisStatus.Terminal() {
			return item
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("item %s never reached a terminal state", id)
	return nil
}

func (s *stack) waitForTask(t *testing.T, id string) store.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := s.do(t, http.MethodGet, "/query/status?id="+id, nil, "")
		status := store.Status(resp["status"].(string))
		if status.Terminal() {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return ""
}

func TestUploadAnalyzeQuery(t *testing.T) {
	s := startStack(t)

	id1 := s.upload(t, "budget.txt", "The 2025 budget allocates funds to infrastructure.")
	id2 := s.upload(t, "roadmap.txt", "The roadmap describes planned infrastructure projects.")

	item1 := s.waitForItem(t, id1)
	item2 := s.waitForItem(t, id2)
	for _, item := range []*store.Item{item1, item2} {
		if item.AnalysisStatus != store.StatusCompleted {
			t.Fatalf("item %s status = %s", item.ID, item.AnalysisStatus)
		}
		if item.Description == nil || !strings.HasPrefix(*item.Description, "description by") {
			t.Fatalf("item %s description = %v", item.ID, item.Description)
		}
	}

	body := bytes.NewBufferString(`{"q":"what is planned for infrastructure?","top_k":5}`)
	resp := s.do(t, http.MethodPost, "/query/create", body, "application/json")
	taskID := resp["id"].(string)

	if status := s.waitForTask(t, taskID); status != store.StatusCompleted {
		t.Fatalf("task status = %s", status)
	}

	resultResp := s.do(t, http.MethodGet, "/query/result?id="+taskID, nil, "")
	result, ok := resultResp["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v", resultResp)
	}
	if result["summary"] != "Found 2 related files" {
		t.Errorf("summary = %v", result["summary"])
	}
	related, _ := result["related_files"].([]any)
	var names []string
	for _, rf := range related {
		names = append(names, rf.(map[string]any)["filename"].(string))
	}
	sort.Strings(names)
	if fmt.Sprint(names) != "[budget.txt roadmap.txt]" {
		t.Errorf("related files = %v", names)
	}
	if !strings.HasPrefix(result["final_answer"].(string), "answer by") {
		t.Errorf("final_answer = %v", result["final_answer"])
	}
}

func TestCancelRacesQueryExecution(t *testing.T) {
	s := startStack(t)

	body := bytes.NewBufferString(`{"q":"slow question"}`)
	resp := s.do(t, http.MethodPost, "/query/create", body, "application/json")
	taskID := resp["id"].(string)

	s.do(t, http.MethodGet, "/query/cancel?id="+taskID, nil, "")

	status := s.waitForTask(t, taskID)
	if status != store.StatusCancelled && status != store.StatusCompleted {
		t.Fatalf("task status = %s", status)
	}
	if status == store.StatusCancelled {
		resultResp := s.do(t, http.MethodGet, "/query/result?id="+taskID, nil, "")
		if resultResp["result"] != nil {
			t.Errorf("cancelled task has result %v", resultResp["result"])
		}
	}
}

func TestDeleteRemovesFromSearch(t *testing.T) {
	s := startStack(t)

	id := s.upload(t, "doc.txt", "searchable content")
	s.waitForItem(t, id)

	s.do(t, http.MethodGet, "/files/delete?id="+id, nil, "")

	body := bytes.NewBufferString(`{"q":"searchable content"}`)
	resp := s.do(t, http.MethodPost, "/query/create", body, "application/json")
	taskID := resp["id"].(string)
	if status := s.waitForTask(t, taskID); status != store.StatusCompleted {
		t.Fatalf("task status = %s", status)
	}

	resultResp := s.do(t, http.MethodGet, "/query/result?id="+taskID, nil, "")
	result := resultResp["result"].(map[string]any)
	if result["summary"] != "Found 0 related files" {
		t.Errorf("summary = %v", result["summary"])
	}
}
