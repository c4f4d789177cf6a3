package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/astradocs/astra/internal/blob"
	"github.com/astradocs/astra/internal/store"
	"github.com/astradocs/astra/internal/vector"
	"github.com/astradocs/astra/internal/worker"
)

// API serves the document and query endpoints. Uploads and query creation
// only enqueue work; the pipelines pick it up asynchronously, so every
// handler returns quickly.
type API struct {
	store          *store.Store
	blobs          *blob.Store
	index          vector.Index
	maxUploadBytes int64
	log            *slog.Logger
}

// NewAPI builds the API. index may be nil when no similarity index is
// configured; deletes then skip index cleanup.
func NewAPI(st *store.Store, blobs *blob.Store, index vector.Index, maxUploadBytes int64, log *slog.Logger) *API {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &API{
		store:          st,
		blobs:          blobs,
		index:          index,
		maxUploadBytes: maxUploadBytes,
		log:            log.With("component", "api"),
	}
}

// Handler returns the route mux for the API.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /files", a.handleUpload)
	mux.HandleFunc("GET /files/list", a.handleList)
	mux.HandleFunc("GET /files/delete", a.handleDelete)
	mux.HandleFunc("POST /query/create", a.handleCreateQuery)
	mux.HandleFunc("GET /query/status", a.handleQueryStatus)
	mux.HandleFunc("GET /query/result", a.handleQueryResult)
	mux.HandleFunc("GET /query/cancel", a.handleCancelQuery)
	return mux
}

// handleUpload accepts multipart file uploads. Each file is saved to blob
// storage and enqueued for analysis; the response does not wait for any
// pipeline work.
func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	if err := r.ParseMultipartForm(a.maxUploadBytes); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("parsing multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var uploaded []string
	for _, headers := range r.MultipartForm.File {
		for _, hdr := range headers {
			filename := hdr.Filename
			if filename == "" {
				filename = "upload-" + uuid.NewString()
			}
			f, err := hdr.Open()
			if err != nil {
				a.writeError(w, http.StatusBadRequest, fmt.Errorf("opening upload %q: %w", filename, err))
				return
			}
			contents, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				a.writeError(w, http.StatusBadRequest, fmt.Errorf("reading upload %q: %w", filename, err))
				return
			}

			path, err := a.blobs.Save(filename, contents)
			if err != nil {
				a.writeError(w, http.StatusInternalServerError, fmt.Errorf("saving upload %q: %w", filename, err))
				return
			}
			id := uuid.NewString()
			if err := a.store.InsertItem(r.Context(), id, filename, path, nil); err != nil {
				a.writeError(w, http.StatusInternalServerError, err)
				return
			}
			a.log.Info("file uploaded", "item_id", id, "filename", filename, "bytes", len(contents))
			uploaded = append(uploaded, id)
		}
	}

	if len(uploaded) == 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("no files in upload"))
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"success": true, "ids": uploaded})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListItems(r.Context(), 500)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []store.Item{}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"files": items})
}

// handleDelete removes the record, the stored blob, and the index entry.
// Blob and index cleanup are best-effort once the record is gone.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("missing id"))
		return
	}
	path, err := a.store.DeleteItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		a.writeJSON(w, http.StatusOK, map[string]any{"deleted": false})
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := a.blobs.Delete(path); err != nil {
		a.log.Warn("deleting blob", "item_id", id, "path", path, "error", err)
	}
	if a.index != nil {
		if err := a.index.Delete(r.Context(), id); err != nil {
			a.log.Warn("deleting index entry", "item_id", id, "error", err)
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	var req worker.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.Q == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("q must not be empty"))
		return
	}
	if req.TopK < 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("top_k must not be negative"))
		return
	}

	// The stored payload is the normalized request, not the raw body.
	payload, err := json.Marshal(req)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	id := uuid.NewString()
	if err := a.store.InsertTask(r.Context(), id, payload); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.log.Info("query enqueued", "task_id", id)
	a.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.store.TaskStatus(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]store.Status{"status": status})
}

func (a *API) handleQueryResult(w http.ResponseWriter, r *http.Request) {
	task, err := a.store.GetTask(r.Context(), r.URL.Query().Get("id"))
	if errors.Is(err, store.ErrNotFound) {
		a.writeJSON(w, http.StatusOK, map[string]any{"result": nil})
		return
	}
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	var result any
	if len(task.Result) > 0 {
		result = json.RawMessage(task.Result)
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (a *API) handleCancelQuery(w http.ResponseWriter, r *http.Request) {
	cancelled, err := a.store.CancelTask(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", "error", err)
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
