package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/astradocs/astra/internal/blob"
	"github.com/astradocs/astra/internal/store"
)

// ImportSummary reports the outcome of a seed-directory import.
type ImportSummary struct {
	FilesFound int    `json:"files_found"`
	Imported   int    `json:"imported"`
	Skipped    int    `json:"skipped"`
	SourceDir  string `json:"source_dir"`
	Error      string `json:"error,omitempty"`
}

// ImportDir enqueues every regular file in dir for analysis. Files whose name
// already exists in the store are skipped, so running the import repeatedly
// is safe. Per-file failures are recorded in the summary and do not abort the
// rest of the import.
func ImportDir(ctx context.Context, dir string, st *store.Store, blobs *blob.Store, log *slog.Logger) (ImportSummary, error) {
	if log == nil {
		log = slog.Default()
	}
	summary := ImportSummary{SourceDir: dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("reading import dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filename := entry.Name()
		summary.FilesFound++

		exists, err := st.HasItemWithFilename(ctx, filename)
		if err != nil {
			return summary, err
		}
		if exists {
			summary.Skipped++
			continue
		}

		contents, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			log.Warn("reading seed file", "filename", filename, "error", err)
			summary.Error = err.Error()
			continue
		}
		path, err := blobs.Save(filename, contents)
		if err != nil {
			log.Warn("saving seed file", "filename", filename, "error", err)
			summary.Error = err.Error()
			continue
		}
		if err := st.InsertItem(ctx, uuid.NewString(), filename, path, nil); err != nil {
			return summary, err
		}
		summary.Imported++
	}

	log.Info("seed import finished",
		"source", dir,
		"files_found", summary.FilesFound,
		"imported", summary.Imported,
		"skipped", summary.Skipped)
	return summary, nil
}
