// Package jobs runs the async worker that consumes deferred file-upload
// jobs from the catalog jobs table.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brevia-ai/brevia-sync/internal/catalog"
	"github.com/brevia-ai/brevia-sync/internal/index"
)

// Store abstracts the job queue and the lookups a job needs.
type Store interface {
	ClaimNextJob(types []string) (*catalog.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetCollection(id string) (catalog.Collection, error)
	GetDocument(id string) (catalog.Document, error)
}

// Uploader performs the synchronous file upload.
type Uploader interface {
	UploadDocument(ctx context.Context, collection *catalog.Collection, doc *catalog.Document) error
}

// Worker processes index_file jobs from the SQLite job queue. Each job is
// claimed exactly once; a failed upload leaves the document in
// "processing" and reschedules the job within its attempt budget.
type Worker struct {
	store    Store
	uploader Uploader
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, uploader Uploader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		uploader: uploader,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_file job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{index.JobTypeIndexFile})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("index file job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *catalog.Job) error {
	var payload index.IndexFilePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	collection, err := w.store.GetCollection(payload.CollectionID)
	if err != nil {
		return fmt.Errorf("loading collection %s: %w", payload.CollectionID, err)
	}
	doc, err := w.store.GetDocument(payload.FileID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.FileID, err)
	}

	if err := w.uploader.UploadDocument(ctx, &collection, &doc); err != nil {
		return fmt.Errorf("uploading document %s: %w", doc.ID, err)
	}
	return nil
}
