package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/timeutil"
	"github.com/docchat/docchat/internal/worker"
)

type deletingLister interface {
	ListByStatus(ctx context.Context, status string, limit uint) ([]model.Document, error)
}

type deleter interface {
	Delete(ctx context.Context, docID string) error
}

// DeleteSweepJob resumes documents stuck in deleting state. A document
// stays deleting only when a removal step kept failing or the process
// died mid-delete; either way the remaining steps are retried until all
// three stores are clean.
type DeleteSweepJob struct {
	docs          deletingLister
	pool          pool
	delete        deleter
	retryAfterSec int64
}

func NewDeleteSweepJob(docs deletingLister, p pool, delete deleter, retryAfterSec int64) *DeleteSweepJob {
	if retryAfterSec <= 0 {
		retryAfterSec = 300
	}
	return &DeleteSweepJob{docs: docs, pool: p, delete: delete, retryAfterSec: retryAfterSec}
}

func (j *DeleteSweepJob) Name() string {
	return "delete_sweep"
}

func (j *DeleteSweepJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	docs, err := j.docs.ListByStatus(ctx, model.DocumentStatusDeleting, 50)
	if err != nil {
		return err
	}
	cutoff := timeutil.NowUnix() - j.retryAfterSec
	for _, doc := range docs {
		if doc.Mtime > cutoff || j.pool.InFlight(doc.ID) {
			continue
		}
		docID := doc.ID
		task := worker.Task{
			Key:  docID,
			Name: "delete_document",
			Run: func(ctx context.Context) error {
				return j.delete.Delete(ctx, docID)
			},
		}
		if err := j.pool.Submit(task); err != nil {
			logger.Warn("requeue delete", zap.String("document_id", docID), zap.Error(err))
			break
		}
	}
	return nil
}
