package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/timeutil"
	"github.com/docchat/docchat/internal/worker"
)

type documentSweepStore interface {
	ListByStatus(ctx context.Context, status string, limit uint) ([]model.Document, error)
	MarkFailed(ctx context.Context, docID, reason string, mtime int64) error
}

type pool interface {
	Submit(task worker.Task) error
	InFlight(key string) bool
}

type ingester interface {
	Ingest(ctx context.Context, docID string) error
}

// IngestSweepJob requeues pending documents that fell out of the worker
// queue (full queue, process restart) and fails documents stuck in
// indexing state from a crashed run, so they stop looking in-progress.
type IngestSweepJob struct {
	docs          documentSweepStore
	pool          pool
	ingest        ingester
	staleAfterSec int64
}

func NewIngestSweepJob(docs documentSweepStore, p pool, ingest ingester, staleAfterSec int64) *IngestSweepJob {
	if staleAfterSec <= 0 {
		staleAfterSec = 1800
	}
	return &IngestSweepJob{docs: docs, pool: p, ingest: ingest, staleAfterSec: staleAfterSec}
}

func (j *IngestSweepJob) Name() string {
	return "ingest_sweep"
}

func (j *IngestSweepJob) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	pending, err := j.docs.ListByStatus(ctx, model.DocumentStatusPending, 50)
	if err != nil {
		return err
	}
	for _, doc := range pending {
		if j.pool.InFlight(doc.ID) {
			continue
		}
		docID := doc.ID
		task := worker.Task{
			Key:  docID,
			Name: "ingest_document",
			Run: func(ctx context.Context) error {
				return j.ingest.Ingest(ctx, docID)
			},
		}
		if err := j.pool.Submit(task); err != nil {
			logger.Warn("requeue ingest", zap.String("document_id", docID), zap.Error(err))
			break
		}
	}

	stale := timeutil.NowUnix() - j.staleAfterSec
	indexing, err := j.docs.ListByStatus(ctx, model.DocumentStatusIndexing, 50)
	if err != nil {
		return err
	}
	for _, doc := range indexing {
		if doc.Mtime > stale || j.pool.InFlight(doc.ID) {
			continue
		}
		logger.Warn("failing interrupted ingestion", zap.String("document_id", doc.ID))
		if err := j.docs.MarkFailed(ctx, doc.ID, "ingestion interrupted", timeutil.NowUnix()); err != nil {
			logger.Error("mark interrupted ingestion failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return nil
}
