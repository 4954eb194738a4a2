package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/pkg/timeutil"
)

type documentDeleteStore interface {
	GetByID(ctx context.Context, docID string) (*model.Document, error)
	TransitionStatus(ctx context.Context, docID string, from []string, to string, mtime int64) error
	RecordDeleteFailure(ctx context.Context, docID, reason string, mtime int64) error
	Purge(ctx context.Context, docID string) error
}

type indexCleaner interface {
	DeleteByDocument(ctx context.Context, docID string) (int64, error)
}

type blobRemover interface {
	Remove(ctx context.Context, key string) error
}

// DeleteService removes a document from all three stores it touches:
// the two index tables plus chunk metadata in the database, and the blob in
// file storage. After a successful Delete, lookups in every store return
// not-found. A failing step is retried with backoff; if it keeps failing
// the document stays in deleting state with the error recorded, never
// reverted to ready.
type DeleteService struct {
	docs    documentDeleteStore
	chunks  indexCleaner
	lexical indexCleaner
	vectors indexCleaner
	store   blobRemover
	cfg     config.DeleteConfig
}

func NewDeleteService(docs documentDeleteStore, chunks, lexical, vectors indexCleaner, store blobRemover, cfg config.DeleteConfig) *DeleteService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffMS <= 0 {
		cfg.BackoffMS = 200
	}
	if cfg.MaxBackoffMS < cfg.BackoffMS {
		cfg.MaxBackoffMS = cfg.BackoffMS * 10
	}
	return &DeleteService{docs: docs, chunks: chunks, lexical: lexical, vectors: vectors, store: store, cfg: cfg}
}

func (s *DeleteService) Delete(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		if appErr.IsNotFound(err) {
			// Already purged, nothing left to do.
			return nil
		}
		return err
	}

	// The deleting gate keeps mid-delete chunks out of every search; the
	// transition is re-entrant so a retry sweep can resume a stuck delete.
	// Indexing is accepted too: deletes run on the same per-document key as
	// ingests, so by the time this task executes no ingest for the id is
	// live and an indexing status can only be the residue of a crashed run.
	from := []string{
		model.DocumentStatusPending,
		model.DocumentStatusIndexing,
		model.DocumentStatusReady,
		model.DocumentStatusFailed,
		model.DocumentStatusDeleting,
	}
	if err := s.docs.TransitionStatus(ctx, docID, from, model.DocumentStatusDeleting, timeutil.NowUnix()); err != nil {
		return err
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"lexical_entries", func(ctx context.Context) error {
			removed, err := s.lexical.DeleteByDocument(ctx, docID)
			if err == nil && removed > 0 {
				logger.Info("removed lexical entries", zap.Int64("count", removed))
			}
			return err
		}},
		{"vector_entries", func(ctx context.Context) error {
			removed, err := s.vectors.DeleteByDocument(ctx, docID)
			if err == nil && removed > 0 {
				logger.Info("removed vector entries", zap.Int64("count", removed))
			}
			return err
		}},
		{"chunks", func(ctx context.Context) error {
			_, err := s.chunks.DeleteByDocument(ctx, docID)
			return err
		}},
		{"blob", func(ctx context.Context) error {
			return s.store.Remove(ctx, doc.StorageKey)
		}},
		{"document", func(ctx context.Context) error {
			return s.docs.Purge(ctx, docID)
		}},
	}
	for _, step := range steps {
		if err := s.retry(ctx, step.name, step.fn); err != nil {
			reason := fmt.Sprintf("delete step %s: %v", step.name, err)
			if rerr := s.docs.RecordDeleteFailure(ctx, docID, reason, timeutil.NowUnix()); rerr != nil {
				logger.Error("record delete failure", zap.Error(rerr))
			}
			logger.Error("delete incomplete", zap.String("step", step.name), zap.Error(err))
			return fmt.Errorf("%w: %s", appErr.ErrDeleteIncomplete, reason)
		}
	}
	logger.Info("document deleted")
	return nil
}

func (s *DeleteService) retry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	backoff := time.Duration(s.cfg.BackoffMS) * time.Millisecond
	maxBackoff := time.Duration(s.cfg.MaxBackoffMS) * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		logutil.GetLogger(ctx).Warn("delete step failed",
			zap.String("step", name), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == s.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}
