package service

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/filestore"
	"github.com/docchat/docchat/internal/loader"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/pkg/timeutil"
	"github.com/docchat/docchat/internal/worker"
)

type documentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, docID string) (*model.Document, error)
	List(ctx context.Context, limit, offset uint) ([]model.Document, error)
	TransitionStatus(ctx context.Context, docID string, from []string, to string, mtime int64) error
}

type taskSubmitter interface {
	Submit(task worker.Task) error
}

type ingester interface {
	Ingest(ctx context.Context, docID string) error
}

type deleter interface {
	Delete(ctx context.Context, docID string) error
}

// DocumentService handles the document CRUD surface. Uploads and deletes
// only stage the work: the heavy lifting runs on the worker pool, keyed by
// document id so ingestion and deletion of the same document never overlap.
type DocumentService struct {
	docs   documentStore
	store  filestore.Store
	pool   taskSubmitter
	ingest ingester
	delete deleter
}

func NewDocumentService(docs documentStore, store filestore.Store, pool taskSubmitter, ingest ingester, delete deleter) *DocumentService {
	return &DocumentService{docs: docs, store: store, pool: pool, ingest: ingest, delete: delete}
}

// Upload stores the blob, records the document as pending and queues
// ingestion. The caller gets the pending document back immediately and
// observes the status asynchronously.
func (s *DocumentService) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*model.Document, error) {
	filename = strings.TrimSpace(filepath.Base(filename))
	if filename == "" {
		return nil, appErr.ErrInvalid
	}
	if _, err := loader.ForFile(filename); err != nil {
		return nil, appErr.ErrInvalid
	}
	id := newID()
	key := id + strings.ToLower(filepath.Ext(filename))
	if err := s.store.Save(ctx, key, r, size); err != nil {
		return nil, err
	}
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:         id,
		Name:       filename,
		StorageKey: key,
		Status:     model.DocumentStatusPending,
		Ctime:      now,
		Mtime:      now,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if rerr := s.store.Remove(ctx, key); rerr != nil {
			logutil.GetLogger(ctx).Warn("remove orphan blob", zap.String("key", key), zap.Error(rerr))
		}
		return nil, err
	}
	s.enqueueIngest(ctx, id)
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, limit, offset uint) ([]model.Document, error) {
	return s.docs.List(ctx, limit, offset)
}

func (s *DocumentService) Get(ctx context.Context, docID string) (*model.Document, error) {
	return s.docs.GetByID(ctx, docID)
}

// Reindex re-runs ingestion for a ready or failed document, replacing its
// chunks and index entries.
func (s *DocumentService) Reindex(ctx context.Context, docID string) (*model.Document, error) {
	from := []string{model.DocumentStatusReady, model.DocumentStatusFailed}
	if err := s.docs.TransitionStatus(ctx, docID, from, model.DocumentStatusPending, timeutil.NowUnix()); err != nil {
		if appErr.IsConflict(err) {
			if doc, gerr := s.docs.GetByID(ctx, docID); gerr == nil && doc.Status == model.DocumentStatusIndexing {
				return nil, appErr.ErrAlreadyIndexing
			}
			return nil, err
		}
		return nil, err
	}
	s.enqueueIngest(ctx, docID)
	return s.docs.GetByID(ctx, docID)
}

// Delete queues the tri-store removal. A delete of a document whose
// ingestion is still running is queued behind it on the same worker key.
func (s *DocumentService) Delete(ctx context.Context, docID string) error {
	if _, err := s.docs.GetByID(ctx, docID); err != nil {
		return err
	}
	task := worker.Task{
		Key:  docID,
		Name: "delete_document",
		Run: func(ctx context.Context) error {
			return s.delete.Delete(ctx, docID)
		},
	}
	if err := s.pool.Submit(task); err != nil {
		logutil.GetLogger(ctx).Warn("queue delete", zap.String("document_id", docID), zap.Error(err))
		return err
	}
	return nil
}

// enqueueIngest leaves the document pending if the queue is full; the
// pending sweep picks it up later.
func (s *DocumentService) enqueueIngest(ctx context.Context, docID string) {
	task := worker.Task{
		Key:  docID,
		Name: "ingest_document",
		Run: func(ctx context.Context) error {
			return s.ingest.Ingest(ctx, docID)
		},
	}
	if err := s.pool.Submit(task); err != nil {
		logutil.GetLogger(ctx).Warn("queue ingest", zap.String("document_id", docID), zap.Error(err))
	}
}
