package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/worker"
)

type fakePool struct {
	tasks []worker.Task
	err   error
}

func (f *fakePool) Submit(task worker.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type recordingIngester struct {
	calls []string
}

func (r *recordingIngester) Ingest(ctx context.Context, docID string) error {
	r.calls = append(r.calls, docID)
	return nil
}

type recordingDeleter struct {
	calls []string
}

func (r *recordingDeleter) Delete(ctx context.Context, docID string) error {
	r.calls = append(r.calls, docID)
	return nil
}

type docFixture struct {
	docs    *memDocs
	store   *memBlobStore
	pool    *fakePool
	ingest  *recordingIngester
	deleter *recordingDeleter
	svc     *DocumentService
}

func newDocFixture(docs ...*model.Document) *docFixture {
	f := &docFixture{
		docs:    newMemDocs(docs...),
		store:   newMemBlobStore(),
		pool:    &fakePool{},
		ingest:  &recordingIngester{},
		deleter: &recordingDeleter{},
	}
	f.svc = NewDocumentService(f.docs, f.store, f.pool, f.ingest, f.deleter)
	return f
}

func TestUploadCreatesPendingAndQueuesIngest(t *testing.T) {
	f := newDocFixture()
	doc, err := f.svc.Upload(context.Background(), "handbook.txt", strings.NewReader("employee handbook"), 17)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, doc.Status)
	require.Equal(t, "handbook.txt", doc.Name)

	stored, err := f.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, stored.Status)

	exists, err := f.store.Exists(context.Background(), doc.StorageKey)
	require.NoError(t, err)
	require.True(t, exists)

	require.Len(t, f.pool.tasks, 1)
	require.Equal(t, doc.ID, f.pool.tasks[0].Key)
	require.NoError(t, f.pool.tasks[0].Run(context.Background()))
	require.Equal(t, []string{doc.ID}, f.ingest.calls)
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	f := newDocFixture()
	_, err := f.svc.Upload(context.Background(), "photo.png", strings.NewReader("binary"), 6)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Empty(t, f.pool.tasks)
}

func TestUploadQueueFullLeavesPending(t *testing.T) {
	f := newDocFixture()
	f.pool.err = worker.ErrQueueFull
	doc, err := f.svc.Upload(context.Background(), "notes.txt", strings.NewReader("text"), 4)
	require.NoError(t, err, "a full queue defers ingestion to the sweep, it does not fail the upload")
	stored, err := f.docs.GetByID(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, stored.Status)
}

func TestDeleteQueuesTask(t *testing.T) {
	doc := readyDoc()
	f := newDocFixture(doc)
	require.NoError(t, f.svc.Delete(context.Background(), doc.ID))
	require.Len(t, f.pool.tasks, 1)
	require.Equal(t, doc.ID, f.pool.tasks[0].Key)
	require.NoError(t, f.pool.tasks[0].Run(context.Background()))
	require.Equal(t, []string{doc.ID}, f.deleter.calls)
}

func TestDeleteUnknownDocument(t *testing.T) {
	f := newDocFixture()
	err := f.svc.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Empty(t, f.pool.tasks)
}

func TestReindexReadyDocument(t *testing.T) {
	doc := readyDoc()
	f := newDocFixture(doc)
	got, err := f.svc.Reindex(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusPending, got.Status)
	require.Len(t, f.pool.tasks, 1)
}

func TestReindexWhileIndexing(t *testing.T) {
	doc := readyDoc()
	doc.Status = model.DocumentStatusIndexing
	f := newDocFixture(doc)
	_, err := f.svc.Reindex(context.Background(), doc.ID)
	require.ErrorIs(t, err, appErr.ErrAlreadyIndexing)
	require.Empty(t, f.pool.tasks)
}
