package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/repo"
)

func deleteConfig() config.DeleteConfig {
	return config.DeleteConfig{MaxAttempts: 3, BackoffMS: 1, MaxBackoffMS: 2}
}

type deleteFixture struct {
	docs    *memDocs
	chunks  *memChunks
	lexical *memLexical
	vectors *memVectors
	store   *memBlobStore
	svc     *DeleteService
}

func newDeleteFixture(doc *model.Document) *deleteFixture {
	f := &deleteFixture{
		docs:    newMemDocs(doc),
		chunks:  newMemChunks(),
		lexical: newMemLexical(),
		vectors: newMemVectors(),
		store:   newMemBlobStore(),
	}
	f.store.blobs[doc.StorageKey] = []byte("blob data")
	f.chunks.rows[doc.ID] = []model.Chunk{{ID: "c1", DocumentID: doc.ID}}
	f.lexical.rows[doc.ID] = []repo.LexicalEntry{{Token: "tok", ChunkID: "c1", DocumentID: doc.ID}}
	f.vectors.rows[doc.ID] = []model.ChunkEmbedding{{Chunk: model.Chunk{ID: "c1", DocumentID: doc.ID}}}
	f.svc = NewDeleteService(f.docs, f.chunks, f.lexical, f.vectors, f.store, deleteConfig())
	return f
}

func readyDoc() *model.Document {
	return &model.Document{
		ID:         "doc-1",
		Name:       "notes.txt",
		StorageKey: "doc-1.txt",
		Status:     model.DocumentStatusReady,
	}
}

func TestDeleteRemovesAllStores(t *testing.T) {
	f := newDeleteFixture(readyDoc())
	require.NoError(t, f.svc.Delete(context.Background(), "doc-1"))

	_, err := f.docs.GetByID(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Empty(t, f.chunks.rows["doc-1"])
	require.Empty(t, f.lexical.rows["doc-1"])
	require.Empty(t, f.vectors.rows["doc-1"])
	exists, err := f.store.Exists(context.Background(), "doc-1.txt")
	require.NoError(t, err)
	require.False(t, exists, "blob must be gone after delete")
}

func TestDeleteMissingDocumentIsNoOp(t *testing.T) {
	f := newDeleteFixture(readyDoc())
	require.NoError(t, f.svc.Delete(context.Background(), "unknown"))
}

func TestDeleteRetriesTransientFailure(t *testing.T) {
	f := newDeleteFixture(readyDoc())
	f.store.removeErr = []error{errors.New("timeout"), errors.New("timeout")}
	require.NoError(t, f.svc.Delete(context.Background(), "doc-1"))

	_, err := f.docs.GetByID(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	exists, _ := f.store.Exists(context.Background(), "doc-1.txt")
	require.False(t, exists)
}

func TestDeletePermanentFailureStaysDeleting(t *testing.T) {
	f := newDeleteFixture(readyDoc())
	f.store.removeErr = []error{
		errors.New("access denied"),
		errors.New("access denied"),
		errors.New("access denied"),
	}
	err := f.svc.Delete(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrDeleteIncomplete)

	doc, gerr := f.docs.GetByID(context.Background(), "doc-1")
	require.NoError(t, gerr)
	require.Equal(t, model.DocumentStatusDeleting, doc.Status, "half-deleted document must never look healthy")
	require.Contains(t, doc.FailReason, "blob")
	// the index entries removed before the failing step stay removed
	require.Empty(t, f.lexical.rows["doc-1"])
	require.Empty(t, f.vectors.rows["doc-1"])
}

func TestDeleteResumesStuckDelete(t *testing.T) {
	doc := readyDoc()
	doc.Status = model.DocumentStatusDeleting
	doc.FailReason = "delete step blob: access denied"
	f := newDeleteFixture(doc)
	require.NoError(t, f.svc.Delete(context.Background(), "doc-1"))

	_, err := f.docs.GetByID(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDeleteIndexingLeftByCrashedRun(t *testing.T) {
	doc := readyDoc()
	doc.Status = model.DocumentStatusIndexing
	f := newDeleteFixture(doc)
	require.NoError(t, f.svc.Delete(context.Background(), "doc-1"))

	_, err := f.docs.GetByID(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Empty(t, f.chunks.rows["doc-1"])
	exists, _ := f.store.Exists(context.Background(), "doc-1.txt")
	require.False(t, exists)
}

func TestDeletePendingDocument(t *testing.T) {
	doc := readyDoc()
	doc.Status = model.DocumentStatusPending
	f := newDeleteFixture(doc)
	require.NoError(t, f.svc.Delete(context.Background(), "doc-1"))
	_, err := f.docs.GetByID(context.Background(), "doc-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
