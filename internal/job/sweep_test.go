package job

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/timeutil"
	"github.com/docchat/docchat/internal/worker"
)

type fakeStore struct {
	byStatus map[string][]model.Document
	failed   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byStatus: make(map[string][]model.Document), failed: make(map[string]string)}
}

func (f *fakeStore) ListByStatus(ctx context.Context, status string, limit uint) ([]model.Document, error) {
	return f.byStatus[status], nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, docID, reason string, mtime int64) error {
	f.failed[docID] = reason
	return nil
}

type fakePool struct {
	tasks    []worker.Task
	inflight map[string]bool
	err      error
}

func (f *fakePool) Submit(task worker.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakePool) InFlight(key string) bool {
	return f.inflight[key]
}

type nopIngester struct{ calls []string }

func (n *nopIngester) Ingest(ctx context.Context, docID string) error {
	n.calls = append(n.calls, docID)
	return nil
}

type nopDeleter struct{ calls []string }

func (n *nopDeleter) Delete(ctx context.Context, docID string) error {
	n.calls = append(n.calls, docID)
	return nil
}

func TestIngestSweepRequeuesPending(t *testing.T) {
	store := newFakeStore()
	store.byStatus[model.DocumentStatusPending] = []model.Document{{ID: "d1"}, {ID: "d2"}}
	pool := &fakePool{inflight: map[string]bool{"d2": true}}
	ing := &nopIngester{}
	j := NewIngestSweepJob(store, pool, ing, 1800)

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, pool.tasks, 1, "in-flight documents must not be requeued")
	require.Equal(t, "d1", pool.tasks[0].Key)
	require.NoError(t, pool.tasks[0].Run(context.Background()))
	require.Equal(t, []string{"d1"}, ing.calls)
}

func TestIngestSweepFailsStaleIndexing(t *testing.T) {
	store := newFakeStore()
	store.byStatus[model.DocumentStatusIndexing] = []model.Document{
		{ID: "stale", Mtime: timeutil.NowUnix() - 7200},
		{ID: "fresh", Mtime: timeutil.NowUnix()},
	}
	pool := &fakePool{inflight: map[string]bool{}}
	j := NewIngestSweepJob(store, pool, &nopIngester{}, 1800)

	require.NoError(t, j.Run(context.Background()))
	require.Contains(t, store.failed, "stale")
	require.NotContains(t, store.failed, "fresh")
}

func TestDeleteSweepResumesStuckDeletes(t *testing.T) {
	store := newFakeStore()
	store.byStatus[model.DocumentStatusDeleting] = []model.Document{
		{ID: "stuck", Mtime: timeutil.NowUnix() - 600},
		{ID: "recent", Mtime: timeutil.NowUnix()},
	}
	pool := &fakePool{inflight: map[string]bool{}}
	del := &nopDeleter{}
	j := NewDeleteSweepJob(store, pool, del, 300)

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, pool.tasks, 1, "recent deletes are left to their own retries")
	require.Equal(t, "stuck", pool.tasks[0].Key)
	require.NoError(t, pool.tasks[0].Run(context.Background()))
	require.Equal(t, []string{"stuck"}, del.calls)
}

func TestDeleteSweepSkipsInFlight(t *testing.T) {
	store := newFakeStore()
	store.byStatus[model.DocumentStatusDeleting] = []model.Document{
		{ID: "busy", Mtime: timeutil.NowUnix() - 600},
	}
	pool := &fakePool{inflight: map[string]bool{"busy": true}}
	j := NewDeleteSweepJob(store, pool, &nopDeleter{}, 300)

	require.NoError(t, j.Run(context.Background()))
	require.Empty(t, pool.tasks)
}
