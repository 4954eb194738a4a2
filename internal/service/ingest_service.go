package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/docchat/docchat/internal/ai"
	"github.com/docchat/docchat/internal/filestore"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/loader"
	"github.com/docchat/docchat/internal/model"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
	"github.com/docchat/docchat/internal/pkg/timeutil"
	"github.com/docchat/docchat/internal/repo"
	"github.com/docchat/docchat/internal/retrieval"
)

type documentIngestStore interface {
	GetByID(ctx context.Context, docID string) (*model.Document, error)
	TransitionStatus(ctx context.Context, docID string, from []string, to string, mtime int64) error
	MarkReadyTx(ctx context.Context, q repo.Queryer, docID string, pageCount, chunkCount int, mtime int64) error
	MarkFailed(ctx context.Context, docID, reason string, mtime int64) error
}

type chunkWriter interface {
	InsertBatchTx(ctx context.Context, q repo.Queryer, chunks []model.Chunk) error
	DeleteByDocumentTx(ctx context.Context, q repo.Queryer, docID string) (int64, error)
}

type lexicalWriter interface {
	InsertBatchTx(ctx context.Context, q repo.Queryer, entries []repo.LexicalEntry) error
	DeleteByDocumentTx(ctx context.Context, q repo.Queryer, docID string) (int64, error)
}

type vectorWriter interface {
	InsertBatchTx(ctx context.Context, q repo.Queryer, items []model.ChunkEmbedding) error
	DeleteByDocumentTx(ctx context.Context, q repo.Queryer, docID string) (int64, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

// IngestService turns an uploaded file into chunks plus lexical and vector
// index entries. The chunk rows, both index writes and the ready flip all
// commit in one transaction, so a document is either fully indexed or not
// indexed at all.
type IngestService struct {
	docs        documentIngestStore
	chunks      chunkWriter
	lexical     lexicalWriter
	vectors     vectorWriter
	store       filestore.Store
	embed       Embedder
	tx          repo.TxRunner
	chunker     *ingest.Chunker
	concurrency int
}

func NewIngestService(docs documentIngestStore, chunks chunkWriter, lexical lexicalWriter, vectors vectorWriter,
	store filestore.Store, embed Embedder, tx repo.TxRunner, chunker *ingest.Chunker, concurrency int) *IngestService {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &IngestService{
		docs:        docs,
		chunks:      chunks,
		lexical:     lexical,
		vectors:     vectors,
		store:       store,
		embed:       embed,
		tx:          tx,
		chunker:     chunker,
		concurrency: concurrency,
	}
}

// Ingest processes one pending or failed document. A document already being
// indexed is rejected with ErrAlreadyIndexing; a ready document is rejected
// with ErrConflict, so repeating the call never duplicates chunks.
func (s *IngestService) Ingest(ctx context.Context, docID string) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return err
	}
	from := []string{model.DocumentStatusPending, model.DocumentStatusFailed}
	if err := s.docs.TransitionStatus(ctx, docID, from, model.DocumentStatusIndexing, timeutil.NowUnix()); err != nil {
		if appErr.IsConflict(err) {
			if current, gerr := s.docs.GetByID(ctx, docID); gerr == nil && current.Status == model.DocumentStatusIndexing {
				return appErr.ErrAlreadyIndexing
			}
			return fmt.Errorf("%w: document not ingestable", appErr.ErrConflict)
		}
		return err
	}

	pages, err := s.loadPages(ctx, doc)
	if err != nil {
		return s.fail(ctx, docID, fmt.Errorf("%w: %v", appErr.ErrUnreadableFile, err))
	}
	pieces := s.chunker.Split(pages)
	if len(pieces) == 0 {
		return s.fail(ctx, docID, fmt.Errorf("%w: no extractable text", appErr.ErrUnreadableFile))
	}

	now := timeutil.NowUnix()
	chunks := make([]model.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, model.Chunk{
			ID:         newID(),
			DocumentID: docID,
			Page:       piece.Page,
			Content:    piece.Content,
			Ctime:      now,
		})
	}
	embedded, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return s.fail(ctx, docID, fmt.Errorf("%w: %v", appErr.ErrEmbeddingFailed, err))
	}
	lexEntries := buildLexicalEntries(chunks)

	err = s.tx.RunTx(ctx, func(q repo.Queryer) error {
		// Re-ingestion replaces whatever a previous run left behind.
		if _, err := s.lexical.DeleteByDocumentTx(ctx, q, docID); err != nil {
			return fmt.Errorf("clear lexical entries: %w", err)
		}
		if _, err := s.vectors.DeleteByDocumentTx(ctx, q, docID); err != nil {
			return fmt.Errorf("clear vector entries: %w", err)
		}
		if _, err := s.chunks.DeleteByDocumentTx(ctx, q, docID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if err := s.chunks.InsertBatchTx(ctx, q, chunks); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
		if err := s.lexical.InsertBatchTx(ctx, q, lexEntries); err != nil {
			return fmt.Errorf("insert lexical entries: %w", err)
		}
		if err := s.vectors.InsertBatchTx(ctx, q, embedded); err != nil {
			return fmt.Errorf("insert vector entries: %w", err)
		}
		return s.docs.MarkReadyTx(ctx, q, docID, len(pages), len(chunks), timeutil.NowUnix())
	})
	if err != nil {
		return s.fail(ctx, docID, fmt.Errorf("commit index: %w", err))
	}
	logger.Info("document ingested",
		zap.Int("pages", len(pages)),
		zap.Int("chunks", len(chunks)),
		zap.Int("lexical_entries", len(lexEntries)))
	return nil
}

func (s *IngestService) loadPages(ctx context.Context, doc *model.Document) ([]loader.Page, error) {
	l, err := loader.ForFile(doc.Name)
	if err != nil {
		return nil, err
	}
	reader, err := s.store.Open(ctx, doc.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	defer reader.Close()
	pages, err := l.Load(reader, doc.Name)
	if err != nil {
		return nil, err
	}
	return pages, nil
}

// embedChunks embeds in parallel up to the configured concurrency. The
// first failure cancels the remaining work.
func (s *IngestService) embedChunks(ctx context.Context, chunks []model.Chunk) ([]model.ChunkEmbedding, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make([]model.ChunkEmbedding, len(chunks))
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := range chunks {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			embedding, err := s.embed.Embed(ctx, chunks[i].Content, ai.TaskTypeDocument)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("chunk %d: %w", i, err)
					cancel()
				}
				mu.Unlock()
				return
			}
			items[i] = model.ChunkEmbedding{Chunk: chunks[i], Embedding: embedding}
		}(i)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return items, nil
}

func buildLexicalEntries(chunks []model.Chunk) []repo.LexicalEntry {
	entries := make([]repo.LexicalEntry, 0, len(chunks)*8)
	for _, chunk := range chunks {
		for _, token := range retrieval.Keywords(chunk.Content) {
			entries = append(entries, repo.LexicalEntry{
				Token:      token,
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
			})
		}
	}
	return entries
}

func (s *IngestService) fail(ctx context.Context, docID string, cause error) error {
	reason := cause.Error()
	if len(reason) > 500 {
		reason = reason[:500]
	}
	if err := s.docs.MarkFailed(ctx, docID, reason, timeutil.NowUnix()); err != nil && !errors.Is(err, appErr.ErrNotFound) {
		logutil.GetLogger(ctx).Error("mark document failed", zap.String("document_id", docID), zap.Error(err))
	}
	return cause
}
