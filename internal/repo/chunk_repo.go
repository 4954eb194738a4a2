package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/dbutil"
)

type ChunkRepo struct {
	db *sql.DB
}

func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) InsertBatchTx(ctx context.Context, q Queryer, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		data = append(data, map[string]interface{}{
			"id":          chunk.ID,
			"document_id": chunk.DocumentID,
			"page":        chunk.Page,
			"content":     chunk.Content,
			"ctime":       chunk.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("chunks", data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = q.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChunkRepo) ListByIDs(ctx context.Context, chunkIDs []string) ([]model.Chunk, error) {
	if len(chunkIDs) == 0 {
		return []model.Chunk{}, nil
	}
	ids := make([]interface{}, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, id)
	}
	where := map[string]interface{}{"id in": ids}
	sqlStr, args, err := builder.BuildSelect("chunks", where, []string{"id", "document_id", "page", "content", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]model.Chunk, 0, len(chunkIDs))
	for rows.Next() {
		var chunk model.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Page, &chunk.Content, &chunk.Ctime); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepo) ListIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	sqlStr, args := dbutil.Finalize("SELECT id FROM chunks WHERE document_id = ?", []interface{}{docID})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	return r.DeleteByDocumentTx(ctx, r.db, docID)
}

func (r *ChunkRepo) DeleteByDocumentTx(ctx context.Context, q Queryer, docID string) (int64, error) {
	where := map[string]interface{}{"document_id": docID}
	sqlStr, args, err := builder.BuildDelete("chunks", where)
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *ChunkRepo) CountByDocument(ctx context.Context, docID string) (int, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(1) FROM chunks WHERE document_id = ?", []interface{}{docID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
