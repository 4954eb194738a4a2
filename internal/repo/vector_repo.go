package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/dbutil"
)

// VectorHit is one nearest-neighbor result with its similarity normalized
// to [0,1]: cosine similarity clamped at zero, so orthogonal-or-worse
// vectors all score 0.
type VectorHit struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

type VectorRepo struct {
	db *sql.DB
}

func NewVectorRepo(db *sql.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

func (r *VectorRepo) InsertBatchTx(ctx context.Context, q Queryer, items []model.ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO vector_entries (chunk_id, document_id, embedding) VALUES ")
	args := make([]interface{}, 0, len(items)*3)
	for i, item := range items {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?)")
		args = append(args, item.Chunk.ID, item.Chunk.DocumentID, pgvector.NewVector(item.Embedding))
	}
	sqlStr, args := dbutil.Finalize(sb.String(), args)
	_, err := q.ExecContext(ctx, sqlStr, args...)
	return err
}

// Search runs nearest-neighbor lookup over ready documents only.
func (r *VectorRepo) Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error) {
	const query = `
		SELECT v.chunk_id, v.document_id, GREATEST(1 - (v.embedding <=> ?), 0) AS score
		FROM vector_entries v
		JOIN documents d ON d.id = v.document_id
		WHERE d.status = ?
		ORDER BY v.embedding <=> ?
		LIMIT ?
	`
	vec := pgvector.NewVector(embedding)
	sqlStr, args := dbutil.Finalize(query, []interface{}{vec, model.DocumentStatusReady, vec, topK})
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]VectorHit, 0, topK)
	for rows.Next() {
		var hit VectorHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Score); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (r *VectorRepo) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	return r.DeleteByDocumentTx(ctx, r.db, docID)
}

func (r *VectorRepo) DeleteByDocumentTx(ctx context.Context, q Queryer, docID string) (int64, error) {
	sqlStr, args := dbutil.Finalize("DELETE FROM vector_entries WHERE document_id = ?", []interface{}{docID})
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *VectorRepo) CountByDocument(ctx context.Context, docID string) (int, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(1) FROM vector_entries WHERE document_id = ?", []interface{}{docID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
