package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/dbutil"
)

// LexicalEntry maps one normalized token or n-gram to one chunk.
type LexicalEntry struct {
	Token      string
	ChunkID    string
	DocumentID string
}

// LexicalHit is a chunk that matched some of the queried tokens, together
// with how many distinct tokens it covered.
type LexicalHit struct {
	ChunkID    string
	DocumentID string
	Hits       int
}

type LexicalRepo struct {
	db *sql.DB
}

func NewLexicalRepo(db *sql.DB) *LexicalRepo {
	return &LexicalRepo{db: db}
}

func (r *LexicalRepo) InsertBatchTx(ctx context.Context, q Queryer, entries []LexicalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	// Large documents produce many entries; insert in slices to keep each
	// statement's placeholder count reasonable.
	const batchSize = 500
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := entries[start:end]
		var sb strings.Builder
		sb.WriteString("INSERT INTO lexical_entries (token, chunk_id, document_id) VALUES ")
		args := make([]interface{}, 0, len(batch)*3)
		for i, entry := range batch {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?,?,?)")
			args = append(args, entry.Token, entry.ChunkID, entry.DocumentID)
		}
		sb.WriteString(" ON CONFLICT (token, chunk_id) DO NOTHING")
		sqlStr, args := dbutil.Finalize(sb.String(), args)
		if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

// Search returns chunks covering at least minHits of the given tokens,
// restricted to ready documents so that deleting or half-indexed documents
// never surface. minHits == len(tokens) is the exact AND query; a smaller
// value is the relaxed fuzzy query.
func (r *LexicalRepo) Search(ctx context.Context, tokens []string, minHits int, limit int) ([]LexicalHit, error) {
	if len(tokens) == 0 || minHits <= 0 {
		return []LexicalHit{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	query := fmt.Sprintf(`
		SELECT l.chunk_id, l.document_id, COUNT(DISTINCT l.token) AS hits
		FROM lexical_entries l
		JOIN documents d ON d.id = l.document_id
		WHERE l.token IN (%s) AND d.status = ?
		GROUP BY l.chunk_id, l.document_id
		HAVING COUNT(DISTINCT l.token) >= ?
		ORDER BY hits DESC
		LIMIT ?
	`, placeholders)
	args := make([]interface{}, 0, len(tokens)+3)
	for _, token := range tokens {
		args = append(args, token)
	}
	args = append(args, model.DocumentStatusReady, minHits, limit)
	sqlStr, args := dbutil.Finalize(query, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	hits := make([]LexicalHit, 0)
	for rows.Next() {
		var hit LexicalHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.Hits); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// DeleteByDocument removes every index entry referencing the document. It
// returns the number of removed entries so deletion can log what it purged.
func (r *LexicalRepo) DeleteByDocument(ctx context.Context, docID string) (int64, error) {
	return r.DeleteByDocumentTx(ctx, r.db, docID)
}

func (r *LexicalRepo) DeleteByDocumentTx(ctx context.Context, q Queryer, docID string) (int64, error) {
	sqlStr, args := dbutil.Finalize("DELETE FROM lexical_entries WHERE document_id = ?", []interface{}{docID})
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *LexicalRepo) CountByDocument(ctx context.Context, docID string) (int, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(1) FROM lexical_entries WHERE document_id = ?", []interface{}{docID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
