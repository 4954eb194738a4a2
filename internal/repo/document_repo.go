package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/docchat/docchat/internal/model"
	"github.com/docchat/docchat/internal/pkg/dbutil"
	appErr "github.com/docchat/docchat/internal/pkg/errors"
)

type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

var documentFields = []string{"id", "name", "storage_key", "status", "page_count", "chunk_count", "fail_reason", "ctime", "mtime"}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	data := map[string]interface{}{
		"id":          doc.ID,
		"name":        doc.Name,
		"storage_key": doc.StorageKey,
		"status":      doc.Status,
		"page_count":  doc.PageCount,
		"chunk_count": doc.ChunkCount,
		"fail_reason": doc.FailReason,
		"ctime":       doc.Ctime,
		"mtime":       doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, docID string) (*model.Document, error) {
	where := map[string]interface{}{"id": docID}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var doc model.Document
	if err := scanDocument(rows, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit, offset uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"_orderby": "ctime desc",
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) ListByStatus(ctx context.Context, status string, limit uint) ([]model.Document, error) {
	where := map[string]interface{}{
		"status":   status,
		"_orderby": "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) ListByIDs(ctx context.Context, docIDs []string) ([]model.Document, error) {
	if len(docIDs) == 0 {
		return []model.Document{}, nil
	}
	ids := make([]interface{}, 0, len(docIDs))
	for _, id := range docIDs {
		ids = append(ids, id)
	}
	where := map[string]interface{}{
		"id in": ids,
	}
	return r.list(ctx, where)
}

func (r *DocumentRepo) list(ctx context.Context, where map[string]interface{}) ([]model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// TransitionStatus moves a document from one of the expected statuses to the
// next one. It reports ErrConflict when the document is not in an expected
// status, which is how concurrent ingest/delete attempts are rejected.
func (r *DocumentRepo) TransitionStatus(ctx context.Context, docID string, from []string, to string, mtime int64) error {
	froms := make([]interface{}, 0, len(from))
	for _, s := range from {
		froms = append(froms, s)
	}
	where := map[string]interface{}{
		"id":        docID,
		"status in": froms,
	}
	update := map[string]interface{}{
		"status": to,
		"mtime":  mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.GetByID(ctx, docID); err != nil {
			return err
		}
		return appErr.ErrConflict
	}
	return nil
}

// MarkReadyTx flips indexing -> ready together with the final counts, inside
// the same transaction that commits the chunk and index writes.
func (r *DocumentRepo) MarkReadyTx(ctx context.Context, q Queryer, docID string, pageCount, chunkCount int, mtime int64) error {
	where := map[string]interface{}{
		"id":     docID,
		"status": model.DocumentStatusIndexing,
	}
	update := map[string]interface{}{
		"status":      model.DocumentStatusReady,
		"page_count":  pageCount,
		"chunk_count": chunkCount,
		"fail_reason": "",
		"mtime":       mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrConflict
	}
	return nil
}

func (r *DocumentRepo) MarkFailed(ctx context.Context, docID, reason string, mtime int64) error {
	return r.setFailReason(ctx, docID, model.DocumentStatusFailed, reason, mtime)
}

// RecordDeleteFailure keeps the document in deleting state and stores the
// error for operators. A half-deleted document must never look healthy.
func (r *DocumentRepo) RecordDeleteFailure(ctx context.Context, docID, reason string, mtime int64) error {
	return r.setFailReason(ctx, docID, model.DocumentStatusDeleting, reason, mtime)
}

func (r *DocumentRepo) setFailReason(ctx context.Context, docID, status, reason string, mtime int64) error {
	where := map[string]interface{}{"id": docID}
	update := map[string]interface{}{
		"status":      status,
		"fail_reason": reason,
		"mtime":       mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// Purge removes the document row itself, the final step of deletion.
func (r *DocumentRepo) Purge(ctx context.Context, docID string) error {
	where := map[string]interface{}{"id": docID}
	sqlStr, args, err := builder.BuildDelete("documents", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) Exists(ctx context.Context, docID string) (bool, error) {
	sqlStr, args := dbutil.Finalize("SELECT COUNT(1) FROM documents WHERE id = ?", []interface{}{docID})
	var count int
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanDocument(rows *sql.Rows, doc *model.Document) error {
	return rows.Scan(&doc.ID, &doc.Name, &doc.StorageKey, &doc.Status, &doc.PageCount, &doc.ChunkCount, &doc.FailReason, &doc.Ctime, &doc.Mtime)
}
