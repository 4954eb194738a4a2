package dbutil

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRebindsPlaceholders(t *testing.T) {
	query, args := Finalize("SELECT id FROM documents WHERE status = ?", []interface{}{"ready"})
	require.Equal(t, "SELECT id FROM documents WHERE status = $1", query)
	require.Equal(t, []interface{}{"ready"}, args)
}

func TestFinalizeRewritesLimit(t *testing.T) {
	query, args := Finalize("SELECT id FROM documents WHERE status = ? LIMIT ?,?", []interface{}{"ready", uint(10), uint(5)})
	require.Equal(t, "SELECT id FROM documents WHERE status = $1 LIMIT $2 OFFSET $3", query)
	// gendry emits offset,count; postgres wants count before offset
	require.Equal(t, []interface{}{"ready", uint(5), uint(10)}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("DELETE FROM chunks WHERE document_id = ?", []interface{}{"d1"})
	require.Equal(t, "DELETE FROM chunks WHERE document_id = $1", query)
	require.Len(t, args, 1)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.False(t, IsConflict(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(errors.New("boom")))
	require.False(t, IsConflict(nil))
}
