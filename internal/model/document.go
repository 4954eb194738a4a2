package model

// Document lifecycle. Status is only ever written by the ingestion and
// deletion pipelines; upload and delete requests trigger the transitions.
const (
	DocumentStatusPending  = "pending"
	DocumentStatusIndexing = "indexing"
	DocumentStatusReady    = "ready"
	DocumentStatusFailed   = "failed"
	DocumentStatusDeleting = "deleting"
)

type Document struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	StorageKey string `json:"storage_key"`
	Status     string `json:"status"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
	FailReason string `json:"fail_reason,omitempty"`
	Ctime      int64  `json:"ctime"`
	Mtime      int64  `json:"mtime"`
}
