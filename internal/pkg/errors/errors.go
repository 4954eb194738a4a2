package errors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
	ErrConflict = errors.New("conflict")
	ErrInternal = errors.New("internal")

	// Ingestion failures. A document hit by one of these is marked failed
	// and can be re-ingested via the reindex endpoint.
	ErrAlreadyIndexing = errors.New("document is already indexing")
	ErrUnreadableFile  = errors.New("unreadable file")
	ErrEmbeddingFailed = errors.New("embedding failed")

	// Deletion that exhausted its retries. The document stays in deleting
	// state so operators can see it; it is never reverted to ready.
	ErrDeleteIncomplete = errors.New("delete incomplete")

	ErrIndexUnavailable = errors.New("index unavailable")
	ErrToolTimeout      = errors.New("tool invocation timed out")
	ErrToolFailed       = errors.New("tool invocation failed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
