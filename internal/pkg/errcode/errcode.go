package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrInternal
	ErrUploadFailed
	ErrAlreadyIndexing
	ErrDocumentNotReady
	ErrDeleteIncomplete
	ErrAIUnavailable
)
